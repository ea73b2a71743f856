package brew

import "fmt"

// Message identifies a transient on-screen message.
type Message int

const (
	Taring Message = iota
	Tared
	AutoTared
	ModeBanner
)

func (m Message) String() string {
	switch m {
	case Taring:
		return "Taring..."
	case Tared:
		return "Tared!"
	case AutoTared:
		return "Auto Tared!"
	case ModeBanner:
		return "Mode"
	default:
		return "unknown"
	}
}

// Command is an action requested by the controller. It is one of
// RequestTare, StartTimer, StopTimer, ResetTimer, ModeChanged or ShowMessage.
type Command interface {
	fmt.Stringer
	command()
}

type (
	RequestTare struct{}
	StartTimer  struct{}
	StopTimer   struct{} // Keeps elapsed time
	ResetTimer  struct{}
	ModeChanged struct{ Mode Mode }
	ShowMessage struct{ Message Message }
)

func (RequestTare) command() {}
func (StartTimer) command()  {}
func (StopTimer) command()   {}
func (ResetTimer) command()  {}
func (ModeChanged) command() {}
func (ShowMessage) command() {}

func (RequestTare) String() string   { return "RequestTare" }
func (StartTimer) String() string    { return "StartTimer" }
func (StopTimer) String() string     { return "StopTimer" }
func (ResetTimer) String() string    { return "ResetTimer" }
func (c ModeChanged) String() string { return "ModeChanged(" + c.Mode.String() + ")" }
func (c ShowMessage) String() string { return "ShowMessage(" + c.Message.String() + ")" }
