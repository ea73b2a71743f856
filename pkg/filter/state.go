package filter

// State is the filter's view of what is happening on the pan.
type State int

const (
	// Stable means nothing is changing; output is a short moving average.
	Stable State = iota
	// Brewing means weight is actively changing; output is a median.
	Brewing
	// Transitioning means activity stopped recently; output is a moving average.
	Transitioning
)

func (s State) String() string {
	switch s {
	case Stable:
		return "STABLE"
	case Brewing:
		return "BREWING"
	case Transitioning:
		return "TRANSITIONING"
	default:
		return "UNKNOWN"
	}
}

// ValidTransition reports whether the filter may move from one state to another
// within a single sample. Tare resets to Stable outside of this table.
func ValidTransition(from, to State) bool {
	switch from {
	case Stable:
		return to == Stable || to == Brewing
	case Brewing:
		return to == Brewing || to == Transitioning
	case Transitioning:
		return to == Transitioning || to == Brewing || to == Stable
	}
	return false
}
