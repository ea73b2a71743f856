package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chewxy/math32"
	"github.com/gin-gonic/gin"
	"github.com/itohio/brewscale/pkg/brew"
	"github.com/itohio/brewscale/pkg/filter"
	"github.com/itohio/brewscale/pkg/history"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Dashboard is the combined status served on /api/dashboard.
type Dashboard struct {
	Weight           float32  `json:"weight"`
	FlowRate         float32  `json:"flowrate"`
	ScaleConnected   bool     `json:"scale_connected"`
	FilterState      string   `json:"filter_state"`
	Mode             string   `json:"mode"`
	TimerRunning     bool     `json:"timer_running"`
	TimerElapsed     int64    `json:"timer_elapsed"`
	TimerDisplay     string   `json:"timer_display"`
	TimerAvgFlowRate *float32 `json:"timer_avg_flowrate"`
}

type brewStatus struct {
	W float32 `json:"w"`
	F float32 `json:"f"`
}

type scaleStatus struct {
	Connected         bool    `json:"connected"`
	Weight            float32 `json:"weight"`
	RawValue          float32 `json:"raw_value"`
	RawCounts         int32   `json:"raw_counts"`
	CalibrationFactor float32 `json:"calibration_factor"`
}

type filterSettings struct {
	BrewingThreshold float32 `json:"brewingThreshold"`
	StabilityTimeout int64   `json:"stabilityTimeout"`
	MedianSamples    int     `json:"medianSamples"`
	AverageSamples   int     `json:"averageSamples"`
}

type filterDebug struct {
	FilterState      string  `json:"filterState"`
	BrewingThreshold float32 `json:"brewingThreshold"`
	StabilityTimeout int64   `json:"stabilityTimeout"`
	MedianSamples    int     `json:"medianSamples"`
	AverageSamples   int     `json:"averageSamples"`
	CurrentWeight    float32 `json:"currentWeight"`
	LastRaw          float32 `json:"lastRaw"`
	InvalidSamples   uint64  `json:"invalidSamples"`
	FlowPaused       bool    `json:"flowPaused"`
	FlowSamples      int     `json:"flowSamples"`
	FlowRemoving     bool    `json:"flowRemoving"`
	AutoTareStage    string  `json:"autoTareStage"`
	ModeTareStage    string  `json:"modeTareStage"`
	InGracePeriod    bool    `json:"inGracePeriod"`
}

type result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func round(v float32, places int) float32 {
	p := math32.Pow(10, float32(places))
	return math32.Round(v*p) / p
}

// formatTimer renders d as m:ss.mmm.
func formatTimer(d time.Duration) string {
	ms := d.Milliseconds()
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms%60000)/1000, ms%1000)
}

// abort replies with err. Invalid parameters map to 400 and an unresponsive
// load cell to 503.
func abort(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, filter.ErrInvalidParameter):
		code = http.StatusBadRequest
	case errors.Is(err, filter.ErrNotResponding), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	c.IndentedJSON(code, result{Status: "error", Message: err.Error()})
	_ = c.AbortWithError(code, err)
}

func badRequest(c *gin.Context, err error) {
	c.IndentedJSON(http.StatusBadRequest, result{Status: "error", Message: err.Error()})
	_ = c.AbortWithError(http.StatusBadRequest, err)
}

func formFloat(c *gin.Context, key string) (float32, bool, error) {
	v, ok := c.GetPostForm(key)
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
	if err != nil {
		return 0, true, errors.Wrapf(err, "parse %s", key)
	}
	return float32(f), true, nil
}

func formInt(c *gin.Context, key string) (int, bool, error) {
	v, ok := c.GetPostForm(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, true, errors.Wrapf(err, "parse %s", key)
	}
	return n, true, nil
}

func (s *Server) getDashboard(c *gin.Context) {
	m := s.scale.Measurement()
	st := s.scale.Status()

	d := Dashboard{
		Weight:         round(m.Weight, 2),
		FlowRate:       round(m.FlowRate, 1),
		ScaleConnected: m.Connected,
		FilterState:    m.State.String(),
		Mode:           strings.ToUpper(st.Mode.String()),
		TimerRunning:   st.TimerRunning,
		TimerElapsed:   st.TimerElapsed.Milliseconds(),
		TimerDisplay:   formatTimer(st.TimerElapsed),
	}
	if st.HasTimerAverage {
		avg := round(st.TimerAverage, 2)
		d.TimerAvgFlowRate = &avg
	}
	c.IndentedJSON(http.StatusOK, d)
}

func (s *Server) getWeight(c *gin.Context) {
	c.String(http.StatusOK, "%.2f", s.scale.Measurement().Weight)
}

func (s *Server) getFlowRate(c *gin.Context) {
	c.String(http.StatusOK, "%.1f", s.scale.Measurement().FlowRate)
}

func (s *Server) getBrewWeight(c *gin.Context) {
	c.String(http.StatusOK, "%.1f", s.scale.Measurement().Weight)
}

func (s *Server) getBrewStatus(c *gin.Context) {
	m := s.scale.Measurement()
	c.JSON(http.StatusOK, brewStatus{W: round(m.Weight, 1), F: round(m.FlowRate, 1)})
}

func (s *Server) getScaleStatus(c *gin.Context) {
	m := s.scale.Measurement()
	d := s.scale.Debug()
	c.IndentedJSON(http.StatusOK, scaleStatus{
		Connected:         m.Connected,
		Weight:            round(m.Weight, 2),
		RawValue:          d.Filter.LastRaw,
		RawCounts:         d.Filter.RawCounts,
		CalibrationFactor: s.scale.Profile().CalibrationFactor,
	})
}

func (s *Server) getFilterSettings(c *gin.Context) {
	p := s.scale.Profile()
	c.IndentedJSON(http.StatusOK, filterSettings{
		BrewingThreshold: round(p.BrewingThreshold, 2),
		StabilityTimeout: p.StabilityTimeout.Milliseconds(),
		MedianSamples:    p.MedianSamples,
		AverageSamples:   p.AverageSamples,
	})
}

func (s *Server) setFilterSettings(c *gin.Context) {
	var (
		fs      filter.Settings
		updated []string
	)

	if v, ok, err := formFloat(c, "brewingThreshold"); err != nil {
		badRequest(c, err)
		return
	} else if ok {
		fs.BrewingThreshold = &v
		updated = append(updated, "Brewing threshold updated.")
	}

	if v, ok, err := formInt(c, "stabilityTimeout"); err != nil {
		badRequest(c, err)
		return
	} else if ok {
		d := time.Duration(v) * time.Millisecond
		fs.StabilityTimeout = &d
		updated = append(updated, "Stability timeout updated.")
	}

	if v, ok, err := formInt(c, "medianSamples"); err != nil {
		badRequest(c, err)
		return
	} else if ok {
		fs.MedianSamples = &v
		updated = append(updated, "Median samples updated.")
	}

	if v, ok, err := formInt(c, "averageSamples"); err != nil {
		badRequest(c, err)
		return
	} else if ok {
		fs.AverageSamples = &v
		updated = append(updated, "Average samples updated.")
	}

	if fs.Empty() {
		badRequest(c, errors.New("no valid parameters provided"))
		return
	}
	if err := s.scale.SetFilterSettings(fs); err != nil {
		abort(c, err)
		return
	}

	logrus.WithField("profile", s.scale.Profile()).Info("filter settings updated")
	c.IndentedJSON(http.StatusOK, result{Status: "success", Message: strings.Join(updated, " ")})
}

func (s *Server) getFilterDebug(c *gin.Context) {
	p := s.scale.Profile()
	d := s.scale.Debug()
	c.IndentedJSON(http.StatusOK, filterDebug{
		FilterState:      d.Filter.State.String(),
		BrewingThreshold: round(p.BrewingThreshold, 2),
		StabilityTimeout: p.StabilityTimeout.Milliseconds(),
		MedianSamples:    p.MedianSamples,
		AverageSamples:   p.AverageSamples,
		CurrentWeight:    round(d.Filter.Weight, 1),
		LastRaw:          d.Filter.LastRaw,
		InvalidSamples:   d.Filter.InvalidSamples,
		FlowPaused:       d.Flow.Paused,
		FlowSamples:      d.Flow.Samples,
		FlowRemoving:     d.Flow.Removing,
		AutoTareStage:    d.Automation.AutoTareStage,
		ModeTareStage:    d.Automation.ModeTareStage,
		InGracePeriod:    d.Automation.InGracePeriod,
	})
}

func (s *Server) getCalibrationFactor(c *gin.Context) {
	c.String(http.StatusOK, "%.6f", s.scale.Profile().CalibrationFactor)
}

func (s *Server) setCalibrationFactor(c *gin.Context) {
	f, ok, err := formFloat(c, "calibrationfactor")
	if err != nil {
		badRequest(c, err)
		return
	}
	if !ok {
		badRequest(c, errors.New("missing 'calibrationfactor' parameter"))
		return
	}
	if err := s.scale.SetCalibrationFactor(f); err != nil {
		abort(c, err)
		return
	}

	logrus.Infof("set calibration factor to %.6f", f)
	c.String(http.StatusOK, "Calibration factor updated to %.6f", f)
}

func (s *Server) calibrate(c *gin.Context) {
	known, ok, err := formFloat(c, "knownWeight")
	if err != nil {
		badRequest(c, err)
		return
	}
	if !ok {
		badRequest(c, errors.New("missing 'knownWeight' parameter"))
		return
	}

	f, err := s.scale.Calibrate(known)
	if err != nil {
		abort(c, err)
		return
	}
	c.String(http.StatusOK, "Scale calibrated! New factor: %.6f", f)
}

func (s *Server) tare(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), tareTimeout)
	defer cancel()

	if err := s.scale.Tare(ctx); err != nil {
		abort(c, err)
		return
	}
	c.String(http.StatusOK, "Scale tared! Timer and flow rate reset for fresh brew.")
}

func (s *Server) startTimer(c *gin.Context) {
	s.scale.StartTimer()
	c.String(http.StatusOK, "Timer started")
}

func (s *Server) stopTimer(c *gin.Context) {
	s.scale.StopTimer()
	c.String(http.StatusOK, "Timer stopped")
}

func (s *Server) resetTimer(c *gin.Context) {
	s.scale.ResetTimer()
	c.String(http.StatusOK, "Timer reset")
}

// setMode switches to the given mode, or cycles to the next one when no
// mode is given, like a long press would.
func (s *Server) setMode(c *gin.Context) {
	if v, ok := c.GetPostForm("mode"); ok {
		m, err := brew.ParseMode(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		s.scale.SetMode(m)
	} else {
		delay := c.PostForm("delayTare") == "true"
		s.scale.OnModeSwitchRequested(delay)
	}
	c.String(http.StatusOK, "Mode %s", s.scale.Debug().Automation.Mode)
}

func (s *Server) touchRelease(c *gin.Context) {
	s.scale.OnTouchReleased()
	c.String(http.StatusOK, "ok")
}

type historyResponse struct {
	Points []history.Point `json:"points"`
}

// getHistory serves the recorded trace. Query parameters: points (maximum
// points returned) and since (unix milliseconds).
func (s *Server) getHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusOK, historyResponse{Points: []history.Point{}})
		return
	}

	var maxPoints int
	if v := c.Query("points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, errors.Errorf("invalid points %q", v))
			return
		}
		maxPoints = n
	}

	var since time.Time
	if v := c.Query("since"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(c, errors.Errorf("invalid since %q", v))
			return
		}
		since = time.UnixMilli(ms)
	}

	pts := s.history.Points(nil, since, maxPoints)
	if pts == nil {
		pts = []history.Point{}
	}
	c.JSON(http.StatusOK, historyResponse{Points: pts})
}
