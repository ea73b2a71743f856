// Package api serves the scale's diagnostics and control endpoints over HTTP.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/itohio/brewscale/pkg/brew"
	"github.com/itohio/brewscale/pkg/config"
	"github.com/itohio/brewscale/pkg/filter"
	"github.com/itohio/brewscale/pkg/history"
	"github.com/itohio/brewscale/pkg/scale"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Scale is the part of the runtime the API drives.
type Scale interface {
	Measurement() scale.Measurement
	Status() scale.Status
	Profile() filter.Profile
	Debug() scale.Debug

	Tare(ctx context.Context) error
	StartTimer()
	StopTimer()
	ResetTimer()
	SetMode(m brew.Mode)
	OnModeSwitchRequested(delayTare bool)
	OnTouchReleased()

	SetCalibrationFactor(f float32) error
	Calibrate(knownWeight float32) (float32, error)
	SetFilterSettings(fs filter.Settings) error
}

var _ Scale = (*scale.Scale)(nil)

const (
	tareTimeout     = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithHistory serves h on /api/history.
func WithHistory(h *history.History) Option {
	return func(s *Server) { s.history = h }
}

// Server is the HTTP API.
type Server struct {
	cfg     config.APIConfig
	scale   Scale
	history *history.History
	router  *gin.Engine
}

// New creates a server for s.
func New(cfg *config.Config, s Scale, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	srv := &Server{
		cfg:   cfg.API,
		scale: s,
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.router = srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	api := router.Group("/api")
	api.GET("/dashboard", s.getDashboard)
	api.GET("/weight", s.getWeight)
	api.GET("/flowrate", s.getFlowRate)
	api.GET("/brew/weight", s.getBrewWeight)
	api.GET("/brew/status", s.getBrewStatus)
	api.GET("/scale/status", s.getScaleStatus)
	api.GET("/filter-settings", s.getFilterSettings)
	api.POST("/filter-settings", s.setFilterSettings)
	api.GET("/filter-debug", s.getFilterDebug)
	api.GET("/calibrationfactor", s.getCalibrationFactor)
	api.POST("/set-calibrationfactor", s.setCalibrationFactor)
	api.POST("/calibrate", s.calibrate)
	api.POST("/tare", s.tare)
	api.POST("/timer/start", s.startTimer)
	api.POST("/timer/stop", s.stopTimer)
	api.POST("/timer/reset", s.resetTimer)
	api.POST("/mode", s.setMode)
	api.POST("/touch/release", s.touchRelease)
	api.GET("/history", s.getHistory)

	return router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done and then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.cfg.Listen)
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	logrus.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	<-errCh
	return nil
}
