package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/brewscale/pkg/api"
	"github.com/itohio/brewscale/pkg/brew"
	"github.com/itohio/brewscale/pkg/config"
	"github.com/itohio/brewscale/pkg/filter"
	"github.com/itohio/brewscale/pkg/flow"
	"github.com/itohio/brewscale/pkg/history"
	"github.com/itohio/brewscale/pkg/journal"
	"github.com/itohio/brewscale/pkg/loadcell"
	"github.com/itohio/brewscale/pkg/scale"
	"github.com/itohio/brewscale/pkg/settings"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewRunCommand() *cobra.Command {
	var (
		port string
		mock bool
	)

	cmd := &cobra.Command{
		Use:     "run",
		GroupID: gScale,
		Short:   "Run the scale",
		Long: `Run the scale: read the load cell, filter and automate, and serve the HTTP API.

Use --mock to run against a simulated brew instead of a serial bridge.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Serial.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, mock)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "serial port override (e.g., COM3 or /dev/ttyACM0)")
	cmd.Flags().BoolVar(&mock, "mock", false, "use a simulated load cell instead of the serial port")

	return cmd
}

func openDevice(cfg *config.Config, mock bool) (loadcell.Device, error) {
	var dev loadcell.Device
	if mock {
		dev = loadcell.NewMock(&cfg.Mock, cfg.Filter.CalibrationFactor)
	} else {
		dev = loadcell.New(cfg.Serial.Port, cfg.Serial.BaudRate, loadcell.DefaultBufferSize)
	}

	if err := dev.Connect(); err != nil {
		if mock {
			return nil, errors.Wrap(err, "connect mocked load cell")
		}
		return nil, errors.Wrapf(err, "connect %s", cfg.Serial.Port)
	}
	return dev, nil
}

func run(ctx context.Context, cfg *config.Config, mock bool) error {
	store, err := settings.Open(cfg.Storage.SettingsFile)
	if err != nil {
		return err
	}
	cache := settings.NewCache(store, cfg.Storage.CacheTTL)

	dev, err := openDevice(cfg, mock)
	if err != nil {
		return err
	}
	defer dev.Close()

	source := loadcell.NewSource(dev, cfg.Filter.CalibrationFactor)
	estimator := flow.New(cfg)
	engine := filter.New(cfg, source, cache, filter.WithFlow(estimator))
	if err := engine.Initialize(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logrus.WithError(err).Warn("load cell not responding, continuing degraded")
	}

	controller := brew.NewController(cfg)
	s := scale.New(cfg, engine, estimator, controller, brew.NewTimer())
	s.OnCommand(logMessages)

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		journal.NewSink(j, controller.Mode()).Attach(s)
		logrus.Infof("journaling to %s", cfg.Journal.Path)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Run(ctx)
	})
	trace := history.New(cfg)
	g.Go(func() error {
		trace.Record(ctx, func() history.Point {
			m := s.Measurement()
			return history.Point{Time: m.Time, Weight: m.Weight, FlowRate: m.FlowRate}
		})
		return nil
	})

	if cfg.API.Listen != "" {
		srv := api.New(cfg, s, api.WithHistory(trace))
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	err = g.Wait()
	logrus.Info("exiting")
	return err
}

// logMessages logs the messages a display would show.
func logMessages(ev scale.Event) {
	switch c := ev.Command.(type) {
	case brew.ShowMessage:
		logrus.WithField("weight", ev.Weight).Info(c.Message.String())
	case brew.ModeChanged:
		logrus.Infof("mode: %s", c.Mode)
	}
}
