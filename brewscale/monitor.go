package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/itohio/brewscale/pkg/api"
	"github.com/spf13/cobra"
)

var apiAddr = "http://localhost:8080"

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func stateText(state string) string {
	switch state {
	case "STABLE":
		return color.GreenString(state)
	case "BREWING":
		return color.New(color.Bold, color.FgYellow).Sprint(state)
	default:
		return color.CyanString(state)
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

// formatDashboard renders one status line.
func formatDashboard(d api.Dashboard) string {
	avg := "-"
	if d.TimerAvgFlowRate != nil {
		avg = fmt.Sprintf("%.2f g/s", *d.TimerAvgFlowRate)
	}
	timer := d.TimerDisplay
	if d.TimerRunning {
		timer = color.New(color.Bold, color.FgGreen).Sprint(timer)
	}
	return fmt.Sprintf("%s %s  %6.1f g/s  %s  timer %s  avg %s  link %s",
		bold("%8.2f g", d.Weight), stateText(d.FilterState), d.FlowRate, d.Mode, timer, avg, bool2Text(d.ScaleConnected))
}

func NewMonitorCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:     "monitor",
		GroupID: gScale,
		Short:   "Show live readings from a running scale",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := api.NewClient(apiAddr)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				ctx, cancel := context.WithTimeout(cmd.Context(), interval*4)
				d, err := client.Dashboard(ctx)
				cancel()
				if err != nil {
					return err
				}
				cmd.Printf("\r%s\033[K", formatDashboard(d))

				select {
				case <-cmd.Context().Done():
					cmd.Println()
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().StringVar(&apiAddr, "addr", apiAddr, "scale API address")
	cmd.Flags().DurationVar(&interval, "interval", 250*time.Millisecond, "refresh interval")

	return cmd
}

func NewTareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tare",
		GroupID: gScale,
		Short:   "Tare a running scale",
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := api.NewClient(apiAddr).Tare(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Println(msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiAddr, "addr", apiAddr, "scale API address")
	return cmd
}

func NewModeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "mode flow|time|auto",
		GroupID:   gScale,
		Short:     "Switch the mode of a running scale",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"flow", "time", "auto"},
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := api.NewClient(apiAddr).SetMode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Println(msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiAddr, "addr", apiAddr, "scale API address")
	return cmd
}
