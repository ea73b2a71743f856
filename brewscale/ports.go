package main

import (
	"github.com/itohio/brewscale/pkg/loadcell"
	"github.com/spf13/cobra"
)

func NewPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ports",
		GroupID: gTools,
		Short:   "List serial ports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := loadcell.Ports()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				cmd.Println("no serial ports found")
			}
			for _, p := range ports {
				cmd.Println(p)
			}
			return nil
		},
	}
}
