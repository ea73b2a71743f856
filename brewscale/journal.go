package main

import (
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/itohio/brewscale/pkg/journal"
	"github.com/spf13/cobra"
)

func NewJournalCommand() *cobra.Command {
	var sessions bool

	cmd := &cobra.Command{
		Use:     "journal FILE",
		GroupID: gTools,
		Short:   "Print a brew journal",
		Long: `Print every entry of a brew journal, or with --sessions one line per brew.`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := journal.ReadFile(args[0])
			if err != nil {
				return err
			}

			if sessions {
				for _, s := range journal.Sessions(entries) {
					cmd.Printf("%s  %s  %-4s  %s  %7.1f g  %5.2f g/s\n",
						s.Start.Local().Format(time.DateTime),
						color.CyanString(s.ID.String()[:8]),
						s.Mode,
						s.Elapsed.Round(100*time.Millisecond),
						s.FinalWeight,
						s.AverageFlow())
				}
				return nil
			}

			for _, e := range entries {
				session := "--------"
				if e.Session != uuid.Nil {
					session = e.Session.String()[:8]
				}
				cmd.Printf("%s  %s  %-4s  %-18s  %7.2f g  %5.2f g/s  %s\n",
					e.Time.Local().Format("15:04:05.000"),
					color.CyanString(session),
					e.Mode,
					bold("%s", e.Command),
					e.Weight,
					e.FlowRate,
					e.Elapsed.Round(100*time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&sessions, "sessions", "s", false, "summarize brews")

	return cmd
}
