package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crystal-mush/mudrelay/pkg/config"
	"github.com/crystal-mush/mudrelay/pkg/transcript"
)

func transcriptCmd(g *globalFlags) *cobra.Command {
	var (
		limit int
		purge bool
	)
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Print or prune the stored transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			if cfg.Transcript.Backend == config.BackendNone {
				return fmt.Errorf("transcript backend is %q; set transcript.backend to bolt or sqlite", config.BackendNone)
			}
			store, err := transcript.Open(cfg.Transcript.Backend, cfg.Transcript.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if purge {
				retention := cfg.Transcript.Retention()
				if retention <= 0 {
					return fmt.Errorf("transcript.retention_hours is 0; nothing to purge")
				}
				n, err := store.Purge(time.Now().Add(-retention))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Purged %d entries older than %s\n", n, retention)
				return nil
			}

			entries, err := store.Recent(limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintln(out, formatEntry(e))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "lines", "n", 50, "Number of newest entries to print")
	cmd.Flags().BoolVar(&purge, "purge", false, "Delete entries older than transcript.retention_hours")
	return cmd
}

func formatEntry(e transcript.Entry) string {
	ts := e.Time.Local().Format("2006-01-02 15:04:05")
	switch e.Kind {
	case transcript.KindLine:
		return ts + "  " + e.Text
	case transcript.KindSent:
		return ts + "> " + e.Text
	default:
		return fmt.Sprintf("%s -- %s %s", ts, e.Kind, e.Text)
	}
}
