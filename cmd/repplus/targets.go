package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"repplus/internal/cdp"
)

var targetsDevtools string

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List debuggable browser tabs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if targetsDevtools != "" {
			cfg.Devtools.URL = targetsDevtools
		}
		log := newLogger(cfg, false)

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ProcessTimeout())
		defer cancel()
		list, err := cdp.NewDevtoolsDebugger(cfg.Devtools.URL, log).Targets(ctx)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tTITLE\tURL")
		for _, t := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Type, t.Title, t.URL)
		}
		return tw.Flush()
	},
}

func init() {
	targetsCmd.Flags().StringVar(&targetsDevtools, "devtools", "", "DevTools HTTP endpoint (default from config)")
}
