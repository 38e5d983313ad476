package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "guidestar",
		Short: "Guide star selection, observability and dual-field previews",
		Long: `guidestar ranks catalog stars around a target, checks them against an
instrument position-angle restriction, evaluates target and guide observability
for a site and night, and renders aligned dual-field previews.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newObserveCmd())
	rootCmd.AddCommand(newDualFieldCmd())
	rootCmd.AddCommand(newSitesCmd())
	rootCmd.AddCommand(newLightCurveCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newLogger builds the JSON logger. GUIDESTAR_LOG_LEVEL overrides the level.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	if v := os.Getenv("GUIDESTAR_LOG_LEVEL"); v != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.ToUpper(v))); err == nil {
			level = l
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "guidestar "+version)
		},
	}
}
