// Command gstate inspects, merges and warms up graphics state collections.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gogpu/gstate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gstate:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "gstate",
		Short:         "Inspect, merge and warm up graphics state collections",
		Version:       gstate.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug|info|warn|error")
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return setupLogging(cmd.ErrOrStderr(), logLevel)
	}

	root.AddCommand(newInspectCmd(), newMergeCmd(), newWarmUpCmd())
	return root
}

// setupLogging routes gstate logs to w at the given level.
func setupLogging(w io.Writer, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	gstate.SetLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}
