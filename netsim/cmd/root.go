// Package cmd provides the command-line interface of netsim.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	logger    *slog.Logger
}

// newRootCmd builds the command tree. Every call returns a fresh tree with
// its own flag values.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "netsim",
		Short: "netsim runs discrete-event simulations of small IP networks.",
		Long: `netsim runs discrete-event simulations of small IP networks. ` +
			`The built-in scenarios join point-to-point links, CSMA buses and ` +
			`wireless networks and run UDP echo or TCP on-off traffic across them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("log-level") {
				opts.logLevel = envOr("NETSIM_LOG_LEVEL", opts.logLevel)
			}

			var err error
			opts.logger, err = newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)

			return err
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info",
		"debug, info, warn or error (env NETSIM_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text",
		"text or json")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newRoutesCmd(opts),
		newTraceCmd(),
	)

	return rootCmd
}

// Execute builds the command tree and runs it against the process arguments.
func Execute() {
	// The .env file is optional.
	_ = godotenv.Load()

	err := newRootCmd().Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}

	return fallback
}

func envIntOr(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}

	return n
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: l}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}

	return nil, fmt.Errorf("invalid log format %q", format)
}
