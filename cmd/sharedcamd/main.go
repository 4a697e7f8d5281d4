// Command sharedcamd runs the shared-camera coordinator as a daemon: one V4L2
// camera shared between the flatworld tracker and a raw passthrough view,
// rendered in software and controlled over MQTT.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "config/sharedcam.yaml"

type globalFlags struct {
	debug     bool
	logFormat string
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("sharedcamd: command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "sharedcamd",
		Short:         "Shared-camera AR session coordinator",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), flags)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "json", "Log format: json or text")

	root.AddCommand(newRunCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newLogger(w io.Writer, flags globalFlags) (*slog.Logger, error) {
	level := slog.LevelInfo
	if flags.debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	switch flags.logFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json or text)", flags.logFormat)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sharedcamd %s\n", version)
			return err
		},
	}
}
