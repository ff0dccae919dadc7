// Package main implements the natsrpc command: a demo responder host and a
// client for sending progressive requests from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "natsrpc"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	ConfigPaths []string
	LogLevel    string
	LogFormat   string
	Namespace   string
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	a := &app{flags: flags}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Progressive request/reply over NATS",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init(cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringSliceVarP(&flags.ConfigPaths, "config", "c", nil, "config file layers (json, yaml or toml); later files override earlier ones")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	pf.StringVar(&flags.LogFormat, "log-format", "", "log format: json or text (overrides config)")
	pf.StringVarP(&flags.Namespace, "namespace", "n", "", "namespace to use (default: the only configured one, else \"nats\")")

	root.AddCommand(
		newServeCmd(a),
		newRequestCmd(a),
		newPublishCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (%s)\n", appName, Version, BuildTime)
		},
	}
}
