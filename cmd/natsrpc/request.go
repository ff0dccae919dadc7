package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/natsrpc/rpc"
)

type requestFlags struct {
	Timeout time.Duration
	MaxWait time.Duration
	Reply   string
}

func newRequestCmd(a *app) *cobra.Command {
	flags := &requestFlags{}

	cmd := &cobra.Command{
		Use:   "request <subject> [payload]",
		Short: "Send a request and print every signal until the response",
		Long: `Send a request and print each ack and update as it arrives, then the
response. The payload is sent as JSON when it parses as JSON and as a
string otherwise.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.request(ctx, cmd.OutOrStdout(), args[0], payloadArg(args), flags)
		},
	}

	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "inactivity timeout (default from config, negative disables)")
	cmd.Flags().DurationVar(&flags.MaxWait, "max-wait", 0, "bound on the total wait (default from config, negative is unbounded)")
	cmd.Flags().StringVar(&flags.Reply, "reply", "", "reply subject instead of a fresh inbox")
	return cmd
}

func newPublishCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <subject> [payload]",
		Short: "Publish a one-way message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.publish(cmd.Context(), args[0], payloadArg(args))
		},
	}
}

// payloadArg returns the optional payload argument, decoded when it is JSON.
func payloadArg(args []string) any {
	if len(args) < 2 {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(args[1]), &v); err == nil {
		return v
	}
	return args[1]
}

func (a *app) request(ctx context.Context, out io.Writer, subject string, payload any, flags *requestFlags) error {
	svc, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown(svc)

	opts := rpc.RequestOptions{Timeout: flags.Timeout, MaxWait: flags.MaxWait, Reply: flags.Reply}
	call := svc.Call(ctx, subject, payload, opts, rpc.ObserverFuncs{
		Ack:    func(results json.RawMessage) { printSignal(out, "ack", results) },
		Update: func(results json.RawMessage) { printSignal(out, "update", results) },
	})

	results, err := call.Wait(ctx)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	printSignal(out, "response", results)
	return nil
}

func (a *app) publish(ctx context.Context, subject string, payload any) error {
	svc, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown(svc)

	if err := svc.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	a.logger.Debug("Published", "subject", subject)
	return nil
}

func (a *app) shutdown(svc *rpc.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		a.logger.Warn("Shutdown incomplete", "error", err)
	}
}

func printSignal(out io.Writer, kind string, results json.RawMessage) {
	if len(results) == 0 {
		results = json.RawMessage("null")
	}
	_, _ = fmt.Fprintf(out, "%s %s\n", kind, results)
}
