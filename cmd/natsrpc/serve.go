package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360/natsrpc/errors"
	"github.com/c360/natsrpc/metric"
	"github.com/c360/natsrpc/rpc"
)

type serveFlags struct {
	Queue           string
	ShutdownTimeout time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo responder (demo.echo, demo.progress)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Queue, "queue", "", "queue group for load-balanced responders")
	cmd.Flags().DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for draining on shutdown")
	return cmd
}

// serve runs the responder and the metrics endpoint until ctx ends, then
// drains the connection.
func (a *app) serve(ctx context.Context, flags *serveFlags) error {
	events, stopEvents := a.events.Listen(64)
	defer stopEvents()
	go a.monitor.Track(ctx, events)

	svc, err := a.newService(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled {
		server := metric.NewServer(fmt.Sprintf(":%d", a.cfg.Metrics.Port), a.cfg.Metrics.Path, a.registry, a.healthCheck)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})
		a.logger.Info("Metrics server starting", "port", a.cfg.Metrics.Port, "path", a.cfg.Metrics.Path)
	}

	if err := a.subscribeDemo(gctx, svc, flags.Queue); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), flags.ShutdownTimeout)
		defer cancel()
		_ = svc.Shutdown(shutdownCtx)
		return err
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down", "timeout", flags.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), flags.ShutdownTimeout)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})

	a.logger.Info("Responder ready",
		"namespace", svc.Client().Namespace(),
		"prefix", svc.Prefix(),
		"subjects", []string{subjectEcho, subjectProgress})

	return g.Wait()
}

// healthCheck fails while any namespace is unhealthy.
func (a *app) healthCheck() error {
	status := a.monitor.Aggregate(appName)
	if status.IsUnhealthy() {
		return errors.WrapTransient(errors.New(status.Message), "app", "healthCheck", "aggregate namespace health")
	}
	return nil
}

func (a *app) subscribeDemo(ctx context.Context, svc *rpc.Service, queue string) error {
	if _, err := svc.Subscribe(ctx, subjectEcho, rpc.SubscribeOptions{Queue: queue}, echoHandler); err != nil {
		return fmt.Errorf("subscribe %s: %w", subjectEcho, err)
	}
	if _, err := svc.Subscribe(ctx, subjectProgress, rpc.SubscribeOptions{Queue: queue, NoAck: true}, progressHandler); err != nil {
		return fmt.Errorf("subscribe %s: %w", subjectProgress, err)
	}
	return nil
}
