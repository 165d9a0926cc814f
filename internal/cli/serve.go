package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/marketcart/internal/broadcast"
	"github.com/roach88/marketcart/internal/checkout"
	"github.com/roach88/marketcart/internal/config"
	"github.com/roach88/marketcart/internal/httpapi"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string // overrides http.addr

	// ready, if set, receives the bound listener address once serving.
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cart over HTTP",
		Long: `Serve the cart over HTTP and run the discount expiry scheduler.

The cart is loaded from the configured store on startup. When the relay is
enabled, changes made by other processes sharing the Redis store are
re-read and broadcast; otherwise the store is re-read on every scheduler
tick. When Kafka brokers are configured, order-placed
messages clear the cart.

Example:
  marketcart serve
  marketcart serve --addr :9090 --config ./marketcart.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	rt, err := loadConfiguredRuntime(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	addr := rt.Config.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	srv := &http.Server{
		Handler: httpapi.NewRouter(httpapi.Deps{
			Cart:        rt.Repo,
			Windows:     rt.Scheduler,
			Checkout:    rt.Checkout,
			Broadcaster: rt.Broadcaster,
			Logger:      rt.Logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	spawn := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	relay, err := startRelay(rt, spawn)
	if err != nil {
		ln.Close()
		return err
	}
	if relay != nil {
		// Changes announced before the subscription exists would be missed.
		select {
		case <-relay.Ready():
		case <-ctx.Done():
		}
	}
	spawn("scheduler", rt.Scheduler.Run)
	startOrderConsumer(rt, spawn)

	spawn("http", func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("http shutdown failed", "error", err)
			}
		}()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	slog.Info("marketcart serving", "addr", ln.Addr().String(), "store", rt.Config.Store.Backend)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.ready != nil {
		opts.ready <- ln.Addr().String()
	}

	<-ctx.Done()
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return WrapExitError(ExitFailure, "server error", errors.Join(errs...))
	}

	slog.Info("marketcart stopped gracefully")
	return nil
}

// startRelay runs the cross-process relay when enabled. It returns nil
// when the relay is off.
func startRelay(rt *Runtime, spawn func(string, func(context.Context) error)) (*broadcast.Relay, error) {
	if !rt.Config.Relay.Enabled {
		return nil, nil
	}
	if rt.Redis == nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("relay requires the %s store backend", config.BackendRedis))
	}
	relay := broadcast.NewRelay(rt.Redis, rt.Config.Relay.Channel, rt.Broadcaster, rt.Repo, rt.Logger)
	spawn("relay", relay.Run)
	return relay, nil
}

// startOrderConsumer runs the order-placed consumer when brokers are set.
func startOrderConsumer(rt *Runtime, spawn func(string, func(context.Context) error)) {
	k := rt.Config.Kafka
	if len(k.Brokers) == 0 {
		return
	}
	consumer := checkout.NewOrderConsumer(checkout.NewKafkaReader(k.Brokers, k.Topic, k.GroupID), rt.Checkout, rt.Logger)
	spawn("order consumer", func(ctx context.Context) error {
		defer consumer.Close()
		return consumer.Run(ctx)
	})
}
