package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
	"github.com/randalmurphal/streamsync/pkg/streamsync/provenance"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a flow until interrupted",
		Long: `Run builds the flow and schedules it until SIGINT or SIGTERM.
Shutdown is cooperative: running invocations finish and commit.

Provenance backends:
  memory[:capacity]   in-memory ring (default when the flow names none)
  sqlite:<path>       SQLite database file
  bolt:<path>         bbolt database file

Examples:
  streamsync run -f flow.yaml
  streamsync run -f flow.yaml --workers 8 --provenance sqlite:prov.db
  streamsync run -f flow.yaml --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}
	addFileFlag(cmd)
	flags := cmd.Flags()
	flags.Int("workers", 0, "worker goroutines (default from the flow, else the number of CPUs)")
	flags.String("provenance", "", "provenance backend, overrides the flow definition")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.Bool("otel", false, "record OpenTelemetry metrics and traces")
	return cmd
}

func (a *app) run(ctx context.Context) error {
	flow, err := a.load()
	if err != nil {
		return fmt.Errorf("load flow: %w", err)
	}

	dsn := a.v.GetString("provenance")
	if dsn == "" {
		dsn = flow.Provenance
	}
	if dsn == "" {
		dsn = "memory"
	}
	repo, err := provenance.Open(dsn)
	if err != nil {
		return fmt.Errorf("open provenance: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			a.logger.Warn("provenance close failed", "error", err)
		}
	}()

	opts := append(flow.Options,
		streamsync.WithLogger(a.logger),
		streamsync.WithProvenance(repo),
		streamsync.WithFaultHandler(func(f *streamsync.ProcessorFault) {
			a.logger.Error("processor faulted, reset required", "processor", f.Processor, "error", f.Err)
		}),
	)
	if n := a.v.GetInt("workers"); n > 0 {
		opts = append(opts, streamsync.WithWorkers(n))
	}
	if a.v.GetBool("otel") {
		opts = append(opts, streamsync.WithMetrics(true), streamsync.WithTracing(true))
	}
	s := streamsync.NewScheduler(flow.Graph, opts...)

	g, ctx := errgroup.WithContext(ctx)
	if addr := a.v.GetString("metrics-addr"); addr != "" {
		srv, ln, err := metricsServer(addr, s)
		if err != nil {
			return err
		}
		a.logger.Info("serving metrics", "addr", ln.Addr().String())
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		return s.Run(ctx)
	})
	return g.Wait()
}

// metricsServer exposes the scheduler collector plus Go runtime metrics.
func metricsServer(addr string, s *streamsync.Scheduler) (*http.Server, net.Listener, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		streamsync.NewCollector(s),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listener: %w", err)
	}
	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}, ln, nil
}
