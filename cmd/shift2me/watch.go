package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"shift2me/internal/core"
	"shift2me/internal/watch"
	"shift2me/pkg/domain"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		metricsAddr string
		debounce    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Ingest step files as they appear in dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd.Context(), args[0], metricsAddr, debounce)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics and expvar on this address (e.g. :9090)")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a written file is ingested")
	return cmd
}

func (a *app) watch(ctx context.Context, dir, metricsAddr string, debounce time.Duration) (err error) {
	reg := prometheus.NewRegistry()
	metrics := core.NewPrometheusMetrics(reg)
	totals := core.NewExpvarMetricsRecorder("")
	svc, err := a.openService(ctx, core.WithMetricsRecorder(core.CombineMetrics(metrics, totals)))
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, svc.Close()) }()
	stopTracking := metrics.Track(svc)
	defer stopTracking()

	if metricsAddr != "" {
		_, stopServer, err := a.serveMetrics(metricsAddr, reg)
		if err != nil {
			return err
		}
		defer stopServer()
	}

	var next int
	svc.View(func(t *domain.Titration) { next = t.Steps() })
	seq := watch.NewSequencer(next, func(ctx context.Context, path string) error {
		report, err := svc.AddStepFile(ctx, path, nil)
		if err != nil {
			return err
		}
		printReport(a.stdout, report)
		return nil
	}, a.logger)

	offer := func(path string) {
		if _, err := seq.Offer(ctx, path); err != nil {
			a.logger.Error("step file rejected", "path", path, "error", err)
		}
		if pending := seq.Pending(); len(pending) > 0 {
			a.logger.Info("waiting for step", "next", seq.Next(), "queued", pending)
		}
	}
	err = watch.Watch(ctx, dir, offer, watch.WithExisting(), watch.WithDebounce(debounce), watch.WithLogger(a.logger))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveMetrics exposes reg on /metrics and the expvar set on /debug/vars,
// returning the bound address.
func (a *app) serveMetrics(addr string, reg *prometheus.Registry) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/debug/vars", expvar.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
