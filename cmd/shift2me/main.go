// Command shift2me ingests NMR titration peak lists step by step and reports
// chemical shift intensities. State between invocations lives in the
// configured snapshot store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shift2me/internal/archive"
	"shift2me/internal/config"
	"shift2me/internal/core"
	"shift2me/pkg/domain"
)

var exitFunc = os.Exit

// app carries the process wiring shared by every command.
type app struct {
	stdout io.Writer
	stderr io.Writer

	cfg    config.Config
	logger *slog.Logger

	openStore   func(ctx context.Context, cfg config.Config) (domain.PersistentStore, error)
	openArchive func(ctx context.Context, cfg config.Config) (archive.Store, error)

	logLevel  string
	logFormat string
	traceFile string

	tracer    *core.JSONTraceTracer
	traceSink io.Closer
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:      stdout,
		stderr:      stderr,
		openStore:   core.OpenPersistentStore,
		openArchive: archive.Open,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, newApp(os.Stdout, os.Stderr), os.Args[1:])
	stop()
	exitFunc(code)
}

func run(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	err = errors.Join(err, a.closeTrace())
	if err != nil {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "shift2me",
		Short:         "Follow chemical shift perturbations along an NMR titration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.configure()
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides "+config.EnvLogLevel)
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (text, json); overrides "+config.EnvLogFormat)
	root.PersistentFlags().StringVar(&a.traceFile, "trace-file", "", "append one JSON line per service operation to this file")

	root.AddCommand(
		newInitCmd(a),
		newAddCmd(a),
		newCutoffCmd(a),
		newSelectCmd(a),
		newDeselectCmd(a),
		newSummaryCmd(a),
		newProtocolCmd(a),
		newIntensitiesCmd(a),
		newReplayCmd(a),
		newResetCmd(a),
		newWatchCmd(a),
	)
	return root
}

func (a *app) configure() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		level, err := config.ParseLevel(a.logLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	logger, err := newLogger(a.stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	if a.traceFile != "" {
		f, err := os.OpenFile(a.traceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		a.tracer = core.NewJSONTracer(f)
		a.traceSink = f
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) closeTrace() error {
	if a.traceSink == nil {
		return nil
	}
	err := a.traceSink.Close()
	a.traceSink, a.tracer = nil, nil
	return err
}

func newLogger(w io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %s", format)
	}
}

// openService wires the snapshot store and step archive into a service.
func (a *app) openService(ctx context.Context, opts ...core.Option) (*core.Service, error) {
	store, err := a.openStore(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	arch, err := a.openArchive(ctx, a.cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open archive: %w", err)
	}
	base := []core.Option{core.WithLogger(a.logger)}
	if a.tracer != nil {
		base = append(base, core.WithTracer(a.tracer))
	}
	if arch != nil {
		base = append(base, core.WithArchive(arch))
	}
	svc, err := core.NewService(ctx, store, append(base, opts...)...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return svc, nil
}

// withService opens the service for the duration of fn.
func (a *app) withService(ctx context.Context, fn func(*core.Service) error) (err error) {
	svc, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, svc.Close())
	}()
	return fn(svc)
}
