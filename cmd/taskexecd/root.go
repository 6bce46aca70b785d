package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/fluxorio/taskexec/pkg/config"
	"github.com/fluxorio/taskexec/pkg/core"
	"github.com/fluxorio/taskexec/pkg/observability/prometheus"
	"github.com/fluxorio/taskexec/pkg/observability/tracing"
	"github.com/fluxorio/taskexec/pkg/signals"
	"github.com/fluxorio/taskexec/pkg/supervisor"
)

var version = "dev"

// options holds the command line flags. Flags that were set override the
// config file.
type options struct {
	configPath    string
	logLevel      string
	logJSON       bool
	metricsListen string
	traceStdout   bool
}

func bindFlags(fs *flag.FlagSet, o *options) {
	fs.StringVarP(&o.configPath, "config", "c", "", "config file (YAML or JSON); defaults to $TASKEXEC_CONFIG")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&o.logJSON, "log-json", false, "write logs as JSON")
	fs.StringVar(&o.metricsListen, "metrics-listen", "", "address for the Prometheus endpoint, e.g. :9090")
	fs.BoolVar(&o.traceStdout, "trace-stdout", false, "export task spans to stdout")
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "taskexecd",
		Short: "Run a bounded executor with scheduled tasks",
		Long: `taskexecd starts a worker pool backed by an array or linked work queue,
submits the tasks listed in its config file on their intervals and maps
process signals to executor commands (shutdown, shutdown_now, purge, report).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := loadConfig(cmd.Flags(), o)
			if err != nil {
				return err
			}
			return run(cmd.Context(), f, cmd.ErrOrStderr())
		},
	}
	bindFlags(root.PersistentFlags(), o)

	root.AddCommand(newValidateCmd(o), newSignalCmd())
	return root
}

func newValidateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a config file and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := loadConfig(cmd.Flags(), o)
			if err != nil {
				return err
			}
			e := f.Executor
			fmt.Fprintf(cmd.OutOrStdout(), "executor %s: core=%d max=%d keep_alive=%s queue=%s capacity=%d policy=%s\n",
				e.Name, e.CoreSize, e.MaxSize, e.KeepAlive, e.Queue, e.QueueCapacity, e.RejectionPolicy)
			for _, d := range f.Tasks {
				every, _ := d.Every()
				fmt.Fprintf(cmd.OutOrStdout(), "task %s: every %s, %s, on failure %s\n", d.Name, every, d.Command, d.ThreadAction)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newSignalCmd() *cobra.Command {
	var pid int
	cmd := &cobra.Command{
		Use:   "signal NAME",
		Short: "Send a signal (e.g. usr1, SIGTERM) to a running taskexecd",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := signals.ParseKind(args[0])
			if err != nil {
				return err
			}
			if pid <= 0 {
				return fmt.Errorf("--pid is required")
			}
			sig := kind.Signal().(unix.Signal)
			if err := unix.Kill(pid, sig); err != nil {
				return fmt.Errorf("signal %s to pid %d: %w", kind.SignalName(), pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %d\n", kind.SignalName(), pid)
			return nil
		},
	}
	cmd.Flags().IntVar(&pid, "pid", 0, "process id of the daemon")
	return cmd
}

// loadConfig reads the config file named by --config or $TASKEXEC_CONFIG
// and applies the flags that were set
func loadConfig(fs *flag.FlagSet, o *options) (*config.File, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv("TASKEXEC_CONFIG")
	}
	f, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}

	if fs.Changed("log-level") {
		f.Log.Level = o.logLevel
	}
	if fs.Changed("log-json") {
		f.Log.JSON = o.logJSON
	}
	if fs.Changed("metrics-listen") {
		f.Metrics.Listen = o.metricsListen
	}
	if fs.Changed("trace-stdout") {
		f.Tracing.Stdout = o.traceStdout
	}
	if _, err := core.ParseLevel(f.Log.Level); err != nil {
		return nil, err
	}
	return f, nil
}

func newLogger(f *config.File, w io.Writer) core.Logger {
	level, _ := core.ParseLevel(f.Log.Level)
	if f.Log.JSON {
		return core.NewJSONLogger(w, "taskexecd", level)
	}
	return core.NewLogger(w, "taskexecd", level)
}

// run serves metrics, installs tracing and blocks in the supervisor until
// the executor terminates
func run(ctx context.Context, f *config.File, logOut io.Writer) error {
	logger := newLogger(f, logOut)

	shutdownTracing, err := tracing.Setup(tracing.Config{
		Stdout:        f.Tracing.Stdout,
		PrettyPrint:   f.Tracing.PrettyPrint,
		SamplingRatio: f.Tracing.SamplingRatio,
		ServiceName:   f.Executor.Name,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warnf("tracing shutdown: %v", err)
		}
	}()

	if f.Metrics.Listen != "" {
		srv := newMetricsServer(f.Metrics)
		go func() {
			logger.Infof("metrics listening on %s%s", f.Metrics.Listen, f.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("metrics server: %v", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	sup, err := supervisor.New(ctx, f,
		supervisor.WithLogger(logger),
		supervisor.WithMetrics(prometheus.GetMetrics()),
	)
	if err != nil {
		return err
	}
	logger.Infof("taskexecd %s running as pid %d", version, os.Getpid())
	return sup.Run(ctx)
}

func newMetricsServer(m config.MetricsSection) *http.Server {
	mux := http.NewServeMux()
	prometheus.RegisterMetricsEndpoint(mux, m.Path)
	return &http.Server{
		Addr:              m.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
