package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"reportbot/internal/config"
	"reportbot/internal/delivery"
	"reportbot/internal/health"
	"reportbot/internal/logging"
	"reportbot/internal/metrics"
	"reportbot/internal/scheduler"
	"reportbot/internal/spreadsheet"
	"reportbot/internal/task"
	"reportbot/internal/tracing"
)

var (
	cfgFile   string
	runAll    bool
	taskIndex int
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   "reportbot",
	Short: "Scheduled spreadsheet report snapshots delivered to a webhook",
	Long: `reportbot drives a document-automation bridge to refresh report
workbooks, validates a freshness indicator, captures configured regions
as images and delivers them to a messaging webhook.

Without flags it runs as a daemon: arms the configured daily triggers
and blocks. --run-all and --task execute immediately and exit.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "config.yml", "task configuration file")
	rootCmd.Flags().BoolVar(&runAll, "run-all", false, "execute all tasks immediately and exit")
	rootCmd.Flags().IntVar(&taskIndex, "task", -1, "execute the task at this index immediately and exit")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "verbose logging and a visible automation session")
}

func run(cmd *cobra.Command, args []string) error {
	logging.SetDebug(debug)
	logger := logging.New("reportbot")
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.Plain().WithError(err).Fatal("configuration load failed")
	}

	shutdown, err := tracing.InitTracing(ctx, "reportbot")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	engine := spreadsheet.NewBridgeEngine(cfg.BridgeURL)
	notifier := delivery.NewNotifier(logger)
	pipeline := delivery.NewPipeline(notifier, logger)

	tasks := make([]*task.Task, 0, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		tasks = append(tasks, task.New(tc, engine, notifier, pipeline, logger))
	}
	logger.Plain().WithField("tasks", len(tasks)).Info("tasks loaded")

	sched := scheduler.New(tasks, debug, logger)

	// On-demand modes run synchronously, one task at a time.
	if runAll {
		sched.RunAll(ctx)
		return nil
	}
	if taskIndex >= 0 {
		return sched.RunOne(ctx, taskIndex)
	}

	return runDaemon(ctx, cfg, sched, logger)
}

// runDaemon serves metrics and health, arms the schedules and blocks
// until an interrupt. In-flight firings are not awaited: each task
// cleans up its own resources on every exit path.
func runDaemon(ctx context.Context, cfg config.Config, sched *scheduler.Scheduler, logger *logging.Logger) error {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	var running atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(running.Load))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("metrics HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("metrics HTTP server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	running.Store(true)
	err := sched.Run(ctx)
	running.Store(false)

	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("daemon stopped")
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
