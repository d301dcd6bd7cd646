// Command train runs a config-driven 3D segmentation training loop: it loads
// the run configuration, builds the per-split transform pipelines and
// datasets, trains the model with validation after every epoch, evaluates on
// the held-out test split and writes a markdown report of the run.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kbressem/ai-template/config"
	"github.com/kbressem/ai-template/engine"
	"github.com/kbressem/ai-template/handlers"
	"github.com/kbressem/ai-template/logging"
	"github.com/kbressem/ai-template/report"
)

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "path to the run configuration YAML")
		debug       = flag.Bool("debug", false, "force debug mode regardless of the config")
		logLevel    = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		logJSON     = flag.Bool("log-json", false, "emit logs as JSON")
		metricsAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	)
	flag.Parse()

	logging.Configure(logging.Options{Level: *logLevel, JSON: *logJSON})
	defer logging.Sync()
	log := logging.L().Named("train")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config", zap.String("path", *configPath), zap.Error(err))
	}
	if *debug {
		cfg.Debug = true
	}

	printBanner(cfg)

	for _, dir := range []string{cfg.OutDir, cfg.ModelDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal("create directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	trainer, err := engine.NewSegmentationTrainer(cfg)
	if err != nil {
		log.Fatal("build trainer", zap.Error(err))
	}

	handlers.NewDebugHandler(cfg).Attach(trainer.Engine)
	handlers.NewPushNotificationHandler(cfg).Attach(trainer.Engine)

	reg := prometheus.NewRegistry()
	handlers.NewMetricsHandler(reg).Attach(trainer.Engine)
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", *metricsAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := trainer.Run(ctx); err != nil {
		log.Fatal("training failed", zap.Error(err))
	}

	testDice, err := trainer.Evaluate(ctx)
	if err != nil {
		log.Fatal("test evaluation failed", zap.Error(err))
	}
	log.Info("test evaluation", zap.Float64("mean_dice", testDice))

	gen := report.NewGenerator(cfg.RunID, cfg.OutDir, cfg.LogDir)
	if err := gen.Generate(); err != nil {
		log.Fatal("generate report", zap.Error(err))
	}
	log.Info("run complete", zap.String("run_id", cfg.RunID))
}

// printBanner echoes the resolved run settings so a run's console output is
// self-describing.
func printBanner(cfg *config.Config) {
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("run id:      %s\n", cfg.RunID)
	fmt.Printf("debug:       %v\n", cfg.Debug)
	fmt.Printf("data dir:    %s\n", cfg.Data.DataDir)
	fmt.Printf("image cols:  %s\n", strings.Join(cfg.Data.ImageCols, ", "))
	fmt.Printf("label cols:  %s\n", strings.Join(cfg.Data.LabelCols, ", "))
	fmt.Printf("out dir:     %s\n", cfg.OutDir)
	fmt.Printf("model dir:   %s\n", cfg.ModelDir)
	fmt.Printf("log dir:     %s\n", cfg.LogDir)
	fmt.Println(strings.Repeat("-", 60))
}
