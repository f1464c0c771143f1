// Command kittcal keeps the rolling occurrence windows of every recurring
// series materialized: once at startup and then on a cron schedule, it walks
// the series roots and re-extends each window. Generation is idempotent, so
// the refresh is safe to run as often as the schedule fires.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kittclouds/kittcal/internal/config"
	"github.com/kittclouds/kittcal/internal/store"
	"github.com/kittclouds/kittcal/pkg/calendar"
)

func main() {
	configPath := flag.String("config", "kittcal.yaml", "Path to config file")
	once := flag.Bool("once", false, "Refresh every series window once and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load config",
			zap.String("config_path", *configPath), zap.Error(err))
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	st, err := store.NewSQLiteStoreWithDSN(cfg.Database)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("database", cfg.Database), zap.Error(err))
	}
	defer st.Close()

	engine := calendar.New(st,
		calendar.WithWindowMonths(cfg.WindowMonths),
		calendar.WithHistoryLimit(cfg.HistoryLimit),
		calendar.WithExcerptLength(cfg.ExcerptLength),
	)

	logger.Info("kittcal starting",
		zap.String("database", cfg.Database),
		zap.Int("window_months", cfg.WindowMonths),
		zap.String("refresh", cfg.Refresh),
		zap.Bool("once", *once),
	)

	refresh := func() { refreshAll(logger, st, engine) }
	refresh()

	if *once {
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Refresh, refresh); err != nil {
		logger.Fatal("invalid refresh schedule", zap.String("refresh", cfg.Refresh), zap.Error(err))
	}
	c.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", zap.String("signal", sig.String()))

	// Let an in-flight refresh finish before closing the store.
	<-c.Stop().Done()
}

// refreshAll re-extends the occurrence window of every series root.
func refreshAll(logger *zap.Logger, st store.Storer, engine *calendar.Engine) {
	roots, err := st.ListSeriesRoots()
	if err != nil {
		logger.Error("failed to list series roots", zap.Error(err))
		return
	}

	refreshed := 0
	for _, root := range roots {
		if err := engine.Generate(root.ID); err != nil {
			logger.Error("failed to extend series window",
				zap.String("series_id", root.ID), zap.Error(err))
			continue
		}
		refreshed++
	}

	logger.Info("series windows refreshed", zap.Int("series", refreshed))
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := zcfg.Build()
	if err != nil {
		logger = zap.NewExample()
	}
	return logger
}
