package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"classtab/internal/config"
	"classtab/internal/ics"
	"classtab/internal/logging"
	"classtab/internal/registry"
	"classtab/internal/reminder"
	"classtab/internal/schedule"
	"classtab/internal/server"
	"classtab/internal/storage"
	"classtab/internal/wakeup"
)

func main() {
	var (
		configPath = flag.String("config", "/etc/classtab/config.yaml", "Path to config file")
		listen     = flag.String("listen", "", "HTTP listen address (overrides config if set)")
	)
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		// Logger is not up yet.
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *listen != "" {
		conf.Listen = *listen
	}

	log, err := logging.New(conf.Log.Level, conf.Log.Format)
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	loc, err := conf.Location()
	if err != nil {
		log.Fatal("invalid timezone", zap.String("timezone", conf.Timezone), zap.Error(err))
	}

	log.Info("classtabd starting",
		zap.String("listen", conf.Listen),
		zap.String("timezone", conf.Timezone),
		zap.String("data_dir", conf.DataDir),
		zap.Int("horizon_days", conf.HorizonDays),
		zap.Int("reminder_lead_minutes", conf.ReminderLeadMinutes),
	)

	reg, err := registry.Load(filepath.Join(conf.DataDir, "userdata.json"), log)
	if err != nil {
		log.Fatal("failed to load user registry", zap.Error(err))
	}

	store, err := storage.NewStore(conf.DataDir)
	if err != nil {
		log.Fatal("failed to prepare calendar storage", zap.Error(err))
	}

	parser := ics.NewParser(loc, log)
	expander := ics.NewExpander(loc, conf.HorizonDays, log)
	cache := schedule.NewCache()
	engine := schedule.NewEngine(reg, store, cache, parser, expander, loc, log)

	scanner := reminder.New(reg, engine, reminder.NewLogNotifier(log), loc, conf.ReminderLead(), log)
	if err := scanner.Start(); err != nil {
		log.Fatal("failed to start reminder scanner", zap.Error(err))
	}

	srv := server.New(engine, reg, store, cache, parser, wakeup.NewClient(log), loc, log)
	httpSrv := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()

	scanner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}

	log.Info("classtabd exiting")
}
