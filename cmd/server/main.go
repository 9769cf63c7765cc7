package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"transcriptor-pro/internal/config"
	"transcriptor-pro/internal/keypool"
	"transcriptor-pro/internal/logger"
	"transcriptor-pro/internal/scheduler"
	"transcriptor-pro/internal/server"
	"transcriptor-pro/internal/store"
	"transcriptor-pro/internal/transcribe"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "transcriptor-pro").Info("starting service")

	cfg := config.FromEnv()

	jobs, err := store.NewFileJobStore(filepath.Join(cfg.DataDir, "jobs.json"))
	if err != nil {
		log.WithError(err).Fatal("failed to open job store")
	}
	agentUsage, err := store.NewFileUsageStore(filepath.Join(cfg.DataDir, "usage_agents.json"))
	if err != nil {
		log.WithError(err).Fatal("failed to open agent usage store")
	}
	keyUsage, err := store.NewFileUsageStore(filepath.Join(cfg.DataDir, "usage_keys.json"))
	if err != nil {
		log.WithError(err).Fatal("failed to open key usage store")
	}
	locks, err := store.NewLockStore(filepath.Join(cfg.DataDir, "key_locks.json"))
	if err != nil {
		log.WithError(err).Fatal("failed to open lock store")
	}
	history := store.NewFileHistoryStore(filepath.Join(cfg.DataDir, "history.jsonl"))

	roster := config.NewSource(cfg.AgentsPath)
	pool := keypool.New(roster, locks)

	sched := scheduler.New(scheduler.Options{
		Limit:        cfg.MaxConcurrency,
		DefaultModel: cfg.DefaultModel,
		Pool:         pool,
		Jobs:         jobs,
		Log:          log.WithComponent("scheduler"),
	})

	pipe := &transcribe.Pipeline{
		Client:       transcribe.NewHTTPClient(cfg.APIURL),
		Pool:         pool,
		AgentUsage:   agentUsage,
		KeyUsage:     keyUsage,
		History:      history,
		Jobs:         sched,
		DocDir:       filepath.Join(cfg.DataDir, "docs"),
		ChunkSeconds: cfg.ChunkSeconds,
		RetryFactor:  cfg.RetryFactor,
		RetryBackoff: cfg.RetryBackoff,
		Log:          log.WithComponent("pipeline"),
	}
	sched.SetRunner(pipe)

	srv := &server.Server{
		Sched:      sched,
		Pool:       pool,
		Locks:      locks,
		AgentUsage: agentUsage,
		KeyUsage:   keyUsage,
		History:    history,
		Roster:     roster,
		UploadDir:  filepath.Join(cfg.DataDir, "uploads"),
		Log:        log,
	}

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", httpSrv.Addr).Info("listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
}
