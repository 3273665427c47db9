package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"courier/internal/retention"
	"courier/pkg/api"
	"courier/pkg/auth"
	"courier/pkg/banner"
	"courier/pkg/blob"
	"courier/pkg/config"
	"courier/pkg/governor"
	"courier/pkg/logger"
	"courier/pkg/notify"
	"courier/pkg/service"
	"courier/pkg/store"
)

// build metadata, set via ldflags during release
var version = "dev"

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// flags win over config/env when explicitly set
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	dbPath := cfg.Storage.DBPath
	if setFlags["db"] || dbPath == "" {
		dbPath = dbVal
	}
	blobDir := cfg.Storage.BlobDir
	if blobDir == "" {
		blobDir = dbPath + "-blobs"
	}

	logger.InitWithLevel(cfg.Logging.Level)

	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open pebble at %s: %v", dbPath, err)
	}

	blobs, err := blob.NewLocalDisk(blobDir, "/v1/blobs")
	if err != nil {
		log.Fatalf("failed to prepare blob dir %s: %v", blobDir, err)
	}

	gov := governor.New(governor.Config{
		SendWindow:    time.Duration(cfg.Limits.SendWindowSec) * time.Second,
		SendPerActor:  cfg.Limits.SendPerActor,
		SendPerThread: cfg.Limits.SendPerThread,
		SendGlobal:    cfg.Limits.SendGlobal,
		PollWindow:    time.Duration(cfg.Limits.PollWindowSec) * time.Second,
		PollPerActor:  cfg.Limits.PollPerActor,
		PollPerThread: cfg.Limits.PollPerThread,
		PollGlobal:    cfg.Limits.PollGlobal,
	})

	events := notify.NewEmitter(notify.LogSink{}, 0)
	svc := service.New(st, gov, nil, events, service.Config{
		PageSize:         cfg.Limits.PageSize,
		MaxBodyLen:       cfg.Limits.MaxBodyLen,
		AudioAttachments: cfg.Features.AudioAttachments,
	})

	ctx, cancelRoot := context.WithCancel(context.Background())
	stopRetention, err := retention.Start(ctx, *cfg, st)
	if err != nil {
		log.Fatalf("failed to start retention: %v", err)
	}

	handler := api.NewRouter(svc, blobs, api.Options{
		Auth:           auth.Config{RPS: cfg.Limits.RPS, Burst: cfg.Limits.Burst},
		MaxAttachBytes: int64(cfg.Limits.MaxAttachBytes),
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String())
		stopRetention()
		cancelRoot()
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.Error("shutdown_error", "error", err)
		}
	}()

	banner.Print(addr, dbPath, blobDir, version)
	logger.Info("server_starting", "addr", addr, "db", dbPath, "version", version)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}

	events.Close()
	if err := st.Close(); err != nil {
		logger.Error("store_close_error", "error", err)
	}
	logger.Info("server_stopped")
}
