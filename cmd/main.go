package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ocr-service/internal/auth"
	"ocr-service/internal/filestore"
	"ocr-service/internal/models"
	"ocr-service/internal/ocr"
	"ocr-service/internal/queue"
	"ocr-service/internal/server"
	"ocr-service/internal/service"
	"ocr-service/internal/storage"
	"ocr-service/internal/worker"
)

const consumerGroup = "ocr-worker-group"

func main() {
	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	db, err := storage.NewStorage(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to init storage", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	files, err := filestore.NewFileStore(cfg.StoragePath)
	if err != nil {
		slog.Error("failed to init file storage", "err", err)
		os.Exit(1)
	}

	tracker := queue.NewTracker()
	producer := queue.NewProducer(cfg.KafkaBroker, cfg.KafkaTopic, tracker)

	ctx, cancel := context.WithCancel(context.Background())

	// OCR worker pool: consumer goroutine feeding the worker state machine.
	w := worker.New(db, ocr.NewTesseractEngine(), cfg.TesseractLang, cfg.HardLimit(), cfg.SoftLimit())
	consumer := queue.NewConsumer(cfg.KafkaBroker, cfg.KafkaTopic, consumerGroup, tracker, w)
	go func() {
		defer consumer.Close()
		consumer.Run(ctx)
	}()

	// Reconciliation sweep: records stuck in processing past the hard task
	// limit are failed so pollers are not left waiting forever.
	go func() {
		interval := time.Duration(cfg.StaleSweepMinutes) * time.Minute
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := db.FailStaleProcessing(ctx, cfg.HardLimit()+interval)
				if err != nil {
					slog.Error("stale processing sweep failed", "err", err)
				} else if n > 0 {
					slog.Warn("failed stale processing records", "count", n)
				}
			}
		}
	}()

	tokens := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL())
	svc := service.New(db, db, files, producer, tracker, tokens)

	srv := server.NewServer(cfg, svc, tokens, db)

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("failed to start server", "err", err)
			os.Exit(1)
		}
	}()
	slog.Info("ocr service started", "addr", cfg.ServerAddr)

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	srv.Stop()
	producer.Close()
}
