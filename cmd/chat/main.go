package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"booktalk/internal/chat"
	"booktalk/internal/config"
	"booktalk/internal/directory"
	"booktalk/internal/notify"
	"booktalk/internal/server"
	"booktalk/internal/util"
	"booktalk/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	connectionTTL, err := config.ParseConnectionTTL(cfg.ConnectionTTL)
	if err != nil {
		fatal(logger, "invalid connection ttl", err)
	}

	dir, err := directory.New(directory.Config{
		BaseURL:  cfg.DirectoryURL,
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		fatal(logger, "failed to init user directory", err)
	}

	chatStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "failed to init postgres store", err)
	}
	connStore := store.NewRedisConnectionStore(cfg.RedisAddr, cfg.RedisPassword)

	var notifier chat.Notifier
	if cfg.AMQPURL != "" {
		publisher, err := notify.New(cfg.AMQPURL, cfg.NotifyExchange, logger)
		if err != nil {
			fatal(logger, "failed to init notification publisher", err)
		}
		defer publisher.Close()
		notifier = publisher
	}

	hub := server.NewHub()
	registry := chat.NewRegistry(connStore, connectionTTL)
	app, err := chat.New(chat.Config{
		Registry:    registry,
		Ledger:      chat.NewLedger(chatStore),
		Broadcaster: chat.NewBroadcaster(registry, hub, logger),
		Directory:   dir,
		Notifier:    notifier,
		Logger:      logger,
	})
	if err != nil {
		fatal(logger, "failed to init app", err)
	}

	wsServer := server.New(server.Config{
		App:    app,
		Hub:    hub,
		Logger: logger,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     wsServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	slog.Info("chat server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
