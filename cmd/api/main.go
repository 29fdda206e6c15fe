package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/safar/dental-lab-orders/internal/api"
	"github.com/safar/dental-lab-orders/internal/config"
	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/events"
	"github.com/safar/dental-lab-orders/internal/lifecycle"
	"github.com/safar/dental-lab-orders/internal/store"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Info("Connected to database successfully")

	if cfg.Migrations.AutoMigrate {
		if err := database.Migrate(db, cfg.Migrations.Dir, database.Up); err != nil {
			log.Fatalf("Run migrations: %v", err)
		}
	}

	st := store.New(db)
	opts := []lifecycle.Option{lifecycle.WithLogger(log.StandardLogger())}
	if cfg.Kafka.Enabled {
		publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.WithError(err).Warn("close event publisher")
			}
		}()
		opts = append(opts, lifecycle.WithPublisher(publisher))
		log.WithField("topic", cfg.Kafka.Topic).Info("Publishing lifecycle events to Kafka")
	}
	engine := lifecycle.New(st, opts...)

	handler := api.NewHandler(api.Services{
		Engine:        engine,
		Orders:        st,
		Notifications: st,
		Users:         st,
		Catalog:       st,
		DB:            db,
	}, api.TokenConfig{
		Secret: []byte(cfg.Auth.JWTSecret),
		TTL:    cfg.Auth.TokenTTL,
	}, log.StandardLogger())
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Infof("Server starting on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "text" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("invalid log level %q, using info", cfg.Level)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
