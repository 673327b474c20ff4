package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailpulse/internal/api"
	"github.com/ignite/mailpulse/internal/beacon"
	"github.com/ignite/mailpulse/internal/config"
	"github.com/ignite/mailpulse/internal/engagement"
	"github.com/ignite/mailpulse/internal/fatigue"
	"github.com/ignite/mailpulse/internal/pkg/distlock"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	guardrail := fatigue.New(fatigue.Thresholds{
		DailyLimit:              cfg.Guardrail.DailyLimit,
		WeeklyLimit:             cfg.Guardrail.WeeklyLimit,
		WarningThresholdPercent: cfg.Guardrail.WarningThresholdPercent,
	})
	guardrail.SetEnabled(!cfg.Guardrail.Disabled)

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		guardrail.SetWindowStore(fatigue.NewRedisWindows(client))
		guardrail.SetLockFactory(func(key string) fatigue.Locker {
			return distlock.NewRedisLock(client, key, 2*time.Second)
		})
		log.Printf("fatigue windows backed by redis at %s", cfg.Redis.Addr)
	}

	tracker := engagement.NewTracker()
	tracker.SetTrackingEnabled(!cfg.Tracking.Disabled)
	tracker.SetPrivacyCompliant(!cfg.Tracking.DisableGeo)
	if !cfg.Tracking.DisableGeo {
		tracker.SetGeolocator(engagement.NewHTTPGeolocator(""))
	}

	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		tracker.SetJournal(engagement.NewJournal(db))
		log.Println("open-event journal enabled")
	}

	r := chi.NewRouter()
	b := beacon.NewHandler(tracker)
	r.Get("/track/open/{token}.gif", b.HandleOpen)
	r.Get("/health", b.HandleHealth)
	r.Mount("/", api.NewRouter(guardrail, tracker, cfg.Tracking.BaseURL))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("mailpulse listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
