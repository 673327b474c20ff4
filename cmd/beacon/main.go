package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/mailpulse/internal/beacon"
	"github.com/ignite/mailpulse/internal/engagement"
)

// Standalone beacon endpoint for edge deployments where only the pixel is
// served close to recipients. Tokens minted elsewhere are unknown to this
// process, so every hit still gets the pixel; recording happens only for
// tokens this instance minted.
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	tracker := engagement.NewTracker()
	handler := beacon.NewHandler(tracker)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("beacon service listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down beacon service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
