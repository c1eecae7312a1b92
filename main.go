package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"pacsbridge-rest/archive"
)

// Handlers holds dependencies shared by HTTP handlers.
type Handlers struct {
	Cfg     Config
	Archive *archive.Client
}

func main() {
	cfg := LoadConfig()

	var ar *archive.Client
	if cfg.ArchiveURL != "" {
		var err error
		ar, err = archive.NewClient(cfg.ArchiveURL, cfg.ArchiveUsername, cfg.ArchivePassword)
		if err != nil {
			log.Fatalf("failed to init archive client: %v", err)
		}
	} else {
		log.Printf("warning: no archive URL configured; imaging endpoints will return 503")
	}

	h := &Handlers{
		Cfg:     cfg,
		Archive: ar,
	}

	mux := http.NewServeMux()

	// Instance endpoints: metadata, frame bytes, whole-instance retrieve
	mux.HandleFunc("/instances/", h.InstancesHandler)

	// Navigation endpoints for viewers
	mux.HandleFunc("/studies/", h.StudiesHandler)
	mux.HandleFunc("/series/", h.SeriesHandler)

	mux.HandleFunc("/healthz", h.HealthzHandler)

	addr := ":8080"
	server := &http.Server{
		Addr:    addr,
		Handler: withCORS(mux),
	}

	go func() {
		log.Printf("PacsBridge REST server listening on %s (archive=%s)", addr, cfg.ArchiveURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")
	if err := server.Shutdown(context.Background()); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
