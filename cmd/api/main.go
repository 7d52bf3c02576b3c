package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shiftdesk/api/internal/app"
	"shiftdesk/api/internal/archive"
	"shiftdesk/api/internal/audit"
	"shiftdesk/api/internal/config"
	"shiftdesk/api/internal/duty"
	"shiftdesk/api/internal/search"
	"shiftdesk/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	rawDuty, err := os.ReadFile(cfg.DutyConfig)
	if err != nil {
		log.Fatalf("duty config read failed: %v", err)
	}
	dutyCfg, err := duty.ParseConfig(rawDuty)
	if err != nil {
		log.Fatalf("duty config invalid: %v", err)
	}
	scheduler := duty.NewScheduler(dutyCfg, duty.SystemClock{})

	dataStore := store.NewPostgresStore(db)

	var sink *audit.Sink
	if strings.TrimSpace(cfg.RedisURL) != "" {
		sink, err = audit.NewSink(cfg.RedisURL, cfg.AuditMaxItems, cfg.AuditRetention)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer sink.Close()
	} else {
		log.Printf("audit/notification sinks disabled (no REDIS_URL)")
	}

	pgCase := search.NewPgCase(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgCase)

	var service *app.Service
	if sink != nil {
		service = app.NewWithSinks(cfg, dataStore, scheduler, sink, searchService)
	} else {
		service = app.NewWithSinks(cfg, dataStore, scheduler, nil, searchService)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		writer, err := archive.NewMinioWriter(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		janitor := archive.NewJanitor(dataStore, writer, cfg.ArchiveRetention, service.ProtectedShiftKeys)
		go janitor.Run(ctx, cfg.SweepInterval)
	} else {
		log.Printf("archive janitor disabled (no MINIO_ENDPOINT)")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("ShiftDesk API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
