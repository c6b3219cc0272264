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

	"finsense/api/internal/app"
	"finsense/api/internal/config"
	"finsense/api/internal/otp"
	"finsense/api/internal/sms"
	"finsense/api/internal/store"
	"finsense/api/internal/sync"
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

	dataStore := store.NewPostgresStore(db)
	engine := sync.NewEngine(dataStore)

	smsSender := sms.NewService(sms.Config{
		GatewayURL: cfg.SMSGatewayURL,
		APIKey:     cfg.SMSAPIKey,
		From:       cfg.SMSFrom,
	})
	if !smsSender.IsConfigured() {
		log.Printf("SMS gateway not configured, codes returned in register responses")
	}

	var codeStore otp.CodeStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for OTP code storage")
		redisStore, err := otp.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		codeStore = redisStore
	}
	otpService := otp.NewService(codeStore, smsSender, cfg.OTPTTL)

	service := app.New(cfg, dataStore, engine, otpService)
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
		log.Printf("Finsense API listening on %s", cfg.Addr)
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
