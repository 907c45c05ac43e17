package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medipos/backend/internal/cache"
	"medipos/backend/internal/config"
	"medipos/backend/internal/entitlement"
	"medipos/backend/internal/httpapi"
	"medipos/backend/internal/service"
	"medipos/backend/internal/store"
	"medipos/backend/internal/store/memory"
	pgstore "medipos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		} else {
			repo = pg
			closers = append(closers, pg.Close)
			log.Println("repository: postgres")
		}
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	revocations := cache.RevocationCache(cache.NoopRevocationCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisRevocationCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop revocation cache", err)
		} else {
			revocations = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("revocation cache: redis")
		}
	} else {
		log.Println("revocation cache: noop")
	}

	signer := entitlement.NewSigner(cfg.EntitlementSecret, time.Duration(cfg.EntitlementTTLHours)*time.Hour, cfg.MaxOfflineInvoices)
	svc := service.New(repo, signer, service.Config{
		DefaultStoreID:  cfg.StoreID,
		SellerGSTIN:     cfg.SellerGSTIN,
		SellerStateCode: cfg.SellerStateCode,
	})
	svc.SetRevocationCache(revocations)

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("pharmacy POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.EntitlementSecret) < 32 {
		return fmt.Errorf("ENTITLEMENT_SECRET must be set and at least 32 characters")
	}
	if cfg.AuthSecret == cfg.EntitlementSecret {
		return fmt.Errorf("AUTH_SECRET and ENTITLEMENT_SECRET must differ")
	}
	return nil
}
