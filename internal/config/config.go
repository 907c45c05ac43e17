package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreID               string
	SellerGSTIN           string
	SellerStateCode       string
	AuthSecret            string
	AccessTokenTTLMinutes int
	EntitlementSecret     string
	EntitlementTTLHours   int
	MaxOfflineInvoices    int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	entTTL, err := strconv.Atoi(getEnv("ENTITLEMENT_TTL_HOURS", "72"))
	if err != nil || entTTL < 1 {
		entTTL = 72
	}
	maxOffline, err := strconv.Atoi(getEnv("MAX_OFFLINE_INVOICES", "50"))
	if err != nil || maxOffline < 1 {
		maxOffline = 50
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StoreID:               getEnv("DEFAULT_STORE_ID", "main-pharmacy"),
		SellerGSTIN:           getEnv("SELLER_GSTIN", "29DEVGSTIN0001"),
		SellerStateCode:       getEnv("SELLER_STATE_CODE", "29"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		EntitlementSecret:     strings.TrimSpace(os.Getenv("ENTITLEMENT_SECRET")),
		EntitlementTTLHours:   entTTL,
		MaxOfflineInvoices:    maxOffline,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
