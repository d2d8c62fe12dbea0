package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	InvoiceCacheTTLSeconds int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	LogMode                string
	LogFile                string
	NodeID                 int64
	PromotionSweepSpec     string
	VNPayTmnCode           string
	VNPayHashSecret        string
	VNPayPayURL            string
	VNPayReturnURL         string
}

func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("INVOICE_CACHE_TTL_SECONDS", 60)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_MODE", "production")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("PROMOTION_SWEEP_SPEC", "@every 5m")
	v.SetDefault("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html")

	cacheTTL := v.GetInt("INVOICE_CACHE_TTL_SECONDS")
	if cacheTTL < 1 {
		cacheTTL = 60
	}
	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 480
	}

	return Config{
		Port:                   v.GetString("PORT"),
		AllowedOrigin:          v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:            v.GetString("DATABASE_URL"),
		RedisAddr:              v.GetString("REDIS_ADDR"),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		InvoiceCacheTTLSeconds: cacheTTL,
		AuthSecret:             strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		LogMode:                strings.ToLower(strings.TrimSpace(v.GetString("LOG_MODE"))),
		LogFile:                strings.TrimSpace(v.GetString("LOG_FILE")),
		NodeID:                 v.GetInt64("NODE_ID"),
		PromotionSweepSpec:     strings.TrimSpace(v.GetString("PROMOTION_SWEEP_SPEC")),
		VNPayTmnCode:           strings.TrimSpace(v.GetString("VNPAY_TMN_CODE")),
		VNPayHashSecret:        strings.TrimSpace(v.GetString("VNPAY_HASH_SECRET")),
		VNPayPayURL:            strings.TrimSpace(v.GetString("VNPAY_PAY_URL")),
		VNPayReturnURL:         strings.TrimSpace(v.GetString("VNPAY_RETURN_URL")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) InvoiceCacheTTL() time.Duration {
	return time.Duration(c.InvoiceCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}
