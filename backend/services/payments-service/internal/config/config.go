package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	libconfig "chargepay/backend/libs/config"
)

// Config defines payments service configuration.
type Config struct {
	HTTP struct {
		Port           string   `yaml:"port" env:"PAYMENTS_HTTP_PORT"`
		AllowedOrigins []string `yaml:"allowedOrigins" env:"PAYMENTS_ALLOWED_ORIGINS"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"PAYMENTS_POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr       string        `yaml:"addr" env:"PAYMENTS_REDIS_ADDR"`
		Password   string        `yaml:"password" env:"PAYMENTS_REDIS_PASSWORD"`
		DB         int           `yaml:"db" env:"PAYMENTS_REDIS_DB"`
		WebhookTTL time.Duration `yaml:"webhookTtl" env:"PAYMENTS_REDIS_WEBHOOK_TTL"`
	} `yaml:"redis"`
	JWT struct {
		Secret string `yaml:"secret" env:"PAYMENTS_JWT_SECRET"`
	} `yaml:"jwt"`
	Stripe struct {
		SecretKey           string        `yaml:"secretKey" env:"STRIPE_SECRET_KEY"`
		WebhookSecret       string        `yaml:"webhookSecret" env:"STRIPE_WEBHOOK_SECRET"`
		SuccessURL          string        `yaml:"successUrl" env:"STRIPE_SUCCESS_URL"`
		CancelURL           string        `yaml:"cancelUrl" env:"STRIPE_CANCEL_URL"`
		EnableCardPayments  bool          `yaml:"enableCardPayments" env:"STRIPE_ENABLE_CARD_PAYMENTS"`
		Currency            string        `yaml:"currency" env:"STRIPE_CURRENCY"`
		Timeout             time.Duration `yaml:"timeout" env:"STRIPE_TIMEOUT"`
		MaxRetries          int           `yaml:"maxRetries" env:"STRIPE_MAX_RETRIES"`
		BreakerMinRequests  uint32        `yaml:"breakerMinRequests" env:"STRIPE_BREAKER_MIN_REQUESTS"`
		BreakerFailureRatio float64       `yaml:"breakerFailureRatio" env:"STRIPE_BREAKER_FAILURE_RATIO"`
	} `yaml:"stripe"`
	RPC struct {
		Ethereum        string `yaml:"ethereum" env:"RPC_ETHEREUM"`
		Polygon         string `yaml:"polygon" env:"RPC_POLYGON"`
		Arbitrum        string `yaml:"arbitrum" env:"RPC_ARBITRUM"`
		Base            string `yaml:"base" env:"RPC_BASE"`
		Solana          string `yaml:"solana" env:"RPC_SOLANA"`
		EthereumSepolia string `yaml:"ethereumSepolia" env:"RPC_ETHEREUM_SEPOLIA"`
		PolygonAmoy     string `yaml:"polygonAmoy" env:"RPC_POLYGON_AMOY"`
		BaseSepolia     string `yaml:"baseSepolia" env:"RPC_BASE_SEPOLIA"`
	} `yaml:"rpc"`
	Oracle struct {
		Timeout time.Duration `yaml:"timeout" env:"ORACLE_TIMEOUT"`
	} `yaml:"oracle"`
	Sessions struct {
		DefaultCost       string `yaml:"defaultCost" env:"SESSIONS_DEFAULT_COST"`
		LinkExpiryMinutes int    `yaml:"linkExpiryMinutes" env:"SESSIONS_LINK_EXPIRY_MINUTES"`
	} `yaml:"sessions"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8085"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.WebhookTTL = 72 * time.Hour
	cfg.Stripe.SuccessURL = "http://localhost:3000/payment/success?session_id={CHECKOUT_SESSION_ID}"
	cfg.Stripe.CancelURL = "http://localhost:3000/payment/cancel?session_id={CHECKOUT_SESSION_ID}"
	cfg.Stripe.Currency = "usd"
	cfg.Stripe.Timeout = 15 * time.Second
	cfg.Stripe.MaxRetries = 2
	cfg.Stripe.BreakerMinRequests = 10
	cfg.Stripe.BreakerFailureRatio = 0.5
	cfg.Oracle.Timeout = 10 * time.Second
	cfg.Sessions.DefaultCost = "0.50"
	cfg.Sessions.LinkExpiryMinutes = 24 * 60

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database dsn required")
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("config: redis addr required")
	}
	if strings.TrimSpace(c.Stripe.SecretKey) == "" {
		return errors.New("config: stripe secret key required")
	}
	if strings.TrimSpace(c.Stripe.WebhookSecret) == "" {
		return errors.New("config: stripe webhook secret required")
	}
	if _, err := c.DefaultCost(); err != nil {
		return err
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// DefaultCost returns the cost charged when a session stops without one.
func (c *Config) DefaultCost() (decimal.Decimal, error) {
	cost, err := decimal.NewFromString(strings.TrimSpace(c.Sessions.DefaultCost))
	if err != nil || !cost.IsPositive() {
		return decimal.Zero, fmt.Errorf("config: sessions default cost %q must be a positive decimal", c.Sessions.DefaultCost)
	}
	return cost, nil
}

// EVMEndpoints maps EVM network names to their configured RPC URLs. Unset networks are omitted.
func (c *Config) EVMEndpoints() map[string]string {
	all := map[string]string{
		"ethereum":         c.RPC.Ethereum,
		"polygon":          c.RPC.Polygon,
		"arbitrum":         c.RPC.Arbitrum,
		"base":             c.RPC.Base,
		"ethereum-sepolia": c.RPC.EthereumSepolia,
		"polygon-amoy":     c.RPC.PolygonAmoy,
		"base-sepolia":     c.RPC.BaseSepolia,
	}
	out := make(map[string]string, len(all))
	for name, url := range all {
		if url = strings.TrimSpace(url); url != "" {
			out[name] = url
		}
	}
	return out
}
