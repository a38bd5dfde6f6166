package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/Redirector/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com"

// Config holds gateway credentials and the plan catalog.
type Config struct {
	SecretKey        string
	APIBaseURL       string
	WebhookSecret    string
	WebhookTolerance time.Duration
	Timeout          time.Duration
	Catalog          *Catalog
}

// LoadConfig reads the billing settings from the environment
func LoadConfig() (*Config, error) {
	catalog, err := ParseCatalog(env.GetEnv("BILLING_PLANS", defaultPlans))
	if err != nil {
		return nil, fmt.Errorf("invalid BILLING_PLANS: %w", err)
	}

	cfg := &Config{
		SecretKey:        strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL:       strings.TrimRight(strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL)), "/"),
		WebhookSecret:    strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		WebhookTolerance: env.GetEnvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
		Timeout:          time.Duration(env.GetEnvInt("STRIPE_TIMEOUT_SECONDS", 15)) * time.Second,
		Catalog:          catalog,
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("STRIPE_TIMEOUT_SECONDS must be positive")
	}
	return cfg, nil
}
