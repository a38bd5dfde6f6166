package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrWebhookSecretMissing = errors.New("webhook secret is not configured")
	ErrWebhookSignature     = errors.New("webhook signature mismatch")
	ErrWebhookExpired       = errors.New("webhook timestamp outside tolerance")
)

// VerifyStripeWebhookSignature checks a "t=<unix>,v1=<hex>" signature
// header against HMAC-SHA256 of "<t>.<payload>". Any v1 entry may match.
func VerifyStripeWebhookSignature(payload []byte, signatureHeader, webhookSecret string, tolerance time.Duration, now time.Time) error {
	secret := strings.TrimSpace(webhookSecret)
	if secret == "" {
		return ErrWebhookSecretMissing
	}

	var timestamp string
	var signatures [][]byte
	for _, part := range strings.Split(signatureHeader, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			if sig, err := hex.DecodeString(value); err == nil {
				signatures = append(signatures, sig)
			}
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return ErrWebhookSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrWebhookSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrWebhookExpired
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrWebhookSignature
}

// WebhookEvent is the subset of a gateway event the service reacts to.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string `json:"id"`
			Object   string `json:"object"`
			Customer string `json:"customer"`
		} `json:"object"`
	} `json:"data"`
}

func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode webhook event: %w", err)
	}
	if ev.Type == "" {
		return nil, errors.New("webhook event has no type")
	}
	return &ev, nil
}

// SubscriptionCustomer returns the customer whose subscription changed, or
// false for events that do not affect the cached subscription.
func (e *WebhookEvent) SubscriptionCustomer() (string, bool) {
	switch e.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		customer := strings.TrimSpace(e.Data.Object.Customer)
		return customer, customer != ""
	default:
		return "", false
	}
}
