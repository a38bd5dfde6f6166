package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
	"github.com/ManuelReschke/Redirector/internal/pkg/metrics"
)

// StripeClient talks to the Stripe REST API with form-encoded requests.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string
	HTTPClient *http.Client

	metrics metrics.Recorder
}

func NewStripeClient(cfg *Config, rec metrics.Recorder) *StripeClient {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &StripeClient{
		SecretKey:  cfg.SecretKey,
		APIBaseURL: cfg.APIBaseURL,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		metrics: rec,
	}
}

type stripeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *StripeClient) CreateCustomer(ctx context.Context, email, planID string) (*Customer, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("plan", planID)
	form.Add("expand[]", "subscriptions")

	var out Customer
	if err := c.do(ctx, "create_customer", http.MethodPost, "/v1/customers", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *StripeClient) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	q := url.Values{}
	q.Add("expand[]", "subscriptions")

	var out Customer
	if err := c.do(ctx, "get_customer", http.MethodGet, "/v1/customers/"+url.PathEscape(customerID), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *StripeClient) DeleteCustomer(ctx context.Context, customerID string) error {
	return c.do(ctx, "delete_customer", http.MethodDelete, "/v1/customers/"+url.PathEscape(customerID), nil, nil)
}

// UpdateCard replaces the customer's default source with the card behind token.
func (c *StripeClient) UpdateCard(ctx context.Context, customerID, token string) error {
	form := url.Values{}
	form.Set("source", token)
	return c.do(ctx, "update_card", http.MethodPost, "/v1/customers/"+url.PathEscape(customerID), form, nil)
}

func (c *StripeClient) RetrieveCardToken(ctx context.Context, token string) (*CardToken, error) {
	var out CardToken
	if err := c.do(ctx, "retrieve_token", http.MethodGet, "/v1/tokens/"+url.PathEscape(token), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *StripeClient) UpdateSubscription(ctx context.Context, subscriptionID, planID string) (*GatewaySubscription, error) {
	form := url.Values{}
	form.Set("plan", planID)

	var out GatewaySubscription
	if err := c.do(ctx, "update_subscription", http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionID), form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *StripeClient) RetrieveUpcomingInvoiceLines(ctx context.Context, in UpcomingInvoiceQuery) ([]InvoiceLine, error) {
	q := url.Values{}
	q.Set("customer", in.CustomerID)
	q.Set("subscription", in.SubscriptionID)
	q.Set("subscription_plan", in.PlanID)
	q.Set("subscription_proration_date", strconv.FormatInt(in.ProrationDate, 10))

	var out struct {
		Lines struct {
			Data []InvoiceLine `json:"data"`
		} `json:"lines"`
	}
	if err := c.do(ctx, "upcoming_invoice", http.MethodGet, "/v1/invoices/upcoming", q, &out); err != nil {
		return nil, err
	}
	return out.Lines.Data, nil
}

// do performs one request. GET and DELETE send params in the query string,
// everything else as a form body. Non-2xx responses become GatewayError.
func (c *StripeClient) do(ctx context.Context, operation, method, path string, params url.Values, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveGatewayCall(operation, time.Since(start), err)
	}()

	if strings.TrimSpace(c.SecretKey) == "" {
		return &apperror.GatewayError{Code: "configuration_error", Message: "STRIPE_SECRET_KEY is not configured"}
	}

	endpoint := strings.TrimRight(c.APIBaseURL, "/") + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
	} else if params != nil {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	req.SetBasicAuth(c.SecretKey, "")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &apperror.GatewayError{Code: "api_connection_error", Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseStripeError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &apperror.GatewayError{
			Code:       "invalid_response",
			Message:    fmt.Sprintf("failed to decode %s response: %v", operation, err),
			StatusCode: resp.StatusCode,
		}
	}
	return nil
}

func parseStripeError(status int, raw []byte) *apperror.GatewayError {
	var body stripeErrorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Message == "" {
		return &apperror.GatewayError{
			Code:       "http_" + strconv.Itoa(status),
			Message:    strings.TrimSpace(string(raw)),
			StatusCode: status,
		}
	}
	code := body.Error.Code
	if code == "" {
		code = body.Error.Type
	}
	return &apperror.GatewayError{Code: code, Message: body.Error.Message, StatusCode: status}
}
