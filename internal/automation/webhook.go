package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/practicehq/crm/internal/models"
	"go.uber.org/zap"
)

// WebhookClient dispatches webhook automations over HTTP. Calls are
// synchronous and bounded by the configured timeout; success is any 2xx
// response.
type WebhookClient struct {
	client *http.Client
	logger *zap.Logger
}

// NewWebhookClient creates a new webhook client
func NewWebhookClient(timeout time.Duration, logger *zap.Logger) *WebhookClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookClient{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Dispatch substitutes request tokens into the configured body and performs
// the HTTP call. A non-2xx response is an error; the caller decides whether
// to retry.
func (c *WebhookClient) Dispatch(ctx context.Context, cfg *models.WebhookConfig, request *models.ServiceRequest) error {
	method := strings.ToUpper(cfg.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut:
	case "":
		method = http.MethodPost
	default:
		return fmt.Errorf("unsupported webhook method: %s", cfg.Method)
	}

	var bodyReader io.Reader
	if len(cfg.Body) > 0 && method != http.MethodGet {
		var body interface{}
		if err := json.Unmarshal(cfg.Body, &body); err != nil {
			return fmt.Errorf("invalid webhook body: %w", err)
		}
		substituted := SubstituteTokens(body, request)
		encoded, err := json.Marshal(substituted)
		if err != nil {
			return fmt.Errorf("failed to encode webhook body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, SubstituteString(value, request))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook call failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d for %s %s", resp.StatusCode, method, cfg.URL)
	}

	c.logger.Debug("Webhook dispatched",
		zap.String("method", method),
		zap.String("url", cfg.URL),
		zap.Int("status", resp.StatusCode))
	return nil
}

// SubstituteTokens walks a decoded JSON value (string, object or list,
// recursively) and replaces recognized {{request.*}} tokens.
func SubstituteTokens(value interface{}, request *models.ServiceRequest) interface{} {
	switch v := value.(type) {
	case string:
		return SubstituteString(v, request)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = SubstituteTokens(item, request)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = SubstituteTokens(item, request)
		}
		return out
	default:
		return value
	}
}

// SubstituteString replaces recognized request tokens in a string
func SubstituteString(s string, request *models.ServiceRequest) string {
	replacer := strings.NewReplacer(
		"{{request.id}}", strconv.FormatInt(request.ID, 10),
		"{{request.status}}", request.Status,
		"{{request.request_number}}", request.RequestNumber,
		"{{request.invoice_amount}}", strconv.FormatFloat(request.InvoiceAmount, 'f', 2, 64),
		"{{request.priority}}", request.Priority,
		"{{request.company_id}}", strconv.FormatInt(request.CompanyID, 10),
		"{{request.client_id}}", strconv.FormatInt(request.ClientID, 10),
	)
	return replacer.Replace(s)
}
