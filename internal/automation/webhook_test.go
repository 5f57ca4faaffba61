package automation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/practicehq/crm/internal/models"
)

func testRequest() *models.ServiceRequest {
	return &models.ServiceRequest{
		ID:            42,
		CompanyID:     7,
		ClientID:      13,
		RequestNumber: "SR-0042",
		Status:        "processing",
		InvoiceAmount: 1250.5,
		Priority:      models.PriorityHigh,
	}
}

func TestSubstituteString(t *testing.T) {
	req := testRequest()

	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"id token", "request {{request.id}}", "request 42"},
		{"status token", "now {{request.status}}", "now processing"},
		{"request number", "ref: {{request.request_number}}", "ref: SR-0042"},
		{"amount formats with two decimals", "{{request.invoice_amount}} due", "1250.50 due"},
		{"priority", "p={{request.priority}}", "p=high"},
		{"company and client", "{{request.company_id}}/{{request.client_id}}", "7/13"},
		{"multiple tokens", "{{request.id}}:{{request.status}}", "42:processing"},
		{"unknown token passes through", "{{request.bogus}}", "{{request.bogus}}"},
		{"no tokens", "plain text", "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SubstituteString(tt.in, req))
		})
	}
}

func TestSubstituteTokens_Nested(t *testing.T) {
	req := testRequest()

	in := map[string]interface{}{
		"text":   "Request {{request.request_number}} is {{request.status}}",
		"count":  float64(3),
		"nested": map[string]interface{}{"id": "{{request.id}}"},
		"list":   []interface{}{"{{request.priority}}", float64(1), true},
	}

	out, ok := SubstituteTokens(in, req).(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Request SR-0042 is processing", out["text"])
	assert.Equal(t, float64(3), out["count"])
	assert.Equal(t, map[string]interface{}{"id": "42"}, out["nested"])
	assert.Equal(t, []interface{}{"high", float64(1), true}, out["list"])
}

func TestWebhookClient_Dispatch(t *testing.T) {
	var gotMethod, gotContentType, gotHeader string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotHeader = r.Header.Get("X-Request-Ref")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewWebhookClient(5*time.Second, zap.NewNop())
	err := client.Dispatch(context.Background(), &models.WebhookConfig{
		URL:     server.URL,
		Method:  "POST",
		Headers: map[string]string{"X-Request-Ref": "{{request.request_number}}"},
		Body:    json.RawMessage(`{"event":"transition","request_id":"{{request.id}}"}`),
	}, testRequest())

	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "SR-0042", gotHeader)
	assert.Equal(t, "42", gotBody["request_id"])
	assert.Equal(t, "transition", gotBody["event"])
}

func TestWebhookClient_Dispatch_DefaultsToPost(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	}))
	defer server.Close()

	client := NewWebhookClient(5*time.Second, zap.NewNop())
	err := client.Dispatch(context.Background(), &models.WebhookConfig{URL: server.URL}, testRequest())

	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestWebhookClient_Dispatch_Non2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewWebhookClient(5*time.Second, zap.NewNop())
	err := client.Dispatch(context.Background(), &models.WebhookConfig{
		URL:    server.URL,
		Method: "GET",
	}, testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWebhookClient_Dispatch_UnsupportedMethod(t *testing.T) {
	client := NewWebhookClient(5*time.Second, zap.NewNop())
	err := client.Dispatch(context.Background(), &models.WebhookConfig{
		URL:    "http://localhost:1",
		Method: "DELETE",
	}, testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported webhook method")
}
