package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sidereal-labs/jyotish-client/internal/testutil"
)

func newTestClient(t *testing.T, mock *testutil.MockProvider) *Client {
	t.Helper()

	cfg := DefaultConfig(mock.URL())
	// Tests should not be paced.
	cfg.RateLimit = 1000
	cfg.Burst = 1000
	cfg.Timeout = 2 * time.Second

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New accepted an empty base URL")
	}
}

func TestClient_ComputeChart(t *testing.T) {
	mock := testutil.NewMockProvider()
	defer mock.Close()

	client := newTestClient(t, mock)

	result, err := client.ComputeChart(context.Background(), validParams())
	if err != nil {
		t.Fatalf("ComputeChart failed: %v", err)
	}

	if result.Ascendant != "Mesha" {
		t.Errorf("Ascendant = %q, want Mesha", result.Ascendant)
	}
	if len(result.Planets) != 2 {
		t.Errorf("got %d planets, want 2", len(result.Planets))
	}
	if len(result.Raw) == 0 {
		t.Error("Raw payload not preserved for persistence hand-off")
	}
	if mock.RequestCount() != 1 {
		t.Errorf("request count = %d, want 1", mock.RequestCount())
	}
}

func TestClient_ComputeChart_InvalidParams(t *testing.T) {
	mock := testutil.NewMockProvider()
	defer mock.Close()

	client := newTestClient(t, mock)

	params := validParams()
	params.Latitude = 123

	_, err := client.ComputeChart(context.Background(), params)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Class != ErrorClassClient {
		t.Errorf("class = %q, want client", apiErr.Class)
	}
	if apiErr.Retryable() {
		t.Error("validation failure reported as retryable")
	}
	if mock.RequestCount() != 0 {
		t.Error("invalid params reached the upstream")
	}
}

func TestClient_ComputeChart_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		class     ErrorClass
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, ErrorClassServer, true},
		{"rate limited", http.StatusTooManyRequests, ErrorClassRateLimit, true},
		{"bad request", http.StatusBadRequest, ErrorClassClient, false},
		{"not found", http.StatusNotFound, ErrorClassClient, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockProvider()
			defer mock.Close()
			mock.FailTimes(1, tt.status)

			client := newTestClient(t, mock)

			_, err := client.ComputeChart(context.Background(), validParams())
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.Class != tt.class {
				t.Errorf("class = %q, want %q", apiErr.Class, tt.class)
			}
			if apiErr.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", apiErr.Retryable(), tt.retryable)
			}
		})
	}
}

func TestClient_ComputeChart_Timeout(t *testing.T) {
	mock := testutil.NewMockProvider()
	defer mock.Close()
	mock.Script(testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       testutil.DefaultChartBody,
		Delay:      200 * time.Millisecond,
	})

	cfg := DefaultConfig(mock.URL())
	cfg.RateLimit = 1000
	cfg.Timeout = 50 * time.Millisecond
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = client.ComputeChart(context.Background(), validParams())
	if err == nil {
		t.Fatal("ComputeChart did not fail on a slow upstream")
	}
	if !IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = false, want true", err)
	}
}

func TestClient_ComputeChart_MalformedPayload(t *testing.T) {
	mock := testutil.NewMockProvider()
	defer mock.Close()
	mock.Script(testutil.MockResponse{StatusCode: http.StatusOK, Body: "not json"})

	client := newTestClient(t, mock)

	_, err := client.ComputeChart(context.Background(), validParams())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Class != ErrorClassServer {
		t.Errorf("class = %q, want server (retryable)", apiErr.Class)
	}
}
