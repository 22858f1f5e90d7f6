package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sidereal-labs/jyotish-client/internal/testutil"
	"github.com/sidereal-labs/jyotish-client/pkg/batch"
	"github.com/sidereal-labs/jyotish-client/pkg/breaker"
	"github.com/sidereal-labs/jyotish-client/pkg/cache"
	"github.com/sidereal-labs/jyotish-client/pkg/coalesce"
	"github.com/sidereal-labs/jyotish-client/pkg/fetcher"
	"github.com/sidereal-labs/jyotish-client/pkg/pool"
	"github.com/sidereal-labs/jyotish-client/pkg/provider"
)

func setupFetcher(t *testing.T) (*fetcher.Fetcher, *testutil.MockProvider) {
	t.Helper()

	mock := testutil.NewMockProvider()
	t.Cleanup(mock.Close)

	cfg := provider.DefaultConfig(mock.URL())
	cfg.RateLimit = 1000
	cfg.Burst = 1000
	computer, err := provider.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create provider client: %v", err)
	}

	f, err := fetcher.New(
		computer,
		cache.NewStore(cache.NewMemoryBackend()),
		breaker.NewRegistry(breaker.DefaultConfig("compute-chart")),
		pool.New(pool.DefaultConfig()),
		coalesce.New(),
		fetcher.DefaultConfig(),
	)
	if err != nil {
		t.Fatalf("Failed to create fetcher: %v", err)
	}
	return f, mock
}

const validParamsJSON = `{
	"date": "1990-06-15",
	"time": "05:45",
	"latitude": 27.7172,
	"longitude": 85.3240,
	"timezone_offset": 5.75
}`

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint_NoRedis(t *testing.T) {
	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	readyHandler(nil)(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 without Redis, got %d", w.Result().StatusCode)
	}
}

func TestComputeHandler(t *testing.T) {
	f, _ := setupFetcher(t)
	handler := computeHandler(f)

	t.Run("success", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/compute", strings.NewReader(validParamsJSON))
		w := httptest.NewRecorder()

		handler(w, req)

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, body)
		}

		var chart provider.ChartResult
		if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
			t.Fatalf("Failed to decode chart: %v", err)
		}
		if chart.Ascendant != "Mesha" {
			t.Errorf("Ascendant = %q, want Mesha", chart.Ascendant)
		}
	})

	t.Run("invalid_params", func(t *testing.T) {
		invalid := strings.Replace(validParamsJSON, "27.7172", "270.0", 1)
		req := httptest.NewRequest("POST", "/compute", strings.NewReader(invalid))
		w := httptest.NewRecorder()

		handler(w, req)

		if w.Result().StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Result().StatusCode)
		}
	})

	t.Run("malformed_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/compute", strings.NewReader("{not json"))
		w := httptest.NewRecorder()

		handler(w, req)

		if w.Result().StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Result().StatusCode)
		}
	})

	t.Run("method_not_allowed", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/compute", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		if w.Result().StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Expected status 405, got %d", w.Result().StatusCode)
		}
	})
}

func TestBatchHandler(t *testing.T) {
	f, _ := setupFetcher(t)
	executor, err := batch.NewExecutor(f, batch.NewTracker(), batch.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}
	handler := batchHandler(executor)

	t.Run("mixed_batch", func(t *testing.T) {
		body := `{"units": [
			{"id": "a", "priority": "critical", "params": ` + validParamsJSON + `},
			{"id": "b", "priority": "low", "params": {"date": "bad"}}
		]}`
		req := httptest.NewRequest("POST", "/batch", strings.NewReader(body))
		w := httptest.NewRecorder()

		handler(w, req)

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, raw)
		}

		var br batchResponse
		if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
			t.Fatalf("Failed to decode batch response: %v", err)
		}
		if br.BatchID == "" {
			t.Error("Expected a batch ID")
		}
		if br.Succeeded != 1 || br.Failed != 1 {
			t.Errorf("succeeded=%d failed=%d, want 1/1", br.Succeeded, br.Failed)
		}
		if len(br.Results) != 2 {
			t.Fatalf("got %d results, want 2", len(br.Results))
		}
		if br.Results[0].UnitID != "a" || br.Results[0].Error != "" {
			t.Errorf("unit a: %+v", br.Results[0])
		}
		if br.Results[1].UnitID != "b" || br.Results[1].Error == "" {
			t.Errorf("unit b: %+v", br.Results[1])
		}
	})

	t.Run("empty_batch", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/batch", strings.NewReader(`{"units": []}`))
		w := httptest.NewRecorder()

		handler(w, req)

		if w.Result().StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Result().StatusCode)
		}
	})
}

func TestProgressHandler(t *testing.T) {
	f, _ := setupFetcher(t)
	tracker := batch.NewTracker()
	executor, err := batch.NewExecutor(f, tracker, batch.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}
	handler := progressHandler(executor)

	t.Run("missing_id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/batch/progress", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		if w.Result().StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Result().StatusCode)
		}
	})

	t.Run("unknown_batch", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/batch/progress?id=nope", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		if w.Result().StatusCode != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", w.Result().StatusCode)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	// Creating the fetcher registers all collector families.
	_, _ = setupFetcher(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	promhttp.Handler().ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	if !strings.Contains(bodyStr, "jyotish_pool_slots_in_use") {
		t.Error("Expected metrics output to contain jyotish_pool_slots_in_use")
	}
}
