package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sidereal-labs/jyotish-client/pkg/batch"
	"github.com/sidereal-labs/jyotish-client/pkg/breaker"
	"github.com/sidereal-labs/jyotish-client/pkg/cache"
	"github.com/sidereal-labs/jyotish-client/pkg/coalesce"
	"github.com/sidereal-labs/jyotish-client/pkg/fetcher"
	"github.com/sidereal-labs/jyotish-client/pkg/logging"
	"github.com/sidereal-labs/jyotish-client/pkg/pool"
	"github.com/sidereal-labs/jyotish-client/pkg/provider"
)

func main() {
	logging.Setup(logging.Config{
		Level: logging.LogLevel(getEnv("LOG_LEVEL", "info")),
	})
	logger := logging.NewLogger("main")

	port := getEnv("PORT", "8080")
	providerURL := getEnv("PROVIDER_URL", "http://localhost:9000")
	apiKey := os.Getenv("PROVIDER_API_KEY")
	redisURL := os.Getenv("REDIS_URL")

	backend, redisClient := buildBackend(logger, redisURL)
	store := cache.NewStore(backend)

	providerCfg := provider.DefaultConfig(providerURL)
	providerCfg.APIKey = apiKey
	computer, err := provider.New(providerCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create provider client")
	}

	f, err := fetcher.New(
		computer,
		store,
		breaker.NewRegistry(breaker.DefaultConfig("compute-chart")),
		pool.New(pool.DefaultConfig()),
		coalesce.New(),
		fetcher.DefaultConfig(),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create fetcher")
	}

	executor, err := batch.NewExecutor(f, batch.NewTracker(), batch.DefaultConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create batch executor")
	}

	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/ready", readyHandler(redisClient))
	http.HandleFunc("/compute", computeHandler(f))
	http.HandleFunc("/batch", batchHandler(executor))
	http.HandleFunc("/batch/progress", progressHandler(executor))
	http.Handle("/metrics", promhttp.Handler())

	addr := ":" + port
	logger.Info().
		Str("addr", addr).
		Str("provider", providerURL).
		Bool("redis", redisClient != nil).
		Msg("Starting jyotish proxy")

	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

// buildBackend connects to Redis when REDIS_URL is set, otherwise falls
// back to the in-memory backend.
func buildBackend(logger zerolog.Logger, redisURL string) (cache.Backend, *redis.Client) {
	if redisURL == "" {
		logger.Info().Msg("No REDIS_URL set, using in-memory cache backend")
		return cache.NewMemoryBackend(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: redisURL})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
	}
	logger.Info().Str("addr", redisURL).Msg("Connected to Redis")
	return cache.NewRedisBackend(client), client
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func computeHandler(f *fetcher.Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var params provider.BirthParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		chart, err := f.Fetch(r.Context(), params)
		if err != nil {
			http.Error(w, err.Error(), statusForError(err))
			return
		}
		writeJSON(w, http.StatusOK, chart)
	}
}

// batchRequest is the wire form of a batch submission.
type batchRequest struct {
	Units []struct {
		ID       string               `json:"id"`
		Params   provider.BirthParams `json:"params"`
		Priority string               `json:"priority"`
	} `json:"units"`
}

// batchResponse is the wire form of a settled batch.
type batchResponse struct {
	BatchID   string              `json:"batch_id"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Results   []batchUnitResponse `json:"results"`
}

type batchUnitResponse struct {
	UnitID string                `json:"unit_id"`
	Chart  *provider.ChartResult `json:"chart,omitempty"`
	Error  string                `json:"error,omitempty"`
}

func batchHandler(executor *batch.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		units := make([]batch.Unit, len(req.Units))
		for i, u := range req.Units {
			units[i] = batch.Unit{
				ID:       u.ID,
				Params:   u.Params,
				Priority: batch.ParsePriority(u.Priority),
			}
		}

		result, err := executor.Execute(r.Context(), units)
		if errors.Is(err, batch.ErrEmptyBatch) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		resp := batchResponse{
			BatchID:   result.BatchID,
			Succeeded: result.Succeeded,
			Failed:    result.Failed,
			Results:   make([]batchUnitResponse, len(result.Units)),
		}
		for i, u := range result.Units {
			resp.Results[i] = batchUnitResponse{UnitID: u.UnitID, Chart: u.Chart}
			if u.Err != nil {
				resp.Results[i].Error = u.Err.Error()
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func progressHandler(executor *batch.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := r.URL.Query().Get("id")
		if batchID == "" {
			http.Error(w, "missing id parameter", http.StatusBadRequest)
			return
		}

		progress, err := executor.Progress(batchID)
		if errors.Is(err, batch.ErrBatchNotFound) {
			http.Error(w, "batch not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	}
}

// statusForError maps the fetch error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch fetcher.KindOf(err) {
	case fetcher.KindValidation:
		return http.StatusBadRequest
	case fetcher.KindCircuitOpen, fetcher.KindCapacityExhausted:
		return http.StatusServiceUnavailable
	case fetcher.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
