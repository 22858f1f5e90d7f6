// Package testutil provides testing utilities for the jyotish client.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior of a scripted provider response.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockProvider is a configurable mock computation service for testing.
type MockProvider struct {
	server *httptest.Server
	mu     sync.Mutex

	// script is consumed one response per request; when exhausted the
	// default response is served.
	script []MockResponse

	defaultResponse MockResponse
	requestCount    int
}

// DefaultChartBody is a minimal well-formed chart payload.
const DefaultChartBody = `{
	"ascendant": "Mesha",
	"planets": [
		{"name": "Sun", "sign": "Makara", "degree": 10.5, "house": 10, "retrograde": false},
		{"name": "Moon", "sign": "Karka", "degree": 22.1, "house": 4, "retrograde": false}
	],
	"houses": [
		{"number": 1, "sign": "Mesha", "degree": 0.0}
	]
}`

// NewMockProvider creates a mock provider serving a healthy chart by default.
func NewMockProvider() *MockProvider {
	mock := &MockProvider{
		defaultResponse: MockResponse{
			StatusCode: http.StatusOK,
			Body:       DefaultChartBody,
		},
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		resp := mock.defaultResponse
		if len(mock.script) > 0 {
			resp = mock.script[0]
			mock.script = mock.script[1:]
		}
		mock.mu.Unlock()

		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockProvider) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockProvider) Close() {
	m.server.Close()
}

// SetDefault sets the response served once the script is exhausted.
func (m *MockProvider) SetDefault(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResponse = resp
}

// Script queues responses consumed in order, one per request.
func (m *MockProvider) Script(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
}

// FailTimes queues n failing responses with the given status.
func (m *MockProvider) FailTimes(n int, status int) {
	responses := make([]MockResponse, n)
	for i := range responses {
		responses[i] = MockResponse{
			StatusCode: status,
			Body:       `{"error": "simulated failure"}`,
		}
	}
	m.Script(responses...)
}

// RequestCount returns the number of requests the server has received.
func (m *MockProvider) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// Reset clears the script and counters.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = nil
	m.requestCount = 0
}
