// Package breaker provides per-endpoint circuit breakers isolating failure
// domains, so one failing upstream dependency cannot starve calls to a
// healthy one. It uses github.com/sony/gobreaker configured for
// consecutive-failure tripping with a single half-open probe.
package breaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	"github.com/sidereal-labs/jyotish-client/pkg/logging"
)

// Prometheus metrics for breaker state.
var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jyotish_breaker_state",
		Help: "Circuit breaker state by endpoint (0=closed, 1=half-open, 2=open)",
	}, []string{"endpoint"})

	breakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jyotish_breaker_trips_total",
		Help: "Total number of closed-to-open transitions by endpoint",
	}, []string{"endpoint"})
)

// Config holds the configuration for one circuit breaker.
type Config struct {
	// Name is the upstream endpoint the breaker guards.
	Name string

	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold uint32

	// OpenDuration is how long the breaker stays open before admitting a
	// single half-open trial call.
	OpenDuration time.Duration
}

// DefaultConfig returns the default breaker configuration for an endpoint.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		OpenDuration:     60 * time.Second,
	}
}

// Breaker guards calls to one upstream endpoint.
//
// State machine: closed counts consecutive failures and trips open at the
// threshold; open rejects calls until OpenDuration has elapsed; half-open
// admits exactly one trial call, closing on success and reopening (with a
// fresh timer) on failure.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	name string
}

// New creates a breaker for the given configuration.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 60 * time.Second
	}

	logger := logging.NewLogger("breaker")

	settings := gobreaker.Settings{
		Name: cfg.Name,
		// Exactly one trial call in half-open.
		MaxRequests: 1,
		// Interval 0: consecutive-failure counts are never cleared by time
		// while closed, only by a success or a trip.
		Interval: 0,
		Timeout:  cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(stateValue(to))
			if to == gobreaker.StateOpen {
				breakerTripsTotal.WithLabelValues(name).Inc()
			}
			logger.Warn().
				Str("endpoint", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}

	breakerState.WithLabelValues(cfg.Name).Set(stateValue(gobreaker.StateClosed))

	return &Breaker{
		cb:   gobreaker.NewCircuitBreaker(settings),
		name: cfg.Name,
	}
}

// Execute runs fn through the breaker. When the breaker is open it returns
// gobreaker.ErrOpenState immediately without invoking fn; a second caller
// racing the half-open probe gets gobreaker.ErrTooManyRequests.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// Allow reports whether a call would currently be admitted. Reading the
// state also performs the time-based open to half-open transition.
func (b *Breaker) Allow() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name returns the guarded endpoint name.
func (b *Breaker) Name() string {
	return b.name
}

// Registry hands out one breaker per endpoint, created on first use from a
// template configuration.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	template Config
}

// NewRegistry creates a registry. The template's Name field is ignored;
// each breaker is named after its endpoint.
func NewRegistry(template Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		template: template,
	}
}

// Get returns the breaker for the endpoint, creating it if needed.
func (r *Registry) Get(endpoint string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[endpoint]; ok {
		return b
	}

	cfg := r.template
	cfg.Name = endpoint
	b := New(cfg)
	r.breakers[endpoint] = b
	return b
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
