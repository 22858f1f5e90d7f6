// Package coalesce merges concurrent identical in-flight requests so only
// one reaches the upstream dependency. It is not a result cache: the
// mapping entry is removed the moment the shared call settles, and a fresh
// identical request issued after completion always re-executes.
package coalesce

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for request coalescing.
var (
	coalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jyotish_coalesced_requests_total",
		Help: "Total number of requests attached to an identical in-flight call",
	})
)

// Signature identifies a logical request: method, target, and canonicalized
// parameters. Two requests with equal signatures are interchangeable.
type Signature struct {
	// Method is the operation name (e.g. "compute").
	Method string

	// Target is the upstream endpoint.
	Target string

	// Params are the request parameters. Order never matters; keys are
	// sorted during canonicalization.
	Params map[string]string
}

// String generates the deterministic signature string.
// Format: method:target:param1=val1:param2=val2 (params sorted by key).
func (s Signature) String() string {
	parts := []string{s.Method, s.Target}

	if len(s.Params) > 0 {
		keys := make([]string, 0, len(s.Params))
		for key := range s.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, s.Params[key]))
		}
	}

	return strings.Join(parts, ":")
}

// Group deduplicates concurrent calls by signature.
type Group struct {
	sf singleflight.Group
}

// New creates an empty coalescing group.
func New() *Group {
	return &Group{}
}

// Do executes fn for the signature, attaching to an identical in-flight
// call when one exists. shared reports whether the result was delivered to
// more than one caller. Errors are shared exactly like results and are
// never remembered past settlement.
func (g *Group) Do(ctx context.Context, sig Signature, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	result, err, shared := g.sf.Do(sig.String(), func() (any, error) {
		return fn(ctx)
	})
	if shared {
		coalescedTotal.Inc()
	}
	return result, shared, err
}
