// Package provider implements the client for the upstream astrological
// computation service. The service is a deterministic, pure function of its
// inputs: identical birth parameters always produce identical charts, which
// makes retries safe and lets results be cached by an input hash.
package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// BirthParams are the inputs to a chart computation.
type BirthParams struct {
	// Date is the birth date in YYYY-MM-DD.
	Date string `json:"date"`

	// Time is the local birth time in HH:MM (24h).
	Time string `json:"time"`

	// Latitude of the birth place in decimal degrees.
	Latitude float64 `json:"latitude"`

	// Longitude of the birth place in decimal degrees.
	Longitude float64 `json:"longitude"`

	// TimezoneOffset is the UTC offset in hours (e.g. 5.5 for IST).
	TimezoneOffset float64 `json:"timezone_offset"`

	// Place is an optional human-readable place label. It does not affect
	// the computation and is excluded from the cache key.
	Place string `json:"place,omitempty"`
}

// Validate checks the parameters for computability.
func (p BirthParams) Validate() error {
	if _, err := time.Parse("2006-01-02", p.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", p.Date, err)
	}
	if _, err := time.Parse("15:04", p.Time); err != nil {
		return fmt.Errorf("invalid time %q: %w", p.Time, err)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", p.Longitude)
	}
	if p.TimezoneOffset < -12 || p.TimezoneOffset > 14 {
		return fmt.Errorf("timezone offset %v out of range [-12, 14]", p.TimezoneOffset)
	}
	return nil
}

// CanonicalParams returns the computation-relevant inputs as a flat string
// map, used for request signatures and cache keys.
func (p BirthParams) CanonicalParams() map[string]string {
	return map[string]string{
		"date": p.Date,
		"time": p.Time,
		"lat":  strconv.FormatFloat(p.Latitude, 'f', 4, 64),
		"lon":  strconv.FormatFloat(p.Longitude, 'f', 4, 64),
		"tz":   strconv.FormatFloat(p.TimezoneOffset, 'f', 2, 64),
	}
}

// CacheKey returns a deterministic hash of the computation inputs. The
// computation is pure, so the hash fully identifies the result.
func (p BirthParams) CacheKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%.4f|%.4f|%.2f", p.Date, p.Time, p.Latitude, p.Longitude, p.TimezoneOffset)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// PlanetPosition is one planet's placement in a chart.
type PlanetPosition struct {
	Name       string  `json:"name"`
	Sign       string  `json:"sign"`
	Degree     float64 `json:"degree"`
	House      int     `json:"house"`
	Retrograde bool    `json:"retrograde"`
}

// House is one house cusp in a chart.
type House struct {
	Number int     `json:"number"`
	Sign   string  `json:"sign"`
	Degree float64 `json:"degree"`
}

// ChartResult is the structured result of a chart computation. Raw carries
// the provider's full payload for hand-off to the persistence collaborator.
type ChartResult struct {
	Ascendant string           `json:"ascendant"`
	Planets   []PlanetPosition `json:"planets"`
	Houses    []House          `json:"houses"`
	Raw       json.RawMessage  `json:"raw,omitempty"`
}
