// Package service contains business logic for the defect backend.
package service

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-defects/internal/defect"
)

var (
	// ErrNotFound is returned when a defect id does not exist.
	ErrNotFound = errors.New("defect not found")
	// ErrInvalid wraps input the service refuses to store.
	ErrInvalid = errors.New("invalid defect")
)

// Listing limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Filter narrows defect queries. Zero values disable a condition.
type Filter struct {
	Skip     int
	Limit    int
	Type     defect.Type
	Severity defect.Severity
	// Bound restricts results to a lng/lat box.
	Bound *orb.Bound
	// Since keeps defects reported at or after this instant.
	Since time.Time
}

// params collects positional query arguments. Both DuckDB and Postgres
// accept $n placeholders.
type params []any

func (p *params) add(v any) string {
	*p = append(*p, v)
	return "$" + strconv.Itoa(len(*p))
}

func (f Filter) where(p *params) string {
	var conds []string
	if f.Type.Known() {
		conds = append(conds, "defect_type = "+p.add(f.Type.String()))
	}
	if f.Severity.Known() {
		conds = append(conds, "severity = "+p.add(f.Severity.String()))
	}
	if f.Bound != nil {
		conds = append(conds,
			"latitude BETWEEN "+p.add(f.Bound.Min.Lat())+" AND "+p.add(f.Bound.Max.Lat()),
			"longitude BETWEEN "+p.add(f.Bound.Min.Lon())+" AND "+p.add(f.Bound.Max.Lon()))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "reported_at >= "+p.add(f.Since))
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	}
	return f.Limit
}

// HeatPoint is one weighted heatmap sample.
type HeatPoint struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Weight     float64   `json:"weight"`
	Type       string    `json:"type"`
	ReportedAt time.Time `json:"reported_at"`
}

// Center is a lat/lng pair in analytics responses.
type Center struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Density counts defects within a radius of a point.
type Density struct {
	Center       Center         `json:"center"`
	RadiusMeters float64        `json:"radius_meters"`
	TotalCount   int            `json:"total_count"`
	ByType       map[string]int `json:"by_type"`
	BySeverity   map[string]int `json:"by_severity"`
}

// Hotspot is a cell with a high concentration of defects.
type Hotspot struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Count  int     `json:"count"`
	Radius float64 `json:"radius"`
}

func zeroTypes() map[string]int {
	m := make(map[string]int, len(defect.Types))
	for _, t := range defect.Types {
		m[t.String()] = 0
	}
	return m
}

func zeroSeverities() map[string]int {
	m := make(map[string]int, len(defect.Severities))
	for _, s := range defect.Severities {
		m[s.String()] = 0
	}
	return m
}
