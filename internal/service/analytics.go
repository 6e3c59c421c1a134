package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-defects/internal/defect"
)

const earthRadiusMeters = 6371010.0

// Analytics limits.
const (
	MaxDensityRadius    = 50000.0
	DefaultHotspotLimit = 10
	MaxHotspotLimit     = 100
	// HotspotLevel is the s2 cell level defects are grouped by, roughly
	// 150m across.
	HotspotLevel = 16
)

func metersToAngle(m float64) s1.Angle {
	return s1.Angle(m / earthRadiusMeters)
}

func angleToMeters(a s1.Angle) float64 {
	return a.Radians() * earthRadiusMeters
}

// capBound is the lng/lat box around a spherical cap. A cap that wraps the
// antimeridian widens to the full longitude range.
func capBound(c s2.Cap) orb.Bound {
	rect := c.RectBound()
	lo, hi := rect.Lo(), rect.Hi()
	b := orb.Bound{
		Min: orb.Point{lo.Lng.Degrees(), lo.Lat.Degrees()},
		Max: orb.Point{hi.Lng.Degrees(), hi.Lat.Degrees()},
	}
	if rect.Lng.IsFull() || rect.Lng.IsInverted() {
		b.Min[0], b.Max[0] = -180, 180
	}
	return b
}

// Density counts defects within radius meters of lat/lng by great-circle
// distance. Only the Type and Severity of f apply.
func (s *DefectService) Density(ctx context.Context, lat, lng, radius float64, f Filter) (Density, error) {
	out := Density{
		Center:       Center{Lat: lat, Lng: lng},
		RadiusMeters: radius,
		ByType:       zeroTypes(),
		BySeverity:   zeroSeverities(),
	}
	if !defect.ValidCoordinate(lat, lng) {
		return out, fmt.Errorf("%w: center out of range", ErrInvalid)
	}
	if !(radius > 0 && radius <= MaxDensityRadius) {
		return out, fmt.Errorf("%w: radius must be in (0, %.0f]", ErrInvalid, MaxDensityRadius)
	}

	center := s2.LatLngFromDegrees(lat, lng)
	angle := metersToAngle(radius)
	bound := capBound(s2.CapFromCenterAngle(s2.PointFromLatLng(center), angle))
	f.Bound = &bound
	f.Since = time.Time{}

	var p params
	rows, err := s.db.QueryContext(ctx, "SELECT latitude, longitude, defect_type, severity FROM defects"+f.where(&p), p...)
	if err != nil {
		return out, fmt.Errorf("density: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			plat, plng float64
			typ, sev   string
		)
		if err := rows.Scan(&plat, &plng, &typ, &sev); err != nil {
			return out, err
		}
		if center.Distance(s2.LatLngFromDegrees(plat, plng)) > angle {
			continue
		}
		out.TotalCount++
		if _, ok := out.ByType[typ]; ok {
			out.ByType[typ]++
		}
		if _, ok := out.BySeverity[sev]; ok {
			out.BySeverity[sev]++
		}
	}
	return out, rows.Err()
}

type cellCount struct {
	count int
	orig  s2.CellID
}

// Hotspots groups matching defects into s2 cells and returns the busiest
// cells first. Skip, Limit and Bound of f are ignored.
func (s *DefectService) Hotspots(ctx context.Context, limit int, f Filter) ([]Hotspot, error) {
	switch {
	case limit <= 0:
		limit = DefaultHotspotLimit
	case limit > MaxHotspotLimit:
		limit = MaxHotspotLimit
	}
	f.Bound = nil

	var p params
	rows, err := s.db.QueryContext(ctx, "SELECT latitude, longitude FROM defects"+f.where(&p), p...)
	if err != nil {
		return nil, fmt.Errorf("hotspots: %w", err)
	}
	defer rows.Close()

	cells := make(map[s2.CellID]*cellCount)
	for rows.Next() {
		var lat, lng float64
		if err := rows.Scan(&lat, &lng); err != nil {
			return nil, err
		}
		leaf := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lng))
		parent := leaf.Parent(HotspotLevel)
		c, ok := cells[parent]
		if !ok {
			c = &cellCount{}
			cells[parent] = c
		}
		c.count++
		c.orig = leaf
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]s2.CellID, 0, len(cells))
	for id := range cells {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := cells[ids[i]].count, cells[ids[j]].count
		if ci != cj {
			return ci > cj
		}
		return ids[i] < ids[j]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]Hotspot, 0, len(ids))
	for _, id := range ids {
		c := cells[id]
		ll := id.LatLng()
		if c.count == 1 {
			ll = c.orig.LatLng()
		}
		cell := s2.CellFromCellID(id)
		out = append(out, Hotspot{
			Lat:    ll.Lat.Degrees(),
			Lng:    ll.Lng.Degrees(),
			Count:  c.count,
			Radius: angleToMeters(id.LatLng().Distance(s2.LatLngFromPoint(cell.Vertex(0)))),
		})
	}
	return out, nil
}
