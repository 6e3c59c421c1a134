package mapsurface

import (
	"fmt"

	"github.com/paulmach/orb"
)

const (
	// SinglePointZoom is the close zoom used when framing a single point.
	SinglePointZoom = 15
	// MaxFrameZoom caps the zoom reached by FrameOnBounds.
	MaxFrameZoom = 15
	// FramePadding is the pixel padding applied around fitted bounds.
	FramePadding = 50
)

// Viewport is the last camera target requested on the surface.
type Viewport struct {
	Center  orb.Point `json:"center"`
	Zoom    float64   `json:"zoom"`
	Bounds  orb.Bound `json:"bounds"`
	Fitted  bool      `json:"fitted"`
	MaxZoom float64   `json:"maxZoom,omitempty"`
}

// Viewport returns the current camera target.
func (s *Surface) Viewport() Viewport { return s.viewport }

// FrameOn flies to a point at the given zoom.
func (s *Surface) FrameOn(p orb.Point, zoom float64) error {
	if err := s.checkInit(); err != nil {
		return err
	}
	if err := s.driver.FlyTo(p, zoom); err != nil {
		return fmt.Errorf("fly to %v: %w", p, err)
	}
	s.viewport = Viewport{Center: p, Zoom: zoom, Bounds: p.Bound()}
	return nil
}

// FrameOnBounds fits the viewport to the minimal bound covering points, with
// FramePadding and a MaxFrameZoom ceiling. A single point, or points whose
// bound has no extent, are framed with FrameOn at SinglePointZoom. An empty
// slice is a no-op.
func (s *Surface) FrameOnBounds(points []orb.Point) error {
	if len(points) == 0 {
		return nil
	}
	b := orb.MultiPoint(points).Bound()
	if len(points) == 1 || b.Min.Equal(b.Max) {
		return s.FrameOn(points[0], SinglePointZoom)
	}
	if err := s.checkInit(); err != nil {
		return err
	}
	if err := s.driver.FitBounds(b, FramePadding, MaxFrameZoom); err != nil {
		return fmt.Errorf("fit bounds: %w", err)
	}
	s.viewport = Viewport{Center: b.Center(), Bounds: b, Fitted: true, MaxZoom: MaxFrameZoom}
	return nil
}
