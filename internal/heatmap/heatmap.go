// Package heatmap maintains the defect density overlay: one GeoJSON point
// source and the heat and point layers drawn from it.
package heatmap

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/internal/mapsurface"
)

const (
	SourceID     = "defects"
	HeatLayerID  = "defects-heat"
	PointLayerID = "defects-point"
)

// DemoDefects stands in for an empty store so the overlay is never blank.
var DemoDefects = []defect.Defect{
	{ID: 1, DefectType: defect.Pothole, Severity: defect.High, Latitude: 40.01, Longitude: -74.5},
	{ID: 2, DefectType: defect.Crack, Severity: defect.Medium, Latitude: 40.02, Longitude: -74.51},
	{ID: 3, DefectType: defect.Pothole, Severity: defect.Critical, Latitude: 40.015, Longitude: -74.505},
	{ID: 4, DefectType: defect.WaterLogging, Severity: defect.High, Latitude: 40.018, Longitude: -74.503},
	{ID: 5, DefectType: defect.DamagedPavement, Severity: defect.Medium, Latitude: 40.022, Longitude: -74.51},
}

// LayerBuildError reports a failed overlay build. The overlay is absent
// (no source, no layers) unless the engine also refused the rollback, in
// which case Err carries both failures.
type LayerBuildError struct {
	Step string
	Err  error
}

func (e *LayerBuildError) Error() string {
	return fmt.Sprintf("heatmap %s: %v", e.Step, e.Err)
}

func (e *LayerBuildError) Unwrap() error { return e.Err }

// Manager builds and tears down the overlay on a surface.
type Manager struct {
	surface *mapsurface.Surface
}

// New creates a heatmap manager.
func New(surface *mapsurface.Surface) *Manager {
	return &Manager{surface: surface}
}

// Active reports whether the source and both layers are present.
func (m *Manager) Active() bool {
	return m.surface.HasSource(SourceID) &&
		m.surface.HasLayer(HeatLayerID) &&
		m.surface.HasLayer(PointLayerID)
}

// Teardown removes the point layer, the heat layer and the source, in that
// order. Missing pieces are skipped. Every removal is attempted; the source
// stays while a layer that draws from it could not be removed.
func (m *Manager) Teardown() error {
	var errs []error
	for _, id := range []string{PointLayerID, HeatLayerID} {
		if err := m.surface.RemoveLayerIfExists(id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		if err := m.surface.RemoveSourceIfExists(SourceID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rebuild replaces the overlay with one built from defects, falling back to
// DemoDefects when defects is empty, and frames the viewport on the points.
// It returns the number of points drawn. On failure everything built so far
// is removed and a *LayerBuildError is returned.
func (m *Manager) Rebuild(defects []defect.Defect) (int, error) {
	if err := m.Teardown(); err != nil {
		if rerr := m.Teardown(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
		return 0, &LayerBuildError{Step: "teardown", Err: err}
	}
	if len(defects) == 0 {
		defects = DemoDefects
	}

	n, step, err := m.build(defects)
	if err == nil {
		return n, nil
	}
	if rerr := m.Teardown(); rerr != nil {
		err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
	}
	return 0, &LayerBuildError{Step: step, Err: err}
}

func (m *Manager) build(defects []defect.Defect) (int, string, error) {
	fc, err := FeatureCollection(defects)
	if err != nil {
		return 0, "features", err
	}
	if err := m.surface.AddSource(SourceID, mapsurface.Source{Type: "geojson", Data: fc}); err != nil {
		return 0, "source", err
	}
	if err := m.surface.AddLayer(HeatLayer()); err != nil {
		return 0, "heat layer", err
	}
	if err := m.surface.AddLayer(PointLayer()); err != nil {
		return 0, "point layer", err
	}
	points := make([]orb.Point, len(fc.Features))
	for i, f := range fc.Features {
		points[i] = f.Geometry.(orb.Point)
	}
	if err := m.surface.FrameOnBounds(points); err != nil {
		return 0, "frame", err
	}
	return len(points), "", nil
}

// FeatureCollection converts defects into weighted point features.
// A defect with a non-finite or out-of-range position fails the whole build.
func FeatureCollection(defects []defect.Defect) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	for _, d := range defects {
		if !defect.ValidCoordinate(d.Latitude, d.Longitude) {
			return nil, fmt.Errorf("defect %d: invalid position %v,%v", d.ID, d.Latitude, d.Longitude)
		}
		f := geojson.NewFeature(d.Point())
		f.Properties["severity"] = d.Severity.String()
		f.Properties["type"] = d.DefectType.String()
		f.Properties["weight"] = d.Severity.Weight()
		fc.Append(f)
	}
	return fc, nil
}
