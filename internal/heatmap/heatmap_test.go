package heatmap

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/internal/mapsurface"
	"github.com/joeblew999/plat-defects/internal/mapsurface/surfacetest"
)

func TestRebuildEmptyUsesDemoData(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	m := New(s)

	n, err := m.Rebuild(nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("points=%d, want 5", n)
	}
	fc := drv.Sources[SourceID].Data.(*geojson.FeatureCollection)
	if len(fc.Features) != 5 {
		t.Fatalf("features=%d, want 5", len(fc.Features))
	}
	if !m.Active() {
		t.Fatal("overlay not active")
	}
}

func TestRebuildOrder(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	m := New(s)
	m.Rebuild(nil)
	drv.Reset()

	m.Rebuild([]defect.Defect{{ID: 1, Severity: defect.High, Latitude: 1, Longitude: 1}})

	want := []string{
		"removeLayer:" + PointLayerID,
		"removeLayer:" + HeatLayerID,
		"removeSource:" + SourceID,
		"addSource:" + SourceID,
		"addLayer:" + HeatLayerID,
		"addLayer:" + PointLayerID,
		"flyTo",
	}
	if len(drv.Calls) != len(want) {
		t.Fatalf("calls=%v, want %v", drv.Calls, want)
	}
	for i := range want {
		if drv.Calls[i] != want[i] {
			t.Fatalf("call %d=%s, want %s (all: %v)", i, drv.Calls[i], want[i], drv.Calls)
		}
	}
}

func TestRepeatedRebuildLeavesOneOfEach(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	m := New(s)
	for i := 0; i < 3; i++ {
		if _, err := m.Rebuild(DemoDefects); err != nil {
			t.Fatal(err)
		}
	}
	if len(drv.Sources) != 1 || len(drv.Layers) != 2 {
		t.Fatalf("sources=%d layers=%d, want 1 and 2", len(drv.Sources), len(drv.Layers))
	}
}

func TestWeights(t *testing.T) {
	fc, err := FeatureCollection([]defect.Defect{
		{ID: 1, Severity: defect.Critical, Latitude: 1, Longitude: 1},
		{ID: 2, Severity: defect.High, Latitude: 1, Longitude: 1},
		{ID: 3, Severity: defect.Medium, Latitude: 1, Longitude: 1},
		{ID: 4, Severity: defect.Low, Latitude: 1, Longitude: 1},
		{ID: 5, Severity: defect.SeverityUnknown, Latitude: 1, Longitude: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{2.0, 1.5, 1.0, 0.5, 0.5}
	for i, f := range fc.Features {
		if w := f.Properties["weight"].(float64); w != want[i] {
			t.Errorf("feature %d weight=%v, want %v", i, w, want[i])
		}
	}
}

func TestMalformedFeatureRollsBack(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	m := New(s)
	m.Rebuild(nil)

	_, err := m.Rebuild([]defect.Defect{{ID: 1, Latitude: math.NaN(), Longitude: 0}})
	var lbe *LayerBuildError
	if !errors.As(err, &lbe) || lbe.Step != "features" {
		t.Fatalf("err=%v, want LayerBuildError at features", err)
	}
	if len(drv.Sources) != 0 || len(drv.Layers) != 0 || m.Active() {
		t.Fatalf("sources=%v layers=%v, want none", drv.Sources, drv.Layers)
	}
}

func TestPartialFailureRollsBack(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	drv.Fail["addLayer:"+PointLayerID] = errors.New("style error")
	m := New(s)

	_, err := m.Rebuild(DemoDefects)
	var lbe *LayerBuildError
	if !errors.As(err, &lbe) || lbe.Step != "point layer" {
		t.Fatalf("err=%v, want LayerBuildError at point layer", err)
	}
	if s.HasSource(SourceID) || s.HasLayer(HeatLayerID) || s.HasLayer(PointLayerID) {
		t.Fatal("partial overlay left on surface")
	}
	if len(drv.Sources) != 0 || len(drv.Layers) != 0 {
		t.Fatalf("engine still has sources=%v layers=%v", drv.Sources, drv.Layers)
	}
}

func TestRebuildBeforeReadyFails(t *testing.T) {
	s := mapsurface.New(surfacetest.New())
	s.Initialize(mapsurface.DefaultOptions(""))
	_, err := New(s).Rebuild(nil)
	if !errors.Is(err, mapsurface.ErrNotReady) {
		t.Fatalf("err=%v, want ErrNotReady", err)
	}
}

func TestPointLayerUsesMarkerColors(t *testing.T) {
	match := PointLayer().Paint["circle-color"].([]any)
	for i := 2; i+1 < len(match); i += 2 {
		sev := defect.ParseSeverity(match[i].(string))
		if match[i+1] != sev.Color() {
			t.Errorf("%s color=%v, want %v", sev, match[i+1], sev.Color())
		}
	}
	if match[len(match)-1] != defect.UnknownColor {
		t.Errorf("fallback=%v, want %v", match[len(match)-1], defect.UnknownColor)
	}
}

func TestTeardownFailureRollsBack(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	m := New(s)
	if _, err := m.Rebuild(nil); err != nil {
		t.Fatal(err)
	}
	drv.Once["removeLayer:"+HeatLayerID] = errors.New("engine busy")

	_, err := m.Rebuild(nil)
	var lbe *LayerBuildError
	if !errors.As(err, &lbe) || lbe.Step != "teardown" {
		t.Fatalf("err=%v, want LayerBuildError at teardown", err)
	}
	if s.HasSource(SourceID) || s.HasLayer(HeatLayerID) || s.HasLayer(PointLayerID) {
		t.Fatalf("source=%v heat=%v point=%v, want none",
			s.HasSource(SourceID), s.HasLayer(HeatLayerID), s.HasLayer(PointLayerID))
	}
	if len(drv.Sources) != 0 || len(drv.Layers) != 0 {
		t.Fatalf("engine still has sources=%v layers=%v", drv.Sources, drv.Layers)
	}
}

func TestTeardownKeepsSourceWhileLayerRemains(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	m := New(s)
	m.Rebuild(nil)
	drv.Fail["removeLayer:"+PointLayerID] = errors.New("engine busy")

	if err := m.Teardown(); err == nil {
		t.Fatal("expected error")
	}
	if s.HasLayer(HeatLayerID) {
		t.Error("heat layer not removed after point layer failure")
	}
	if !s.HasLayer(PointLayerID) || !s.HasSource(SourceID) {
		t.Error("source removed while point layer still draws from it")
	}
	if drv.Count("removeSource") != 0 {
		t.Errorf("calls=%v, want no removeSource", drv.Calls)
	}
}
