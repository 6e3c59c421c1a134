package mapsurface_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-defects/internal/mapsurface"
	"github.com/joeblew999/plat-defects/internal/mapsurface/surfacetest"
)

func TestInitializeIsIdempotent(t *testing.T) {
	drv := surfacetest.New()
	s := mapsurface.New(drv)
	for i := 0; i < 3; i++ {
		if err := s.Initialize(mapsurface.DefaultOptions("style.json")); err != nil {
			t.Fatal(err)
		}
	}
	if n := drv.Count("init"); n != 1 {
		t.Fatalf("init calls=%d, want 1", n)
	}
}

func TestLayersRequireReady(t *testing.T) {
	s := mapsurface.New(surfacetest.New())
	if err := s.AddSource("defects", mapsurface.Source{Type: "geojson"}); !errors.Is(err, mapsurface.ErrNotInitialized) {
		t.Fatalf("err=%v, want ErrNotInitialized", err)
	}
	s.Initialize(mapsurface.DefaultOptions(""))
	if err := s.AddSource("defects", mapsurface.Source{Type: "geojson"}); !errors.Is(err, mapsurface.ErrNotReady) {
		t.Fatalf("err=%v, want ErrNotReady", err)
	}
}

func TestDuplicateLayer(t *testing.T) {
	s, _ := surfacetest.ReadySurface()
	if err := s.AddSource("defects", mapsurface.Source{Type: "geojson"}); err != nil {
		t.Fatal(err)
	}
	err := s.AddSource("defects", mapsurface.Source{Type: "geojson"})
	var dup *mapsurface.DuplicateLayerError
	if !errors.As(err, &dup) || dup.Kind != "source" {
		t.Fatalf("err=%v, want duplicate source", err)
	}

	l := mapsurface.Layer{ID: "defects-heat", Type: "heatmap", Source: "defects"}
	if err := s.AddLayer(l); err != nil {
		t.Fatal(err)
	}
	if err := s.AddLayer(l); !errors.As(err, &dup) || dup.Kind != "layer" {
		t.Fatalf("err=%v, want duplicate layer", err)
	}
}

func TestAddLayerWithoutSource(t *testing.T) {
	s, _ := surfacetest.ReadySurface()
	err := s.AddLayer(mapsurface.Layer{ID: "x", Type: "circle", Source: "missing"})
	if !errors.Is(err, mapsurface.ErrMissingSource) {
		t.Fatalf("err=%v, want ErrMissingSource", err)
	}
}

func TestRemoveIfExistsIsNoopWhenAbsent(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	if err := s.RemoveLayerIfExists("nope"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveSourceIfExists("nope"); err != nil {
		t.Fatal(err)
	}
	if len(drv.Calls) != 0 {
		t.Fatalf("driver calls=%v, want none", drv.Calls)
	}
}

func TestRemoveSourceInUse(t *testing.T) {
	s, _ := surfacetest.ReadySurface()
	s.AddSource("defects", mapsurface.Source{Type: "geojson"})
	s.AddLayer(mapsurface.Layer{ID: "defects-point", Type: "circle", Source: "defects"})
	if err := s.RemoveSourceIfExists("defects"); !errors.Is(err, mapsurface.ErrSourceInUse) {
		t.Fatalf("err=%v, want ErrSourceInUse", err)
	}
	s.RemoveLayerIfExists("defects-point")
	if err := s.RemoveSourceIfExists("defects"); err != nil {
		t.Fatal(err)
	}
	if s.HasSource("defects") {
		t.Fatal("source still present")
	}
}

func TestWhenReadyDefersUntilLoad(t *testing.T) {
	s := mapsurface.New(surfacetest.New())
	s.Initialize(mapsurface.DefaultOptions(""))

	var order []int
	s.WhenReady(func() { order = append(order, 1) })
	s.WhenReady(func() { order = append(order, 2) })
	if len(order) != 0 {
		t.Fatal("deferred work ran before ready")
	}
	s.MarkReady()
	s.MarkReady()
	s.WhenReady(func() { order = append(order, 3) })
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order=%v, want [1 2 3]", order)
	}
}

func TestMarkerHandleRemove(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	h, err := s.PlaceMarker(orb.Point{-74.5, 40.01}, mapsurface.MarkerElement{Color: "red"}, "<p>x</p>")
	if err != nil {
		t.Fatal(err)
	}
	if s.MarkerCount() != 1 || len(drv.Markers) != 1 {
		t.Fatalf("markers=%d/%d, want 1", s.MarkerCount(), len(drv.Markers))
	}
	h.Remove()
	h.Remove()
	if s.MarkerCount() != 0 || drv.Count("removeMarker") != 1 {
		t.Fatalf("after remove markers=%d removes=%d", s.MarkerCount(), drv.Count("removeMarker"))
	}
}

func TestFrameOnBoundsSinglePointMatchesFrameOn(t *testing.T) {
	p := orb.Point{-74.5, 40.01}

	a, _ := surfacetest.ReadySurface()
	a.FrameOnBounds([]orb.Point{p})

	b, _ := surfacetest.ReadySurface()
	b.FrameOn(p, mapsurface.SinglePointZoom)

	if a.Viewport() != b.Viewport() {
		t.Fatalf("viewport=%+v, want %+v", a.Viewport(), b.Viewport())
	}
}

func TestFrameOnBoundsCoversAllPoints(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	pts := []orb.Point{{-74.5, 40.01}, {-74.51, 40.02}, {-74.49, 39.99}, {-73.9, 40.7}}
	if err := s.FrameOnBounds(pts); err != nil {
		t.Fatal(err)
	}
	vp := s.Viewport()
	if !vp.Fitted || vp.MaxZoom != mapsurface.MaxFrameZoom {
		t.Fatalf("viewport=%+v, want fitted with max zoom", vp)
	}
	for _, p := range pts {
		if !vp.Bounds.Contains(p) {
			t.Fatalf("bounds %v do not contain %v", vp.Bounds, p)
		}
	}
	if drv.Count("fitBounds") != 1 {
		t.Fatalf("calls=%v", drv.Calls)
	}
}

func TestFrameOnBoundsDegenerate(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	p := orb.Point{1, 2}
	s.FrameOnBounds([]orb.Point{p, p, p})
	if drv.Count("flyTo") != 1 || drv.Count("fitBounds") != 0 {
		t.Fatalf("calls=%v, want a single flyTo", drv.Calls)
	}
}

func TestDispose(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	s.Dispose()
	s.Dispose()
	if drv.Count("dispose") != 1 {
		t.Fatalf("dispose calls=%d, want 1", drv.Count("dispose"))
	}
	if _, err := s.PlaceMarker(orb.Point{}, mapsurface.MarkerElement{}, ""); !errors.Is(err, mapsurface.ErrDisposed) {
		t.Fatalf("err=%v, want ErrDisposed", err)
	}
}

func TestScriptDriver(t *testing.T) {
	var scripts []string
	drv := mapsurface.NewScriptDriver(func(s string) error {
		scripts = append(scripts, s)
		return nil
	})
	s := mapsurface.New(drv)
	s.Initialize(mapsurface.DefaultOptions("https://demotiles.maplibre.org/style.json"))
	s.MarkReady()
	s.AddSource("defects", mapsurface.Source{Type: "geojson", Data: map[string]any{"type": "FeatureCollection"}})
	s.FrameOnBounds([]orb.Point{{0, 0}, {1, 1}})

	want := []string{
		`defectMap.init({"style":"https://demotiles.maplibre.org/style.json","center":[-74.5,40],"zoom":9})`,
		`defectMap.addSource("defects", {"type":"geojson","data":{"type":"FeatureCollection"}})`,
		`defectMap.fitBounds([[0,0],[1,1]], {"maxZoom":15,"padding":50})`,
	}
	if len(scripts) != len(want) {
		t.Fatalf("scripts=%v", scripts)
	}
	for i := range want {
		if scripts[i] != want[i] {
			t.Errorf("script %d=%s, want %s", i, scripts[i], want[i])
		}
	}
	if !strings.HasPrefix(scripts[0], "defectMap.") {
		t.Fatal("script does not target defectMap")
	}
}
