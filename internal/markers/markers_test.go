package markers

import (
	"strings"
	"testing"
	"time"

	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/internal/mapsurface/surfacetest"
	"github.com/joeblew999/plat-defects/internal/templates"
	"github.com/joeblew999/plat-defects/web"
)

func renderer(t *testing.T) *templates.Renderer {
	t.Helper()
	r, err := templates.NewFS(web.FS, web.TemplatePatterns...)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

var fetched = []defect.Defect{
	{ID: 1, DefectType: defect.Pothole, Severity: defect.High, Latitude: 40.01, Longitude: -74.5,
		ReportedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	{ID: 2, DefectType: defect.Crack, Severity: defect.Low, Latitude: 40.02, Longitude: -74.51, Notes: "near <school>"},
	{ID: 3, DefectType: defect.WaterLogging, Severity: defect.Critical, Latitude: 40.015, Longitude: -74.505},
}

func TestSyncPlacesOneMarkerPerDefect(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	r := New(s, renderer(t))

	n, err := r.Sync(fetched)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(fetched) || s.MarkerCount() != len(fetched) {
		t.Fatalf("placed=%d markers=%d, want %d", n, s.MarkerCount(), len(fetched))
	}

	for _, d := range fetched {
		h, ok := r.Handle(d.ID)
		if !ok {
			t.Fatalf("no marker for %d", d.ID)
		}
		m := drv.Markers[h.ID()]
		if !strings.Contains(m.PopupHTML, d.DefectType.String()) || !strings.Contains(m.PopupHTML, d.Severity.String()) {
			t.Errorf("popup %q lacks type/severity of %d", m.PopupHTML, d.ID)
		}
		if m.Element.Color != d.Severity.Color() {
			t.Errorf("color=%q, want %q", m.Element.Color, d.Severity.Color())
		}
	}
}

func TestSyncIsExactlyOnce(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	r := New(s, renderer(t))

	r.Sync(fetched)
	r.Sync(fetched)
	n, _ := r.Sync(append(fetched, defect.Defect{ID: 4, DefectType: defect.Other, Severity: defect.Medium, Latitude: 1, Longitude: 1}))

	if n != 1 {
		t.Fatalf("third sync placed %d, want 1", n)
	}
	if drv.Count("addMarker") != 4 {
		t.Fatalf("addMarker calls=%d, want 4", drv.Count("addMarker"))
	}
}

func TestPopupContent(t *testing.T) {
	s, _ := surfacetest.ReadySurface()
	r := New(s, renderer(t))

	html, err := r.Popup(fetched[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "Jan 1, 2024") {
		t.Fatalf("popup=%q, want report date", html)
	}
	if strings.Contains(html, "Notes:") {
		t.Fatal("popup shows notes for a defect without notes")
	}

	html, _ = r.Popup(fetched[1])
	if !strings.Contains(html, "near &lt;school&gt;") {
		t.Fatalf("popup=%q, want escaped notes", html)
	}
}

func TestUnknownSeverityUsesNeutralColor(t *testing.T) {
	s, drv := surfacetest.ReadySurface()
	r := New(s, renderer(t))
	r.Render(defect.Defect{ID: 9, Latitude: 1, Longitude: 2})
	h, _ := r.Handle(9)
	if got := drv.Markers[h.ID()].Element.Color; got != defect.UnknownColor {
		t.Fatalf("color=%q, want %q", got, defect.UnknownColor)
	}
}

func TestInvalidPositionIsSkipped(t *testing.T) {
	s, _ := surfacetest.ReadySurface()
	r := New(s, renderer(t))
	n, err := r.Sync([]defect.Defect{{ID: 10, Latitude: 95, Longitude: 0}, fetched[0]})
	if err == nil {
		t.Fatal("expected error for out-of-range latitude")
	}
	if n != 1 || r.Has(10) || !r.Has(1) {
		t.Fatalf("placed=%d, want the valid defect placed", n)
	}
}

func TestClear(t *testing.T) {
	s, _ := surfacetest.ReadySurface()
	r := New(s, renderer(t))
	r.Sync(fetched)
	r.Clear()
	if r.Count() != 0 || s.MarkerCount() != 0 {
		t.Fatalf("count=%d surface=%d, want 0", r.Count(), s.MarkerCount())
	}
}
