// Package markers draws one severity-colored marker per defect.
//
// The renderer remembers which defect ids already have a marker, so repeated
// syncs (refetches, optimistic appends) place each marker exactly once.
package markers

import (
	"fmt"
	"time"

	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/internal/mapsurface"
	"github.com/joeblew999/plat-defects/internal/templates"
)

// MarkerClass is the CSS class of marker elements.
const MarkerClass = "defect-marker"

// PopupData is the template data for the defect-popup fragment.
type PopupData struct {
	Type       string
	Severity   string
	Notes      string
	ReportedAt time.Time
}

// Renderer places defect markers on a surface.
type Renderer struct {
	surface  *mapsurface.Surface
	renderer *templates.Renderer
	placed   map[int64]*mapsurface.MarkerHandle
}

// New creates a marker renderer.
func New(surface *mapsurface.Surface, renderer *templates.Renderer) *Renderer {
	return &Renderer{
		surface:  surface,
		renderer: renderer,
		placed:   make(map[int64]*mapsurface.MarkerHandle),
	}
}

// Element returns the marker element for a defect.
func Element(d defect.Defect) mapsurface.MarkerElement {
	return mapsurface.MarkerElement{Class: MarkerClass, Color: d.Severity.Color()}
}

// Popup renders the popup HTML for a defect.
func (r *Renderer) Popup(d defect.Defect) (string, error) {
	return r.renderer.Render("defect-popup", PopupData{
		Type:       d.DefectType.String(),
		Severity:   d.Severity.String(),
		Notes:      d.Notes,
		ReportedAt: d.ReportedAt,
	})
}

// Render places a marker for d unless one was already placed for its id.
// It reports whether a marker was placed.
func (r *Renderer) Render(d defect.Defect) (bool, error) {
	if _, ok := r.placed[d.ID]; ok {
		return false, nil
	}
	if !defect.ValidCoordinate(d.Latitude, d.Longitude) {
		return false, fmt.Errorf("defect %d: invalid position %v,%v", d.ID, d.Latitude, d.Longitude)
	}
	popup, err := r.Popup(d)
	if err != nil {
		return false, fmt.Errorf("defect %d popup: %w", d.ID, err)
	}
	h, err := r.surface.PlaceMarker(d.Point(), Element(d), popup)
	if err != nil {
		return false, err
	}
	r.placed[d.ID] = h
	return true, nil
}

// Sync places markers for every defect that does not have one yet.
// It keeps going past individual failures and returns the number placed
// together with the first error.
func (r *Renderer) Sync(defects []defect.Defect) (int, error) {
	var first error
	n := 0
	for _, d := range defects {
		ok, err := r.Render(d)
		if err != nil && first == nil {
			first = err
		}
		if ok {
			n++
		}
	}
	return n, first
}

// Has reports whether a marker is placed for the id.
func (r *Renderer) Has(id int64) bool {
	_, ok := r.placed[id]
	return ok
}

// Handle returns the marker handle for the id.
func (r *Renderer) Handle(id int64) (*mapsurface.MarkerHandle, bool) {
	h, ok := r.placed[id]
	return h, ok
}

// Count returns the number of placed markers.
func (r *Renderer) Count() int { return len(r.placed) }

// Clear removes every placed marker.
func (r *Renderer) Clear() {
	for id, h := range r.placed {
		h.Remove()
		delete(r.placed, id)
	}
}
