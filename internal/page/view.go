package page

import (
	"sort"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/internal/mapsurface"
	"github.com/joeblew999/plat-defects/internal/report"
)

// Page signals.
const (
	SignalOverlay    = "overlay"
	SignalLoading    = "loading"
	SignalSuccess    = "success"
	SignalError      = "error"
	SignalSubmitting = "submitting"
	SignalDefectType = "defecttype"
	SignalSeverity   = "severity"
	SignalNotes      = "notes"
)

// InitialSignals are the signals the page shell starts with.
func InitialSignals(overlay bool) map[string]any {
	return map[string]any{
		SignalOverlay:    overlay,
		SignalLoading:    true,
		SignalSuccess:    "",
		SignalError:      "",
		SignalSubmitting: false,
		SignalDefectType: report.DefaultDefectType.String(),
		SignalSeverity:   report.DefaultSeverity.String(),
		SignalNotes:      "",
	}
}

// Option is a select option of the report form.
type Option struct {
	Value string
	Label string
}

// FormView is the data of the report-form fragment.
type FormView struct {
	Open       bool
	Lat, Lng   float64
	Errors     report.FieldErrors
	Types      []Option
	Severities []Option
	DefectType string
	Severity   string
	Notes      string
	Base       string
}

func (c *Controller) formView() FormView {
	d := c.flow.Draft()
	v := FormView{
		Open:       d.Open,
		Lat:        d.Location.Lat(),
		Lng:        d.Location.Lon(),
		Errors:     d.Errors,
		DefectType: d.Form.DefectType,
		Severity:   d.Form.Severity,
		Notes:      d.Form.Notes,
		Base:       c.base,
	}
	for _, t := range defect.Types {
		v.Types = append(v.Types, Option{Value: t.String(), Label: t.Label()})
	}
	for _, s := range defect.Severities {
		v.Severities = append(v.Severities, Option{Value: s.String(), Label: s.Label()})
	}
	return v
}

// MarkerView describes a placed marker.
type MarkerView struct {
	DefectID int64     `json:"defect_id"`
	Color    string    `json:"color"`
	LngLat   orb.Point `json:"lng_lat"`
	Popup    string    `json:"popup"`
}

// Snapshot is a point-in-time view of a page session.
type Snapshot struct {
	Session       string              `json:"session"`
	Ready         bool                `json:"ready"`
	Loading       bool                `json:"loading"`
	FetchError    string              `json:"fetch_error,omitempty"`
	Defects       []int64             `json:"defects"`
	Markers       []MarkerView        `json:"markers"`
	Layers        []string            `json:"layers"`
	Sources       []string            `json:"sources"`
	Overlay       bool                `json:"overlay"`
	HeatmapPoints int                 `json:"heatmap_points"`
	DraftState    string              `json:"draft_state"`
	Draft         report.Draft        `json:"draft"`
	Viewport      mapsurface.Viewport `json:"viewport"`
	Query         string              `json:"query"`
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		Session:       c.id,
		Ready:         c.surface.Ready(),
		Loading:       c.loading,
		Defects:       []int64{},
		Markers:       []MarkerView{},
		Layers:        c.surface.Layers(),
		Sources:       c.surface.Sources(),
		Overlay:       c.overlay.Enabled(),
		HeatmapPoints: c.overlay.Points(),
		DraftState:    c.flow.State().String(),
		Draft:         c.flow.Draft(),
		Viewport:      c.surface.Viewport(),
		Query:         c.query.Encode(),
	}
	if c.fetchErr != nil {
		s.FetchError = c.fetchErr.Error()
	}
	for _, d := range c.store.All() {
		s.Defects = append(s.Defects, d.ID)
		if h, ok := c.markers.Handle(d.ID); ok {
			m := h.Marker()
			s.Markers = append(s.Markers, MarkerView{
				DefectID: d.ID,
				Color:    m.Element.Color,
				LngLat:   m.LngLat,
				Popup:    m.PopupHTML,
			})
		}
	}
	sort.Strings(s.Layers)
	sort.Strings(s.Sources)
	return s
}
