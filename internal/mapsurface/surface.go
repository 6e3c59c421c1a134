// Package mapsurface owns the single map instance of a page visit.
//
// A Surface keeps the authoritative set of sources, layers and markers and
// forwards each mutation to a Driver, the low-level drawing engine. The
// Surface is not safe for concurrent use: exactly one page controller owns it
// from creation (view entry) to Dispose (view exit).
package mapsurface

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
)

var (
	ErrNotInitialized = errors.New("map surface not initialized")
	ErrNotReady       = errors.New("map surface not ready")
	ErrDisposed       = errors.New("map surface disposed")
	ErrMissingSource  = errors.New("layer source not found")
	ErrSourceInUse    = errors.New("source still referenced by a layer")
)

// DuplicateLayerError is returned when a layer or source id is added twice
// without removing the previous one first.
type DuplicateLayerError struct {
	Kind string // "layer" or "source"
	ID   string
}

func (e *DuplicateLayerError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.ID)
}

// Options configures the map instance created by Initialize.
type Options struct {
	Style  string    `json:"style"`
	Center orb.Point `json:"center"`
	Zoom   float64   `json:"zoom"`
}

// DefaultOptions centers the map on the default survey area.
func DefaultOptions(style string) Options {
	return Options{Style: style, Center: orb.Point{-74.5, 40}, Zoom: 9}
}

// Source is a data source definition, e.g. a GeoJSON source.
type Source struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Layer is a rendering layer bound to a source.
type Layer struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Paint  map[string]any `json:"paint,omitempty"`
}

// MarkerElement describes the DOM element of a point marker.
type MarkerElement struct {
	Class string `json:"className"`
	Color string `json:"color"`
}

// Marker is a point marker with an attached popup.
type Marker struct {
	LngLat    orb.Point     `json:"lngLat"`
	Element   MarkerElement `json:"element"`
	PopupHTML string        `json:"popup"`
}

// Driver is the drawing engine a Surface delegates to.
type Driver interface {
	Init(opts Options) error
	AddSource(id string, src Source) error
	RemoveSource(id string) error
	AddLayer(l Layer) error
	RemoveLayer(id string) error
	AddMarker(id string, m Marker) error
	RemoveMarker(id string) error
	FlyTo(center orb.Point, zoom float64) error
	FitBounds(b orb.Bound, padding int, maxZoom float64) error
	Dispose() error
}

// Surface is the map surface adapter.
type Surface struct {
	driver Driver

	initialized bool
	ready       bool
	disposed    bool
	pending     []func()

	sources map[string]Source
	layers  map[string]Layer
	markers map[string]*MarkerHandle
	nextID  int

	viewport Viewport
}

// New creates a surface over a driver. Nothing is drawn until Initialize.
func New(driver Driver) *Surface {
	return &Surface{
		driver:  driver,
		sources: make(map[string]Source),
		layers:  make(map[string]Layer),
		markers: make(map[string]*MarkerHandle),
	}
}

// Initialize creates the map instance. Calling it again is a no-op.
func (s *Surface) Initialize(opts Options) error {
	if s.disposed {
		return ErrDisposed
	}
	if s.initialized {
		return nil
	}
	if err := s.driver.Init(opts); err != nil {
		return fmt.Errorf("init map: %w", err)
	}
	s.initialized = true
	s.viewport = Viewport{Center: opts.Center, Zoom: opts.Zoom}
	return nil
}

// Initialized reports whether Initialize succeeded.
func (s *Surface) Initialized() bool { return s.initialized && !s.disposed }

// Ready reports whether the engine has fired its load event.
func (s *Surface) Ready() bool { return s.ready && !s.disposed }

// WhenReady runs fn now if the surface is ready, otherwise queues it until
// MarkReady. Queued functions run in FIFO order.
func (s *Surface) WhenReady(fn func()) {
	if s.disposed {
		return
	}
	if s.ready {
		fn()
		return
	}
	s.pending = append(s.pending, fn)
}

// MarkReady records the engine's load event and flushes deferred work.
// Repeated calls are no-ops.
func (s *Surface) MarkReady() {
	if s.disposed || s.ready {
		return
	}
	s.ready = true
	pending := s.pending
	s.pending = nil
	for _, fn := range pending {
		fn()
	}
}

func (s *Surface) checkReady() error {
	switch {
	case s.disposed:
		return ErrDisposed
	case !s.initialized:
		return ErrNotInitialized
	case !s.ready:
		return ErrNotReady
	}
	return nil
}

func (s *Surface) checkInit() error {
	switch {
	case s.disposed:
		return ErrDisposed
	case !s.initialized:
		return ErrNotInitialized
	}
	return nil
}

// AddSource adds a named source.
func (s *Surface) AddSource(id string, src Source) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if _, ok := s.sources[id]; ok {
		return &DuplicateLayerError{Kind: "source", ID: id}
	}
	if err := s.driver.AddSource(id, src); err != nil {
		return fmt.Errorf("add source %q: %w", id, err)
	}
	s.sources[id] = src
	return nil
}

// AddLayer adds a layer. Its source must already exist.
func (s *Surface) AddLayer(l Layer) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if _, ok := s.layers[l.ID]; ok {
		return &DuplicateLayerError{Kind: "layer", ID: l.ID}
	}
	if _, ok := s.sources[l.Source]; !ok {
		return fmt.Errorf("add layer %q: %w: %q", l.ID, ErrMissingSource, l.Source)
	}
	if err := s.driver.AddLayer(l); err != nil {
		return fmt.Errorf("add layer %q: %w", l.ID, err)
	}
	s.layers[l.ID] = l
	return nil
}

// RemoveLayerIfExists removes a layer; absent layers are a no-op.
func (s *Surface) RemoveLayerIfExists(id string) error {
	if _, ok := s.layers[id]; !ok || s.disposed {
		return nil
	}
	if err := s.driver.RemoveLayer(id); err != nil {
		return fmt.Errorf("remove layer %q: %w", id, err)
	}
	delete(s.layers, id)
	return nil
}

// RemoveSourceIfExists removes a source; absent sources are a no-op.
// Layers referencing the source must be removed first.
func (s *Surface) RemoveSourceIfExists(id string) error {
	if _, ok := s.sources[id]; !ok || s.disposed {
		return nil
	}
	for _, l := range s.layers {
		if l.Source == id {
			return fmt.Errorf("remove source %q: %w: %q", id, ErrSourceInUse, l.ID)
		}
	}
	if err := s.driver.RemoveSource(id); err != nil {
		return fmt.Errorf("remove source %q: %w", id, err)
	}
	delete(s.sources, id)
	return nil
}

// HasLayer reports whether a layer is present.
func (s *Surface) HasLayer(id string) bool {
	_, ok := s.layers[id]
	return ok
}

// HasSource reports whether a source is present.
func (s *Surface) HasSource(id string) bool {
	_, ok := s.sources[id]
	return ok
}

// Layers returns the ids of the present layers.
func (s *Surface) Layers() []string {
	ids := make([]string, 0, len(s.layers))
	for id := range s.layers {
		ids = append(ids, id)
	}
	return ids
}

// Sources returns the ids of the present sources.
func (s *Surface) Sources() []string {
	ids := make([]string, 0, len(s.sources))
	for id := range s.sources {
		ids = append(ids, id)
	}
	return ids
}

// MarkerHandle is a disposable reference to a placed marker.
type MarkerHandle struct {
	id      string
	marker  Marker
	surface *Surface
	removed bool
}

// ID returns the driver-level marker id.
func (h *MarkerHandle) ID() string { return h.id }

// Marker returns the placed marker definition.
func (h *MarkerHandle) Marker() Marker { return h.marker }

// Remove takes the marker off the map. Repeated calls are no-ops.
func (h *MarkerHandle) Remove() error {
	if h.removed {
		return nil
	}
	h.removed = true
	s := h.surface
	delete(s.markers, h.id)
	if s.disposed {
		return nil
	}
	return s.driver.RemoveMarker(h.id)
}

// PlaceMarker places a marker with a popup at lngLat.
func (s *Surface) PlaceMarker(lngLat orb.Point, el MarkerElement, popupHTML string) (*MarkerHandle, error) {
	if err := s.checkInit(); err != nil {
		return nil, err
	}
	s.nextID++
	id := "m" + strconv.Itoa(s.nextID)
	m := Marker{LngLat: lngLat, Element: el, PopupHTML: popupHTML}
	if err := s.driver.AddMarker(id, m); err != nil {
		return nil, fmt.Errorf("add marker: %w", err)
	}
	h := &MarkerHandle{id: id, marker: m, surface: s}
	s.markers[id] = h
	return h, nil
}

// MarkerCount returns the number of markers on the map.
func (s *Surface) MarkerCount() int { return len(s.markers) }

// Dispose removes the map instance. Deferred work is dropped and every later
// operation fails with ErrDisposed.
func (s *Surface) Dispose() error {
	if s.disposed {
		return nil
	}
	s.disposed = true
	s.pending = nil
	s.sources = make(map[string]Source)
	s.layers = make(map[string]Layer)
	s.markers = make(map[string]*MarkerHandle)
	if !s.initialized {
		return nil
	}
	return s.driver.Dispose()
}
