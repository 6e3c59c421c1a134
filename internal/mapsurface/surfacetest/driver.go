// Package surfacetest provides a recording mapsurface.Driver for tests.
package surfacetest

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-defects/internal/mapsurface"
)

// Driver records every call and can be told to fail specific operations.
type Driver struct {
	Calls   []string
	Sources map[string]mapsurface.Source
	Layers  map[string]mapsurface.Layer
	Markers map[string]mapsurface.Marker

	// Fail maps an operation key ("addLayer:defects-point", "addSource:defects",
	// "init") to the error it should return.
	Fail map[string]error
	// Once is like Fail but each entry is consumed by the first matching call.
	Once map[string]error
}

// New creates an empty recording driver.
func New() *Driver {
	return &Driver{
		Sources: make(map[string]mapsurface.Source),
		Layers:  make(map[string]mapsurface.Layer),
		Markers: make(map[string]mapsurface.Marker),
		Fail:    make(map[string]error),
		Once:    make(map[string]error),
	}
}

func (d *Driver) record(op, id string) error {
	key := op
	if id != "" {
		key = op + ":" + id
	}
	d.Calls = append(d.Calls, key)
	if err, ok := d.Once[key]; ok {
		delete(d.Once, key)
		return err
	}
	if err, ok := d.Fail[key]; ok {
		return err
	}
	return nil
}

// Count returns how many recorded calls start with prefix.
func (d *Driver) Count(prefix string) int {
	n := 0
	for _, c := range d.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Reset clears the recorded calls but keeps the drawn state.
func (d *Driver) Reset() { d.Calls = nil }

func (d *Driver) Init(opts mapsurface.Options) error { return d.record("init", "") }

func (d *Driver) AddSource(id string, src mapsurface.Source) error {
	if err := d.record("addSource", id); err != nil {
		return err
	}
	if _, ok := d.Sources[id]; ok {
		return fmt.Errorf("engine: source %q exists", id)
	}
	d.Sources[id] = src
	return nil
}

func (d *Driver) RemoveSource(id string) error {
	if err := d.record("removeSource", id); err != nil {
		return err
	}
	delete(d.Sources, id)
	return nil
}

func (d *Driver) AddLayer(l mapsurface.Layer) error {
	if err := d.record("addLayer", l.ID); err != nil {
		return err
	}
	if _, ok := d.Layers[l.ID]; ok {
		return fmt.Errorf("engine: layer %q exists", l.ID)
	}
	d.Layers[l.ID] = l
	return nil
}

func (d *Driver) RemoveLayer(id string) error {
	if err := d.record("removeLayer", id); err != nil {
		return err
	}
	delete(d.Layers, id)
	return nil
}

func (d *Driver) AddMarker(id string, m mapsurface.Marker) error {
	if err := d.record("addMarker", id); err != nil {
		return err
	}
	d.Markers[id] = m
	return nil
}

func (d *Driver) RemoveMarker(id string) error {
	if err := d.record("removeMarker", id); err != nil {
		return err
	}
	delete(d.Markers, id)
	return nil
}

func (d *Driver) FlyTo(center orb.Point, zoom float64) error {
	return d.record("flyTo", "")
}

func (d *Driver) FitBounds(b orb.Bound, padding int, maxZoom float64) error {
	return d.record("fitBounds", "")
}

func (d *Driver) Dispose() error { return d.record("dispose", "") }

// ReadySurface returns an initialized, ready surface over a new Driver.
func ReadySurface() (*mapsurface.Surface, *Driver) {
	drv := New()
	s := mapsurface.New(drv)
	if err := s.Initialize(mapsurface.DefaultOptions("")); err != nil {
		panic(err)
	}
	s.MarkReady()
	drv.Reset()
	return s, drv
}
