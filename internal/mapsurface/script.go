package mapsurface

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// ScriptDriver drives the browser-side MapLibre map by emitting one
// JavaScript call per operation against window.defectMap (web/static/map.js).
// The emit func decides how scripts reach the browser.
type ScriptDriver struct {
	Emit func(script string) error
}

// NewScriptDriver creates a driver that passes scripts to emit.
func NewScriptDriver(emit func(script string) error) *ScriptDriver {
	return &ScriptDriver{Emit: emit}
}

func (d *ScriptDriver) call(method string, args ...any) error {
	parts := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode %s arg %d: %w", method, i, err)
		}
		parts[i] = string(b)
	}
	return d.Emit("defectMap." + method + "(" + strings.Join(parts, ", ") + ")")
}

func (d *ScriptDriver) Init(opts Options) error { return d.call("init", opts) }

func (d *ScriptDriver) AddSource(id string, src Source) error {
	return d.call("addSource", id, src)
}

func (d *ScriptDriver) RemoveSource(id string) error { return d.call("removeSource", id) }

func (d *ScriptDriver) AddLayer(l Layer) error { return d.call("addLayer", l) }

func (d *ScriptDriver) RemoveLayer(id string) error { return d.call("removeLayer", id) }

func (d *ScriptDriver) AddMarker(id string, m Marker) error {
	return d.call("addMarker", id, m)
}

func (d *ScriptDriver) RemoveMarker(id string) error { return d.call("removeMarker", id) }

func (d *ScriptDriver) FlyTo(center orb.Point, zoom float64) error {
	return d.call("flyTo", center, zoom)
}

func (d *ScriptDriver) FitBounds(b orb.Bound, padding int, maxZoom float64) error {
	return d.call("fitBounds", [2]orb.Point{b.Min, b.Max}, map[string]any{
		"padding": padding,
		"maxZoom": maxZoom,
	})
}

func (d *ScriptDriver) Dispose() error { return d.call("dispose") }
