// Package overlay toggles the heatmap overlay and keeps the navigable
// overlay flag in step with what is drawn.
package overlay

import (
	"github.com/apex/log"

	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/internal/mapsurface"
)

// QueryValue is the value of the overlay query parameter when the heatmap is on.
const QueryValue = "heatmap"

// FailureMessage is shown when the heatmap could not be built.
const FailureMessage = "Could not build the heatmap overlay."

// Builder builds and removes the overlay layers.
type Builder interface {
	Rebuild(defects []defect.Defect) (int, error)
	Teardown() error
}

// NavState persists the overlay flag in the page's navigable state.
type NavState interface {
	SetOverlay(on bool)
}

// Notifier shows transient error notifications.
type Notifier interface {
	Error(msg string)
}

// Scheduler runs fn later on the owning loop. Enabling the overlay yields
// through it once between teardown and rebuild.
type Scheduler func(fn func())

// Controller is the overlay toggle. It must only be used from the goroutine
// that owns the surface; the scheduler must post back to that goroutine.
type Controller struct {
	surface *mapsurface.Surface
	heat    Builder
	defects func() []defect.Defect
	nav     NavState
	notify  Notifier
	yield   Scheduler
	log     log.Interface

	enabled bool
	gen     uint64
	points  int
}

// Config holds the controller collaborators.
type Config struct {
	Surface  *mapsurface.Surface
	Heatmap  Builder
	Defects  func() []defect.Defect
	Nav      NavState
	Notify   Notifier
	Schedule Scheduler
	Log      log.Interface
}

// New creates a disabled controller.
func New(cfg Config) *Controller {
	l := cfg.Log
	if l == nil {
		l = log.Log
	}
	return &Controller{
		surface: cfg.Surface,
		heat:    cfg.Heatmap,
		defects: cfg.Defects,
		nav:     cfg.Nav,
		notify:  cfg.Notify,
		yield:   cfg.Schedule,
		log:     l,
	}
}

// Enabled reports the requested overlay mode.
func (c *Controller) Enabled() bool { return c.enabled }

// Points returns the number of points in the last successful build.
func (c *Controller) Points() int { return c.points }

// SetEnabled turns the overlay on or off. Turning it on while the surface is
// still loading defers the work until the surface is ready.
func (c *Controller) SetEnabled(on bool) {
	c.gen++
	gen := c.gen
	c.enabled = on

	if !on {
		c.points = 0
		if err := c.heat.Teardown(); err != nil {
			c.log.WithError(err).Warn("overlay teardown")
		}
		c.nav.SetOverlay(false)
		return
	}

	c.surface.WhenReady(func() {
		if gen != c.gen {
			return
		}
		if err := c.heat.Teardown(); err != nil {
			c.fail(err)
			return
		}
		c.yield(func() {
			if gen != c.gen {
				return
			}
			c.rebuild()
		})
	})
}

// DefectsChanged rebuilds the overlay from the current defects when it is on.
func (c *Controller) DefectsChanged() {
	if !c.enabled {
		return
	}
	c.gen++
	gen := c.gen
	c.surface.WhenReady(func() {
		if gen == c.gen {
			c.rebuild()
		}
	})
}

func (c *Controller) rebuild() {
	n, err := c.heat.Rebuild(c.defects())
	if err != nil {
		c.fail(err)
		return
	}
	c.points = n
	c.nav.SetOverlay(true)
	c.log.WithField("points", n).Debug("heatmap built")
}

func (c *Controller) fail(err error) {
	c.log.WithError(err).Error("heatmap build failed")
	if terr := c.heat.Teardown(); terr != nil {
		c.log.WithError(terr).Warn("overlay teardown")
	}
	c.enabled = false
	c.points = 0
	c.nav.SetOverlay(false)
	c.notify.Error(FailureMessage)
}
