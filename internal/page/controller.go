// Package page runs one map page visit.
//
// A Controller owns the map surface, the defect store, the report workflow and
// the overlay toggle for the lifetime of the visit. Every mutation of that
// state happens on the controller's event loop goroutine. Backend calls run on
// helper goroutines and post their results back to the loop; a result that
// arrives after Close is dropped.
package page

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/apex/log"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/internal/heatmap"
	"github.com/joeblew999/plat-defects/internal/mapsurface"
	"github.com/joeblew999/plat-defects/internal/markers"
	"github.com/joeblew999/plat-defects/internal/overlay"
	"github.com/joeblew999/plat-defects/internal/report"
	"github.com/joeblew999/plat-defects/internal/store"
	"github.com/joeblew999/plat-defects/internal/templates"
	"github.com/joeblew999/plat-defects/pkg/defectclient"
)

// FetchErrorMessage is shown inline when defects could not be loaded.
const FetchErrorMessage = "Failed to load defects. Please try again later."

// API is the part of the defect backend the page uses.
type API interface {
	ListDefects(ctx context.Context, q defectclient.ListQuery) (*http.Response, []defect.Defect, error)
	GetDefect(ctx context.Context, id int64) (*http.Response, defect.Defect, error)
	CreateDefect(ctx context.Context, req defect.CreateRequest) (*http.Response, defect.Defect, error)
}

// FetchError reports that the defect list or a single defect could not be
// retrieved. ID is set for single-defect fetches.
type FetchError struct {
	ID  int64
	Err error
}

func (e *FetchError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("fetch defect %d: %v", e.ID, e.Err)
	}
	return "fetch defects: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config configures a Controller.
type Config struct {
	// ID identifies the session; Base is the URL prefix of its endpoints.
	ID   string
	Base string

	API      API
	Renderer *templates.Renderer
	Map      mapsurface.Options

	// Driver overrides the browser script driver.
	Driver mapsurface.Driver

	// Overlay pre-selects heatmap mode; Focus frames on one defect after load.
	Overlay bool
	Focus   int64

	// FetchLimit is passed as the list limit; zero uses the backend default.
	FetchLimit int

	Log log.Interface
}

// Controller is one page visit.
type Controller struct {
	id       string
	base     string
	api      API
	renderer *templates.Renderer
	limit    int
	log      log.Interface

	events    chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	out       *outbox

	// owned by the loop
	queue    []func()
	surface  *mapsurface.Surface
	store    *store.Store
	markers  *markers.Renderer
	heat     *heatmap.Manager
	overlay  *overlay.Controller
	flow     *report.Workflow
	loading  bool
	fetchGen uint64
	settled  bool
	wantHeat *bool
	focus    int64
	fetchErr error
	query    url.Values
}

// New creates a controller, initializes its map surface and starts the event
// loop and the initial fetch.
func New(cfg Config) *Controller {
	l := cfg.Log
	if l == nil {
		l = log.Log
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:       cfg.ID,
		base:     cfg.Base,
		api:      cfg.API,
		renderer: cfg.Renderer,
		limit:    cfg.FetchLimit,
		log:      l.WithField("session", cfg.ID),
		events:   make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		out:      newOutbox(),
		store:    store.New(),
		focus:    cfg.Focus,
		query:    url.Values{},
	}

	drv := cfg.Driver
	if drv == nil {
		drv = mapsurface.NewScriptDriver(func(script string) error {
			c.out.push(Frame{Kind: FrameScript, Script: script})
			return nil
		})
	}
	c.surface = mapsurface.New(drv)
	c.markers = markers.New(c.surface, c.renderer)
	c.heat = heatmap.New(c.surface)
	c.flow = report.New(c.store, c.markers, notifier{c})
	c.overlay = overlay.New(overlay.Config{
		Surface:  c.surface,
		Heatmap:  c.heat,
		Defects:  c.store.All,
		Nav:      navState{c},
		Notify:   notifier{c},
		Schedule: c.later,
		Log:      c.log,
	})
	if cfg.Overlay {
		on := true
		c.wantHeat = &on
	}
	if cfg.Focus != 0 {
		c.query.Set("focus", strconv.FormatInt(cfg.Focus, 10))
	}

	opts := cfg.Map
	go c.run(func() {
		if err := c.surface.Initialize(opts); err != nil {
			c.log.WithError(err).Error("map init")
		}
		c.fetch()
	})
	return c
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Base returns the URL prefix of the session endpoints.
func (c *Controller) Base() string { return c.base }

func (c *Controller) run(start func()) {
	defer close(c.done)
	start()
	for {
		if len(c.queue) > 0 {
			fn := c.queue[0]
			c.queue = c.queue[1:]
			select {
			case <-c.quit:
				c.shutdown()
				return
			default:
			}
			fn()
			continue
		}
		select {
		case fn := <-c.events:
			fn()
		case <-c.quit:
			c.shutdown()
			return
		}
	}
}

func (c *Controller) shutdown() {
	c.queue = nil
	if err := c.surface.Dispose(); err != nil {
		c.log.WithError(err).Warn("dispose map")
	}
	c.out.close()
	c.log.Debug("page closed")
}

// later queues fn to run on the loop after the current event.
func (c *Controller) later(fn func()) { c.queue = append(c.queue, fn) }

// Post runs fn on the event loop. It reports false if the controller is
// closed, in which case fn never runs.
func (c *Controller) Post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (c *Controller) call(fn func() error) error {
	errc := make(chan error, 1)
	if !c.Post(func() { errc <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// Close ends the visit: in-flight requests are cancelled, their results
// dropped and the map surface disposed. It waits for the loop to stop.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.quit)
	})
	<-c.done
}

// Done is closed once the controller has stopped.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Next blocks until UI frames are available and returns them.
func (c *Controller) Next(ctx context.Context) ([]Frame, error) {
	return c.out.next(ctx)
}

// goAsync runs fn on a helper goroutine and posts the returned continuation
// back to the loop.
func (c *Controller) goAsync(fn func(ctx context.Context) func()) {
	go func() {
		then := fn(c.ctx)
		if !c.Post(then) {
			c.log.Debug("dropping result after close")
		}
	}()
}

// fetch loads the defect list. A newer fetch supersedes an older one.
func (c *Controller) fetch() {
	c.fetchGen++
	gen := c.fetchGen
	c.setLoading(true)
	q := defectclient.ListQuery{Limit: c.limit}
	c.goAsync(func(ctx context.Context) func() {
		_, defects, err := c.api.ListDefects(ctx, q)
		return func() { c.fetched(gen, defects, err) }
	})
}

func (c *Controller) fetched(gen uint64, defects []defect.Defect, err error) {
	if gen != c.fetchGen {
		return
	}
	c.setLoading(false)

	if err != nil {
		c.showFetchError(&FetchError{Err: err})
	} else {
		c.showFetchError(nil)
		if skipped := c.store.Replace(defects); skipped > 0 {
			c.log.WithField("skipped", skipped).Warn("fetch returned defects without a unique id")
		}
		c.log.WithField("count", len(defects)).Debug("defects fetched")
	}

	first := !c.settled
	c.settled = true
	c.surface.WhenReady(func() {
		c.syncMarkers()
		if err == nil && c.store.Len() > 0 {
			c.frameOnDefects()
		}
		if want := c.wantHeat; want != nil {
			c.wantHeat = nil
			c.overlay.SetEnabled(*want)
		} else {
			c.overlay.DefectsChanged()
		}
		if first && c.focus != 0 {
			c.fetchOne(c.focus)
		}
	})
}

// fetchOne loads a single defect and frames on it.
func (c *Controller) fetchOne(id int64) {
	c.goAsync(func(ctx context.Context) func() {
		_, d, err := c.api.GetDefect(ctx, id)
		return func() {
			if err != nil {
				c.showFetchError(&FetchError{ID: id, Err: err})
				return
			}
			if c.store.Append(d) {
				c.overlay.DefectsChanged()
			}
			if _, err := c.markers.Render(d); err != nil {
				c.log.WithError(err).WithField("defect_id", id).Warn("focus marker")
			}
			if err := c.surface.FrameOn(d.Point(), mapsurface.SinglePointZoom); err != nil {
				c.log.WithError(err).Warn("focus frame")
			}
		}
	})
}

func (c *Controller) syncMarkers() {
	n, err := c.markers.Sync(c.store.All())
	if err != nil {
		c.log.WithError(err).Warn("marker sync")
	}
	if n > 0 {
		c.log.WithField("placed", n).Debug("markers placed")
	}
}

func (c *Controller) frameOnDefects() {
	pts := make([]orb.Point, 0, c.store.Len())
	for _, p := range c.store.Points() {
		if defect.ValidPoint(p) {
			pts = append(pts, p)
		}
	}
	if err := c.surface.FrameOnBounds(pts); err != nil {
		c.log.WithError(err).Warn("frame on defects")
	}
}

// Ready records the map engine's load event.
func (c *Controller) Ready() error {
	return c.call(func() error {
		c.surface.MarkReady()
		return nil
	})
}

// Click opens a report draft at the clicked location. Clicks while a draft is
// open are ignored.
func (c *Controller) Click(lngLat orb.Point) error {
	return c.call(func() error {
		if err := c.flow.Click(lngLat); err != nil {
			c.log.WithError(err).Debug("click ignored")
			return err
		}
		c.signals(map[string]any{
			SignalDefectType: report.DefaultDefectType.String(),
			SignalSeverity:   report.DefaultSeverity.String(),
			SignalNotes:      "",
			SignalSubmitting: false,
		})
		c.renderForm()
		return nil
	})
}

// Submit applies the posted form and submits the draft. Validation failures
// are shown on the form and never reach the backend.
func (c *Controller) Submit(f report.Form) error {
	return c.call(func() error {
		if c.flow.State() == report.Drafting {
			if err := c.flow.SetForm(f); err != nil {
				return err
			}
		}
		req, err := c.flow.BeginSubmit()
		if err != nil {
			var ve *report.ValidationError
			if errors.As(err, &ve) {
				c.renderForm()
			}
			return err
		}
		c.signals(map[string]any{SignalSubmitting: true})
		c.goAsync(func(ctx context.Context) func() {
			_, created, err := c.api.CreateDefect(ctx, req)
			return func() { c.submitted(created, err) }
		})
		return nil
	})
}

func (c *Controller) submitted(created defect.Defect, err error) {
	if err == nil && created.ID == 0 {
		err = report.ErrMissingID
	}
	if err != nil {
		err = c.flow.Fail(err)
		c.log.WithError(err).Warn("create defect")
	} else {
		if merr := c.flow.Succeed(created); merr != nil {
			c.log.WithError(merr).WithField("defect_id", created.ID).Warn("created defect marker")
		}
		c.log.WithField("defect_id", created.ID).Info("defect reported")
		c.overlay.DefectsChanged()
	}
	c.signals(map[string]any{SignalSubmitting: false})
	c.renderForm()
}

// Cancel discards the open draft.
func (c *Controller) Cancel() error {
	return c.call(func() error {
		if err := c.flow.Cancel(); err != nil {
			return err
		}
		c.renderForm()
		return nil
	})
}

// SetOverlay turns the heatmap on or off. Before the first fetch settles the
// request is held and applied once it does.
func (c *Controller) SetOverlay(on bool) error {
	return c.call(func() error {
		if !c.settled {
			c.wantHeat = &on
			return nil
		}
		c.overlay.SetEnabled(on)
		return nil
	})
}

// Center frames the viewport on the loaded defects.
func (c *Controller) Center() error {
	return c.call(func() error {
		c.frameOnDefects()
		return nil
	})
}

// Refresh refetches the defect list. The result is merged into the store.
func (c *Controller) Refresh() error {
	return c.call(func() error {
		c.fetch()
		return nil
	})
}

// Snapshot returns the current page state.
func (c *Controller) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := c.call(func() error {
		s = c.snapshot()
		return nil
	})
	return s, err
}

func (c *Controller) setLoading(on bool) {
	c.loading = on
	c.signals(map[string]any{SignalLoading: on})
}

func (c *Controller) showFetchError(err error) {
	c.fetchErr = err
	msg := ""
	if err != nil {
		c.log.WithError(err).Error("fetch failed")
		msg = FetchErrorMessage
	}
	c.patch("fetch-error", msg, "#fetch-error")
}

func (c *Controller) signals(s map[string]any) {
	c.out.push(Frame{Kind: FrameSignals, Signals: s})
}

func (c *Controller) patch(tmpl string, data any, selector string) {
	html, err := c.renderer.Render(tmpl, data)
	if err != nil {
		c.log.WithError(err).WithField("template", tmpl).Error("render")
		return
	}
	c.out.push(Frame{Kind: FramePatch, HTML: html, Selector: selector})
}

func (c *Controller) renderForm() {
	c.patch("report-form", c.formView(), "#report-form")
}

type notifier struct{ c *Controller }

func (n notifier) Success(msg string) { n.c.signals(map[string]any{SignalSuccess: msg}) }
func (n notifier) Error(msg string)   { n.c.signals(map[string]any{SignalError: msg}) }

type navState struct{ c *Controller }

func (n navState) SetOverlay(on bool) {
	c := n.c
	if on {
		c.query.Set("overlay", overlay.QueryValue)
	} else {
		c.query.Del("overlay")
	}
	q := url.Values{}
	for k, v := range c.query {
		q[k] = append([]string(nil), v...)
	}
	c.out.push(Frame{Kind: FrameQuery, Query: q})
	c.signals(map[string]any{SignalOverlay: on})
}
