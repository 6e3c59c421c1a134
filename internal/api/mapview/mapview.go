// Package mapview serves the defect map page and its Datastar session
// endpoints.
//
// GET /map creates a page session and returns the page shell. The shell opens
// GET /map/{session}/stream, which carries every UI update of the session as
// Datastar SSE events. Browser input is posted to the other session routes.
package mapview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/apex/log"
	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-defects/internal/humastar"
	"github.com/joeblew999/plat-defects/internal/mapsurface"
	"github.com/joeblew999/plat-defects/internal/overlay"
	"github.com/joeblew999/plat-defects/internal/page"
	"github.com/joeblew999/plat-defects/internal/report"
	"github.com/joeblew999/plat-defects/internal/templates"
)

// Prefix is the URL prefix of the map routes.
const Prefix = "/map"

// Config configures the map handler.
type Config struct {
	Sessions   *page.Registry
	API        page.API
	Renderer   *templates.Renderer
	Map        mapsurface.Options
	FetchLimit int
	Log        log.Interface
}

// Handler serves the map page.
type Handler struct {
	humastar.Handler
	sessions   *page.Registry
	api        page.API
	mapOpts    mapsurface.Options
	fetchLimit int
	log        log.Interface
}

// NewHandler creates a map handler.
func NewHandler(cfg Config) *Handler {
	l := cfg.Log
	if l == nil {
		l = log.Log
	}
	return &Handler{
		Handler:    humastar.Handler{Renderer: cfg.Renderer},
		sessions:   cfg.Sessions,
		api:        cfg.API,
		mapOpts:    cfg.Map,
		fetchLimit: cfg.FetchLimit,
		log:        l,
	}
}

// Shell is the data of the map-page template.
type Shell struct {
	Base    string
	Signals string
}

type PageInput struct {
	Overlay string `query:"overlay" doc:"\"heatmap\" starts with the density overlay on"`
	Focus   int64  `query:"focus" minimum:"0" doc:"Defect to frame on once loaded"`
}

type HTMLOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

type SessionInput struct {
	Session string `path:"session" doc:"Page session ID"`
}

type SignalsInput struct {
	Session string `path:"session" doc:"Page session ID"`
	RawBody []byte
}

// RegisterRoutes registers the page and session routes.
func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("map")
	huma.Get(api, Prefix, h.Page, tags)
	huma.Get(api, Prefix+"/{session}/stream", h.Stream, tags)
	huma.Get(api, Prefix+"/{session}/state", h.State, tags)
	huma.Post(api, Prefix+"/{session}/ready", h.Ready, tags)
	huma.Post(api, Prefix+"/{session}/click", h.Click, tags)
	huma.Post(api, Prefix+"/{session}/submit", h.Submit, tags)
	huma.Post(api, Prefix+"/{session}/cancel", h.Cancel, tags)
	huma.Post(api, Prefix+"/{session}/overlay", h.Overlay, tags)
	huma.Post(api, Prefix+"/{session}/center", h.Center, tags)
	huma.Post(api, Prefix+"/{session}/refresh", h.Refresh, tags)
}

// Page starts a session and renders the page shell.
func (h *Handler) Page(ctx context.Context, input *PageInput) (*HTMLOutput, error) {
	on := input.Overlay == overlay.QueryValue
	c := h.sessions.Create(page.Config{
		API:        h.api,
		Renderer:   h.Renderer,
		Map:        h.mapOpts,
		Overlay:    on,
		Focus:      input.Focus,
		FetchLimit: h.fetchLimit,
	}, func(id string) string { return Prefix + "/" + id })

	signals, err := json.Marshal(page.InitialSignals(on))
	if err != nil {
		return nil, huma.Error500InternalServerError("encode signals", err)
	}
	html, err := h.Renderer.Render("map-page", Shell{Base: c.Base(), Signals: string(signals)})
	if err != nil {
		h.sessions.Remove(c.ID())
		return nil, huma.Error500InternalServerError("render page", err)
	}
	h.log.WithField("session", c.ID()).Debug("page session created")
	return &HTMLOutput{
		ContentType:  "text/html; charset=utf-8",
		CacheControl: "no-store",
		Body:         []byte(html),
	}, nil
}

// Stream delivers the session's UI frames until the browser disconnects,
// then closes the session.
func (h *Handler) Stream(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	c, err := h.sessions.Attach(input.Session)
	switch {
	case errors.Is(err, page.ErrAttached):
		return nil, huma.Error409Conflict("Page session already has a stream")
	case err != nil:
		return nil, huma.Error404NotFound("Unknown page session")
	}
	return h.Handler.Stream(func(sse humastar.SSE) {
		defer h.sessions.Remove(c.ID())
		l := h.log.WithField("session", c.ID())
		for {
			frames, err := c.Next(ctx)
			if err != nil {
				if !errors.Is(err, page.ErrClosed) && !errors.Is(err, context.Canceled) {
					l.WithError(err).Warn("stream ended")
				}
				return
			}
			for _, f := range frames {
				if err := send(sse, f); err != nil {
					l.WithError(err).Debug("stream write failed")
					return
				}
			}
		}
	}), nil
}

func send(sse humastar.SSE, f page.Frame) error {
	switch f.Kind {
	case page.FrameScript:
		return sse.Script(f.Script)
	case page.FramePatch:
		return sse.Patch(f.HTML, f.Selector)
	case page.FrameSignals:
		return sse.Signals(f.Signals)
	case page.FrameQuery:
		return sse.Query(f.Query)
	}
	return fmt.Errorf("unknown frame kind %d", f.Kind)
}

// State returns a snapshot of the session.
func (h *Handler) State(ctx context.Context, input *SessionInput) (*struct{ Body page.Snapshot }, error) {
	c, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	s, err := c.Snapshot()
	if err != nil {
		return nil, sessionError(err)
	}
	return &struct{ Body page.Snapshot }{Body: s}, nil
}

func (h *Handler) Ready(ctx context.Context, input *SessionInput) (*struct{}, error) {
	return h.do(input.Session, (*page.Controller).Ready)
}

// Click opens a report draft at the posted {lng, lat}.
func (h *Handler) Click(ctx context.Context, input *SignalsInput) (*struct{}, error) {
	signals, err := humastar.ParseBody(input.RawBody)
	if err != nil {
		return nil, err
	}
	lng, okLng := signals.Float("lng")
	lat, okLat := signals.Float("lat")
	if !okLng || !okLat {
		return nil, huma.Error400BadRequest("Click requires numeric lng and lat")
	}
	return h.do(input.Session, func(c *page.Controller) error {
		return c.Click(orb.Point{lng, lat})
	})
}

// Submit sends the open draft using the form signals.
func (h *Handler) Submit(ctx context.Context, input *SignalsInput) (*struct{}, error) {
	signals, err := humastar.ParseBody(input.RawBody)
	if err != nil {
		return nil, err
	}
	form := report.Form{
		DefectType: signals.String(page.SignalDefectType),
		Severity:   signals.String(page.SignalSeverity),
		Notes:      signals.String(page.SignalNotes),
	}
	return h.do(input.Session, func(c *page.Controller) error {
		return c.Submit(form)
	})
}

func (h *Handler) Cancel(ctx context.Context, input *SessionInput) (*struct{}, error) {
	return h.do(input.Session, (*page.Controller).Cancel)
}

// Overlay applies the overlay checkbox signal.
func (h *Handler) Overlay(ctx context.Context, input *SignalsInput) (*struct{}, error) {
	signals, err := humastar.ParseBody(input.RawBody)
	if err != nil {
		return nil, err
	}
	on := signals.Bool(page.SignalOverlay)
	return h.do(input.Session, func(c *page.Controller) error {
		return c.SetOverlay(on)
	})
}

func (h *Handler) Center(ctx context.Context, input *SessionInput) (*struct{}, error) {
	return h.do(input.Session, (*page.Controller).Center)
}

func (h *Handler) Refresh(ctx context.Context, input *SessionInput) (*struct{}, error) {
	return h.do(input.Session, (*page.Controller).Refresh)
}

func (h *Handler) session(id string) (*page.Controller, error) {
	c, ok := h.sessions.Get(id)
	if !ok {
		return nil, huma.Error404NotFound("Unknown page session")
	}
	return c, nil
}

func (h *Handler) do(id string, fn func(*page.Controller) error) (*struct{}, error) {
	c, err := h.session(id)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, sessionError(err)
	}
	return &struct{}{}, nil
}

// sessionError maps controller errors onto Huma status errors. Problems that
// are already shown in the page, like form validation, still fail the
// request so scripted clients can see them.
func sessionError(err error) error {
	var ve *report.ValidationError
	switch {
	case errors.Is(err, page.ErrClosed):
		return huma.Error410Gone("Page session closed")
	case errors.As(err, &ve):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, report.ErrBusy), errors.Is(err, report.ErrSubmitting),
		errors.Is(err, report.ErrNoDraft), errors.Is(err, report.ErrNotSubmitting):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, report.ErrUnknownField):
		return huma.Error400BadRequest(err.Error())
	}
	return huma.Error500InternalServerError("page session failed", err)
}
