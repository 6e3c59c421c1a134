// Package humastar connects Huma operations to Datastar: SSE responses on
// the way out, signal bodies on the way in.
//
//	func (h *MapHandler) Stream(ctx context.Context, in *SessionInput) (*huma.StreamResponse, error) {
//	    return h.Stream(func(sse humastar.SSE) {
//	        sse.Patch(html, "#report-form")
//	    }), nil
//	}
package humastar

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-defects/internal/templates"
)

// Handler is embedded by page handlers that answer with Datastar streams.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream wraps fn in a Huma streaming response.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(ctx huma.Context) {
			fn(NewSSE(ctx))
		},
	}
}

// SSE writes Datastar events to one response.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE starts an event stream on a Huma (humago) context.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return NewSSEWriter(w, r)
}

// NewSSEWriter starts an event stream on a plain response writer.
func NewSSEWriter(w http.ResponseWriter, r *http.Request) SSE {
	return SSE{datastar.NewSSE(w, r)}
}

// Patch replaces the children of selector with html.
func (s SSE) Patch(html, selector string) error {
	return s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeInner(),
	)
}

// Script runs js in the page.
func (s SSE) Script(js string) error {
	return s.ExecuteScript(js)
}

// Query swaps the page URL query string in place, without navigating.
func (s SSE) Query(q url.Values) error {
	search := ""
	if enc := q.Encode(); enc != "" {
		search = "?" + enc
	}
	lit, err := json.Marshal(search)
	if err != nil {
		return err
	}
	return s.ExecuteScript(fmt.Sprintf(
		"window.history.replaceState(null, '', window.location.pathname + %s)", lit))
}

// Signals merges signals into the page's signal store.
func (s SSE) Signals(signals map[string]any) error {
	return s.MarshalAndPatchSignals(signals)
}

// Signals is the flat JSON object Datastar posts with every action.
type Signals map[string]any

// ParseSignals decodes an action body. An empty body has no signals.
func ParseSignals(body []byte) (Signals, error) {
	signals := Signals{}
	if len(body) == 0 {
		return signals, nil
	}
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// ParseBody is ParseSignals for handlers: decode failures become a 400.
// Handlers capture the body with a RawBody []byte input field.
func ParseBody(body []byte) (Signals, error) {
	signals, err := ParseSignals(body)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid signals: " + err.Error())
	}
	return signals, nil
}

// String returns the string at key, or "".
func (s Signals) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Float returns the number at key and whether there was one.
func (s Signals) Float(key string) (float64, bool) {
	v, ok := s[key].(float64)
	return v, ok
}

// Bool returns the boolean at key, or false.
func (s Signals) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Has reports whether key was sent, whatever its value.
func (s Signals) Has(key string) bool {
	_, ok := s[key]
	return ok
}
