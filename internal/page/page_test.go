package page

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/internal/heatmap"
	"github.com/joeblew999/plat-defects/internal/mapsurface"
	"github.com/joeblew999/plat-defects/internal/report"
	"github.com/joeblew999/plat-defects/internal/templates"
	"github.com/joeblew999/plat-defects/pkg/defectclient"
	"github.com/joeblew999/plat-defects/web"
)

// fakeAPI is an in-memory backend. A non-nil gate blocks the matching call
// until it is closed.
type fakeAPI struct {
	mu       sync.Mutex
	defects  []defect.Defect
	listErr  error
	listGate chan struct{}
	lists    int

	createGate chan struct{}
	createErr  error
	noID       bool
	creates    []defect.CreateRequest
	nextID     int64

	getErr error
}

func (f *fakeAPI) ListDefects(ctx context.Context, q defectclient.ListQuery) (*http.Response, []defect.Defect, error) {
	f.mu.Lock()
	gate := f.listGate
	f.lists++
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, nil, f.listErr
	}
	return nil, append([]defect.Defect(nil), f.defects...), nil
}

func (f *fakeAPI) GetDefect(ctx context.Context, id int64) (*http.Response, defect.Defect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, defect.Defect{}, f.getErr
	}
	for _, d := range f.defects {
		if d.ID == id {
			return nil, d, nil
		}
	}
	return nil, defect.Defect{}, &defectclient.APIError{Method: "GET", Path: "/defects", Status: 404}
}

func (f *fakeAPI) CreateDefect(ctx context.Context, req defect.CreateRequest) (*http.Response, defect.Defect, error) {
	f.mu.Lock()
	f.creates = append(f.creates, req)
	gate := f.createGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, defect.Defect{}, f.createErr
	}
	f.nextID++
	id := 100 + f.nextID
	if f.noID {
		id = 0
	}
	return nil, defect.Defect{
		ID: id, DefectType: req.DefectType, Severity: req.Severity,
		Latitude: req.Latitude, Longitude: req.Longitude, Notes: req.Notes,
		ReportedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeAPI) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *fakeAPI) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

func newPage(t *testing.T, api *fakeAPI, cfg Config) *Controller {
	t.Helper()
	r, err := templates.NewFS(web.FS, web.TemplatePatterns...)
	if err != nil {
		t.Fatal(err)
	}
	cfg.ID = "test"
	cfg.Base = "/map/test"
	cfg.API = api
	cfg.Renderer = r
	cfg.Map = mapsurface.DefaultOptions("")
	cfg.Log = &log.Logger{Handler: discard.Default, Level: log.DebugLevel}
	c := New(cfg)
	t.Cleanup(c.Close)
	return c
}

func eventually(t *testing.T, c *Controller, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s, err := c.Snapshot()
		if err != nil {
			t.Fatal(err)
		}
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %+v", what, s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func settled(s Snapshot) bool { return !s.Loading }

var pothole = defect.Defect{
	ID: 1, DefectType: defect.Pothole, Severity: defect.High,
	Latitude: 40.01, Longitude: -74.5,
	ReportedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
}

func TestSingleDefectScenario(t *testing.T) {
	c := newPage(t, &fakeAPI{defects: []defect.Defect{pothole}}, Config{})
	c.Ready()

	s := eventually(t, c, "one marker", func(s Snapshot) bool { return len(s.Markers) == 1 })
	if s.Markers[0].Color != defect.High.Color() {
		t.Fatalf("color=%q, want %q", s.Markers[0].Color, defect.High.Color())
	}
	if s.Viewport.Center != (orb.Point{-74.5, 40.01}) || s.Viewport.Zoom != mapsurface.SinglePointZoom {
		t.Fatalf("viewport=%+v, want centered on the defect at zoom %d", s.Viewport, mapsurface.SinglePointZoom)
	}
}

func TestMarkersMatchStore(t *testing.T) {
	api := &fakeAPI{defects: []defect.Defect{
		pothole,
		{ID: 2, DefectType: defect.Crack, Severity: defect.Low, Latitude: 40.02, Longitude: -74.51},
		{ID: 3, DefectType: defect.WaterLogging, Severity: defect.Critical, Latitude: 40.015, Longitude: -74.505},
	}}
	c := newPage(t, api, Config{})
	c.Ready()

	s := eventually(t, c, "markers", func(s Snapshot) bool { return len(s.Markers) == 3 })
	if len(s.Defects) != len(s.Markers) {
		t.Fatalf("defects=%d markers=%d", len(s.Defects), len(s.Markers))
	}
	for i, m := range s.Markers {
		d := api.defects[i]
		if !strings.Contains(m.Popup, d.DefectType.String()) || !strings.Contains(m.Popup, d.Severity.String()) {
			t.Errorf("popup %q lacks type/severity of %d", m.Popup, d.ID)
		}
	}
	if !s.Viewport.Fitted || !s.Viewport.Bounds.Contains(orb.Point{-74.51, 40.02}) {
		t.Fatalf("viewport=%+v, want fitted bounds", s.Viewport)
	}

	// refetching the same rows places nothing new
	c.Refresh()
	s = eventually(t, c, "refresh", func(s Snapshot) bool { return settled(s) })
	if len(s.Markers) != 3 {
		t.Fatalf("markers=%d after refresh, want 3", len(s.Markers))
	}
}

func TestOverlayOnEmptyStoreUsesDemoData(t *testing.T) {
	c := newPage(t, &fakeAPI{}, Config{Overlay: true})
	c.Ready()

	s := eventually(t, c, "heatmap", func(s Snapshot) bool { return s.HeatmapPoints > 0 })
	if s.HeatmapPoints != len(heatmap.DemoDefects) {
		t.Fatalf("points=%d, want %d", s.HeatmapPoints, len(heatmap.DemoDefects))
	}
	if len(s.Sources) != 1 || len(s.Layers) != 2 {
		t.Fatalf("sources=%v layers=%v", s.Sources, s.Layers)
	}
	if s.Query != "overlay=heatmap" {
		t.Fatalf("query=%q, want overlay=heatmap", s.Query)
	}
}

func TestOverlayWaitsForFirstFetch(t *testing.T) {
	api := &fakeAPI{defects: []defect.Defect{pothole}, listGate: make(chan struct{})}
	c := newPage(t, api, Config{})
	c.Ready()
	c.SetOverlay(true)

	s, _ := c.Snapshot()
	if len(s.Layers) != 0 {
		t.Fatalf("layers=%v before fetch settled", s.Layers)
	}

	close(api.listGate)
	s = eventually(t, c, "heatmap", func(s Snapshot) bool { return s.HeatmapPoints > 0 })
	if s.HeatmapPoints != 1 {
		t.Fatalf("points=%d, want the fetched defect only", s.HeatmapPoints)
	}
}

func TestOverlayToggle(t *testing.T) {
	c := newPage(t, &fakeAPI{}, Config{})
	c.Ready()
	eventually(t, c, "fetch", settled)

	c.SetOverlay(true)
	c.SetOverlay(false)
	c.SetOverlay(true)
	s := eventually(t, c, "heatmap", func(s Snapshot) bool { return len(s.Layers) == 2 })
	if len(s.Sources) != 1 {
		t.Fatalf("sources=%v", s.Sources)
	}
	c.SetOverlay(false)
	s, _ = c.Snapshot()
	if len(s.Layers) != 0 || len(s.Sources) != 0 || s.Query != "" {
		t.Fatalf("layers=%v sources=%v query=%q after off", s.Layers, s.Sources, s.Query)
	}
}

func TestFetchErrorIsShownInline(t *testing.T) {
	c := newPage(t, &fakeAPI{listErr: errors.New("connection refused")}, Config{})
	c.Ready()

	s := eventually(t, c, "fetch error", func(s Snapshot) bool { return s.FetchError != "" })
	if len(s.Markers) != 0 {
		t.Fatalf("markers=%d", len(s.Markers))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		frames, err := c.Next(ctx)
		if err != nil {
			t.Fatal("no fetch-error patch:", err)
		}
		for _, f := range frames {
			if f.Kind == FramePatch && f.Selector == "#fetch-error" && strings.Contains(f.HTML, FetchErrorMessage) {
				return
			}
		}
	}
}

func TestSubmitAppendsWithoutRefetch(t *testing.T) {
	api := &fakeAPI{}
	c := newPage(t, api, Config{})
	c.Ready()
	eventually(t, c, "fetch", settled)

	if err := c.Click(orb.Point{-74.5, 40.01}); err != nil {
		t.Fatal(err)
	}
	if err := c.Submit(report.Form{DefectType: "crack", Severity: "high", Notes: "lane 2"}); err != nil {
		t.Fatal(err)
	}
	s := eventually(t, c, "created marker", func(s Snapshot) bool { return len(s.Markers) == 1 })
	if s.Defects[0] != 101 || s.DraftState != "idle" {
		t.Fatalf("defects=%v state=%s", s.Defects, s.DraftState)
	}
	if n := api.listCount(); n != 1 {
		t.Fatalf("lists=%d, want no refetch", n)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if got := api.creates[0]; got.DefectType != defect.Crack || got.Notes != "lane 2" || got.Latitude != 40.01 {
		t.Fatalf("request=%+v", got)
	}
}

func TestDoubleSubmitCreatesOnce(t *testing.T) {
	api := &fakeAPI{createGate: make(chan struct{})}
	c := newPage(t, api, Config{})
	c.Ready()
	c.Click(orb.Point{-74.5, 40.01})

	form := report.Form{DefectType: "pothole", Severity: "medium"}
	if err := c.Submit(form); err != nil {
		t.Fatal(err)
	}
	if err := c.Submit(form); !errors.Is(err, report.ErrSubmitting) {
		t.Fatalf("second submit err=%v, want ErrSubmitting", err)
	}
	close(api.createGate)
	eventually(t, c, "submitted", func(s Snapshot) bool { return s.DraftState == "idle" })
	if n := api.createCount(); n != 1 {
		t.Fatalf("creates=%d, want 1", n)
	}
}

func TestEmptyDefectTypeIsNotSent(t *testing.T) {
	api := &fakeAPI{}
	c := newPage(t, api, Config{})
	c.Ready()
	c.Click(orb.Point{-74.5, 40.01})

	err := c.Submit(report.Form{DefectType: "", Severity: "medium"})
	var ve *report.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err=%v, want ValidationError", err)
	}
	s, _ := c.Snapshot()
	if !s.Draft.Errors.DefectType || s.DraftState != "drafting" {
		t.Fatalf("draft=%+v state=%s", s.Draft, s.DraftState)
	}
	if api.createCount() != 0 {
		t.Fatal("create request issued")
	}
}

func TestSubmitFailureKeepsDraft(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("500")}
	c := newPage(t, api, Config{})
	c.Ready()
	c.Click(orb.Point{-74.5, 40.01})
	c.Submit(report.Form{DefectType: "pothole", Severity: "medium", Notes: "keep"})

	s := eventually(t, c, "failure", func(s Snapshot) bool { return s.DraftState == "drafting" && api.createCount() == 1 })
	if s.Draft.Form.Notes != "keep" || len(s.Markers) != 0 {
		t.Fatalf("draft=%+v markers=%d", s.Draft, len(s.Markers))
	}
}

func TestCreatedWithoutIDIsFailure(t *testing.T) {
	api := &fakeAPI{noID: true}
	c := newPage(t, api, Config{})
	c.Ready()
	eventually(t, c, "fetch", settled)
	c.Click(orb.Point{-74.5, 40.01})
	c.Submit(report.Form{DefectType: "pothole", Severity: "medium"})

	s := eventually(t, c, "failure", func(s Snapshot) bool { return s.DraftState == "drafting" && api.createCount() == 1 })
	if len(s.Markers) != 0 || len(s.Defects) != 0 {
		t.Fatalf("markers=%v defects=%v, want none", s.Markers, s.Defects)
	}
}

func TestStaleFetchKeepsOptimisticAppend(t *testing.T) {
	api := &fakeAPI{defects: []defect.Defect{pothole}}
	c := newPage(t, api, Config{})
	c.Ready()
	eventually(t, c, "fetch", settled)

	api.mu.Lock()
	api.listGate = make(chan struct{})
	api.mu.Unlock()
	c.Refresh()

	c.Click(orb.Point{-74.51, 40.02})
	c.Submit(report.Form{DefectType: "crack", Severity: "low"})
	eventually(t, c, "append", func(s Snapshot) bool { return len(s.Defects) == 2 })

	close(api.listGate)
	s := eventually(t, c, "refresh", settled)
	if len(s.Defects) != 2 || len(s.Markers) != 2 {
		t.Fatalf("defects=%v markers=%d, want the append kept", s.Defects, len(s.Markers))
	}
}

func TestFocusFramesOnDefect(t *testing.T) {
	other := defect.Defect{ID: 7, DefectType: defect.Other, Severity: defect.Low, Latitude: 41, Longitude: -73}
	c := newPage(t, &fakeAPI{defects: []defect.Defect{pothole, other}}, Config{Focus: 7})
	c.Ready()

	s := eventually(t, c, "focus", func(s Snapshot) bool { return !s.Viewport.Fitted && s.Viewport.Zoom == mapsurface.SinglePointZoom })
	if s.Viewport.Center != other.Point() {
		t.Fatalf("center=%v, want %v", s.Viewport.Center, other.Point())
	}
	if s.Query != "focus=7" {
		t.Fatalf("query=%q", s.Query)
	}
}

func TestFocusMissingDefectIsFetchError(t *testing.T) {
	c := newPage(t, &fakeAPI{}, Config{Focus: 9})
	c.Ready()
	s := eventually(t, c, "fetch error", func(s Snapshot) bool { return s.FetchError != "" })
	if !strings.Contains(s.FetchError, "defect 9") {
		t.Fatalf("fetch error=%q", s.FetchError)
	}
}

func TestCloseDropsLateResults(t *testing.T) {
	api := &fakeAPI{defects: []defect.Defect{pothole}, listGate: make(chan struct{})}
	c := newPage(t, api, Config{})
	c.Ready()
	c.Close()
	close(api.listGate)

	if _, err := c.Snapshot(); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, want ErrClosed", err)
	}
	if err := c.Click(orb.Point{0, 0}); !errors.Is(err, ErrClosed) {
		t.Fatalf("click err=%v, want ErrClosed", err)
	}
}

func TestFramesBeforeAttach(t *testing.T) {
	c := newPage(t, &fakeAPI{}, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frames, err := c.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if frames[0].Kind != FrameScript || !strings.HasPrefix(frames[0].Script, "defectMap.init(") {
		t.Fatalf("first frame=%+v, want map init script", frames[0])
	}
}
