// Package api defines the Huma API routes and handlers of the defect backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/internal/service"
)

// Repository is the defect storage the handlers serve.
// *service.DefectService implements it.
type Repository interface {
	List(ctx context.Context, f service.Filter) ([]defect.Defect, error)
	Get(ctx context.Context, id int64) (defect.Defect, error)
	Create(ctx context.Context, req defect.CreateRequest) (defect.Defect, error)
	Update(ctx context.Context, id int64, req service.UpdateRequest) (defect.Defect, error)
	Delete(ctx context.Context, id int64) error
	Statistics(ctx context.Context) (defect.Statistics, error)
	Heatmap(ctx context.Context, f service.Filter) ([]service.HeatPoint, error)
	Density(ctx context.Context, lat, lng, radius float64, f service.Filter) (service.Density, error)
	Hotspots(ctx context.Context, limit int, f service.Filter) ([]service.Hotspot, error)
	Upload(ctx context.Context, r service.VehicleReport) (defect.Defect, error)
	Import(ctx context.Context, entries []json.RawMessage) (service.ImportResult, error)
}

// Services holds the service dependencies for API handlers.
type Services struct {
	Defects Repository
}

// Types

type IDInput struct {
	ID int64 `path:"id" doc:"Defect ID" example:"1"`
}

// FilterInput holds the type and severity query filters.
type FilterInput struct {
	DefectType string `query:"defect_type" enum:"pothole,crack,damaged_pavement,water_logging,missing_manhole,other" doc:"Only this defect type"`
	Severity   string `query:"severity" enum:"low,medium,high,critical" doc:"Only this severity"`
}

func (f FilterInput) filter() service.Filter {
	return service.Filter{
		Type:     defect.ParseType(f.DefectType),
		Severity: defect.ParseSeverity(f.Severity),
	}
}

// ListInput is the query of GET /api/defects. The bounding box applies only
// when all four edges are given.
type ListInput struct {
	FilterInput
	Skip   int     `query:"skip" minimum:"0" default:"0" doc:"Rows to skip"`
	Limit  int     `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Maximum rows"`
	LatMin float64 `query:"lat_min" doc:"Bounding box south edge"`
	LatMax float64 `query:"lat_max" doc:"Bounding box north edge"`
	LngMin float64 `query:"lng_min" doc:"Bounding box west edge"`
	LngMax float64 `query:"lng_max" doc:"Bounding box east edge"`

	hasBound bool
}

// Resolve records whether the full bounding box was supplied.
func (i *ListInput) Resolve(ctx huma.Context) []error {
	i.hasBound = ctx.Query("lat_min") != "" && ctx.Query("lat_max") != "" &&
		ctx.Query("lng_min") != "" && ctx.Query("lng_max") != ""
	return nil
}

type DaysInput struct {
	Days int `query:"days" minimum:"0" doc:"Only defects reported in the last N days"`
}

type DefectOutput struct {
	Body defect.Defect
}

type DefectsOutput struct {
	Body []defect.Defect
}

type SuccessBody struct {
	Success bool `json:"success" doc:"Whether the operation succeeded"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

type HeatmapBody struct {
	Points []service.HeatPoint `json:"points" doc:"Weighted defect locations"`
	Count  int                 `json:"count" doc:"Number of points"`
}

type HotspotsBody struct {
	Hotspots []service.Hotspot `json:"hotspots" doc:"Busiest cells first"`
}

// RawJSONInput carries an unvalidated JSON body. Upload endpoints report
// per-entry problems instead of rejecting the request.
type RawJSONInput struct {
	RawBody []byte `contentType:"application/json"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
	now func() time.Time
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc, now: time.Now}
}

// RegisterRoutes registers every defect API route on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterDefects registers defect CRUD routes.
func (h *APIHandler) RegisterDefects(api huma.API) {
	huma.Get(api, "/api/defects", h.ListDefects, huma.OperationTags("defects"))
	huma.Post(api, "/api/defects", h.CreateDefect, huma.OperationTags("defects"))
	huma.Get(api, "/api/defects/{id}", h.GetDefect, huma.OperationTags("defects"))
	huma.Put(api, "/api/defects/{id}", h.PutDefect, huma.OperationTags("defects"))
	huma.Delete(api, "/api/defects/{id}", h.DeleteDefect, huma.OperationTags("defects"))
}

// RegisterUploads registers vehicle upload routes.
func (h *APIHandler) RegisterUploads(api huma.API) {
	huma.Post(api, "/api/defects/upload", h.UploadDefect, huma.OperationTags("uploads"))
	huma.Post(api, "/api/defects/upload/bulk", h.UploadBulk, huma.OperationTags("uploads"))
}

// RegisterAnalytics registers statistics and analytics routes.
func (h *APIHandler) RegisterAnalytics(api huma.API) {
	huma.Get(api, "/api/defects/statistics/summary", h.GetStatistics, huma.OperationTags("analytics"))
	huma.Get(api, "/api/defects/analytics/heatmap", h.GetHeatmap, huma.OperationTags("analytics"))
	huma.Get(api, "/api/defects/analytics/density", h.GetDensity, huma.OperationTags("analytics"))
	huma.Get(api, "/api/defects/analytics/hotspots", h.GetHotspots, huma.OperationTags("analytics"))
}

// toHTTPError maps service errors onto Huma status errors.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return huma.Error404NotFound("Defect not found")
	case errors.Is(err, service.ErrInvalid):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	return huma.Error500InternalServerError("defect storage failed", err)
}

func (h *APIHandler) repo() (Repository, error) {
	if h.svc == nil || h.svc.Defects == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	return h.svc.Defects, nil
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) ListDefects(ctx context.Context, input *ListInput) (*DefectsOutput, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	f := input.filter()
	f.Skip, f.Limit = input.Skip, input.Limit
	if input.hasBound {
		f.Bound = &orb.Bound{
			Min: orb.Point{input.LngMin, input.LatMin},
			Max: orb.Point{input.LngMax, input.LatMax},
		}
	}
	defects, err := repo.List(ctx, f)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &DefectsOutput{Body: defects}, nil
}

func (h *APIHandler) CreateDefect(ctx context.Context, input *struct{ Body defect.CreateRequest }) (*DefectOutput, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	d, err := repo.Create(ctx, input.Body)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &DefectOutput{Body: d}, nil
}

func (h *APIHandler) GetDefect(ctx context.Context, input *IDInput) (*DefectOutput, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	d, err := repo.Get(ctx, input.ID)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &DefectOutput{Body: d}, nil
}

func (h *APIHandler) PutDefect(ctx context.Context, input *struct {
	IDInput
	Body service.UpdateRequest
}) (*DefectOutput, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	d, err := repo.Update(ctx, input.ID, input.Body)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &DefectOutput{Body: d}, nil
}

func (h *APIHandler) DeleteDefect(ctx context.Context, input *IDInput) (*struct{ Body SuccessBody }, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	if err := repo.Delete(ctx, input.ID); err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body SuccessBody }{Body: SuccessBody{Success: true}}, nil
}

func (h *APIHandler) UploadDefect(ctx context.Context, input *RawJSONInput) (*DefectOutput, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	var r service.VehicleReport
	if err := json.Unmarshal(input.RawBody, &r); err != nil {
		return nil, huma.Error400BadRequest("Invalid JSON body", err)
	}
	d, err := repo.Upload(ctx, r)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &DefectOutput{Body: d}, nil
}

func (h *APIHandler) UploadBulk(ctx context.Context, input *RawJSONInput) (*struct{ Body service.ImportResult }, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(input.RawBody, &entries); err != nil {
		return nil, huma.Error400BadRequest("JSON body must contain an array of defect objects")
	}
	res, err := repo.Import(ctx, entries)
	if err != nil {
		return nil, huma.Error500InternalServerError("Error processing upload", err)
	}
	return &struct{ Body service.ImportResult }{Body: res}, nil
}

func (h *APIHandler) GetStatistics(ctx context.Context, input *struct{}) (*struct{ Body defect.Statistics }, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	st, err := repo.Statistics(ctx)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body defect.Statistics }{Body: st}, nil
}

func (h *APIHandler) GetHeatmap(ctx context.Context, input *struct {
	FilterInput
	DaysInput
}) (*struct{ Body HeatmapBody }, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	f := input.filter()
	f.Since = service.Since(h.now(), input.Days)
	pts, err := repo.Heatmap(ctx, f)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body HeatmapBody }{Body: HeatmapBody{Points: pts, Count: len(pts)}}, nil
}

func (h *APIHandler) GetDensity(ctx context.Context, input *struct {
	FilterInput
	Lat    float64 `query:"lat" required:"true" minimum:"-90" maximum:"90" doc:"Center latitude"`
	Lng    float64 `query:"lng" required:"true" minimum:"-180" maximum:"180" doc:"Center longitude"`
	Radius float64 `query:"radius" required:"true" exclusiveMinimum:"0" maximum:"50000" doc:"Radius in meters"`
}) (*struct{ Body service.Density }, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	d, err := repo.Density(ctx, input.Lat, input.Lng, input.Radius, input.filter())
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body service.Density }{Body: d}, nil
}

func (h *APIHandler) GetHotspots(ctx context.Context, input *struct {
	FilterInput
	DaysInput
	Limit int `query:"limit" minimum:"1" maximum:"100" default:"10" doc:"Maximum hotspots"`
}) (*struct{ Body HotspotsBody }, error) {
	repo, err := h.repo()
	if err != nil {
		return nil, err
	}
	f := input.filter()
	f.Since = service.Since(h.now(), input.Days)
	hs, err := repo.Hotspots(ctx, input.Limit, f)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body HotspotsBody }{Body: HotspotsBody{Hotspots: hs}}, nil
}
