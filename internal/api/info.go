package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	driver     string
	dbOK       bool
	sessions   func() int
	kafka      bool
	backendURL string
}

// NewInfoHandler describes the running service. sessions reports the number
// of live map pages and may be nil.
func NewInfoHandler(driver string, dbOK bool, backendURL string, kafka bool, sessions func() int) *InfoHandler {
	return &InfoHandler{driver: driver, dbOK: dbOK, backendURL: backendURL, kafka: kafka, sessions: sessions}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name       string   `json:"name" doc:"Service name"`
	Version    string   `json:"version" doc:"Service version"`
	Database   string   `json:"database" doc:"Database driver" example:"duckdb"`
	DB         bool     `json:"db" doc:"Whether database is available"`
	BackendURL string   `json:"backend_url" doc:"Defect API the map pages talk to"`
	Sessions   int      `json:"sessions" doc:"Live map page sessions"`
	Features   []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"map", "heatmap", "reports", "analytics", "bulk-upload", "metrics"}
	if h.kafka {
		features = append(features, "kafka-events")
	}
	body := InfoBody{
		Name:       "plat-defects",
		Version:    "0.1.0",
		Database:   h.driver,
		DB:         h.dbOK,
		BackendURL: h.backendURL,
		Features:   features,
	}
	if h.sessions != nil {
		body.Sessions = h.sessions()
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
