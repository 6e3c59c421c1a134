package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// link is one RFC 8288 relation.
type link struct {
	href, rel string
}

func (l link) String() string {
	return fmt.Sprintf("<%s>; rel=%q", l.href, l.rel)
}

var (
	defectsLink    = link{"/api/defects", "defects"}
	statisticsLink = link{"/api/defects/statistics/summary", "statistics"}
	heatmapLink    = link{"/api/defects/analytics/heatmap", "heatmap"}
	hotspotsLink   = link{"/api/defects/analytics/hotspots", "hotspots"}
)

// related lists the relations advertised by each operation path, so
// `restish links` can walk the API starting from /health.
var related = map[string][]link{
	"/health": {
		{"/api/v1/info", "info"},
		defectsLink,
		statisticsLink,
		{"/map", "map"},
		{"/metrics", "metrics"},
	},
	"/api/v1/info":                    {{"/health", "health"}, defectsLink},
	"/api/defects":                    {statisticsLink, heatmapLink, {"/api/defects/upload/bulk", "bulk-upload"}},
	"/api/defects/{id}":               {{"/api/defects", "collection"}},
	"/api/defects/statistics/summary": {defectsLink, hotspotsLink},
	"/api/defects/analytics/heatmap":  {{"/api/defects/analytics/density", "density"}, hotspotsLink},
	"/api/defects/analytics/hotspots": {heatmapLink},
	"/api/defects/upload/bulk":        {{"/api/defects/upload", "upload"}, defectsLink},
}

// LinkTransformer adds Link headers for the relations of the matched
// operation. Paths with parameters also get a self link.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, l := range related[op.Path] {
			ctx.AppendHeader("Link", l.String())
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", link{ctx.URL().Path, "self"}.String())
		}
		return v, nil
	}
}
