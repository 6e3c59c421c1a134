package heatmap

import (
	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/internal/mapsurface"
)

// HeatLayer is the density layer. Weight maps linearly onto 0.6..1.0 and the
// intensity and radius ramps rise from zoom 0 to zoom 9, then hold.
func HeatLayer() mapsurface.Layer {
	return mapsurface.Layer{
		ID:     HeatLayerID,
		Type:   "heatmap",
		Source: SourceID,
		Paint: map[string]any{
			"heatmap-weight": []any{
				"interpolate", []any{"linear"}, []any{"get", "weight"},
				0.5, 0.6,
				1.0, 0.8,
				1.5, 0.9,
				2.0, 1.0,
			},
			"heatmap-intensity": []any{
				"interpolate", []any{"linear"}, []any{"zoom"},
				0, 1,
				9, 3,
			},
			"heatmap-color": []any{
				"interpolate", []any{"linear"}, []any{"heatmap-density"},
				0, "rgba(33, 102, 172, 0)",
				0.2, "rgb(103, 169, 207)",
				0.4, "rgb(209, 229, 240)",
				0.6, "rgb(253, 219, 199)",
				0.8, "rgb(239, 138, 98)",
				1, "rgb(178, 24, 43)",
			},
			"heatmap-radius": []any{
				"interpolate", []any{"linear"}, []any{"zoom"},
				0, 10,
				9, 30,
			},
			"heatmap-opacity": 0.9,
		},
	}
}

// PointLayer draws each feature as a circle colored like its marker.
func PointLayer() mapsurface.Layer {
	match := []any{"match", []any{"get", "severity"}}
	for _, s := range defect.Severities {
		match = append(match, s.String(), s.Color())
	}
	match = append(match, defect.SeverityUnknown.Color())

	return mapsurface.Layer{
		ID:     PointLayerID,
		Type:   "circle",
		Source: SourceID,
		Paint: map[string]any{
			"circle-radius":       8,
			"circle-color":        match,
			"circle-stroke-width": 2,
			"circle-stroke-color": "#ffffff",
		},
	}
}
