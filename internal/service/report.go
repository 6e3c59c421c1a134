package service

import (
	"context"
	"fmt"
	"time"

	"github.com/joeblew999/plat-defects/internal/defect"
)

// ReportPeriod is the window covered by the periodic defect report.
const ReportPeriod = 30 * 24 * time.Hour

// CriticalAreas caps the number of locations listed in a report.
const CriticalAreas = 10

// CriticalArea is a location with critical defects.
type CriticalArea struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DefectCount int     `json:"defect_count"`
}

// Report summarises recent defects for offline analysis.
type Report struct {
	GeneratedAt   time.Time      `json:"generated_at"`
	Period        string         `json:"period"`
	DefectCounts  map[string]int `json:"defect_counts"`
	CriticalAreas []CriticalArea `json:"critical_areas"`
}

// Key is the object key the report is stored under.
func (r Report) Key() string {
	return "reports/" + r.GeneratedAt.Format("2006-01-02") + "_defect_report.json"
}

// Aggregate builds the report for the last ReportPeriod.
func (s *DefectService) Aggregate(ctx context.Context) (Report, error) {
	now := s.now().UTC()
	since := now.Add(-ReportPeriod)
	r := Report{
		GeneratedAt:   now,
		Period:        "30 days",
		DefectCounts:  zeroTypes(),
		CriticalAreas: []CriticalArea{},
	}

	if err := s.groupCount(ctx,
		"SELECT defect_type, COUNT(*) FROM defects WHERE reported_at >= $1 GROUP BY defect_type",
		r.DefectCounts, since); err != nil {
		return r, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT latitude, longitude, COUNT(*) AS n FROM defects WHERE severity = $1 AND reported_at >= $2 GROUP BY latitude, longitude ORDER BY n DESC LIMIT $3",
		defect.Critical.String(), since, CriticalAreas)
	if err != nil {
		return r, fmt.Errorf("critical areas: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a CriticalArea
		if err := rows.Scan(&a.Latitude, &a.Longitude, &a.DefectCount); err != nil {
			return r, err
		}
		r.CriticalAreas = append(r.CriticalAreas, a)
	}
	return r, rows.Err()
}
