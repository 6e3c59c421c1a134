// Package defect holds the road defect data model shared by the map page,
// the backend client and the reference backend.
package defect

import (
	"math"
	"time"

	"github.com/paulmach/orb"
)

// Defect is a single reported road condition.
// ID is assigned by the backend on creation; zero means unset.
type Defect struct {
	ID         int64      `json:"id" doc:"Backend-assigned identifier" example:"1"`
	VehicleID  string     `json:"vehicle_id,omitempty" doc:"Reporting vehicle, for automated uploads"`
	DefectType Type       `json:"defect_type" doc:"Kind of defect" example:"pothole"`
	Severity   Severity   `json:"severity" doc:"Severity level" example:"high"`
	Latitude   float64    `json:"latitude" doc:"WGS84 latitude" example:"40.01"`
	Longitude  float64    `json:"longitude" doc:"WGS84 longitude" example:"-74.5"`
	Notes      string     `json:"notes,omitempty" doc:"Free text notes"`
	ReportedAt time.Time  `json:"reported_at" doc:"When the defect was reported"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty" doc:"Last modification time"`
}

// Point returns the defect location as an orb point (lng, lat).
func (d Defect) Point() orb.Point {
	return orb.Point{d.Longitude, d.Latitude}
}

// CreateRequest is the body of POST /defects.
type CreateRequest struct {
	DefectType Type     `json:"defect_type" enum:"pothole,crack,damaged_pavement,water_logging,missing_manhole,other" doc:"Kind of defect"`
	Severity   Severity `json:"severity" enum:"low,medium,high,critical" doc:"Severity level"`
	Latitude   float64  `json:"latitude" minimum:"-90" maximum:"90" doc:"WGS84 latitude"`
	Longitude  float64  `json:"longitude" minimum:"-180" maximum:"180" doc:"WGS84 longitude"`
	Notes      string   `json:"notes,omitempty" maxLength:"1000" doc:"Free text notes"`
}

// Statistics is the body of GET /defects/statistics/summary.
type Statistics struct {
	TotalCount int            `json:"total_count" doc:"Total number of defects"`
	ByType     map[string]int `json:"by_type" doc:"Counts keyed by defect type"`
	BySeverity map[string]int `json:"by_severity" doc:"Counts keyed by severity"`
	ByTime     map[string]int `json:"by_time" doc:"Counts keyed by YYYY-MM for the current year"`
}

// ValidCoordinate reports whether lat/lng is a finite WGS84 position.
func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// ValidPoint is ValidCoordinate for an orb point.
func ValidPoint(p orb.Point) bool {
	return ValidCoordinate(p.Lat(), p.Lon())
}
