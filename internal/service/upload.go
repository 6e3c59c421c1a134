package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joeblew999/plat-defects/internal/defect"
)

// VehicleReport is a defect observed by a vehicle and uploaded by an
// external system. Coordinates are [latitude, longitude].
type VehicleReport struct {
	VehicleID   *string         `json:"vehicle_id" doc:"Reporting vehicle" example:"truck-17"`
	Timestamp   *string         `json:"timestamp" doc:"ISO 8601 observation time" example:"2024-05-01T08:30:00Z"`
	Coordinates json.RawMessage `json:"coordinates" doc:"[latitude, longitude]"`
	DefectType  *string         `json:"defect_type" doc:"External defect label" example:"minor pothole"`
	Severity    *string         `json:"severity,omitempty" doc:"low, medium, high or critical; defaults to medium" example:"high"`
	Notes       *string         `json:"notes,omitempty" doc:"Free text notes"`
}

// UploadError is the reason a vehicle report was rejected. Its text is
// returned to the uploader as is.
type UploadError string

func (e UploadError) Error() string { return string(e) }

// Upload failure reasons, reported per entry.
const (
	ErrMissingFields    UploadError = "Missing required fields"
	ErrBadTimestamp     UploadError = "Invalid timestamp format"
	ErrCoordinatesShape UploadError = "Coordinates must be [latitude, longitude]"
	ErrBadCoordinates   UploadError = "Invalid coordinates"
	ErrBadSeverity      UploadError = "Invalid severity level"
)

var externalTypes = map[string]defect.Type{
	"minor pothole":    defect.Pothole,
	"pothole":          defect.Pothole,
	"crack":            defect.Crack,
	"damaged pavement": defect.DamagedPavement,
	"water logging":    defect.WaterLogging,
	"missing manhole":  defect.MissingManhole,
}

// ExternalType maps a vehicle's defect label to a Type. Unmapped labels
// become Other.
func ExternalType(label string) defect.Type {
	if t, ok := externalTypes[strings.ToLower(strings.TrimSpace(label))]; ok {
		return t
	}
	return defect.Other
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrBadTimestamp
}

// Convert validates a vehicle report and turns it into a create request.
func (r VehicleReport) Convert() (vehicle string, at time.Time, req defect.CreateRequest, err error) {
	if r.VehicleID == nil || r.Timestamp == nil || r.DefectType == nil || len(r.Coordinates) == 0 || string(r.Coordinates) == "null" {
		return "", at, req, ErrMissingFields
	}
	if at, err = parseTimestamp(*r.Timestamp); err != nil {
		return "", at, req, err
	}

	var coords []float64
	if err := json.Unmarshal(r.Coordinates, &coords); err != nil || len(coords) != 2 {
		return "", at, req, ErrCoordinatesShape
	}
	lat, lng := coords[0], coords[1]
	if !defect.ValidCoordinate(lat, lng) {
		return "", at, req, ErrBadCoordinates
	}

	req = defect.CreateRequest{
		DefectType: ExternalType(*r.DefectType),
		Severity:   defect.Medium,
		Latitude:   lat,
		Longitude:  lng,
	}
	if r.Severity != nil {
		if req.Severity = defect.ParseSeverity(*r.Severity); !req.Severity.Known() {
			return "", at, req, ErrBadSeverity
		}
	}
	if r.Notes != nil {
		req.Notes = *r.Notes
	}
	return *r.VehicleID, at, req, nil
}

// Upload stores a single vehicle report.
func (s *DefectService) Upload(ctx context.Context, r VehicleReport) (defect.Defect, error) {
	vehicle, at, req, err := r.Convert()
	if err != nil {
		return defect.Defect{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return s.insert(ctx, vehicle, req, at)
}

// FailedEntry is an import entry that was not stored.
type FailedEntry struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// ImportResult summarises a bulk import.
type ImportResult struct {
	Success        bool          `json:"success"`
	ProcessedCount int           `json:"processed_count"`
	SuccessCount   int           `json:"success_count"`
	FailedCount    int           `json:"failed_count"`
	FailedEntries  []FailedEntry `json:"failed_entries"`
}

// Import stores every valid entry in one transaction. Invalid entries are
// reported in the result and never abort the batch.
func (s *DefectService) Import(ctx context.Context, entries []json.RawMessage) (ImportResult, error) {
	res := ImportResult{ProcessedCount: len(entries), FailedEntries: []FailedEntry{}}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	fail := func(i int, err error) {
		res.FailedEntries = append(res.FailedEntries, FailedEntry{Index: i, Error: err.Error()})
	}
	for i, raw := range entries {
		var r VehicleReport
		if err := json.Unmarshal(raw, &r); err != nil {
			fail(i, fmt.Errorf("invalid entry: %w", err))
			continue
		}
		vehicle, at, req, err := r.Convert()
		if err != nil {
			fail(i, err)
			continue
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO defects (vehicle_id, defect_type, severity, latitude, longitude, notes, reported_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
			vehicle, req.DefectType.String(), req.Severity.String(), req.Latitude, req.Longitude, nullable(req.Notes), at)
		if err != nil {
			fail(i, err)
			continue
		}
		res.SuccessCount++
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit import: %w", err)
	}
	res.Success = true
	res.FailedCount = len(res.FailedEntries)

	s.log.WithField("stored", res.SuccessCount).WithField("failed", res.FailedCount).Info("bulk import")
	if res.SuccessCount > 0 {
		s.bus.Publish(Event{Resource: "defects", Action: ActionImported, Count: res.SuccessCount})
	}
	return res, nil
}
