package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/joeblew999/plat-defects/internal/defect"
)

const defectColumns = "id, vehicle_id, defect_type, severity, latitude, longitude, notes, reported_at, updated_at"

// DefectService stores and queries defects.
type DefectService struct {
	db  *sql.DB
	bus *EventBus
	log log.Interface
	now func() time.Time
}

// Option configures a DefectService.
type Option func(*DefectService)

// WithBus publishes mutations on bus instead of DefaultBus.
func WithBus(bus *EventBus) Option {
	return func(s *DefectService) { s.bus = bus }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *DefectService) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l log.Interface) Option {
	return func(s *DefectService) { s.log = l }
}

// NewDefectService creates a defect service on db.
func NewDefectService(db *sql.DB, opts ...Option) *DefectService {
	s := &DefectService{
		db:  db,
		bus: DefaultBus,
		log: log.Log,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefect(row scanner) (defect.Defect, error) {
	var (
		d              defect.Defect
		vehicle, notes sql.NullString
		typ, sev       string
		updated        sql.NullTime
	)
	if err := row.Scan(&d.ID, &vehicle, &typ, &sev, &d.Latitude, &d.Longitude, &notes, &d.ReportedAt, &updated); err != nil {
		return d, err
	}
	d.VehicleID = vehicle.String
	d.Notes = notes.String
	d.DefectType = defect.ParseType(typ)
	d.Severity = defect.ParseSeverity(sev)
	if updated.Valid {
		t := updated.Time
		d.UpdatedAt = &t
	}
	return d, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns defects matching f ordered by id.
func (s *DefectService) List(ctx context.Context, f Filter) ([]defect.Defect, error) {
	var p params
	q := "SELECT " + defectColumns + " FROM defects" + f.where(&p) +
		" ORDER BY id LIMIT " + p.add(f.limit()) + " OFFSET " + p.add(max(f.Skip, 0))

	rows, err := s.db.QueryContext(ctx, q, p...)
	if err != nil {
		return nil, fmt.Errorf("list defects: %w", err)
	}
	defer rows.Close()

	out := []defect.Defect{}
	for rows.Next() {
		d, err := scanDefect(rows)
		if err != nil {
			return nil, fmt.Errorf("scan defect: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Get returns a defect by id.
func (s *DefectService) Get(ctx context.Context, id int64) (defect.Defect, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+defectColumns+" FROM defects WHERE id = $1", id)
	d, err := scanDefect(row)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("get defect %d: %w", id, err)
	}
	return d, nil
}

// Validate checks a create request before it reaches the database.
func Validate(req defect.CreateRequest) error {
	if !req.DefectType.Known() {
		return fmt.Errorf("%w: unknown defect type", ErrInvalid)
	}
	if !req.Severity.Known() {
		return fmt.Errorf("%w: unknown severity", ErrInvalid)
	}
	if !defect.ValidCoordinate(req.Latitude, req.Longitude) {
		return fmt.Errorf("%w: coordinates out of range", ErrInvalid)
	}
	return nil
}

// Create stores a manually reported defect.
func (s *DefectService) Create(ctx context.Context, req defect.CreateRequest) (defect.Defect, error) {
	return s.insert(ctx, "", req, s.now().UTC())
}

func (s *DefectService) insert(ctx context.Context, vehicle string, req defect.CreateRequest, at time.Time) (defect.Defect, error) {
	if err := Validate(req); err != nil {
		return defect.Defect{}, err
	}
	row := s.db.QueryRowContext(ctx,
		"INSERT INTO defects (vehicle_id, defect_type, severity, latitude, longitude, notes, reported_at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+defectColumns,
		nullable(vehicle), req.DefectType.String(), req.Severity.String(), req.Latitude, req.Longitude, nullable(req.Notes), at)
	d, err := scanDefect(row)
	if err != nil {
		return d, fmt.Errorf("insert defect: %w", err)
	}

	s.log.WithField("defect_id", d.ID).WithField("type", d.DefectType.String()).Info("defect created")
	s.bus.Publish(defectEvent(ActionCreated, &d))
	return d, nil
}

// Statistics returns counts by type, severity and month of the current year.
// Every enumerated key is present, zero filled.
func (s *DefectService) Statistics(ctx context.Context) (defect.Statistics, error) {
	st := defect.Statistics{
		ByType:     zeroTypes(),
		BySeverity: zeroSeverities(),
		ByTime:     make(map[string]int, 12),
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM defects").Scan(&st.TotalCount); err != nil {
		return st, fmt.Errorf("count defects: %w", err)
	}
	if err := s.groupCount(ctx, "SELECT defect_type, COUNT(*) FROM defects GROUP BY defect_type", st.ByType); err != nil {
		return st, err
	}
	if err := s.groupCount(ctx, "SELECT severity, COUNT(*) FROM defects GROUP BY severity", st.BySeverity); err != nil {
		return st, err
	}

	now := s.now().UTC()
	start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	for m := 0; m < 12; m++ {
		st.ByTime[start.AddDate(0, m, 0).Format("2006-01")] = 0
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT CAST(date_part('month', reported_at) AS INTEGER) AS month, COUNT(*) FROM defects WHERE reported_at >= $1 AND reported_at < $2 GROUP BY month",
		start, start.AddDate(1, 0, 0))
	if err != nil {
		return st, fmt.Errorf("count by month: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var month, n int
		if err := rows.Scan(&month, &n); err != nil {
			return st, err
		}
		if month >= 1 && month <= 12 {
			st.ByTime[start.AddDate(0, month-1, 0).Format("2006-01")] = n
		}
	}
	return st, rows.Err()
}

// groupCount fills into with key/count rows. Keys outside the enumeration are
// ignored.
func (s *DefectService) groupCount(ctx context.Context, q string, into map[string]int, args ...any) error {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("group count: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		if _, ok := into[key]; ok {
			into[key] = n
		}
	}
	return rows.Err()
}

// Heatmap returns every matching defect as a severity weighted point.
// Skip and Limit of f are ignored.
func (s *DefectService) Heatmap(ctx context.Context, f Filter) ([]HeatPoint, error) {
	var args params
	rows, err := s.db.QueryContext(ctx,
		"SELECT latitude, longitude, defect_type, severity, reported_at FROM defects"+f.where(&args), args...)
	if err != nil {
		return nil, fmt.Errorf("heatmap: %w", err)
	}
	defer rows.Close()

	out := []HeatPoint{}
	for rows.Next() {
		var (
			p        HeatPoint
			typ, sev string
		)
		if err := rows.Scan(&p.Lat, &p.Lng, &typ, &sev, &p.ReportedAt); err != nil {
			return nil, err
		}
		p.Type = typ
		p.Weight = defect.ParseSeverity(sev).Weight()
		out = append(out, p)
	}
	return out, rows.Err()
}

// Since converts a day count into a Filter.Since cutoff relative to now.
// Zero or negative days disable the cutoff.
func Since(now time.Time, days int) time.Time {
	if days <= 0 {
		return time.Time{}
	}
	return now.UTC().AddDate(0, 0, -days)
}
