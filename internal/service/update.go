package service

import (
	"context"
	"fmt"

	"github.com/joeblew999/plat-defects/internal/defect"
)

// UpdateRequest changes the given fields of a defect. Nil fields are left
// as they are.
type UpdateRequest struct {
	DefectType *defect.Type     `json:"defect_type,omitempty" enum:"pothole,crack,damaged_pavement,water_logging,missing_manhole,other" doc:"New defect type"`
	Severity   *defect.Severity `json:"severity,omitempty" enum:"low,medium,high,critical" doc:"New severity"`
	Notes      *string          `json:"notes,omitempty" maxLength:"1000" doc:"New notes"`
}

// Update applies req to defect id and stamps updated_at.
func (s *DefectService) Update(ctx context.Context, id int64, req UpdateRequest) (defect.Defect, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return cur, err
	}
	if req.DefectType != nil {
		if !req.DefectType.Known() {
			return cur, fmt.Errorf("%w: unknown defect type", ErrInvalid)
		}
		cur.DefectType = *req.DefectType
	}
	if req.Severity != nil {
		if !req.Severity.Known() {
			return cur, fmt.Errorf("%w: unknown severity", ErrInvalid)
		}
		cur.Severity = *req.Severity
	}
	if req.Notes != nil {
		cur.Notes = *req.Notes
	}

	row := s.db.QueryRowContext(ctx,
		"UPDATE defects SET defect_type = $1, severity = $2, notes = $3, updated_at = $4 WHERE id = $5 RETURNING "+defectColumns,
		cur.DefectType.String(), cur.Severity.String(), nullable(cur.Notes), s.now().UTC(), id)
	d, err := scanDefect(row)
	if err != nil {
		return d, fmt.Errorf("update defect %d: %w", id, err)
	}
	s.bus.Publish(defectEvent(ActionUpdated, &d))
	return d, nil
}

// Delete removes defect id.
func (s *DefectService) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM defects WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete defect %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.log.WithField("defect_id", id).Info("defect deleted")
	s.bus.Publish(Event{Resource: "defects", Action: ActionDeleted, ID: id})
	return nil
}
