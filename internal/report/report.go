// Package report implements the click-to-report draft workflow:
//
//	Idle -> Drafting -> Validating -> Submitting -> Idle | Drafting
//
// The workflow never performs the network call itself. BeginSubmit hands the
// caller a CreateRequest and the caller reports the outcome with Succeed or
// Fail. Like the rest of the page state it is owned by a single goroutine.
package report

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/internal/store"
)

// State is the workflow state.
type State int

const (
	Idle State = iota
	Drafting
	Validating
	Submitting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Drafting:
		return "drafting"
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Form field names, as posted by the report form.
const (
	FieldDefectType = "defect_type"
	FieldSeverity   = "severity"
	FieldNotes      = "notes"
)

// Defaults applied to every new draft.
const (
	DefaultDefectType = defect.Pothole
	DefaultSeverity   = defect.Medium
)

const (
	SuccessMessage = "Defect reported successfully!"
	FailureMessage = "Failed to submit defect. Please try again."
)

var (
	// ErrBusy is returned by Click while a draft is open.
	ErrBusy = errors.New("report: draft already open")
	// ErrSubmitting rejects a reentrant submit or a cancel during submission.
	ErrSubmitting = errors.New("report: submission in progress")
	// ErrNoDraft is returned when an operation needs an open draft.
	ErrNoDraft = errors.New("report: no open draft")
	// ErrNotSubmitting is returned by Succeed and Fail outside Submitting.
	ErrNotSubmitting = errors.New("report: no submission in progress")
	// ErrUnknownField is returned by SetField for an unrecognised name.
	ErrUnknownField = errors.New("report: unknown form field")
	// ErrMissingID is the cause recorded when a create response has no id.
	ErrMissingID = errors.New("report: created defect has no id")
)

// Form holds the raw form values.
type Form struct {
	DefectType string `json:"defect_type"`
	Severity   string `json:"severity"`
	Notes      string `json:"notes"`
}

// DefaultForm is the form every draft starts from.
func DefaultForm() Form {
	return Form{DefectType: DefaultDefectType.String(), Severity: DefaultSeverity.String()}
}

// FieldErrors are the per-field validation flags.
type FieldErrors struct {
	Location   bool `json:"location"`
	DefectType bool `json:"defect_type"`
	Severity   bool `json:"severity"`
}

// Any reports whether any flag is set.
func (e FieldErrors) Any() bool { return e.Location || e.DefectType || e.Severity }

// ValidationError is a local validation failure. It never reaches the network.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	var bad []string
	if e.Fields.Location {
		bad = append(bad, "location")
	}
	if e.Fields.DefectType {
		bad = append(bad, FieldDefectType)
	}
	if e.Fields.Severity {
		bad = append(bad, FieldSeverity)
	}
	return fmt.Sprintf("invalid report: %v", bad)
}

// SubmitError wraps a failed create request.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string { return "submit defect: " + e.Err.Error() }

func (e *SubmitError) Unwrap() error { return e.Err }

// MarkerRenderer draws a created defect.
type MarkerRenderer interface {
	Render(d defect.Defect) (bool, error)
}

// Notifier shows transient notifications.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Draft is a read-only view of the workflow.
type Draft struct {
	State    State       `json:"-"`
	Open     bool        `json:"open"`
	Location orb.Point   `json:"location"`
	Form     Form        `json:"form"`
	Errors   FieldErrors `json:"errors"`
}

// Submitting reports whether a create request is in flight.
func (d Draft) Submitting() bool { return d.State == Submitting }

// Workflow is the draft state machine.
type Workflow struct {
	store   *store.Store
	markers MarkerRenderer
	notify  Notifier

	state    State
	location orb.Point
	form     Form
	errors   FieldErrors
}

// New creates a workflow in Idle.
func New(s *store.Store, markers MarkerRenderer, notify Notifier) *Workflow {
	return &Workflow{store: s, markers: markers, notify: notify, form: DefaultForm()}
}

// State returns the current state.
func (w *Workflow) State() State { return w.state }

// Draft returns a snapshot of the draft.
func (w *Workflow) Draft() Draft {
	return Draft{
		State:    w.state,
		Open:     w.state != Idle,
		Location: w.location,
		Form:     w.form,
		Errors:   w.errors,
	}
}

// Click opens a draft at lngLat with the default form.
func (w *Workflow) Click(lngLat orb.Point) error {
	if w.state != Idle {
		return ErrBusy
	}
	w.location = lngLat
	w.form = DefaultForm()
	w.errors = FieldErrors{}
	w.state = Drafting
	return nil
}

// SetField edits one form field and clears its error flag.
func (w *Workflow) SetField(name, value string) error {
	switch w.state {
	case Idle:
		return ErrNoDraft
	case Submitting:
		return ErrSubmitting
	}
	switch name {
	case FieldDefectType:
		w.form.DefectType = value
		w.errors.DefectType = false
	case FieldSeverity:
		w.form.Severity = value
		w.errors.Severity = false
	case FieldNotes:
		w.form.Notes = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return nil
}

// SetForm applies every field of f.
func (w *Workflow) SetForm(f Form) error {
	if err := w.SetField(FieldDefectType, f.DefectType); err != nil {
		return err
	}
	if err := w.SetField(FieldSeverity, f.Severity); err != nil {
		return err
	}
	return w.SetField(FieldNotes, f.Notes)
}

// Cancel discards the draft.
func (w *Workflow) Cancel() error {
	switch w.state {
	case Idle:
		return ErrNoDraft
	case Submitting:
		return ErrSubmitting
	}
	w.reset()
	return nil
}

// BeginSubmit validates the draft. On success the workflow enters Submitting
// and the returned request must be sent exactly once, followed by Succeed or
// Fail. On failure it returns a *ValidationError and stays in Drafting.
func (w *Workflow) BeginSubmit() (defect.CreateRequest, error) {
	switch w.state {
	case Idle:
		return defect.CreateRequest{}, ErrNoDraft
	case Submitting:
		return defect.CreateRequest{}, ErrSubmitting
	}

	w.state = Validating
	typ := defect.ParseType(w.form.DefectType)
	sev := defect.ParseSeverity(w.form.Severity)
	w.errors = FieldErrors{
		Location:   !defect.ValidPoint(w.location),
		DefectType: !typ.Known(),
		Severity:   !sev.Known(),
	}
	if w.errors.Any() {
		w.state = Drafting
		return defect.CreateRequest{}, &ValidationError{Fields: w.errors}
	}

	w.state = Submitting
	return defect.CreateRequest{
		DefectType: typ,
		Severity:   sev,
		Latitude:   w.location.Lat(),
		Longitude:  w.location.Lon(),
		Notes:      w.form.Notes,
	}, nil
}

// Succeed records the created defect: it is appended to the store, its marker
// is placed right away, the draft closes and the workflow returns to Idle.
// A marker failure is returned but does not undo the append. A defect
// without an id is recorded as a failed submission.
func (w *Workflow) Succeed(d defect.Defect) error {
	if w.state != Submitting {
		return ErrNotSubmitting
	}
	if d.ID == 0 {
		return w.Fail(ErrMissingID)
	}
	w.store.Append(d)
	_, err := w.markers.Render(d)
	w.reset()
	w.notify.Success(SuccessMessage)
	return err
}

// Fail records a failed create request. The draft stays open for a retry.
func (w *Workflow) Fail(cause error) error {
	if w.state != Submitting {
		return ErrNotSubmitting
	}
	w.state = Drafting
	w.notify.Error(FailureMessage)
	return &SubmitError{Err: cause}
}

func (w *Workflow) reset() {
	w.state = Idle
	w.location = orb.Point{}
	w.form = DefaultForm()
	w.errors = FieldErrors{}
}
