package defect

import "strings"

// Type is the kind of road defect.
type Type int

const (
	TypeUnknown Type = iota
	Pothole
	Crack
	DamagedPavement
	WaterLogging
	MissingManhole
	Other
)

// Types lists the reportable defect types in form order.
var Types = []Type{Pothole, Crack, DamagedPavement, WaterLogging, MissingManhole, Other}

// ParseType maps a wire value to a Type. Unrecognised values yield TypeUnknown.
func ParseType(s string) Type {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pothole":
		return Pothole
	case "crack":
		return Crack
	case "damaged_pavement":
		return DamagedPavement
	case "water_logging":
		return WaterLogging
	case "missing_manhole":
		return MissingManhole
	case "other":
		return Other
	default:
		return TypeUnknown
	}
}

// String returns the wire value, or "" for TypeUnknown.
func (t Type) String() string {
	switch t {
	case Pothole:
		return "pothole"
	case Crack:
		return "crack"
	case DamagedPavement:
		return "damaged_pavement"
	case WaterLogging:
		return "water_logging"
	case MissingManhole:
		return "missing_manhole"
	case Other:
		return "other"
	default:
		return ""
	}
}

// Label is the human readable name shown in forms and popups.
func (t Type) Label() string {
	switch t {
	case Pothole:
		return "Pothole"
	case Crack:
		return "Crack"
	case DamagedPavement:
		return "Damaged Pavement"
	case WaterLogging:
		return "Water Logging"
	case MissingManhole:
		return "Missing Manhole"
	case Other:
		return "Other"
	default:
		return "Unknown"
	}
}

// Known reports whether t is one of the enumerated types.
func (t Type) Known() bool { return t != TypeUnknown && t.String() != "" }

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	*t = ParseType(string(b))
	return nil
}

// Severity is the severity level of a defect.
type Severity int

const (
	SeverityUnknown Severity = iota
	Low
	Medium
	High
	Critical
)

// Severities lists the reportable severities in form order.
var Severities = []Severity{Low, Medium, High, Critical}

// ParseSeverity maps a wire value to a Severity. Unrecognised values yield
// SeverityUnknown.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low
	case "medium":
		return Medium
	case "high":
		return High
	case "critical":
		return Critical
	default:
		return SeverityUnknown
	}
}

func (s Severity) String() string {
	switch s {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return ""
	}
}

// Label is the human readable name shown in forms and popups.
func (s Severity) Label() string {
	switch s {
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	case Critical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// Known reports whether s is one of the enumerated severities.
func (s Severity) Known() bool { return s != SeverityUnknown && s.String() != "" }

// Color is the marker and point-layer color for the severity.
func (s Severity) Color() string {
	switch s {
	case Low:
		return "rgba(46, 204, 113, 0.8)"
	case Medium:
		return "rgba(241, 196, 15, 0.8)"
	case High:
		return "rgba(231, 76, 60, 0.8)"
	case Critical:
		return "rgba(155, 29, 19, 0.8)"
	default:
		return UnknownColor
	}
}

// UnknownColor is the neutral blue used for unrecognised severities.
const UnknownColor = "rgba(52, 152, 219, 0.8)"

// Weight is the heatmap intensity weight for the severity.
func (s Severity) Weight() float64 {
	switch s {
	case Critical:
		return 2.0
	case High:
		return 1.5
	case Medium:
		return 1.0
	case Low:
		return 0.5
	default:
		return 0.5
	}
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	*s = ParseSeverity(string(b))
	return nil
}
