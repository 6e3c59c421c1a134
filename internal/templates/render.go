// Package templates renders the map page shell and the HTML fragments
// patched into it.
package templates

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"strconv"
	"time"
)

var funcMap = template.FuncMap{
	"date":  formatDate,
	"coord": formatCoord,
}

// formatDate prints a report timestamp for people.
func formatDate(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("Jan 2, 2006")
}

// formatCoord prints a coordinate with six decimals.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// Renderer executes the named page and fragment templates. It is safe for
// concurrent use once built.
type Renderer struct {
	templates *template.Template
}

// NewFS parses the files matching patterns in fsys.
func NewFS(fsys fs.FS, patterns ...string) (*Renderer, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(fsys, patterns...)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{templates: tmpl}, nil
}

// Render executes template name with data.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Has reports whether a template called name was parsed.
func (r *Renderer) Has(name string) bool {
	return r.templates.Lookup(name) != nil
}
