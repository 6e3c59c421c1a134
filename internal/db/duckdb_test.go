package db

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestConfigDriver(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"", "duckdb"},
		{"postgres://u:p@localhost/defects", "pgx"},
		{"postgresql://localhost/defects", "pgx"},
		{"mysql://localhost/defects", "duckdb"},
	}
	for _, tt := range tests {
		if got := (Config{URL: tt.url}).Driver(); got != tt.want {
			t.Errorf("Driver(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestConfigPath(t *testing.T) {
	if got := (Config{DBName: "defects"}).Path(); got != "" {
		t.Errorf("Path() without data dir = %q, want in-memory", got)
	}
	want := filepath.Join("data", "duckdb", "defects.duckdb")
	if got := (Config{DataDir: "data", DBName: "defects"}).Path(); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestMigrate(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for _, stmt := range Schema {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	if err := Migrate(context.Background(), conn); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMigrateStopsOnError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	boom := errors.New("boom")
	mock.ExpectExec(regexp.QuoteMeta(Schema[0])).WillReturnError(boom)
	err = Migrate(context.Background(), conn)
	if !errors.Is(err, boom) {
		t.Fatalf("Migrate error = %v, want %v", err, boom)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
