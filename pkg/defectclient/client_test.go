//go:build integration

// Integration test against a running server: defects serve
//
// Run: go test -tags=integration ./pkg/defectclient/
package defectclient_test

import (
	"context"
	"os"
	"testing"

	"github.com/joeblew999/plat-defects/internal/defect"
	"github.com/joeblew999/plat-defects/pkg/defectclient"
)

func baseURL() string {
	if u := os.Getenv("DEFECTS_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8086/api"
}

func client() *defectclient.Client {
	return defectclient.New(baseURL())
}

func TestIntegrationListDefects(t *testing.T) {
	_, _, err := client().ListDefects(context.Background(), defectclient.ListQuery{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
}

func TestIntegrationCreateAndGet(t *testing.T) {
	c := client()
	ctx := context.Background()

	_, created, err := c.CreateDefect(ctx, defect.CreateRequest{
		DefectType: defect.Crack,
		Severity:   defect.Low,
		Latitude:   40.01,
		Longitude:  -74.5,
		Notes:      "integration test",
	})
	if err != nil {
		t.Fatal("create:", err)
	}
	if created.ID == 0 || created.ReportedAt.IsZero() {
		t.Fatalf("created=%+v, want id and reported_at", created)
	}

	_, got, err := c.GetDefect(ctx, created.ID)
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.Notes != "integration test" {
		t.Fatalf("notes=%q, want integration test", got.Notes)
	}
}

func TestIntegrationStatistics(t *testing.T) {
	_, s, err := client().Statistics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(s.ByTime) != 12 {
		t.Fatalf("by_time has %d months, want 12", len(s.ByTime))
	}
}
