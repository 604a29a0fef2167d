package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndWindow(t *testing.T) {
	t.Parallel()

	reporter := New(filepath.Join(t.TempDir(), "history.json"))
	early := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	if err := reporter.Record(context.Background(), []string{"https://old.example/a"}, nil, early); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	err := reporter.Record(context.Background(),
		[]string{"https://b.example/2", "https://a.example/1", "https://a.example/1"},
		[]string{"revoked.example"}, late)
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	ingested, revoked, err := reporter.Window(late.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Window() error: %v", err)
	}
	wantIngested := []string{"https://a.example/1", "https://b.example/2"}
	if len(ingested) != len(wantIngested) {
		t.Fatalf("ingested = %v, want %v (distinct, sorted, windowed)", ingested, wantIngested)
	}
	for i := range wantIngested {
		if ingested[i] != wantIngested[i] {
			t.Fatalf("ingested[%d] = %q, want %q", i, ingested[i], wantIngested[i])
		}
	}
	if len(revoked) != 1 || revoked[0] != "revoked.example" {
		t.Fatalf("revoked = %v, want [revoked.example]", revoked)
	}
}

func TestWindowIncludesBoundary(t *testing.T) {
	t.Parallel()

	reporter := New(filepath.Join(t.TempDir(), "history.json"))
	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	if err := reporter.Record(context.Background(), []string{"https://edge.example/"}, nil, at); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	ingested, _, err := reporter.Window(at)
	if err != nil {
		t.Fatalf("Window() error: %v", err)
	}
	if len(ingested) != 1 {
		t.Fatalf("entry stamped exactly at since must be included, got %v", ingested)
	}
}

func TestRecordHonoursContext(t *testing.T) {
	t.Parallel()

	reporter := New(filepath.Join(t.TempDir(), "history.json"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := reporter.Record(ctx, []string{"x"}, nil, time.Now()); err == nil {
		t.Fatalf("canceled context must abort the record")
	}
}

func TestWindowEmptyHistory(t *testing.T) {
	t.Parallel()

	reporter := New(filepath.Join(t.TempDir(), "absent.json"))
	ingested, revoked, err := reporter.Window(time.Time{})
	if err != nil {
		t.Fatalf("Window() error: %v", err)
	}
	if len(ingested) != 0 || len(revoked) != 0 {
		t.Fatalf("empty history must yield empty windows")
	}
}
