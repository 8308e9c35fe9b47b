package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sampleMetric(taskID, category string, code models.ReturnCode) *models.OrchestrationMetric {
	return &models.OrchestrationMetric{
		TaskID:              taskID,
		Category:            category,
		Mode:                models.ModeLocal,
		DecisionTime:        2 * time.Millisecond,
		ExecutionTime:       150 * time.Millisecond,
		FilterTime:          5 * time.Millisecond,
		RoutingTime:         time.Millisecond,
		ContextSizeOriginal: 4000,
		ContextSizeFiltered: 1200,
		ReturnCode:          code,
		RecordedAt:          time.Now(),
	}
}

func TestAppendAndRecentMetrics(t *testing.T) {
	db := openTestDB(t)

	for i, id := range []string{"t1", "t2", "t3"} {
		m := sampleMetric(id, "engineer", models.ReturnSuccess)
		m.ContextSizeFiltered = 1000 + i
		if err := db.AppendMetric(m); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	recent, err := db.RecentMetrics(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(recent))
	}
	if recent[0].TaskID != "t3" || recent[1].TaskID != "t2" {
		t.Errorf("expected newest first, got %s then %s", recent[0].TaskID, recent[1].TaskID)
	}
	if recent[0].Mode != models.ModeLocal {
		t.Errorf("mode not round-tripped: %q", recent[0].Mode)
	}
	if recent[0].ExecutionTime != 150*time.Millisecond {
		t.Errorf("execution time not round-tripped: %s", recent[0].ExecutionTime)
	}
}

func TestAllMetricsOrderAndCount(t *testing.T) {
	db := openTestDB(t)

	db.AppendMetric(sampleMetric("a", "qa", models.ReturnSuccess))
	db.AppendMetric(sampleMetric("b", "qa", models.ReturnTimeout))

	all, err := db.AllMetrics()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 || all[0].TaskID != "a" || all[1].TaskID != "b" {
		t.Fatalf("expected insertion order a,b; got %+v", all)
	}
	if all[1].ReturnCode != models.ReturnTimeout {
		t.Errorf("return code not round-tripped: %d", all[1].ReturnCode)
	}

	n, err := db.CountMetrics()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected count 2, got %d", n)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := db.AppendMetric(sampleMetric("x", "ops", models.ReturnSuccess)); err != nil {
		t.Fatalf("append after re-migrate: %v", err)
	}
}

func TestProjectDBPath(t *testing.T) {
	got := ProjectDBPath("/tmp/proj")
	want := filepath.Join("/tmp/proj", ".conductor", "metrics.db")
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
