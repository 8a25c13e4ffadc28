package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cascade-app/cascade/internal/domain"
	"github.com/cascade-app/cascade/internal/infra/sqlite"
)

func newTestDB(t *testing.T) (*sqlite.DB, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dir
}

func statusOf(t *testing.T, c *Checker, name string) Status {
	t.Helper()
	for _, s := range c.Statuses() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("check %q not found in statuses", name)
	return Status{}
}

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	db, dir := newTestDB(t)

	c := NewChecker(db, dir, nil)
	if c == nil {
		t.Fatal("NewChecker() returned nil")
	}
	if len(c.checks) != 3 {
		t.Errorf("checks = %d, want 3", len(c.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	db, dir := newTestDB(t)

	c := NewChecker(db, dir, nil)
	statuses := c.RunOnce(context.Background())
	if len(statuses) != 3 {
		t.Fatalf("Statuses() = %d, want 3", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	db, dir := newTestDB(t)
	c := NewChecker(db, dir, nil)

	// No statuses yet: vacuously healthy
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_DataDirRecovers(t *testing.T) {
	db, _ := newTestDB(t)
	missing := filepath.Join(t.TempDir(), "later")

	c := NewChecker(db, missing, nil)
	c.runAll(context.Background())
	if statusOf(t, c, "data_dir").Healthy {
		t.Error("data_dir should fail before the directory exists")
	}

	// Recovery created it; the next pass is healthy.
	c.runAll(context.Background())
	if !statusOf(t, c, "data_dir").Healthy {
		t.Error("data_dir should be healthy after recovery")
	}
}

func TestChecker_DataDirIsFile(t *testing.T) {
	db, _ := newTestDB(t)
	path := filepath.Join(t.TempDir(), "data")
	os.WriteFile(path, []byte("not a dir"), 0644)

	c := NewChecker(db, path, nil)
	c.runAll(context.Background())
	if statusOf(t, c, "data_dir").Healthy {
		t.Error("data_dir should fail when path is a file")
	}
}

func TestChecker_LedgerDrift(t *testing.T) {
	db, dir := newTestDB(t)
	ctx := context.Background()
	if err := db.CreateUser(ctx, domain.User{ID: "u1"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	c := NewChecker(db, dir, nil)
	c.runAll(ctx)
	if !statusOf(t, c, "ledger_consistency").Healthy {
		t.Fatal("fresh user should be consistent")
	}

	// Points without a ledger entry.
	if _, _, err := db.AddPoints(ctx, "u1", 50); err != nil {
		t.Fatalf("add points: %v", err)
	}
	c.runAll(ctx)
	s := statusOf(t, c, "ledger_consistency")
	if s.Healthy || s.Error == "" {
		t.Errorf("drift not reported: %+v", s)
	}
}

func TestChecker_FailingCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{
				Name: "always_fail",
				CheckFn: func(ctx context.Context) error {
					return os.ErrPermission
				},
			},
		},
	}

	c.runAll(context.Background())

	statuses := c.Statuses()
	if statuses[0].Healthy {
		t.Error("always_fail check should not be healthy")
	}
	if statuses[0].Error == "" {
		t.Error("error message should be populated")
	}
}

func TestChecker_StatusesCopy(t *testing.T) {
	db, dir := newTestDB(t)
	c := NewChecker(db, dir, nil)
	c.runAll(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()

	if len(s1) > 0 {
		s1[0].Healthy = false
		if !s2[0].Healthy {
			t.Error("Statuses() should return a copy, not a reference")
		}
	}
}
