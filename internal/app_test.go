package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/happytimeshere/kirby/internal/core"
	"github.com/happytimeshere/kirby/internal/observability"
	"github.com/happytimeshere/kirby/pkg/models"
)

func TestResolveBasePath_KlockHomeSet(t *testing.T) {
	// KLOCK_HOME takes precedence.
	tmpDir := t.TempDir()
	t.Setenv("KLOCK_HOME", tmpDir)

	got := ResolveBasePath()
	if got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q", got, tmpDir)
	}
}

func TestResolveBasePath_FindsKlockrc(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "content", "blog")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatal(err)
	}

	// Create .klockrc.yaml in the parent directory.
	if err := os.WriteFile(filepath.Join(tmpDir, ".klockrc.yaml"), []byte("locks:\n  duration: 60\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(origDir) }()
	if err := os.Chdir(subDir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KLOCK_HOME", "")

	got := ResolveBasePath()
	if got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q (should find .klockrc in parent)", got, tmpDir)
	}
}

func TestResolveBasePath_FallbackToCwd(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(origDir) }()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KLOCK_HOME", "")

	got := ResolveBasePath()
	if got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q (should fall back to cwd)", got, tmpDir)
	}
}

func newTestApp(t *testing.T, klockrc string) *App {
	t.Helper()
	tmpDir := t.TempDir()
	if klockrc != "" {
		if err := os.WriteFile(filepath.Join(tmpDir, ".klockrc.yaml"), []byte(klockrc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	app, err := NewApp(tmpDir)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	for _, u := range []models.User{
		{ID: "alice", Email: "alice@example.com"},
		{ID: "bob", Email: "bob@example.com"},
	} {
		if err := app.Users.AddUser(u); err != nil {
			t.Fatal(err)
		}
	}
	return app
}

func TestNewApp_Success(t *testing.T) {
	app := newTestApp(t, "")

	if app.Workspace == nil {
		t.Fatal("app.Workspace is nil")
	}
	if app.Users == nil {
		t.Error("app.Users is nil")
	}
	if app.EventLog == nil {
		t.Error("app.EventLog is nil")
	}
	if app.MetricsCalc == nil {
		t.Error("app.MetricsCalc is nil")
	}
	if want := filepath.Join(app.BasePath, "content"); app.Workspace.Root() != want {
		t.Errorf("content root = %q, want %q", app.Workspace.Root(), want)
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ".klockrc.yaml"), []byte("locks:\n  duration: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewApp(tmpDir)
	if err == nil {
		t.Fatal("expected error for invalid configuration")
	}
	if !strings.Contains(err.Error(), "locks.duration") {
		t.Errorf("unexpected error: %v", err)
	}
}

func managerFor(t *testing.T, app *App, path string) (core.LockManager, models.Resource) {
	t.Helper()
	res, err := app.Workspace.Resolve(path)
	if err != nil {
		t.Fatal(err)
	}
	return app.Workspace.ManagerFor(res), res
}

func TestNewApp_LocksUseConfiguredFileName(t *testing.T) {
	app := newTestApp(t, "locks:\n  file_name: .editlock\n")

	m, res := managerFor(t, app, "blog/hello")
	if err := m.Acquire(res.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(res.Dir, ".editlock")); err != nil {
		t.Errorf("expected lock file .editlock: %v", err)
	}
	if _, err := os.Stat(filepath.Join(res.Dir, ".lock")); !os.IsNotExist(err) {
		t.Errorf("default lock file should not exist, stat err = %v", err)
	}
}

func TestNewApp_PolicyFromConfig(t *testing.T) {
	app := newTestApp(t, "locks:\n  allow_self_break: true\n")

	m, res := managerFor(t, app, "home")
	if err := m.Acquire(res.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := m.Break(res.ID, "alice"); err != nil {
		t.Fatalf("self break should be allowed by config: %v", err)
	}
	if !m.WasBrokenFor(res.ID, "alice") {
		t.Error("expected alice in the unlock set")
	}
}

func TestNewApp_UnknownOwnerCountsAsUnlocked(t *testing.T) {
	app := newTestApp(t, "")

	m, res := managerFor(t, app, "home")
	if err := m.Acquire(res.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := app.Users.RemoveUser("alice"); err != nil {
		t.Fatal(err)
	}

	if m.IsLockedByOther(res.ID, "bob") {
		t.Error("a lock held by a removed user should read as unlocked")
	}
}

func TestEventLogAdapter_RecordsLockEvents(t *testing.T) {
	app := newTestApp(t, "")

	res, err := app.Workspace.Resolve("home")
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Workspace.Mutate(res, func(m core.LockManager) error { return m.Acquire(res.ID, "alice") }); err != nil {
		t.Fatal(err)
	}
	if err := app.Workspace.Mutate(res, func(m core.LockManager) error { return m.Acquire(res.ID, "bob") }); err == nil {
		t.Fatal("expected bob to be refused")
	}
	if err := app.Workspace.Mutate(res, func(m core.LockManager) error { return m.Break(res.ID, "bob") }); err != nil {
		t.Fatal(err)
	}

	events, err := app.EventLog.Read(observability.EventFilter{Resource: "/home"})
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	want := "lock.acquired,lock.denied,lock.broken"
	if got := strings.Join(types, ","); got != want {
		t.Errorf("event types = %s, want %s", got, want)
	}
	if len(events) == 3 && events[1].Level != "WARN" {
		t.Errorf("denied event level = %q, want WARN", events[1].Level)
	}

	metrics, err := app.MetricsCalc.Calculate(observability.MetricsQuery{Since: time.Now().Add(-time.Hour), Resource: "/home"})
	if err != nil {
		t.Fatal(err)
	}
	if metrics.Acquired != 1 || metrics.Denied != 1 || metrics.Broken != 1 {
		t.Errorf("metrics = %+v", metrics)
	}
	if metrics.LostByUser["alice"] != 1 || metrics.BrokenByUser["bob"] != 1 {
		t.Errorf("per-user counts = %v / %v", metrics.BrokenByUser, metrics.LostByUser)
	}
	if metrics.ByResource["/home"] != 3 {
		t.Errorf("ByResource = %v, want /home: 3", metrics.ByResource)
	}
}

func TestApp_CloseWithoutEventLog(t *testing.T) {
	app := &App{}
	if err := app.Close(); err != nil {
		t.Errorf("Close() on empty app = %v", err)
	}
}
