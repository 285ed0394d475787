package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.DefaultEngine != "local" || c.ResultStore != "file" || c.ColumnPacking != "indexed" || c.SeriesOverflow != "reject" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.MaxWorkers != 0 || c.TaskTimeout() != 0 {
		t.Fatalf("dispatcher should be unbounded by default: %+v", c)
	}
	if want := filepath.Join(home, ".statloom", "workspaces"); c.WorkspacesDir != want {
		t.Fatalf("workspaces_dir = %q, want %q", c.WorkspacesDir, want)
	}
}

func TestSaveLoadRoundTripAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c.DefaultEngine = "remote"
	c.RemoteEngineURL = "http://127.0.0.1:9000"
	c.TaskTimeoutSec = 5
	c.ResultStore = "sqlite"
	if err := Save(c, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("config perms = %v", fi.Mode().Perm())
	}

	t.Setenv("STATLOOM_MAX_WORKERS", "4")
	got, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.DefaultEngine != "remote" || got.RemoteEngineURL != "http://127.0.0.1:9000" || got.ResultStore != "sqlite" {
		t.Fatalf("file values lost: %+v", got)
	}
	if got.TaskTimeout() != 5*time.Second {
		t.Fatalf("task timeout = %v", got.TaskTimeout())
	}
	if got.MaxWorkers != 4 {
		t.Fatalf("env override not applied: max_workers = %d", got.MaxWorkers)
	}
	base, max := got.RetryDelays()
	if base != 500*time.Millisecond || max != 4*time.Second {
		t.Fatalf("retry delays = %v, %v", base, max)
	}
}
