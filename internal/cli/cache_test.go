package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanspace/flowboard/pkg/config"
)

func TestCacheDirHonorsXDG(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", xdg)

	dir, err := cacheDir()
	if err != nil {
		t.Fatalf("cacheDir() error: %v", err)
	}
	if want := filepath.Join(xdg, "flowboard"); dir != want {
		t.Errorf("cacheDir() = %q, want %q", dir, want)
	}
}

func TestCacheDirFallsBackToHome(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	dir, err := cacheDir()
	if err != nil {
		t.Fatalf("cacheDir() error: %v", err)
	}
	if want := filepath.Join(home, ".cache", "flowboard"); dir != want {
		t.Errorf("cacheDir() = %q, want %q", dir, want)
	}
}

func TestConfiguredCacheDir(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Dir = "/var/cache/boards"
	c := &CLI{Logger: newLogger(os.Stderr, LogInfo), cfg: cfg}

	dir, err := c.cacheDir()
	if err != nil {
		t.Fatalf("cacheDir() error: %v", err)
	}
	if dir != "/var/cache/boards" {
		t.Errorf("cacheDir() = %q, want the configured directory", dir)
	}
}
