package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("DATA_DIR")
	os.Unsetenv("CHUNK_MIN_CHARS")

	cfg := Load()

	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want ./data", cfg.DataDir)
	}
	if cfg.Chunking.MinChars != 80 {
		t.Errorf("MinChars = %d, want 80", cfg.Chunking.MinChars)
	}
	if cfg.Chunking.MaxChars != 350 {
		t.Errorf("MaxChars = %d, want 350", cfg.Chunking.MaxChars)
	}
	if cfg.Chunking.Threshold != 0.55 {
		t.Errorf("Threshold = %v, want 0.55", cfg.Chunking.Threshold)
	}
	if cfg.Scheduler.Workers != 2 || cfg.Scheduler.GPUTokens != 2 {
		t.Errorf("Scheduler = %+v, want Workers=2 GPUTokens=2", cfg.Scheduler)
	}
	if cfg.CatalogPath != filepath.Join("./data", "catalog.db") {
		t.Errorf("CatalogPath = %q", cfg.CatalogPath)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/custom-data")
	t.Setenv("CHUNK_MAX_CHARS", "500")
	t.Setenv("SCHEDULER_GPU_TOKENS", "1")

	cfg := Load()

	if cfg.DataDir != "/tmp/custom-data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Chunking.MaxChars != 500 {
		t.Errorf("MaxChars = %d, want 500", cfg.Chunking.MaxChars)
	}
	if cfg.Scheduler.GPUTokens != 1 {
		t.Errorf("GPUTokens = %d, want 1", cfg.Scheduler.GPUTokens)
	}
	if cfg.VectorPath != filepath.Join("/tmp/custom-data", "vectors.db") {
		t.Errorf("VectorPath = %q", cfg.VectorPath)
	}
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	cfg := Load()

	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, d := range []string{cfg.DataDir, cfg.VideoDir, cfg.ClipDir} {
		if _, err := os.Stat(d); err != nil {
			t.Errorf("expected dir %q to exist: %v", d, err)
		}
	}
}
