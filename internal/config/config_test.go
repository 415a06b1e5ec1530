package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "repack.env")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, "SUBJECT_TOKEN=NACC\nOUTPUT_DIR=/data/out\nDEBUG=true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.SubjectToken != "NACC" {
		t.Errorf("SubjectToken = %q, want NACC", cfg.SubjectToken)
	}
	if cfg.OutputDir != "/data/out" {
		t.Errorf("OutputDir = %q, want /data/out", cfg.OutputDir)
	}
	if !cfg.Debug {
		t.Error("expected Debug to be true")
	}
	if cfg.LedgerPath != "uploads.db" {
		t.Errorf("LedgerPath default = %q, want uploads.db", cfg.LedgerPath)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "SUBJECT_TOKEN=NACC\nOUTPUT_DIR=/data/out\n")

	t.Setenv("OUTPUT_DIR", "/env/out")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OutputDir != "/env/out" {
		t.Errorf("OutputDir = %q, want /env/out", cfg.OutputDir)
	}
}

func TestLoadMissingRequiredKeys(t *testing.T) {
	path := writeConfigFile(t, "PROJECT_LABEL=clariti\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected an error for missing required keys")
	}

	for _, key := range []string{"SUBJECT_TOKEN", "OUTPUT_DIR"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name missing key %s", err, key)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
