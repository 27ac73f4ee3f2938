package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	AttemptCap int           `split_words:"true" default:"3"`
	RetryDelay time.Duration `split_words:"true" default:"200ms"`
	Backend    string        `default:"memory"`
}

func TestNewReadsEnvFileWithPrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router.env")
	content := "SAMPLE_ATTEMPT_CAP=5\nSAMPLE_BACKEND=redis\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("SAMPLE_ATTEMPT_CAP")
		os.Unsetenv("SAMPLE_BACKEND")
	})

	conf, err := New[sampleConfig]("SAMPLE", path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.AttemptCap != 5 {
		t.Fatalf("AttemptCap = %d, want 5", conf.AttemptCap)
	}
	if conf.Backend != "redis" {
		t.Fatalf("Backend = %q, want redis", conf.Backend)
	}
	if conf.RetryDelay != 200*time.Millisecond {
		t.Fatalf("RetryDelay = %v, want default 200ms", conf.RetryDelay)
	}
}

func TestNewMissingExplicitFileFails(t *testing.T) {
	_, err := New[sampleConfig]("SAMPLE", filepath.Join(t.TempDir(), "nope.env"))
	if err == nil {
		t.Fatal("expected error for missing env file")
	}
}
