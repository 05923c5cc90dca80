package config

import (
	"os"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte(`
version: "1.0"
repository:
  root: /tmp/hangar
server:
  addr: ":4873"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Repository.Root != "/tmp/hangar" {
		t.Fatalf("unexpected root: %q", c.Repository.Root)
	}
	if c.Server.PushMaxNBytes != DefaultPushMaxNBytes {
		t.Fatalf("expected default push max nbytes, got %d", c.Server.PushMaxNBytes)
	}
}

func TestParseEnvOverride(t *testing.T) {
	os.Setenv("HANGAR_REPOSITORY_ROOT", "/override")
	defer os.Unsetenv("HANGAR_REPOSITORY_ROOT")

	c, err := Parse([]byte(`
repository:
  root: /tmp/hangar
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Repository.Root != "/override" {
		t.Fatalf("expected env override to win, got %q", c.Repository.Root)
	}
}
