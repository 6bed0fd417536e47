package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCmdConfigFlag(t *testing.T) {
	cmd := newRootCmd()
	f := cmd.PersistentFlags().Lookup("config")
	if f == nil {
		t.Fatal("missing --config flag")
	}
	if f.DefValue != "" {
		t.Fatalf("--config default = %q, want empty", f.DefValue)
	}
}

func TestRootCmdRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("search_provider: bing\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SEARCH_PROVIDER", "")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path})
	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unknown search provider") {
		t.Fatalf("expected config validation error, got %v", err)
	}
}

func TestRootCmdMissingConfigFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}
