package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAdminCommands(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "admin.db"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("TENANTS", "")
	t.Setenv("AMQP_URL", "")

	out, err := execute(t, "migrate", "up")
	if err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if !strings.Contains(out, "schema version") || strings.Contains(out, "version 0 ") {
		t.Errorf("expected a non-zero schema version, got %q", out)
	}

	out, err = execute(t, "generate", "--month", "2025-11", "--tenant", "acme")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out, "acme 2025-11: 0 generated") {
		t.Errorf("unexpected generate output %q", out)
	}

	if _, err := execute(t, "close-due", "--as-of", "2025-12-01", "--tenant", "acme"); err != nil {
		t.Errorf("close-due: %v", err)
	}

	out, err = execute(t, "relay")
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if !strings.Contains(out, "0 event(s) published") {
		t.Errorf("unexpected relay output %q", out)
	}

	if _, err := execute(t, "audit", "--tenant", "acme"); err != nil {
		t.Errorf("audit on an empty ledger should pass, got %v", err)
	}
}

func TestGenerate_RejectsBadMonth(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "admin.db"))
	t.Setenv("LOG_LEVEL", "error")

	if _, err := execute(t, "generate", "--month", "11/2025", "--tenant", "acme"); err == nil {
		t.Error("expected an error for a malformed month")
	}
}
