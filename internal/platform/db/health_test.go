package db

import (
	"context"
	"errors"
	"testing"
)

func TestRunChecks_AllHealthy(t *testing.T) {
	checks := map[string]Check{
		"database":  func(context.Context) error { return nil },
		"pack_root": func(context.Context) error { return nil },
	}

	results, healthy := RunChecks(context.Background(), checks)
	if !healthy {
		t.Error("expected healthy")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "database" || results[1].Name != "pack_root" {
		t.Errorf("expected results sorted by name, got %s, %s", results[0].Name, results[1].Name)
	}
}

func TestRunChecks_OneFailing(t *testing.T) {
	checks := map[string]Check{
		"database":  func(context.Context) error { return nil },
		"pack_root": func(context.Context) error { return errors.New("stat ./specialty-packs: no such file or directory") },
	}

	results, healthy := RunChecks(context.Background(), checks)
	if healthy {
		t.Error("expected unhealthy when a check fails")
	}
	if results[1].OK {
		t.Error("expected pack_root check to fail")
	}
	if results[1].Error == "" {
		t.Error("expected error message on failed check")
	}
	if !results[0].OK || results[0].Error != "" {
		t.Errorf("expected database check to pass, got %+v", results[0])
	}
}

func TestRunChecks_Empty(t *testing.T) {
	results, healthy := RunChecks(context.Background(), nil)
	if !healthy {
		t.Error("no checks should report healthy")
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
