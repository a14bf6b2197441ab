package observability

import (
	"context"
	"testing"
)

func TestTestLoggerCapturesEntries(t *testing.T) {
	logger := NewTestLogger()

	scoped := logger.
		WithDeployID("01ABC").
		WithSite("app.example.com").
		WithPhase("certificate-pending").
		WithResource("certificate")

	scoped.Info("requesting certificate", map[string]any{"names": []any{"app.example.com"}})
	scoped.Error("request failed", map[string]any{"error_code": "site.provision_failed"})

	entries := logger.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries: %d", len(entries))
	}

	first := entries[0]
	if first.Level != "info" || first.Message != "requesting certificate" {
		t.Fatalf("first entry: %+v", first)
	}
	if first.DeployID != "01ABC" || first.Site != "app.example.com" {
		t.Fatalf("scope lost: %+v", first)
	}
	if first.Phase != "certificate-pending" || first.Resource != "certificate" {
		t.Fatalf("scope lost: %+v", first)
	}

	if entries[1].Level != "error" {
		t.Fatalf("second entry level: %q", entries[1].Level)
	}
}

func TestTestLoggerScopesAreIsolated(t *testing.T) {
	logger := NewTestLogger()

	a := logger.WithSite("a.example.com")
	b := logger.WithSite("b.example.com")
	a.Info("from a")
	b.Info("from b")
	logger.Info("unscoped")

	entries := logger.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries: %d", len(entries))
	}
	if entries[0].Site != "a.example.com" || entries[1].Site != "b.example.com" || entries[2].Site != "" {
		t.Fatalf("scopes bled: %+v", entries)
	}
}

func TestTestLoggerSanitizes(t *testing.T) {
	logger := NewTestLogger()
	logger.Info("creds\nloaded", map[string]any{"aws_secret_access_key": "shh"})

	entries := logger.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries: %d", len(entries))
	}
	if entries[0].Message != "credsloaded" {
		t.Fatalf("message not sanitized: %q", entries[0].Message)
	}
	if entries[0].Fields["aws_secret_access_key"] != "[REDACTED]" {
		t.Fatalf("secret leaked: %v", entries[0].Fields)
	}
}

func TestTestLoggerLifecycle(t *testing.T) {
	logger := NewTestLogger()
	if !logger.IsHealthy() {
		t.Fatal("new logger unhealthy")
	}
	if err := logger.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if logger.IsHealthy() {
		t.Fatal("closed logger healthy")
	}

	logger.Info("after close")
	if len(logger.Entries()) != 0 {
		t.Fatal("closed logger still logs")
	}

	stats := logger.GetStats()
	if stats.FlushCount != 1 || stats.EntriesLogged != 0 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestTestLoggerFlushHonorsContext(t *testing.T) {
	logger := NewTestLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := logger.Flush(ctx); err == nil {
		t.Fatal("Flush ignored canceled context")
	}
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	logger.Info("ignored")
	scoped := logger.WithDeployID("x").WithSite("y").WithPhase("z").WithResource("w").WithField("k", "v")
	scoped.Error("also ignored")

	if !logger.IsHealthy() {
		t.Fatal("noop unhealthy")
	}
	if err := logger.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if stats := logger.GetStats(); stats.EntriesLogged != 0 {
		t.Fatalf("stats: %+v", stats)
	}
}
