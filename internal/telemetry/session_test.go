package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSessionIDPersistsAcrossOpens(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	ctx := context.Background()

	first := EnsureSession(ctx, dbPath, nil)
	if first.ID() == "" || first.Ephemeral() {
		t.Fatalf("first session = %+v, want persisted id", first)
	}
	second := EnsureSession(ctx, dbPath, nil)
	if second.ID() != first.ID() {
		t.Fatalf("session id changed across opens: %q vs %q", first.ID(), second.ID())
	}
}

func TestSessionReset(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	ctx := context.Background()

	store, err := OpenSessionStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	orig, err := store.SessionID(ctx)
	if err != nil {
		t.Fatalf("session id: %v", err)
	}
	reset, err := store.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset == orig {
		t.Fatal("reset returned the old id")
	}
	got, err := store.SessionID(ctx)
	if err != nil {
		t.Fatalf("session id after reset: %v", err)
	}
	if got != reset {
		t.Fatalf("stored id = %q, want %q", got, reset)
	}
}

func TestEphemeralFallback(t *testing.T) {
	// A db path whose parent is a regular file cannot be created.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(blocker, "telemetry.db")

	s := EnsureSession(context.Background(), dbPath, nil)
	if !s.Ephemeral() {
		t.Fatal("expected ephemeral fallback")
	}
	if s.ID() == "" {
		t.Fatal("ephemeral session has no id")
	}
	other := EnsureSession(context.Background(), dbPath, nil)
	if other.ID() == s.ID() {
		t.Fatal("ephemeral sessions should not share an id")
	}
}
