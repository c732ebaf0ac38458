package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestSQLiteStore_LoadMissing(t *testing.T) {
	store, err := NewSQLiteStore(":memory:", "job-a")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer func() { _ = store.Close() }()

	_, err = store.Load(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "progress.db"), "job-a")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	want := Checkpoint{LastProcessedWorkID: 99, InputOffset: 4096, OutputOffset: 8192}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestSQLiteStore_UpsertReplacesRow(t *testing.T) {
	store, err := NewSQLiteStore(":memory:", "job-a")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	if err := store.Save(ctx, Checkpoint{LastProcessedWorkID: 1, InputOffset: 2, OutputOffset: 3}); err != nil {
		t.Fatal(err)
	}
	want := Checkpoint{LastProcessedWorkID: 10, InputOffset: 20, OutputOffset: 30}
	if err := store.Save(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("expected upserted checkpoint %+v, got %+v", want, got)
	}
}

func TestSQLiteStore_JobsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	ctx := context.Background()

	a, err := NewSQLiteStore(path, "job-a")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = a.Close() }()
	b, err := NewSQLiteStore(path, "job-b")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Close() }()

	if err := a.Save(ctx, Checkpoint{LastProcessedWorkID: 5, InputOffset: 50, OutputOffset: 100}); err != nil {
		t.Fatal(err)
	}

	if _, err := b.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for job-b, got %v", err)
	}

	got, err := a.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastProcessedWorkID != 5 {
		t.Errorf("expected job-a checkpoint to survive, got %+v", got)
	}
}
