package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "progress.ckpt"))

	_, err := store.Load(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing file, got %v", err)
	}
}

func TestFileStore_LoadEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.ckpt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path)
	_, err := store.Load(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty file, got %v", err)
	}
}

func TestFileStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.ckpt")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path)
	_, err := store.Load(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for corrupt file, got %v", err)
	}
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.ckpt")
	store := NewFileStore(path)
	ctx := context.Background()

	want := Checkpoint{LastProcessedWorkID: 41, InputOffset: 1024, OutputOffset: 2048}
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

	// The temp file must not linger after a successful save.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected %s.tmp to be renamed away, stat err: %v", path, err)
	}
}

func TestFileStore_SaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.ckpt")
	store := NewFileStore(path)
	ctx := context.Background()

	if err := store.Save(ctx, Checkpoint{LastProcessedWorkID: 1, InputOffset: 10, OutputOffset: 20}); err != nil {
		t.Fatal(err)
	}
	want := Checkpoint{LastProcessedWorkID: 7, InputOffset: 70, OutputOffset: 140}
	if err := store.Save(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("expected latest checkpoint %+v, got %+v", want, got)
	}
}

func TestFileStore_FreshStartFields(t *testing.T) {
	// A fresh-start checkpoint with the -1 sentinel must survive the round trip.
	path := filepath.Join(t.TempDir(), "progress.ckpt")
	store := NewFileStore(path)
	ctx := context.Background()

	want := Checkpoint{LastProcessedWorkID: -1}
	if err := store.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastProcessedWorkID != -1 {
		t.Errorf("expected last_processed_work_id -1, got %d", got.LastProcessedWorkID)
	}
}
