package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

// TestMySQLStore_Integration exercises the MySQL store against a live server.
//
// Requirements:
//   - TEST_MYSQL_DSN environment variable set with connection string.
//
// Example:
//
//	export TEST_MYSQL_DSN="user:password@tcp(localhost:3306)/test_db?parseTime=true"
//	go test ./dispatch/checkpoint -run TestMySQLStore_Integration
func TestMySQLStore_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL integration test: Set TEST_MYSQL_DSN environment variable to run")
	}

	job := fmt.Sprintf("test-job-%d", time.Now().UnixNano())
	store, err := NewMySQLStore(dsn, job)
	if err != nil {
		t.Fatalf("NewMySQLStore: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	t.Run("load before save returns ErrNotFound", func(t *testing.T) {
		if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("save and load round trip", func(t *testing.T) {
		want := Checkpoint{LastProcessedWorkID: 12, InputOffset: 120, OutputOffset: 240}
		if err := store.Save(ctx, want); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})

	t.Run("upsert replaces row", func(t *testing.T) {
		want := Checkpoint{LastProcessedWorkID: 100, InputOffset: 1000, OutputOffset: 2000}
		if err := store.Save(ctx, want); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})
}
