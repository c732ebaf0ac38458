package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/dispatch-go/dispatch"
	"github.com/dshills/dispatch-go/dispatch/client"
	"github.com/dshills/dispatch-go/dispatch/server"
)

func newBackedClient(t *testing.T, input string) (*client.Client, *dispatch.Tracker) {
	t.Helper()
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.jsonl")
	if err := os.WriteFile(inputPath, []byte(input), 0o644); err != nil {
		t.Fatal(err)
	}

	tracker, err := dispatch.NewTracker(inputPath,
		filepath.Join(dir, "output.jsonl"), filepath.Join(dir, "progress.ckpt"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tracker.Close() })

	ts := httptest.NewServer(server.New(tracker).Handler())
	t.Cleanup(ts.Close)
	return client.New(ts.URL), tracker
}

func TestClient_GetWorkAndSubmit(t *testing.T) {
	c, _ := newBackedClient(t, "hello\n")
	ctx := context.Background()

	work, err := c.GetWork(ctx)
	if err != nil {
		t.Fatalf("GetWork: %v", err)
	}
	if work.Status != client.StatusOK {
		t.Fatalf("status %q, want ok", work.Status)
	}
	if work.WorkID != 0 || work.Content != "hello" {
		t.Fatalf("unexpected work: %+v", work)
	}

	status, err := c.SubmitResult(ctx, work.WorkID, "HELLO")
	if err != nil {
		t.Fatalf("SubmitResult: %v", err)
	}
	if status != client.StatusOK {
		t.Errorf("submit status %q, want ok", status)
	}

	work, err = c.GetWork(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if work.Status != client.StatusAllWorkComplete {
		t.Errorf("status %q, want all_work_complete", work.Status)
	}
}

func TestClient_RetryWhileInFlight(t *testing.T) {
	c, _ := newBackedClient(t, "only\n")
	ctx := context.Background()

	if _, err := c.GetWork(ctx); err != nil {
		t.Fatal(err)
	}

	work, err := c.GetWork(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if work.Status != client.StatusRetry {
		t.Errorf("status %q, want retry while item in flight", work.Status)
	}
}

func TestClient_ServerUnavailableOnConnectionError(t *testing.T) {
	// Point at a server that is not listening. The port comes from a
	// listener we immediately close, so nothing else can be bound there.
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := client.New(url)
	ctx := context.Background()

	work, err := c.GetWork(ctx)
	if err != nil {
		t.Fatalf("GetWork should not error on connection failure: %v", err)
	}
	if work.Status != client.StatusServerUnavailable {
		t.Errorf("status %q, want server_unavailable", work.Status)
	}

	status, err := c.SubmitResult(ctx, 0, "X")
	if err != nil {
		t.Fatalf("SubmitResult should not error on connection failure: %v", err)
	}
	if status != client.StatusServerUnavailable {
		t.Errorf("status %q, want server_unavailable", status)
	}
}

func TestClient_GetStatus(t *testing.T) {
	c, _ := newBackedClient(t, "a\nb\nc\n")
	ctx := context.Background()

	if _, err := c.GetWork(ctx); err != nil {
		t.Fatal(err)
	}

	status, err := c.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Inflight != 1 {
		t.Errorf("inflight %d, want 1", status.Inflight)
	}
	if status.NextWorkID != 1 {
		t.Errorf("next_work_id %d, want 1", status.NextWorkID)
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	c, _ := newBackedClient(t, "a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.GetWork(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}
