// Package client is the worker-side helper for talking to a dispatch server.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/dshills/dispatch-go/dispatch"
)

// Work response status values.
const (
	// StatusOK means the response carries a work item.
	StatusOK = "ok"

	// StatusAllWorkComplete means nothing remains anywhere; the worker may
	// exit.
	StatusAllWorkComplete = "all_work_complete"

	// StatusRetry means nothing is dispatchable right now but work remains
	// in flight; the worker should poll again shortly.
	StatusRetry = "retry"

	// StatusServerUnavailable means the server could not be reached or is
	// shutting down; the worker should back off and retry.
	StatusServerUnavailable = "server_unavailable"
)

// WorkResponse is the outcome of a GetWork call. WorkID and Content are
// meaningful only when Status is StatusOK.
type WorkResponse struct {
	Status  string `json:"status"`
	WorkID  int64  `json:"work_id"`
	Content string `json:"content"`
}

// Client wraps the three dispatch routes.
//
// Connection failures are not errors: they surface as
// StatusServerUnavailable so worker loops can back off and retry without
// special-casing transport faults. HTTP-level errors (unexpected status
// codes) are returned as errors.
type Client struct {
	serverURL string
	http      *http.Client
}

// New creates a Client for the given server base URL, e.g.
// "http://localhost:8080".
func New(serverURL string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		http:      &http.Client{},
	}
}

// GetWork requests one work item.
func (c *Client) GetWork(ctx context.Context) (WorkResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/work", nil)
	if err != nil {
		return WorkResponse{}, fmt.Errorf("build /work request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return WorkResponse{}, ctx.Err()
		}
		return WorkResponse{Status: StatusServerUnavailable}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound:
		var work WorkResponse
		if err := json.NewDecoder(resp.Body).Decode(&work); err != nil {
			return WorkResponse{}, fmt.Errorf("decode /work response: %w", err)
		}
		return work, nil
	case http.StatusServiceUnavailable:
		return WorkResponse{Status: StatusServerUnavailable}, nil
	default:
		return WorkResponse{}, fmt.Errorf("GET /work: unexpected status %d", resp.StatusCode)
	}
}

// SubmitResult posts one completed result. Returns the server's status
// string, or StatusServerUnavailable on connection failure.
func (c *Client) SubmitResult(ctx context.Context, workID int64, result string) (string, error) {
	payload, err := json.Marshal(struct {
		WorkID int64  `json:"work_id"`
		Result string `json:"result"`
	}{WorkID: workID, Result: result})
	if err != nil {
		return "", fmt.Errorf("marshal result for %d: %w", workID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/result", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build /result request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return StatusServerUnavailable, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return StatusServerUnavailable, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("POST /result: status %d: %s", resp.StatusCode, body)
	}

	var decoded struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode /result response: %w", err)
	}
	return decoded.Status, nil
}

// GetStatus fetches the tracker's read-only snapshot.
func (c *Client) GetStatus(ctx context.Context) (dispatch.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/status", nil)
	if err != nil {
		return dispatch.Status{}, fmt.Errorf("build /status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return dispatch.Status{}, fmt.Errorf("GET /status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return dispatch.Status{}, fmt.Errorf("GET /status: unexpected status %d", resp.StatusCode)
	}

	var status dispatch.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return dispatch.Status{}, fmt.Errorf("decode /status response: %w", err)
	}
	return status, nil
}
