package task

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/dshills/dispatch-go/dispatch/backend"
	"github.com/dshills/dispatch-go/dispatch/client"
	"github.com/dshills/dispatch-go/dispatch/emit"
)

// Manager runs a pool of workers pulling from a dispatch server, driving
// tasks through a generation backend, and submitting result lines back.
//
// Each worker loops:
//
//	GET /work -> build task via factory -> drive requests through the
//	backend -> POST /result
//
// Workers exit when the server reports all_work_complete, back off on
// server_unavailable, and poll again on retry. Task failures (factory
// errors, FailedError, backend errors) become structured failure lines so
// the pipeline keeps moving.
type Manager struct {
	client  *client.Client
	backend backend.Backend
	factory Factory
	workers int
	poll    time.Duration
	emitter emit.Emitter
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithWorkers sets the worker pool size. Default: 1.
func WithWorkers(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithPollInterval sets the backoff used when the server has nothing
// dispatchable or is unavailable. Default: 5s.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.poll = d
		}
	}
}

// WithEmitter sets the observability emitter. Default: emit.NewNullEmitter().
func WithEmitter(e emit.Emitter) ManagerOption {
	return func(m *Manager) {
		if e != nil {
			m.emitter = e
		}
	}
}

// NewManager creates a Manager.
func NewManager(c *client.Client, b backend.Backend, factory Factory, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:  c,
		backend: b,
		factory: factory,
		workers: 1,
		poll:    5 * time.Second,
		emitter: emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run starts the worker pool and blocks until every worker has exited:
// either the server reported all_work_complete or the context was
// cancelled. Returns the context error on cancellation, nil otherwise.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.workerLoop(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (m *Manager) workerLoop(ctx context.Context) {
	for {
		work, err := m.client.GetWork(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			m.emitter.Emit(emit.Event{
				WorkID: -1,
				Msg:    "worker_error",
				Meta:   map[string]interface{}{"error": err.Error()},
			})
			if !m.sleep(ctx) {
				return
			}
			continue
		}

		switch work.Status {
		case client.StatusAllWorkComplete:
			return
		case client.StatusRetry, client.StatusServerUnavailable:
			if !m.sleep(ctx) {
				return
			}
		case client.StatusOK:
			result := m.runTask(ctx, work.WorkID, work.Content)
			if !m.submit(ctx, work.WorkID, result) {
				return
			}
		default:
			if !m.sleep(ctx) {
				return
			}
		}
	}
}

// runTask drives one task to completion and renders its result line.
func (m *Manager) runTask(ctx context.Context, workID int64, content string) string {
	t, err := m.factory(workID, content)
	if err != nil {
		return renderFailure(workID, err)
	}

	for !t.Done() {
		req := t.NextRequest()
		if req == nil {
			// The task has no pending request but claims not to be done;
			// treat as a logic failure rather than spinning.
			return renderFailure(workID, NewFailedError("task stalled with no pending request", "task_logic_error"))
		}
		t.ProcessResult(m.backend.Generate(ctx, *req))
	}

	result, err := t.Result()
	if err != nil {
		return renderFailure(workID, err)
	}
	// Result lines must be newline-free; escape rather than reject so the
	// item is not lost.
	return strings.ReplaceAll(result, "\n", "\\n")
}

// submit posts the result, backing off while the server is unavailable.
// Returns false when the context ends first.
func (m *Manager) submit(ctx context.Context, workID int64, result string) bool {
	for {
		status, err := m.client.SubmitResult(ctx, workID, result)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			m.emitter.Emit(emit.Event{
				WorkID: workID,
				Msg:    "submit_error",
				Meta:   map[string]interface{}{"error": err.Error()},
			})
			return true
		}
		if status != client.StatusServerUnavailable {
			return true
		}
		if !m.sleep(ctx) {
			return false
		}
	}
}

func (m *Manager) sleep(ctx context.Context) bool {
	select {
	case <-time.After(m.poll):
		return true
	case <-ctx.Done():
		return false
	}
}

// renderFailure builds the structured single-line payload recorded for a
// task that failed in a controlled way.
func renderFailure(workID int64, err error) string {
	errorType := "task_error"
	var failed *FailedError
	if errors.As(err, &failed) {
		errorType = failed.ErrorType
	}

	payload := struct {
		Error struct {
			Error     string `json:"error"`
			ErrorType string `json:"error_type"`
			WorkID    int64  `json:"work_id"`
			Message   string `json:"message"`
		} `json:"__ERROR__"`
	}{}
	payload.Error.Error = "task_failed"
	payload.Error.ErrorType = errorType
	payload.Error.WorkID = workID
	payload.Error.Message = err.Error()

	line, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return `{"__ERROR__":{"error":"task_failed"}}`
	}
	return strings.ReplaceAll(string(line), "\n", "\\n")
}
