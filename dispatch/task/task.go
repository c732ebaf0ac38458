// Package task provides worker-side task abstractions driving generation
// backends against dispatched work.
package task

import (
	"fmt"

	"github.com/dshills/dispatch-go/dispatch/backend"
)

// FailedError signals a controlled task failure.
//
// Raising it lets a task terminate itself gracefully with a structured
// error payload that is recorded as its final result line, instead of
// stalling the pipeline.
type FailedError struct {
	Message   string
	ErrorType string
}

// NewFailedError creates a FailedError. Empty errorType defaults to
// "task_logic_error".
func NewFailedError(message, errorType string) *FailedError {
	if errorType == "" {
		errorType = "task_logic_error"
	}
	return &FailedError{Message: message, ErrorType: errorType}
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("[%s] %s", e.ErrorType, e.Message)
}

// Task is the minimal contract any worker task must satisfy.
//
// The Manager drives a task as a small state machine: while the task is
// not done, it asks for the next pending request, runs it through the
// backend, and hands the response back. When Done reports true, Result
// yields the final output line.
type Task interface {
	// NextRequest returns one pending request, or nil if no work is ready
	// right now.
	NextRequest() *backend.Request

	// ProcessResult receives a response from the backend.
	ProcessResult(resp backend.Response)

	// Done reports whether the task has produced its final result.
	Done() bool

	// Result returns the final result line. A *FailedError (or any other
	// error) is rendered by the Manager as a structured failure payload.
	Result() (string, error)
}

// Factory builds a Task from one dispatched input line. Returning an error
// fails the work item with a structured payload instead of crashing the
// worker.
type Factory func(workID int64, content string) (Task, error)

// ChatTask is the common single-round task: one request to the backend,
// whose response text is the final result.
//
// Example:
//
//	factory := func(workID int64, content string) (task.Task, error) {
//	    return task.NewChatTask(backend.Request{
//	        Messages: []backend.Message{{Role: backend.RoleUser, Content: content}},
//	    }), nil
//	}
type ChatTask struct {
	request   backend.Request
	issued    bool
	completed bool
	text      string
	err       error
}

// NewChatTask creates a ChatTask for the given request.
func NewChatTask(request backend.Request) *ChatTask {
	return &ChatTask{request: request}
}

// NextRequest yields the request once.
func (t *ChatTask) NextRequest() *backend.Request {
	if t.issued {
		return nil
	}
	t.issued = true
	req := t.request
	return &req
}

// ProcessResult records the backend response.
func (t *ChatTask) ProcessResult(resp backend.Response) {
	t.completed = true
	if !resp.IsSuccess() {
		t.err = NewFailedError(resp.Err.Error(), "backend_error")
		return
	}
	t.text = resp.Text
}

// Done reports whether the response has arrived.
func (t *ChatTask) Done() bool {
	return t.completed
}

// Result returns the response text, or the recorded failure.
func (t *ChatTask) Result() (string, error) {
	if t.err != nil {
		return "", t.err
	}
	return t.text, nil
}
