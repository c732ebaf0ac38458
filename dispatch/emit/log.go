package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing structured log output to a writer.
//
// Supports two output modes:
//   - Text mode (default): Human-readable format with key=value pairs.
//   - JSON mode: Machine-readable JSON format, one event per line.
//
// Example text output:
//
//	[work_issued] workID=17
//	[work_reissued] workID=4 meta={"retry_count":2}
//
// Example JSON output:
//
//	{"workID":17,"msg":"work_issued","meta":null}
//
// Usage:
//
//	// Text output to stderr.
//	emitter := emit.NewLogEmitter(os.Stderr, false)
//
//	// JSON output to file.
//	f, _ := os.Create("events.jsonl")
//	defer func() { _ = f.Close() }()
//	emitter := emit.NewLogEmitter(f, true)
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a new LogEmitter.
//
// Parameters:
//   - writer: Where to write the log output (e.g., os.Stderr, file).
//   - jsonMode: If true, emit JSON format; if false, emit text format.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stderr
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes an event to the configured writer.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		WorkID int64                  `json:"workID"`
		Msg    string                 `json:"msg"`
		Meta   map[string]interface{} `json:"meta"`
	}{
		WorkID: event.WorkID,
		Msg:    event.Msg,
		Meta:   event.Meta,
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = l.writer.Write(append(data, '\n'))
}

func (l *LogEmitter) emitText(event Event) {
	if len(event.Meta) > 0 {
		meta, err := json.Marshal(event.Meta)
		if err == nil {
			_, _ = fmt.Fprintf(l.writer, "[%s] workID=%d meta=%s\n", event.Msg, event.WorkID, meta)
			return
		}
	}
	_, _ = fmt.Fprintf(l.writer, "[%s] workID=%d\n", event.Msg, event.WorkID)
}

// EmitBatch writes multiple events sequentially.
//
// Events are written in order. Returns the context error if the context is
// cancelled mid-batch.
func (l *LogEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.Emit(event)
	}
	return nil
}

// Flush is a no-op for LogEmitter; writes are unbuffered.
func (l *LogEmitter) Flush(ctx context.Context) error {
	return ctx.Err()
}
