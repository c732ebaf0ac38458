// Package emit provides event emission and observability for work dispatch.
package emit

import "context"

// Emitter receives and processes observability events from the dispatcher.
//
// Emitters enable pluggable observability backends:
//   - Logging: stdout, files, syslog.
//   - Distributed tracing: OpenTelemetry, Jaeger, Zipkin.
//   - Metrics: Prometheus, StatsD.
//
// Implementations should be:
//   - Non-blocking: Avoid slowing down request handling. Emit is called while
//     the dispatcher's state lock is held.
//   - Thread-safe: May be called concurrently from multiple handlers.
//   - Resilient: Handle failures gracefully (don't crash the dispatcher).
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	//
	// Emit should not panic. Errors should be logged internally.
	Emit(event Event)

	// EmitBatch sends multiple events in a single operation.
	//
	// Implementations should process events in order and handle partial
	// failures gracefully. Returns error only on catastrophic failures;
	// individual event failures should be logged but not returned.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush ensures all buffered events are sent to the backend.
	//
	// Call before shutdown to prevent event loss. Implementations should
	// respect context cancellation and be safe to call multiple times.
	Flush(ctx context.Context) error
}
