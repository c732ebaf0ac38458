package emit

// Event represents an observability event emitted during dispatch.
//
// Events provide detailed insight into dispatcher behavior:
//   - Work issue, reissue, and completion
//   - Duplicate and unknown completions
//   - Tombstoned (dead-lettered) items
//   - Prefix flushes and checkpoint writes
//
// Events are emitted to an Emitter which can:
//   - Log to stdout/stderr
//   - Send to OpenTelemetry
//   - Store in time-series databases
//   - Trigger alerts
type Event struct {
	// WorkID identifies the work item this event concerns.
	// Negative for dispatcher-level events (checkpoints, shutdown).
	WorkID int64

	// Msg is a short machine-friendly description of the event.
	// Well-known values: "work_issued", "work_reissued", "work_tombstoned",
	// "work_completed", "duplicate_completion", "unknown_completion",
	// "prefix_flush", "checkpoint_written", "tracker_closed".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "retry_count": Reissue count for the item
	//   - "flushed": Number of results written by a prefix flush
	//   - "last_processed_work_id": Contiguous prefix watermark
	//   - "error": Error details
	Meta map[string]interface{}
}
