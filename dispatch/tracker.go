package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/dshills/dispatch-go/dispatch/checkpoint"
	"github.com/dshills/dispatch-go/dispatch/emit"
)

// WorkItem is one unit of work handed to a worker: a line of the input file
// plus the dense, monotonically increasing id assigned at issue time.
type WorkItem struct {
	WorkID  int64  `json:"work_id"`
	Content string `json:"content"`
}

// Result is a completed unit of work as submitted by a worker. The result
// string becomes one line of the output file and must not contain a
// newline.
type Result struct {
	WorkID int64
	Result string
}

// Status is a read-only snapshot of tracker state, served by GET /status.
type Status struct {
	LastProcessedWorkID int64 `json:"last_processed_work_id"`
	NextWorkID          int64 `json:"next_work_id"`
	Inflight            int   `json:"inflight"`
	PendingWrites       int   `json:"pending_writes"`
	HeapSize            int   `json:"heap_size"`
	ExpiredReissues     int64 `json:"expired_reissues"`
	Tombstones          int64 `json:"tombstones"`
	InputDrained        bool  `json:"input_drained"`
	AllWorkComplete     bool  `json:"all_work_complete"`
}

// issuedWork is the bookkeeping for one in-flight item.
type issuedWork struct {
	content     string
	inputOffset int64
	retryCount  int
}

// Tracker is the durable work dispatcher core.
//
// It owns the input cursor, output cursor, in-flight table, reissue heap,
// pending-write buffer, and checkpoint store. Work is handed out in batches,
// completions arrive in any order, and results are written to the output
// file in strict input order by draining the pending buffer from the
// contiguous watermark upward.
//
// A single mutex serialises every public operation. Operations are short:
// bounded in-memory work plus one line of input I/O per issued item and a
// batched append on flush. No operation blocks on the network while holding
// the lock.
//
// Durability model: progress is persisted as the triple
// (last_processed_work_id, input_offset, output_offset), written at most
// once per checkpoint interval and once more on Close. A crash between a
// result write and the next checkpoint loses no work: on restart the extra
// output lines are counted and both cursors are rolled forward past them,
// so every result line is written at most once. Items that were in flight
// at the crash are re-read from the input and dispatched again; delivery is
// at-least-once with deduplication on completion.
type Tracker struct {
	mu sync.Mutex

	reader  *LineReader
	writer  *OutputWriter
	store   checkpoint.Store
	emitter emit.Emitter
	metrics *Metrics

	workTimeout        time.Duration
	checkpointInterval time.Duration
	maxRetries         int
	now                func() time.Time

	lastProcessedID int64
	nextWorkID      int64
	inputOffset     int64

	issued  map[int64]issuedWork
	heap    reissueHeap
	pending map[int64]string

	lastCheckpoint  time.Time
	expiredReissues int64
	tombstones      int64
	closed          bool
}

// NewTracker opens the input, output, and checkpoint files and recovers any
// previous progress.
//
// Both file cursors are restored from the checkpoint (a missing checkpoint
// counts as one at the start of both files) and any output lines written
// after it are counted to roll the contiguous watermark forward, consuming
// the matching input lines. If the output holds more extra lines than the
// input can account for, ErrOutputAheadOfInput is returned.
//
// checkpointPath is ignored when WithCheckpointStore supplies a store.
func NewTracker(inputPath, outputPath, checkpointPath string, opts ...Option) (*Tracker, error) {
	cfg := trackerConfig{
		workTimeout:        DefaultWorkTimeout,
		checkpointInterval: DefaultCheckpointInterval,
		maxRetries:         DefaultMaxRetries,
		emitter:            emit.NewNullEmitter(),
		now:                time.Now,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("invalid tracker option: %w", err)
		}
	}
	if cfg.store == nil {
		if checkpointPath == "" {
			return nil, fmt.Errorf("checkpoint path required without WithCheckpointStore")
		}
		cfg.store = checkpoint.NewFileStore(checkpointPath)
	}

	reader, err := NewLineReader(inputPath)
	if err != nil {
		return nil, err
	}
	writer, err := NewOutputWriter(outputPath)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}

	t := &Tracker{
		reader:             reader,
		writer:             writer,
		store:              cfg.store,
		emitter:            cfg.emitter,
		metrics:            cfg.metrics,
		workTimeout:        cfg.workTimeout,
		checkpointInterval: cfg.checkpointInterval,
		maxRetries:         cfg.maxRetries,
		now:                cfg.now,
		lastProcessedID:    -1,
		issued:             make(map[int64]issuedWork),
		pending:            make(map[int64]string),
	}

	if err := t.loadCheckpoint(); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, err
	}

	t.nextWorkID = t.lastProcessedID + 1
	t.lastCheckpoint = t.now()
	return t, nil
}

// loadCheckpoint restores cursors from the checkpoint store and re-derives
// progress made between the last checkpoint and shutdown from the output
// file's length.
func (t *Tracker) loadCheckpoint() error {
	cp, err := t.store.Load(context.Background())
	if errors.Is(err, checkpoint.ErrNotFound) {
		// No checkpoint is the zero checkpoint: nothing confirmed written.
		// The alignment below still runs so that results which reached the
		// output file before a checkpoint ever got written are not
		// re-dispatched.
		cp = checkpoint.Checkpoint{LastProcessedWorkID: -1}
	} else if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	t.lastProcessedID = cp.LastProcessedWorkID
	t.inputOffset = cp.InputOffset
	if err := t.reader.Seek(cp.InputOffset); err != nil {
		return err
	}

	// Results written after the checkpoint but before shutdown sit past
	// output_offset. Each one accounts for exactly one input line, so both
	// cursors roll forward together.
	extra, err := t.writer.Recover(cp.OutputOffset)
	if err != nil {
		return err
	}
	for i := 0; i < extra; i++ {
		if _, err := t.reader.ReadLine(); err != nil {
			if err == io.EOF {
				return ErrOutputAheadOfInput
			}
			return err
		}
	}
	t.lastProcessedID += int64(extra)
	t.inputOffset = t.reader.Offset()
	return nil
}

// GetWorkBatch returns up to batchSize items, prioritising expired reissues
// over fresh input reads. An empty batch means no work is dispatchable
// right now; the input may be exhausted or everything may be in flight.
//
// batchSize values below 1 are treated as 1.
func (t *Tracker) GetWorkBatch(batchSize int) ([]WorkItem, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTrackerClosed
	}

	now := t.now()
	var batch []WorkItem

	// Reissue pass: drain expired entries in heap order. Stale entries
	// (item already written, or completed and parked in pending) are
	// discarded lazily here rather than removed at completion time.
	for t.heap.Len() > 0 && len(batch) < batchSize {
		top := t.heap[0]

		work, inflight := t.issued[top.workID]
		if _, completed := t.pending[top.workID]; !inflight || completed {
			heap.Pop(&t.heap)
			continue
		}

		if now.Sub(top.issuedAt) <= t.workTimeout {
			// The oldest live entry has not expired; nothing later has
			// either.
			break
		}

		heap.Pop(&t.heap)

		if t.maxRetries >= 0 && work.retryCount >= t.maxRetries {
			if err := t.tombstoneLocked(top.workID, work, now); err != nil {
				return nil, err
			}
			continue
		}

		work.retryCount++
		t.issued[top.workID] = work
		heap.Push(&t.heap, heapEntry{issuedAt: now, workID: top.workID})
		t.expiredReissues++
		t.metrics.observeReissue()
		t.emitter.Emit(emit.Event{
			WorkID: top.workID,
			Msg:    "work_reissued",
			Meta: map[string]interface{}{
				"retry_count":      work.retryCount,
				"expired_reissues": t.expiredReissues,
			},
		})
		batch = append(batch, WorkItem{WorkID: top.workID, Content: work.content})
	}

	// Fresh-read pass: hand out new input lines until the batch is full or
	// the input is exhausted.
	fresh := 0
	for len(batch) < batchSize {
		content, err := t.reader.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		workID := t.nextWorkID
		t.nextWorkID++
		t.issued[workID] = issuedWork{
			content:     content,
			inputOffset: t.reader.Offset(),
		}
		heap.Push(&t.heap, heapEntry{issuedAt: now, workID: workID})
		fresh++
		t.emitter.Emit(emit.Event{WorkID: workID, Msg: "work_issued"})
		batch = append(batch, WorkItem{WorkID: workID, Content: content})
	}

	if fresh > 0 {
		t.metrics.observeIssued(fresh)
	}
	if len(batch) > 0 {
		t.metrics.observeBatch(len(batch))
	}
	t.metrics.setQueueDepths(len(t.issued), len(t.pending), t.heap.Len())
	return batch, nil
}

// tombstoneLocked dead-letters a pathological item by synthesizing an error
// result and completing it through the normal completion path, preserving
// prefix ordering and checkpoint timing.
func (t *Tracker) tombstoneLocked(workID int64, work issuedWork, now time.Time) error {
	payload := struct {
		Error struct {
			Error           string `json:"error"`
			WorkID          int64  `json:"work_id"`
			OriginalContent string `json:"original_content"`
		} `json:"__ERROR__"`
	}{}
	payload.Error.Error = "max_retries_exceeded"
	payload.Error.WorkID = workID
	payload.Error.OriginalContent = strings.TrimSpace(work.content)

	line, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal tombstone for %d: %w", workID, err)
	}

	t.tombstones++
	t.metrics.observeTombstone()
	t.emitter.Emit(emit.Event{
		WorkID: workID,
		Msg:    "work_tombstoned",
		Meta: map[string]interface{}{
			"error":       "max_retries_exceeded",
			"retry_count": work.retryCount,
		},
	})
	return t.completeLocked([]Result{{WorkID: workID, Result: string(line)}}, now)
}

// CompleteWorkBatch accepts worker results. Duplicates and completions for
// never-issued ids are discarded with a warning event. Accepted results are
// buffered and the contiguous prefix is flushed to the output file; a
// checkpoint is written when the checkpoint interval has elapsed.
func (t *Tracker) CompleteWorkBatch(results []Result) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrackerClosed
	}
	return t.completeLocked(results, t.now())
}

// completeLocked is the internal completion path. The caller holds the
// state lock. Tombstones funnel through here as well so dead-letter lines
// obey the same ordering rules as worker results.
func (t *Tracker) completeLocked(results []Result, now time.Time) error {
	accepted := 0
	for _, r := range results {
		if _, duplicate := t.pending[r.WorkID]; r.WorkID <= t.lastProcessedID || duplicate {
			t.metrics.observeDuplicate()
			t.emitter.Emit(emit.Event{WorkID: r.WorkID, Msg: "duplicate_completion"})
			continue
		}
		if _, inflight := t.issued[r.WorkID]; !inflight {
			t.metrics.observeDuplicate()
			t.emitter.Emit(emit.Event{WorkID: r.WorkID, Msg: "unknown_completion"})
			continue
		}
		t.pending[r.WorkID] = r.Result
		accepted++
		t.emitter.Emit(emit.Event{WorkID: r.WorkID, Msg: "work_completed"})
	}
	if accepted > 0 {
		t.metrics.observeCompleted(accepted)
	}

	if err := t.flushPendingLocked(); err != nil {
		return err
	}

	if now.Sub(t.lastCheckpoint) >= t.checkpointInterval {
		if err := t.writeCheckpointLocked(); err != nil {
			// The previous checkpoint is intact; the next completion batch
			// retries.
			t.emitter.Emit(emit.Event{
				WorkID: -1,
				Msg:    "checkpoint_failed",
				Meta:   map[string]interface{}{"error": err.Error()},
			})
		} else {
			t.lastCheckpoint = now
		}
	}

	t.metrics.setQueueDepths(len(t.issued), len(t.pending), t.heap.Len())
	return nil
}

// flushPendingLocked drains the pending buffer from the contiguous
// watermark upward, appending each result line to the output file in a
// single batched write.
func (t *Tracker) flushPendingLocked() error {
	var buf []byte
	flushed := 0

	for id := t.lastProcessedID + 1; ; id++ {
		result, ok := t.pending[id]
		if !ok {
			break
		}
		delete(t.pending, id)
		t.lastProcessedID = id

		work := t.issued[id]
		t.inputOffset = work.inputOffset
		delete(t.issued, id)

		buf = append(buf, result...)
		buf = append(buf, '\n')
		flushed++
	}

	if flushed == 0 {
		return nil
	}
	if err := t.writer.Append(buf); err != nil {
		return err
	}
	if err := t.writer.Flush(); err != nil {
		return err
	}
	t.emitter.Emit(emit.Event{
		WorkID: t.lastProcessedID,
		Msg:    "prefix_flush",
		Meta: map[string]interface{}{
			"flushed":                flushed,
			"last_processed_work_id": t.lastProcessedID,
		},
	})
	return nil
}

// writeCheckpointLocked persists the progress triple through the store.
func (t *Tracker) writeCheckpointLocked() error {
	cp := checkpoint.Checkpoint{
		LastProcessedWorkID: t.lastProcessedID,
		InputOffset:         t.inputOffset,
		OutputOffset:        t.writer.Offset(),
	}
	if err := t.store.Save(context.Background(), cp); err != nil {
		return err
	}
	t.emitter.Emit(emit.Event{
		WorkID: -1,
		Msg:    "checkpoint_written",
		Meta: map[string]interface{}{
			"last_processed_work_id": cp.LastProcessedWorkID,
			"input_offset":           cp.InputOffset,
			"output_offset":          cp.OutputOffset,
		},
	})
	return nil
}

// InputDrained reports whether the input file is exhausted and no completed
// results are waiting to be written. Items may still be in flight; use
// AllWorkComplete to decide whether the run is finished.
func (t *Tracker) InputDrained() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false, ErrTrackerClosed
	}
	return t.inputDrainedLocked()
}

func (t *Tracker) inputDrainedLocked() (bool, error) {
	remaining, err := t.reader.Remaining()
	if err != nil {
		return false, err
	}
	return remaining == 0 && len(t.pending) == 0, nil
}

// AllWorkComplete reports whether every input line has been issued,
// completed, and written. Unlike InputDrained it also requires the
// in-flight table to be empty, so a true return means no item can ever be
// reissued and workers may terminate.
func (t *Tracker) AllWorkComplete() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false, ErrTrackerClosed
	}
	drained, err := t.inputDrainedLocked()
	if err != nil {
		return false, err
	}
	return drained && len(t.issued) == 0, nil
}

// Status returns a read-only snapshot of tracker state.
func (t *Tracker) Status() (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Status{}, ErrTrackerClosed
	}

	drained, err := t.inputDrainedLocked()
	if err != nil {
		return Status{}, err
	}
	return Status{
		LastProcessedWorkID: t.lastProcessedID,
		NextWorkID:          t.nextWorkID,
		Inflight:            len(t.issued),
		PendingWrites:       len(t.pending),
		HeapSize:            t.heap.Len(),
		ExpiredReissues:     t.expiredReissues,
		Tombstones:          t.tombstones,
		InputDrained:        drained,
		AllWorkComplete:     drained && len(t.issued) == 0,
	}, nil
}

// Close writes a final checkpoint and closes the input, output, and
// checkpoint stores. Items still in flight are not lost: the checkpoint's
// input_offset reflects only the contiguous-written prefix, so the next
// startup re-reads and re-dispatches them.
//
// Operations after Close return ErrTrackerClosed. Close is idempotent.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var firstErr error
	if err := t.writeCheckpointLocked(); err != nil {
		firstErr = fmt.Errorf("final checkpoint: %w", err)
	}
	if err := t.reader.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := t.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := t.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	t.emitter.Emit(emit.Event{
		WorkID: -1,
		Msg:    "tracker_closed",
		Meta: map[string]interface{}{
			"last_processed_work_id": t.lastProcessedID,
			"inflight":               len(t.issued),
			"pending_writes":         len(t.pending),
			"expired_reissues":       t.expiredReissues,
		},
	})
	return firstErr
}
