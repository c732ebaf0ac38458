package checkpoint

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

// FileStore implements Store as a single JSON file on local disk.
//
// Save writes to path + ".tmp", fsyncs, then renames over path. The rename
// is the atomic commit point: a crash before the rename leaves the previous
// checkpoint intact, a crash after leaves the new one.
//
// Example:
//
//	store := checkpoint.NewFileStore("run/progress.ckpt")
//	cp, err := store.Load(ctx)
//	if errors.Is(err, checkpoint.ErrNotFound) {
//	    // fresh start
//	}
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore persisting to the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the checkpoint file.
//
// Returns ErrNotFound if the file does not exist, is empty, or does not
// parse as a checkpoint; any of those states means progress must be
// re-derived from scratch.
func (f *FileStore) Load(ctx context.Context) (Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return Checkpoint{}, ErrNotFound
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		// A torn or garbled checkpoint is indistinguishable from no
		// checkpoint; recovery starts fresh rather than failing.
		return Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

// Save atomically persists the checkpoint.
func (f *FileStore) Save(ctx context.Context, cp Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := f.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmpPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	return nil
}

// Close is a no-op; FileStore holds no open handles between operations.
func (f *FileStore) Close() error {
	return nil
}
