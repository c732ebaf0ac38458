package dispatch

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// OutputWriter is an append-only, byte-addressable writer for result lines.
//
// Offset tracks the byte length of everything written (or found) so far;
// it is the value persisted as output_offset in checkpoints. Writes are
// buffered; Flush must be called after each prefix flush so the bytes reach
// the OS and the crash-recovery byte-count heuristic stays correct.
//
// OutputWriter is not safe for concurrent use; the Tracker serialises
// access under its state lock.
type OutputWriter struct {
	file   *os.File
	bw     *bufio.Writer
	path   string
	offset int64
}

// NewOutputWriter opens (creating if necessary) path for appending result
// lines, positioned at the end of any existing content.
func NewOutputWriter(path string) (*OutputWriter, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("seek output %s: %w", path, err)
	}
	return &OutputWriter{
		file:   file,
		bw:     bufio.NewWriter(file),
		path:   path,
		offset: end,
	}, nil
}

// Recover seeks to the checkpointed offset and counts the result lines
// written after it. These are results that reached the file after the last
// checkpoint but before shutdown; the caller advances its watermark by the
// returned count. The writer ends up positioned at the end of the file.
//
// A trailing fragment without a '\n' counts as a line: its result was
// handed to the file before the crash and the matching input line must not
// be re-dispatched.
func (w *OutputWriter) Recover(offset int64) (int, error) {
	if _, err := w.file.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek output %s to %d: %w", w.path, offset, err)
	}

	extra := 0
	br := bufio.NewReader(w.file)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			extra++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("scan output %s: %w", w.path, err)
		}
	}

	end, err := w.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek output %s: %w", w.path, err)
	}
	w.offset = end
	return extra, nil
}

// Append writes raw bytes (the caller includes line terminators).
func (w *OutputWriter) Append(data []byte) error {
	n, err := w.bw.Write(data)
	w.offset += int64(n)
	if err != nil {
		return fmt.Errorf("write output %s: %w", w.path, err)
	}
	return nil
}

// Flush pushes buffered writes to the OS.
func (w *OutputWriter) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush output %s: %w", w.path, err)
	}
	return nil
}

// Offset returns the byte length of the output written so far.
func (w *OutputWriter) Offset() int64 {
	return w.offset
}

// Close flushes and closes the underlying file.
func (w *OutputWriter) Close() error {
	if err := w.Flush(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}
