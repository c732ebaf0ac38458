package dispatch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LineReader is a sequential, byte-addressable line iterator over the input
// file.
//
// The file is read in binary mode so offsets are true byte positions,
// comparable against the file's size. Offset always points at the first
// byte of the next unread line (the byte after the previous line's '\n').
//
// LineReader is not safe for concurrent use; the Tracker serialises access
// under its state lock.
type LineReader struct {
	file   *os.File
	br     *bufio.Reader
	path   string
	offset int64
}

// NewLineReader opens path for reading positioned at byte 0.
func NewLineReader(path string) (*LineReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", path, err)
	}
	return &LineReader{
		file: file,
		br:   bufio.NewReader(file),
		path: path,
	}, nil
}

// Seek repositions the reader at the given byte offset, discarding any
// buffered data.
func (r *LineReader) Seek(offset int64) error {
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek input %s to %d: %w", r.path, offset, err)
	}
	r.br.Reset(r.file)
	r.offset = offset
	return nil
}

// ReadLine returns the next line with its trailing newline stripped.
//
// A final line without a terminating '\n' is returned as a normal line; the
// following call returns io.EOF. Empty lines are returned as empty strings,
// not skipped.
func (r *LineReader) ReadLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read input %s: %w", r.path, err)
	}
	if len(line) == 0 {
		return "", io.EOF
	}
	r.offset += int64(len(line))
	return strings.TrimSuffix(line, "\n"), nil
}

// Offset returns the byte position after the last line consumed.
func (r *LineReader) Offset() int64 {
	return r.offset
}

// Remaining returns how many bytes of the input file have not been consumed
// yet. The file is stat'ed on every call so appends during the run are
// observed.
func (r *LineReader) Remaining() (int64, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return 0, fmt.Errorf("stat input %s: %w", r.path, err)
	}
	return info.Size() - r.offset, nil
}

// Close closes the underlying file.
func (r *LineReader) Close() error {
	return r.file.Close()
}
