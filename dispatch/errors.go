// Package dispatch provides a durable work dispatcher for line-oriented
// batch pipelines.
package dispatch

import "errors"

// ErrTrackerClosed is returned by Tracker operations after Close has been
// called. The HTTP layer maps this to a server_unavailable response so late
// workers back off instead of failing.
var ErrTrackerClosed = errors.New("tracker is closed")

// ErrOutputAheadOfInput is returned during recovery when the output file
// contains more result lines than the input file can account for. This
// indicates corruption of one of the two files and there is no safe way to
// resume; the run must be repaired by hand.
var ErrOutputAheadOfInput = errors.New("output file ahead of input: more results than input lines")
