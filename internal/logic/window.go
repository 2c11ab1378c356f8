package logic

import (
	"sync/atomic"
	"time"
)

// Window is an ordered log of recent color observations.
// Adjacent records never share a color. Not safe for concurrent use apart
// from Trim, which refuses to run re-entrantly.
type Window struct {
	records  []Record
	trimming atomic.Bool
}

// NewWindow creates an empty window.
func NewWindow() *Window {
	return &Window{}
}

// Append records color at now unless it repeats the newest record.
// The controller redraws its LEDs every couple of seconds, so repeats are
// common. Returns whether a record was added.
func (w *Window) Append(color Color, now time.Time) bool {
	if n := len(w.records); n > 0 && w.records[n-1].Color == color {
		return false
	}
	w.records = append(w.records, Record{Time: now, Color: color})
	return true
}

// Trim drops records older than RetentionHorizon from the front of the window.
// With retainNewest set the last remaining record is kept regardless of age.
// Returns whether the window is non-empty afterwards. A call made while
// another Trim is running returns false and leaves the window untouched.
func (w *Window) Trim(now time.Time, retainNewest bool) bool {
	if !w.trimming.CompareAndSwap(false, true) {
		return false
	}
	defer w.trimming.Store(false)

	drop := 0
	for drop < len(w.records) {
		if now.Sub(w.records[drop].Time) <= RetentionHorizon {
			break
		}
		if retainNewest && len(w.records)-drop == 1 {
			break
		}
		drop++
	}
	if drop > 0 {
		w.records = append(w.records[:0], w.records[drop:]...)
	}
	return len(w.records) > 0
}

// Newest returns the most recent record, if any.
func (w *Window) Newest() (Record, bool) {
	if len(w.records) == 0 {
		return Record{}, false
	}
	return w.records[len(w.records)-1], true
}

// Records returns a copy of the window, oldest first.
func (w *Window) Records() []Record {
	out := make([]Record, len(w.records))
	copy(out, w.records)
	return out
}

// Len returns the number of records held.
func (w *Window) Len() int {
	return len(w.records)
}
