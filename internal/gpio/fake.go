package gpio

import (
	"errors"
	"sync"
)

// FakeReader is a test double that returns scripted GPIO values.
type FakeReader struct {
	mu sync.Mutex

	// Samples contains scripted line levels to return.
	// Each call to Read() consumes the next sample.
	Samples []Sample

	// index tracks current position in Samples
	index int

	// Reads counts calls to Read.
	Reads int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error

	edges chan Edge
}

// Sample represents a single GPIO reading of raw line levels.
type Sample struct {
	OpenHigh  bool // true = green LED off
	CloseHigh bool // true = red LED off
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples []Sample) *FakeReader {
	return &FakeReader{
		Samples: samples,
		edges:   make(chan Edge, 1),
	}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Reads++
	if f.ReadError != nil {
		return false, false, f.ReadError
	}
	if len(f.Samples) == 0 {
		return false, false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return sample.OpenHigh, sample.CloseHigh, nil
}

// Set replaces the script with a single sample, as if the lines settled.
func (f *FakeReader) Set(s Sample) {
	f.mu.Lock()
	f.Samples = []Sample{s}
	f.index = 0
	f.mu.Unlock()
}

// SetError makes subsequent reads fail with err.
func (f *FakeReader) SetError(err error) {
	f.mu.Lock()
	f.ReadError = err
	f.mu.Unlock()
}

// ReadCount returns the number of Read calls so far.
func (f *FakeReader) ReadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Reads
}

// Fire injects an edge as the hardware event handler would.
// Returns false if the edge was coalesced into one already queued.
func (f *FakeReader) Fire(e Edge) bool {
	return notify(f.edges, e)
}

// Edges returns the injected edges.
func (f *FakeReader) Edges() <-chan Edge {
	return f.edges
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.mu.Lock()
	f.index = 0
	f.Reads = 0
	f.Closed = false
	f.mu.Unlock()
}
