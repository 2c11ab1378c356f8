//go:build !linux

package gpio

import "github.com/pkg/errors"

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(pins Pins) (*RealReader, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (r *RealReader) Read() (bool, bool, error) {
	return false, false, errors.New("gpio: not supported")
}

// Edges returns a channel that never delivers.
func (r *RealReader) Edges() <-chan Edge {
	return nil
}

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}
