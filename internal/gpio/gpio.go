// Package gpio provides GPIO input reading with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "time"

// Reader reads the two indicator lines and reports edges on either of them.
type Reader interface {
	// Read returns the raw levels of the open (green) and close (red) lines.
	// Both lines are active-low: true means the LED is off.
	Read() (openHigh bool, closeHigh bool, err error)

	// Edges delivers level changes on either line. At most one edge is
	// queued; further edges are coalesced until it is received.
	Edges() <-chan Edge

	// Close stops edge detection, drives relay outputs low and releases
	// GPIO resources.
	Close() error
}

// Line identifies one of the two indicator lines.
type Line string

const (
	LineOpen  Line = "OPEN"
	LineClose Line = "CLOSE"
)

// Edge is a single level change.
type Edge struct {
	Line   Line
	Rising bool
	// Timestamp is the kernel event time, relative to an arbitrary epoch.
	Timestamp time.Duration
}

// Default pin definitions (BCM numbering) for the interface board.
const (
	DefaultChip          = "gpiochip0"
	DefaultPinOpen       = 27 // green LED, active low
	DefaultPinClose      = 22 // red LED, active low
	DefaultPinRelayClose = 23 // drives T13
	DefaultPinRelayOpen  = 24 // drives T15; T14 is common
)

// Pins selects the chip and line offsets used by the real reader.
type Pins struct {
	Chip       string
	Open       int
	Close      int
	RelayOpen  int
	RelayClose int
}

// DefaultPins returns the interface board wiring.
func DefaultPins() Pins {
	return Pins{
		Chip:       DefaultChip,
		Open:       DefaultPinOpen,
		Close:      DefaultPinClose,
		RelayOpen:  DefaultPinRelayOpen,
		RelayClose: DefaultPinRelayClose,
	}
}

// notify queues e without blocking. A pending edge already tells the
// consumer to sample both lines, so a full queue drops e.
func notify(ch chan Edge, e Edge) bool {
	select {
	case ch <- e:
		return true
	default:
		return false
	}
}
