//go:build linux

package gpio

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads GPIO from actual hardware using Linux GPIO character device.
type RealReader struct {
	chip       *gpiocdev.Chip
	openPin    *gpiocdev.Line
	closePin   *gpiocdev.Line
	relayOpen  *gpiocdev.Line
	relayClose *gpiocdev.Line
	pins       Pins
	edges      chan Edge
}

// NewRealReader requests the indicator lines with edge detection and drives
// the relay lines low.
func NewRealReader(pins Pins) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(pins.Chip)
	if err != nil {
		return nil, errors.Wrapf(err, "open gpio chip %s", pins.Chip)
	}

	r := &RealReader{
		chip:  chip,
		pins:  pins,
		edges: make(chan Edge, 1),
	}

	// The opto-isolators are open-collector, so the inputs need pull-ups.
	// No debounce here; both edges of every transition are wanted.
	r.openPin, err = chip.RequestLine(pins.Open,
		gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(r.handler(LineOpen)))
	if err != nil {
		r.Close()
		return nil, errors.Wrapf(err, "request open pin %d", pins.Open)
	}

	r.closePin, err = chip.RequestLine(pins.Close,
		gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(r.handler(LineClose)))
	if err != nil {
		r.Close()
		return nil, errors.Wrapf(err, "request close pin %d", pins.Close)
	}

	r.relayClose, err = chip.RequestLine(pins.RelayClose, gpiocdev.AsOutput(0))
	if err != nil {
		r.Close()
		return nil, errors.Wrapf(err, "request close relay pin %d", pins.RelayClose)
	}

	r.relayOpen, err = chip.RequestLine(pins.RelayOpen, gpiocdev.AsOutput(0))
	if err != nil {
		r.Close()
		return nil, errors.Wrapf(err, "request open relay pin %d", pins.RelayOpen)
	}

	return r, nil
}

func (r *RealReader) handler(line Line) gpiocdev.EventHandler {
	return func(evt gpiocdev.LineEvent) {
		e := Edge{
			Line:      line,
			Rising:    evt.Type == gpiocdev.LineEventRisingEdge,
			Timestamp: evt.Timestamp,
		}
		if !notify(r.edges, e) {
			logrus.WithFields(logrus.Fields{"line": line, "rising": e.Rising}).Trace("gpio: edge coalesced")
		}
	}
}

// Read returns the raw levels of both indicator lines.
func (r *RealReader) Read() (bool, bool, error) {
	openRaw, err := r.openPin.Value()
	if err != nil {
		return false, false, errors.Wrap(err, "read open pin")
	}
	closeRaw, err := r.closePin.Value()
	if err != nil {
		return false, false, errors.Wrap(err, "read close pin")
	}
	return openRaw != 0, closeRaw != 0, nil
}

// Edges delivers edges from both indicator lines.
func (r *RealReader) Edges() <-chan Edge {
	return r.edges
}

// Close releases GPIO resources.
// Edge detection is removed from the inputs. The relays are driven low and
// then reconfigured to input with pull-down (matching Pi boot defaults), so
// nothing is left energised across a restart.
func (r *RealReader) Close() error {
	var errs []error

	for _, in := range []struct {
		name string
		line *gpiocdev.Line
	}{{"open", r.openPin}, {"close", r.closePin}} {
		if in.line == nil {
			continue
		}
		if err := in.line.Reconfigure(gpiocdev.WithoutEdges); err != nil {
			errs = append(errs, errors.Wrapf(err, "disable edges on %s pin", in.name))
		}
		if err := in.line.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "close %s pin", in.name))
		}
	}

	for _, out := range []struct {
		name string
		line *gpiocdev.Line
	}{{"open relay", r.relayOpen}, {"close relay", r.relayClose}} {
		if out.line == nil {
			continue
		}
		if err := out.line.SetValue(0); err != nil {
			errs = append(errs, errors.Wrapf(err, "drive %s low", out.name))
		}
		if err := out.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, errors.Wrapf(err, "reconfigure %s", out.name))
		}
		if err := out.line.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "close %s", out.name))
		}
	}

	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close chip"))
		}
	}

	if len(errs) > 0 {
		return errors.Errorf("close errors: %v", errs)
	}
	return nil
}
