package logic

import "time"

// Classify ages the window and derives the door state from what is left.
//
// A resting door shows a steady color, so a newest record older than the
// retention horizon is read directly. A moving door flashes between off and
// a color; within the horizon that appears as exactly OFF followed by the
// target color. Orange anywhere in a fresh window wins over everything.
func Classify(w *Window, now time.Time) DoorState {
	w.Trim(now, true)

	newest, ok := w.Newest()
	if !ok {
		return StateNoInput
	}

	if now.Sub(newest.Time) > RetentionHorizon {
		return SteadyState(newest.Color)
	}

	records := w.Records()
	for _, r := range records {
		if r.Color == ColorOrange {
			return StateError
		}
	}

	if newest.Color == ColorOff {
		return StateIndeterminate
	}

	if len(records) == 2 && records[0].Color == ColorOff {
		switch records[1].Color {
		case ColorGreen:
			return StateOpening
		case ColorRed:
			return StateClosing
		}
	}
	return StateIndeterminate
}

// SteadyState returns the resting state shown by a color held steady.
func SteadyState(c Color) DoorState {
	switch c {
	case ColorGreen:
		return StateOpen
	case ColorRed:
		return StateClosed
	case ColorOrange:
		return StateError
	}
	return StateNoInput
}
