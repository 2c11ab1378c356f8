package gpio

import (
	"errors"
	"testing"
)

func TestFakeReaderRead(t *testing.T) {
	samples := []Sample{
		{OpenHigh: true, CloseHigh: false},
		{OpenHigh: false, CloseHigh: true},
		{OpenHigh: false, CloseHigh: false},
	}
	f := NewFakeReader(samples)

	// Read first sample
	open, cls, err := f.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if open != true || cls != false {
		t.Errorf("sample 0: expected (true, false), got (%v, %v)", open, cls)
	}

	// Read second sample
	open, cls, err = f.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if open != false || cls != true {
		t.Errorf("sample 1: expected (false, true), got (%v, %v)", open, cls)
	}

	// Read third sample
	open, cls, err = f.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if open != false || cls != false {
		t.Errorf("sample 2: expected (false, false), got (%v, %v)", open, cls)
	}

	// Fourth read should repeat last sample
	open, cls, err = f.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if open != false || cls != false {
		t.Errorf("sample 3 (repeat): expected (false, false), got (%v, %v)", open, cls)
	}

	if f.ReadCount() != 4 {
		t.Errorf("expected 4 reads, got %d", f.ReadCount())
	}
}

func TestFakeReaderNoSamples(t *testing.T) {
	f := NewFakeReader(nil)
	_, _, err := f.Read()
	if err == nil {
		t.Error("expected error with no samples")
	}
}

func TestFakeReaderError(t *testing.T) {
	f := NewFakeReader([]Sample{{OpenHigh: true, CloseHigh: true}})
	f.SetError(errors.New("simulated error"))

	_, _, err := f.Read()
	if err == nil {
		t.Error("expected error to be returned")
	}
	if err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFakeReaderSet(t *testing.T) {
	f := NewFakeReader([]Sample{{OpenHigh: true, CloseHigh: true}, {OpenHigh: true, CloseHigh: true}})
	f.Set(Sample{OpenHigh: false, CloseHigh: true})

	for i := 0; i < 3; i++ {
		open, cls, _ := f.Read()
		if open != false || cls != true {
			t.Errorf("read %d: expected (false, true), got (%v, %v)", i, open, cls)
		}
	}
}

func TestFakeReaderEdgesCoalesce(t *testing.T) {
	f := NewFakeReader([]Sample{{OpenHigh: true, CloseHigh: true}})

	if !f.Fire(Edge{Line: LineOpen, Rising: false}) {
		t.Fatal("first edge should be queued")
	}
	if f.Fire(Edge{Line: LineClose, Rising: true}) {
		t.Error("second edge should be coalesced while one is queued")
	}

	e := <-f.Edges()
	if e.Line != LineOpen {
		t.Errorf("expected queued edge from OPEN line, got %s", e.Line)
	}

	if !f.Fire(Edge{Line: LineClose, Rising: true}) {
		t.Error("edge should be queued once the channel drained")
	}
}

func TestFakeReaderClose(t *testing.T) {
	f := NewFakeReader([]Sample{{OpenHigh: true, CloseHigh: true}})

	if f.Closed {
		t.Error("should not be closed initially")
	}

	err := f.Close()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}

func TestFakeReaderReset(t *testing.T) {
	samples := []Sample{
		{OpenHigh: true, CloseHigh: false},
		{OpenHigh: false, CloseHigh: true},
	}
	f := NewFakeReader(samples)

	// Consume first sample
	f.Read()

	// Reset
	f.Reset()

	// Should read first sample again
	open, cls, _ := f.Read()
	if open != true || cls != false {
		t.Errorf("after reset: expected (true, false), got (%v, %v)", open, cls)
	}
}

func TestDefaultPins(t *testing.T) {
	p := DefaultPins()
	if p.Chip != "gpiochip0" {
		t.Errorf("Chip: got %q, want gpiochip0", p.Chip)
	}
	if p.Open != 27 || p.Close != 22 {
		t.Errorf("inputs: got open=%d close=%d, want 27/22", p.Open, p.Close)
	}
	if p.RelayClose != 23 || p.RelayOpen != 24 {
		t.Errorf("relays: got close=%d open=%d, want 23/24", p.RelayClose, p.RelayOpen)
	}
}
