package midiout

import "testing"

// TestListPorts exercises ListPorts without asserting specific port names,
// since that depends on the host's connected MIDI devices.
func TestListPorts(t *testing.T) {
	ports, err := ListPorts()
	if err != nil {
		t.Errorf("ListPorts() unexpected error: %v", err)
	}
	if ports == nil {
		t.Error("ListPorts() returned nil instead of an empty slice")
	}
}

// TestOpenInvalidPort exercises the fallback path: an out-of-range index
// must fail cleanly so the playback backend can try the other sink.
func TestOpenInvalidPort(t *testing.T) {
	if _, err := Open(9999); err == nil {
		t.Error("Open(9999) should return an error for an invalid port index")
	}
}

// TestOutputAPIShape is a compile-time check that Output exposes the
// methods the playback backend depends on.
func TestOutputAPIShape(t *testing.T) {
	var o *Output
	_ = func(channel, note, velocity uint8) error { return o.NoteOn(channel, note, velocity) }
	_ = func(channel, note uint8) error { return o.NoteOff(channel, note) }
	_ = func(channel, program uint8) error { return o.ProgramChange(channel, program) }
	_ = func(channel uint8) error { return o.AllSoundsOff(channel) }
	_ = func(channel uint8) error { return o.AllNotesOff(channel) }
	_ = func() error { return o.Close() }
}
