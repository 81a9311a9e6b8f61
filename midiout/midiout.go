// Package midiout is the external MIDI output sink: it owns a connection
// to a MIDI output port and sends raw note/program/control messages on
// behalf of whichever instrument channel the caller names.
package midiout

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // auto-register RtMIDI driver
)

// Controller numbers used for the panic buttons in playback's stopAll.
const (
	ControllerAllSoundsOff = 120
	ControllerAllNotesOff  = 123
)

// Output represents a MIDI output connection, driving up to 16 channels
// concurrently (one per instrument, per config.Config.Channels).
type Output struct {
	port drivers.Out
	send func(msg midi.Message) error
}

// ListPorts returns the available MIDI output port names.
func ListPorts() ([]string, error) {
	ports := midi.GetOutPorts()
	names := make([]string, len(ports))
	for i, port := range ports {
		names[i] = port.String()
	}
	return names, nil
}

// Open opens a MIDI output port by index. Returns an error if no ports are
// available or the index is out of range: the playback backend treats
// that as a sink that failed to initialise and falls back accordingly.
func Open(portIndex int) (*Output, error) {
	port, err := midi.OutPort(portIndex)
	if err != nil {
		return nil, fmt.Errorf("midiout: open port %d: %w", portIndex, err)
	}

	send, err := midi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("midiout: create sender: %w", err)
	}

	return &Output{port: port, send: send}, nil
}

// Close closes the MIDI output port.
func (o *Output) Close() error {
	return o.port.Close()
}

// NoteOn sends a Note On message on channel.
func (o *Output) NoteOn(channel, note, velocity uint8) error {
	return o.send(midi.NoteOn(channel, note, velocity))
}

// NoteOff sends a Note Off message on channel.
func (o *Output) NoteOff(channel, note uint8) error {
	return o.send(midi.NoteOff(channel, note))
}

// ProgramChange selects a GM program on channel, applied at prepare time
// for each melodic instrument.
func (o *Output) ProgramChange(channel, program uint8) error {
	return o.send(midi.ProgramChange(channel, program))
}

// ControlChange sends a controller value on channel: used for the "all
// sounds off" / "all notes off" panic buttons in stopAll.
func (o *Output) ControlChange(channel, controller, value uint8) error {
	return o.send(midi.ControlChange(channel, controller, value))
}

// AllSoundsOff sends controller 120 on channel.
func (o *Output) AllSoundsOff(channel uint8) error {
	return o.ControlChange(channel, ControllerAllSoundsOff, 0)
}

// AllNotesOff sends controller 123 on channel.
func (o *Output) AllNotesOff(channel uint8) error {
	return o.ControlChange(channel, ControllerAllNotesOff, 0)
}
