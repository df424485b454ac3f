// Package midi connects the player to the MIDI world: standard MIDI
// files flattened into wall-clock sheets, a timed replayer with
// cooperative cancellation, and rtmidi-backed port access.
package midi

import (
	"errors"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// ErrDeviceUnavailable is returned when no MIDI port matches the
// requested device name or a send has no port to go to.
var ErrDeviceUnavailable = errors.New("midi: device unavailable")

// Sender pushes MIDI messages somewhere: a hardware output port, a
// mock, or the dimming engine's MIDI input.
type Sender interface {
	Send(msg gomidi.Message) error
}

// Receiver consumes incoming MIDI messages from a device.
type Receiver func(msg gomidi.Message)

// MockSender records everything sent through it.
type MockSender struct {
	mu   sync.Mutex
	sent []gomidi.Message
}

// Send implements Sender.
func (m *MockSender) Send(msg gomidi.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, append(gomidi.Message(nil), msg...))
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockSender) Sent() []gomidi.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]gomidi.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// Reset drops the recorded messages.
func (m *MockSender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
