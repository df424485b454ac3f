// Package dmx drives DMX lighting universes from MIDI events. A
// dimming state machine interpolates per-channel transitions and a
// fixed-rate tick pushes changed frames to a transport sink.
package dmx

import "sync"

// UniverseSize is the channel count of one DMX universe.
const UniverseSize = 512

// Sink transmits full universe frames to a DMX transport.
type Sink interface {
	Send(universe uint16, frame []byte) error
	Close() error
}

// SentFrame is one frame captured by a MockSink.
type SentFrame struct {
	Universe uint16
	Frame    []byte
}

// MockSink records frames for tests.
type MockSink struct {
	mu    sync.Mutex
	sends []SentFrame
}

func NewMockSink() *MockSink {
	return &MockSink{}
}

func (s *MockSink) Send(universe uint16, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.sends = append(s.sends, SentFrame{Universe: universe, Frame: cp})
	return nil
}

func (s *MockSink) Close() error { return nil }

// Sends returns the frames sent so far.
func (s *MockSink) Sends() []SentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentFrame, len(s.sends))
	copy(out, s.sends)
	return out
}
