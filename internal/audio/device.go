package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrDeviceUnavailable is returned when an output sink cannot be
// opened or started.
var ErrDeviceUnavailable = errors.New("audio: output device unavailable")

// OutputDevice owns the device callback loop. Start begins pulling
// fixed-size blocks through render and returns; playback continues
// until Close.
type OutputDevice interface {
	Start(render func(out []float32)) error
	Close() error
}

// NewOutputDevice selects an output backend by name. Supported:
// "oto" (default), "portaudio", "mock" (wall-clock paced, no
// hardware).
func NewOutputDevice(backend string, format Format, logger *zap.Logger) (OutputDevice, error) {
	switch backend {
	case "", "oto":
		return newOtoDevice(format, logger), nil
	case "portaudio":
		return newPortAudioDevice(format, logger), nil
	case "mock":
		return NewMockDevice(format, true), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q: %w", backend, ErrDeviceUnavailable)
	}
}

// MockDevice renders without hardware. Paced mode ticks itself at the
// block rate for headless operation; unpaced mode is pumped manually
// by tests.
type MockDevice struct {
	format Format
	paced  bool

	mu     sync.Mutex
	render func([]float32)
	block  []float32
	done   chan struct{}
	closed bool
}

// NewMockDevice builds a mock output. With paced set, Start launches a
// goroutine calling render once per block duration.
func NewMockDevice(format Format, paced bool) *MockDevice {
	return &MockDevice{
		format: format,
		paced:  paced,
		block:  make([]float32, format.BlockSamples()),
		done:   make(chan struct{}),
	}
}

// Start implements OutputDevice.
func (d *MockDevice) Start(render func(out []float32)) error {
	d.mu.Lock()
	d.render = render
	d.mu.Unlock()
	if d.paced {
		go d.run()
	}
	return nil
}

func (d *MockDevice) run() {
	t := time.NewTicker(d.format.FramesDuration(uint64(d.format.BufferFrames)))
	defer t.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-t.C:
			d.Pump(1)
		}
	}
}

// Pump renders n blocks immediately.
func (d *MockDevice) Pump(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.render == nil {
		return
	}
	for i := 0; i < n; i++ {
		d.render(d.block)
	}
}

// LastBlock returns a copy of the most recently rendered block.
func (d *MockDevice) LastBlock() []float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float32, len(d.block))
	copy(out, d.block)
	return out
}

// Close implements OutputDevice.
func (d *MockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	return nil
}
