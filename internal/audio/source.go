package audio

import (
	"math"
	"sync/atomic"
	"time"
)

// noFrame marks an unset frame index on the cancel and fade controls.
const noFrame = math.MaxUint64

// Source produces audio for the mixer. MixInto adds the source's
// contribution for the block of len(out)/channels interleaved frames
// beginning at absolute device frame pos, and reports false once the
// source has nothing further to contribute. Implementations must not
// allocate, block, or lock: MixInto runs on the device callback path.
type Source interface {
	MixInto(out []float32, pos uint64) bool
	Remaining() time.Duration
}

// Buffer is immutable decoded PCM: interleaved float32 at the device
// sample rate, with the source's own channel count. Buffers are shared
// freely between voices; playback state lives in BufferSource.
type Buffer struct {
	Data     []float32
	Channels int
	Rate     int
}

// Frames returns the buffer length in frames.
func (b *Buffer) Frames() uint64 {
	if b.Channels == 0 {
		return 0
	}
	return uint64(len(b.Data) / b.Channels)
}

// Duration returns the buffer length in wall time.
func (b *Buffer) Duration() time.Duration {
	if b.Rate == 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.Rate)
}

// MapChannels routes a named track to physical output channel indices.
// A missing or empty entry is not an error: the track plays nowhere and
// the caller is expected to warn.
func MapChannels(track string, table map[string][]int) []int {
	return table[track]
}

// route pairs one source channel with one destination device channel.
type route struct {
	src int
	dst int
}

// BufferSource plays a Buffer into mapped device channels with a gain,
// an optional absolute start frame, an optional absolute cancel frame,
// and an optional linear fade-out. It serves both song tracks and
// triggered sample voices. The cancel and fade controls may be set from
// any goroutine while the mixer renders.
type BufferSource struct {
	buf      *Buffer
	routes   []route
	devCh    int
	gain     float32
	startAt  uint64
	latch    bool // resolve startAt to the first rendered position
	latched  bool
	bufPos   uint64
	frames   uint64
	cancelAt atomic.Uint64
	fadeAt   atomic.Uint64
	fadeLen  uint64
	done     atomic.Bool
}

// NewBufferSource builds a source playing buf into the given device
// channel indices. Destination channel i draws from source channel
// i % buf.Channels, so a mono buffer feeds every listed output and a
// stereo buffer splits across pairs. Out-of-range destinations are
// dropped. An empty destination list yields a silent source.
func NewBufferSource(buf *Buffer, dst []int, deviceChannels int, gain float32) *BufferSource {
	s := &BufferSource{
		buf:    buf,
		devCh:  deviceChannels,
		gain:   gain,
		latch:  true,
		frames: buf.Frames(),
	}
	for i, d := range dst {
		if d < 0 || d >= deviceChannels {
			continue
		}
		s.routes = append(s.routes, route{src: i % buf.Channels, dst: d})
	}
	s.cancelAt.Store(noFrame)
	s.fadeAt.Store(noFrame)
	return s
}

// StartAt schedules the first audible frame at the absolute device
// frame index. Must be called before the source is handed to the
// mixer. A start in the past begins playback immediately.
func (s *BufferSource) StartAt(frame uint64) {
	s.startAt = frame
	s.latch = false
}

// CancelAt ends the source exactly at the absolute device frame index:
// the frame at cancelAt is the first not rendered. Used for
// sample-accurate cut retriggers. Safe during rendering.
func (s *BufferSource) CancelAt(frame uint64) {
	s.cancelAt.Store(frame)
}

// FadeAt begins a linear gain ramp to zero at the absolute device
// frame index, lasting the given number of frames, after which the
// source finishes. A zero length ends the source at the frame. Safe
// during rendering.
func (s *BufferSource) FadeAt(frame uint64, frames uint64) {
	s.fadeLen = frames
	s.fadeAt.Store(frame)
}

// Finished reports whether the source has stopped contributing audio.
func (s *BufferSource) Finished() bool {
	return s.done.Load()
}

// Remaining returns the wall time left in the buffer, ignoring pending
// cancels and fades.
func (s *BufferSource) Remaining() time.Duration {
	if s.buf.Rate == 0 {
		return 0
	}
	left := s.frames - min(s.bufPos, s.frames)
	return time.Duration(left) * time.Second / time.Duration(s.buf.Rate)
}

// MixInto implements Source.
func (s *BufferSource) MixInto(out []float32, pos uint64) bool {
	if s.done.Load() {
		return false
	}
	if s.latch && !s.latched {
		s.startAt = pos
		s.latched = true
	}

	frames := uint64(len(out) / s.devCh)
	if pos+frames <= s.startAt {
		return true // scheduled but not yet due
	}

	var i uint64
	if s.startAt > pos {
		i = s.startAt - pos
	}

	cancel := s.cancelAt.Load()
	fade := s.fadeAt.Load()

	for ; i < frames; i++ {
		abs := pos + i
		if abs >= cancel || s.bufPos >= s.frames {
			s.done.Store(true)
			return false
		}
		g := s.gain
		if abs >= fade {
			el := abs - fade
			if el >= s.fadeLen {
				s.done.Store(true)
				return false
			}
			g *= 1 - float32(el)/float32(s.fadeLen)
		}
		base := s.bufPos * uint64(s.buf.Channels)
		for _, r := range s.routes {
			out[i*uint64(s.devCh)+uint64(r.dst)] += s.buf.Data[base+uint64(r.src)] * g
		}
		s.bufPos++
	}
	if s.bufPos >= s.frames {
		s.done.Store(true)
		return false
	}
	return true
}
