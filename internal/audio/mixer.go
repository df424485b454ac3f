package audio

import (
	"errors"
	"sync/atomic"
)

// AddQueueCap bounds the admission queue between producer goroutines
// and the render path.
const AddQueueCap = 64

// ErrBackpressure is returned by Add when the admission queue or the
// source arena is full. The caller retries or drops; it never blocks.
var ErrBackpressure = errors.New("audio: mixer admission queue full")

// Token identifies an admitted source. Tokens are generation-checked:
// once the mixer drops the source, the token goes stale and Remove
// becomes a no-op. The zero Token is never valid.
type Token struct {
	slot uint32
	gen  uint64
}

type mixerSlot struct {
	src       Source
	gen       atomic.Uint64
	cancelGen atomic.Uint64 // gen+1 of the generation to drop
}

// Mixer is the real-time summation engine. Sources live in a
// fixed-size arena; admission crosses into the render path through a
// bounded queue and freed slots return through a second queue, so
// Render never locks or allocates. Finished and removed sources are
// dropped inline during the render pass.
type Mixer struct {
	format Format
	slots  []mixerSlot
	addCh  chan uint32
	freeCh chan uint32

	// Owned by the render path.
	active []uint32

	pos      atomic.Uint64
	count    atomic.Int32
	rejected atomic.Uint64
}

// NewMixer builds a mixer with room for maxSources concurrent sources.
func NewMixer(format Format, maxSources int) *Mixer {
	if maxSources <= 0 {
		maxSources = AddQueueCap
	}
	m := &Mixer{
		format: format,
		slots:  make([]mixerSlot, maxSources),
		addCh:  make(chan uint32, AddQueueCap),
		freeCh: make(chan uint32, maxSources),
		active: make([]uint32, 0, maxSources),
	}
	for i := range m.slots {
		m.slots[i].gen.Store(1)
		m.freeCh <- uint32(i)
	}
	return m
}

// Format returns the mixer's output format.
func (m *Mixer) Format() Format {
	return m.format
}

// Add admits a source for playback and returns its token. It never
// blocks: when the admission queue (or the arena) is full it fails
// with ErrBackpressure immediately.
func (m *Mixer) Add(src Source) (Token, error) {
	var slot uint32
	select {
	case slot = <-m.freeCh:
	default:
		m.rejected.Add(1)
		return Token{}, ErrBackpressure
	}

	m.slots[slot].src = src
	gen := m.slots[slot].gen.Load()

	select {
	case m.addCh <- slot:
	default:
		m.slots[slot].src = nil
		m.freeCh <- slot
		m.rejected.Add(1)
		return Token{}, ErrBackpressure
	}
	return Token{slot: slot, gen: gen}, nil
}

// Remove requests that the token's source be dropped on the next
// render pass. Stale tokens (already-dropped sources) are no-ops, as
// is the zero Token.
func (m *Mixer) Remove(tok Token) {
	if int(tok.slot) >= len(m.slots) {
		return
	}
	s := &m.slots[tok.slot]
	if s.gen.Load() != tok.gen {
		return
	}
	s.cancelGen.Store(tok.gen + 1)
}

// Render fills out with the sum of all active sources, saturated to
// [-1, 1]. Called once per device callback with a fixed-size block; it
// drains the admission queue, mixes, drops finished or removed sources
// inline, and advances the device clock. No locks, no allocation, no
// I/O.
func (m *Mixer) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	for {
		select {
		case slot := <-m.addCh:
			m.active = append(m.active, slot)
			continue
		default:
		}
		break
	}

	pos := m.pos.Load()
	frames := uint64(len(out) / m.format.Channels)

	n := 0
	for _, si := range m.active {
		s := &m.slots[si]
		alive := s.cancelGen.Load() != s.gen.Load()+1
		if alive {
			alive = s.src.MixInto(out, pos)
		}
		if alive {
			m.active[n] = si
			n++
			continue
		}
		s.src = nil
		s.gen.Add(1)
		m.freeCh <- si
	}
	m.active = m.active[:n]

	for i := range out {
		out[i] = Clip(out[i])
	}

	m.pos.Store(pos + frames)
	m.count.Store(int32(n))
}

// Pos returns the absolute device frame position: the total frames
// rendered since start. This is the clock for sample-accurate
// scheduling.
func (m *Mixer) Pos() uint64 {
	return m.pos.Load()
}

// Active returns the number of currently playing sources.
func (m *Mixer) Active() int {
	return int(m.count.Load())
}

// Rejected returns the number of admissions refused with
// ErrBackpressure since start.
func (m *Mixer) Rejected() uint64 {
	return m.rejected.Load()
}
