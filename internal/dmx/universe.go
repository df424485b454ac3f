package dmx

import (
	"math"
	"sync"
	"time"
)

// channelState tracks one channel's transition. Each channel carries
// its own start value, start time and duration, so transitions begun
// under different dim speeds run independently.
type channelState struct {
	start    float64
	current  float64
	target   float64
	t0       time.Time
	duration time.Duration
}

// value advances the interpolation to now and returns the channel's
// level.
func (c *channelState) value(now time.Time) float64 {
	if c.duration <= 0 {
		c.current = c.target
		return c.current
	}
	elapsed := now.Sub(c.t0)
	if elapsed < 0 {
		return c.current
	}
	if elapsed >= c.duration {
		c.current = c.target
		c.duration = 0
		return c.current
	}
	frac := float64(elapsed) / float64(c.duration)
	c.current = c.start + (c.target-c.start)*frac
	return c.current
}

// Universe is the dimming state for one DMX universe. Channel state is
// created lazily on first write and lives for the process lifetime.
// Writes come from MIDI handling and the external command sink; frame
// rendering happens on the engine tick.
type Universe struct {
	number uint16
	name   string

	mu       sync.Mutex
	dim      time.Duration
	channels map[uint16]*channelState
	frame    [UniverseSize]byte
}

// NewUniverse creates a universe with the given transport number.
func NewUniverse(number uint16, name string) *Universe {
	return &Universe{
		number:   number,
		name:     name,
		channels: make(map[uint16]*channelState),
	}
}

func (u *Universe) Name() string   { return u.name }
func (u *Universe) Number() uint16 { return u.number }

// SetDimDuration sets the transition duration applied to subsequent
// dimmed writes. Zero means transitions complete instantly. In-flight
// transitions keep the duration they were started with.
func (u *Universe) SetDimDuration(d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dim = d
}

// DimDuration returns the duration applied to new dimmed writes.
func (u *Universe) DimDuration() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dim
}

// Set updates a channel's target. Dimmed writes start a fresh linear
// transition from the channel's current level; undimmed writes take
// effect on the next tick. Channels outside the universe are ignored.
func (u *Universe) Set(channel uint16, value uint8, dim bool, now time.Time) {
	if channel >= UniverseSize {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	cs, ok := u.channels[channel]
	if !ok {
		cs = &channelState{}
		u.channels[channel] = cs
	}
	target := float64(value)
	if !dim || u.dim <= 0 {
		cs.start = target
		cs.current = target
		cs.target = target
		cs.t0 = now
		cs.duration = 0
		return
	}
	cs.start = cs.current
	cs.target = target
	cs.t0 = now
	cs.duration = u.dim
}

// Tick advances every channel to now and returns the universe frame,
// with changed reporting whether any channel moved since the last
// tick.
func (u *Universe) Tick(now time.Time) (frame [UniverseSize]byte, changed bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for ch, cs := range u.channels {
		b := clampByte(cs.value(now))
		if u.frame[ch] != b {
			u.frame[ch] = b
			changed = true
		}
	}
	return u.frame, changed
}

func clampByte(v float64) byte {
	return byte(math.Round(math.Min(math.Max(v, 0), 255)))
}
