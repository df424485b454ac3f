package dmx

import (
	"context"
	"sync"
	"time"

	midi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
)

const (
	// tickInterval approximates the DMX refresh rate of 44Hz.
	tickInterval = time.Second / 44
	// keepaliveInterval bounds how long a universe goes without a
	// frame on the wire, so nodes do not time out on static scenes.
	keepaliveInterval = time.Second
)

// UniverseConfig names a universe and binds it to a transport number.
type UniverseConfig struct {
	Number uint16
	Name   string
}

// Engine owns the dimming state of every configured universe. MIDI
// events update channel targets; Run ticks the interpolation at the
// DMX refresh rate and pushes changed frames to the sink.
//
// A program change sets the transition duration for the universe:
// program value times the speed modifier, in seconds, with zero
// meaning instant. Note on/off events write velocity*2 to the channel
// named by the key, dimmed. Control changes write value*2 to the
// channel named by the controller, bypassing dimming.
type Engine struct {
	logger   *zap.Logger
	sink     Sink
	modifier float64

	mu        sync.RWMutex
	universes map[string]*Universe

	// touched only by the Run goroutine
	lastSent map[uint16]time.Time
}

// NewEngine builds an engine over the configured universes. A
// modifier <= 0 defaults to 1, making the program value the duration
// in seconds.
func NewEngine(modifier float64, configs []UniverseConfig, sink Sink, logger *zap.Logger) *Engine {
	if modifier <= 0 {
		modifier = 1
	}
	universes := make(map[string]*Universe, len(configs))
	for _, cfg := range configs {
		universes[cfg.Name] = NewUniverse(cfg.Number, cfg.Name)
	}
	return &Engine{
		logger:    logger,
		sink:      sink,
		modifier:  modifier,
		universes: universes,
		lastSent:  make(map[uint16]time.Time),
	}
}

// Universe looks up a universe by name.
func (e *Engine) Universe(name string) (*Universe, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	u, ok := e.universes[name]
	return u, ok
}

// HandleMessage applies one MIDI message to the named universe.
// Events for unknown universes and unhandled message types are
// dropped.
func (e *Engine) HandleMessage(universe string, msg midi.Message) {
	u, ok := e.Universe(universe)
	if !ok {
		return
	}
	now := time.Now()

	var ch, key, vel uint8
	switch {
	case msg.GetNoteOn(&ch, &key, &vel):
		u.Set(uint16(key), vel*2, true, now)
	case msg.GetNoteOff(&ch, &key, &vel):
		u.Set(uint16(key), vel*2, true, now)
	case msg.GetProgramChange(&ch, &key):
		d := time.Duration(float64(key) * e.modifier * float64(time.Second))
		u.SetDimDuration(d)
		e.logger.Debug("dim duration updated",
			zap.String("universe", universe),
			zap.Duration("duration", d))
	case msg.GetControlChange(&ch, &key, &vel):
		u.Set(uint16(key), vel*2, false, now)
	default:
		e.logger.Debug("unrecognized MIDI event",
			zap.String("universe", universe),
			zap.String("message", msg.String()))
	}
}

// Write sets a channel directly, merging externally resolved commands
// with dimmer output. External commands carry their own timing, so
// they bypass dimming.
func (e *Engine) Write(universe string, channel uint16, value uint8) {
	u, ok := e.Universe(universe)
	if !ok {
		return
	}
	u.Set(channel, value, false, time.Now())
}

// Run ticks the universes until the context is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.flush(now)
		}
	}
}

// flush advances every universe and sends frames that changed, plus a
// periodic keepalive frame for static universes.
func (e *Engine) flush(now time.Time) {
	e.mu.RLock()
	universes := make([]*Universe, 0, len(e.universes))
	for _, u := range e.universes {
		universes = append(universes, u)
	}
	e.mu.RUnlock()

	for _, u := range universes {
		frame, changed := u.Tick(now)
		if !changed && now.Sub(e.lastSent[u.Number()]) < keepaliveInterval {
			continue
		}
		if err := e.sink.Send(u.Number(), frame[:]); err != nil {
			e.logger.Error("DMX send failed",
				zap.Uint16("universe", u.Number()),
				zap.Error(err))
			continue
		}
		e.lastSent[u.Number()] = now
	}
}
