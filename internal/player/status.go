package player

import (
	"context"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	"github.com/mdwn/mtrack/internal/midi"
)

// DefaultStatusPeriod is the emission interval when none is
// configured.
const DefaultStatusPeriod = time.Second

// StatusEvents groups the MIDI messages a controller surface expects
// for each player condition, typically feeding its LEDs.
type StatusEvents struct {
	// Off is sent once when the emitter shuts down.
	Off []gomidi.Message
	// Idling is sent while no session is active.
	Idling []gomidi.Message
	// Playing is sent while a session is starting or playing.
	Playing []gomidi.Message
}

// StatusEmitter periodically repeats the message group matching the
// player's state, and reacts immediately to state transitions.
type StatusEmitter struct {
	events StatusEvents
	out    midi.Sender
	bc     *Broadcaster
	period time.Duration
	logger *zap.Logger
}

// NewStatusEmitter builds an emitter sending to out on every period
// tick and on every transition published by the broadcaster. A period
// of zero selects DefaultStatusPeriod.
func NewStatusEmitter(events StatusEvents, out midi.Sender, bc *Broadcaster, period time.Duration, logger *zap.Logger) *StatusEmitter {
	if period <= 0 {
		period = DefaultStatusPeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusEmitter{
		events: events,
		out:    out,
		bc:     bc,
		period: period,
		logger: logger,
	}
}

// Run emits until the context is done, then sends the off group.
func (e *StatusEmitter) Run(ctx context.Context) {
	w := e.bc.Subscribe()
	defer e.bc.Unsubscribe(w)

	ticker := time.NewTicker(e.period)
	defer ticker.Stop()

	state := StateIdle
	e.emit(state)
	for {
		select {
		case <-ctx.Done():
			e.send(e.events.Off)
			return
		case st := <-w.C:
			state = st
			e.emit(state)
		case <-ticker.C:
			e.emit(state)
		}
	}
}

// emit sends the group for a state. Starting and Playing count as
// playing; everything else, including the transient terminal states,
// counts as idling.
func (e *StatusEmitter) emit(st State) {
	switch st {
	case StateStarting, StatePlaying:
		e.send(e.events.Playing)
	default:
		e.send(e.events.Idling)
	}
}

func (e *StatusEmitter) send(msgs []gomidi.Message) {
	for _, msg := range msgs {
		if err := e.out.Send(msg); err != nil {
			e.logger.Error("status event failed", zap.Error(err))
			return
		}
	}
}
