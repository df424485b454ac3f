package player

import (
	"bytes"
	"context"
	"testing"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/mdwn/mtrack/internal/midi"
)

func containsMessage(msgs []gomidi.Message, want gomidi.Message) bool {
	for _, m := range msgs {
		if bytes.Equal(m, want) {
			return true
		}
	}
	return false
}

func TestStatusEmitter(t *testing.T) {
	offMsg := gomidi.ControlChange(15, 0, 0)
	idleMsg := gomidi.ControlChange(15, 1, 0)
	playMsg := gomidi.ControlChange(15, 1, 127)

	bc := NewBroadcaster()
	out := &midi.MockSender{}
	e := NewStatusEmitter(StatusEvents{
		Off:     []gomidi.Message{offMsg},
		Idling:  []gomidi.Message{idleMsg},
		Playing: []gomidi.Message{playMsg},
	}, out, bc, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool {
		return containsMessage(out.Sent(), idleMsg)
	}, "no idling emission")

	sent := out.Sent()
	if !bytes.Equal(sent[0], idleMsg) {
		t.Fatalf("first emission %s, want idling", sent[0])
	}

	bc.publish(StatePlaying)
	waitFor(t, 2*time.Second, func() bool {
		return containsMessage(out.Sent(), playMsg)
	}, "no playing emission after transition")

	bc.publish(StateIdle)
	before := len(out.Sent())
	waitFor(t, 2*time.Second, func() bool {
		sent := out.Sent()
		return len(sent) > before && bytes.Equal(sent[len(sent)-1], idleMsg)
	}, "no idling emission after returning to idle")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emitter did not stop")
	}

	sent = out.Sent()
	if !bytes.Equal(sent[len(sent)-1], offMsg) {
		t.Fatalf("last emission %s, want off", sent[len(sent)-1])
	}
}

func TestStatusEmitterRepeatsOnPeriod(t *testing.T) {
	idleMsg := gomidi.ControlChange(15, 1, 0)

	bc := NewBroadcaster()
	out := &midi.MockSender{}
	e := NewStatusEmitter(StatusEvents{
		Idling: []gomidi.Message{idleMsg},
	}, out, bc, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return len(out.Sent()) >= 3
	}, "emitter did not repeat on its period")
}
