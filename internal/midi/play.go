package midi

import (
	"fmt"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/mdwn/mtrack/internal/playsync"
)

// waitSlice bounds a single sleep between events so cancellation is
// noticed within a fixed interval even across long event gaps.
const waitSlice = 100 * time.Millisecond

// allNotesOff is the control change number silencing a whole channel.
const allNotesOff = 123

// Play replays the sheet against the sender in real time: every event
// is emitted at its offset from the moment Play is called, in sheet
// order, and Play holds through any trailing silence so natural
// completion lands at the full sheet duration. The cancel handle is
// polled between wait slices; cancellation stops playback and returns
// nil, since a stop is a normal outcome. Callers sending to a real
// port should follow a cancelled run with Silence.
func Play(sheet *Sheet, cancel *playsync.CancelHandle, send Sender) error {
	start := time.Now()
	for _, ev := range sheet.Events {
		if !waitUntil(start.Add(ev.At), cancel) {
			return nil
		}
		if err := send.Send(ev.Msg); err != nil {
			return fmt.Errorf("send event at %s: %w", ev.At, err)
		}
	}
	waitUntil(start.Add(sheet.Duration), cancel)
	return nil
}

// waitUntil sleeps in capped slices until the deadline, reporting
// false as soon as the handle is cancelled.
func waitUntil(deadline time.Time, cancel *playsync.CancelHandle) bool {
	for {
		if cancel.IsCancelled() {
			return false
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return true
		}
		if wait > waitSlice {
			wait = waitSlice
		}
		time.Sleep(wait)
	}
}

// Silence sends an all-notes-off control change on every MIDI channel.
func Silence(send Sender) error {
	for ch := uint8(0); ch < 16; ch++ {
		if err := send.Send(gomidi.ControlChange(ch, allNotesOff, 0)); err != nil {
			return fmt.Errorf("all notes off on channel %d: %w", ch, err)
		}
	}
	return nil
}
