package player

import (
	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/mdwn/mtrack/internal/midi"
	"github.com/mdwn/mtrack/internal/samples"
)

// Track is one audio stem of a song. Channel numbers are 1-based as
// they appear in song descriptions.
type Track struct {
	Name string
	File string
	// FileChannel picks a single channel out of a multichannel file.
	// Zero routes the whole file in channel order.
	FileChannel int
	// OutputChannels lists the device channels this track plays to.
	// When empty the player's channel-mapping table is consulted under
	// the track name.
	OutputChannels []int
}

// LightShow binds an SMF to a DMX universe. Only events on the listed
// SMF channels reach the universe; an empty list keeps every event.
type LightShow struct {
	Universe     string
	File         string
	MIDIChannels []uint8
}

// Song describes everything one session plays. Audio tracks, the MIDI
// file, and light shows are each optional; a session runs whichever
// media are present.
type Song struct {
	Name string

	Tracks []Track

	// MIDIFile plays alongside the audio tracks, minus the events on
	// the excluded SMF channels.
	MIDIFile            string
	ExcludeMIDIChannels []uint8
	// Transformers rewrite the MIDI sheet before playback.
	Transformers []midi.Transformer

	// SelectionEvent is sent to the MIDI output when this song becomes
	// the current selection, typically a program change that configures
	// connected gear. Nil means no event.
	SelectionEvent gomidi.Message

	LightShows []LightShow

	// Samples overrides same-named global sample definitions for the
	// duration of the session. Definitions must be preloaded.
	Samples []*samples.Definition
}
