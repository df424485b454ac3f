// Package samples implements the polyphonic one-shot sample engine:
// preloaded sample definitions triggered by MIDI note events, with
// velocity handling, retrigger policy, note-off policy, and voice
// limits, feeding the mixer through its bounded admission queue.
package samples

import (
	"time"

	"github.com/mdwn/mtrack/internal/audio"
)

// Engine defaults.
const (
	DefaultMaxVoices     = 32
	DefaultFixedVelocity = 100
	DefaultFadeTime      = 50 * time.Millisecond
)

// VelocityMode selects how an incoming note's velocity shapes playback.
type VelocityMode int

const (
	// VelocityIgnore plays at the definition's fixed velocity.
	VelocityIgnore VelocityMode = iota
	// VelocityScale maps velocity 0-127 linearly to gain 0-1.
	VelocityScale
	// VelocityLayers picks the layer whose range contains the velocity.
	VelocityLayers
)

// NoteOffMode selects what a note-off does to sounding voices.
type NoteOffMode int

const (
	// NoteOffPlayToCompletion ignores note-off entirely.
	NoteOffPlayToCompletion NoteOffMode = iota
	// NoteOffStop ends the voice immediately.
	NoteOffStop
	// NoteOffFade ramps the voice to silence over the fade time.
	NoteOffFade
)

// RetriggerMode selects what a new trigger does to sounding voices of
// the same sample.
type RetriggerMode int

const (
	// RetriggerCut hands off to the new voice at its exact start
	// frame: no gap, no overlap.
	RetriggerCut RetriggerMode = iota
	// RetriggerPolyphonic stacks a new voice on the old ones.
	RetriggerPolyphonic
)

// Layer is one velocity-split sample file. Ranges are inclusive and by
// configuration contract non-overlapping; when they do overlap, the
// first matching layer in declaration order wins.
type Layer struct {
	Path        string
	MinVelocity uint8
	MaxVelocity uint8

	buf *audio.Buffer
}

// Definition is an immutable, preloaded sample. Path carries the audio
// for the ignore and scale velocity modes; Layers carries it for the
// layers mode.
type Definition struct {
	Name          string
	Note          uint8
	Channels      []int
	Velocity      VelocityMode
	FixedVelocity uint8 // ignore mode; 0 means DefaultFixedVelocity
	LayerScale    bool  // layers mode: additionally scale gain by velocity
	NoteOff       NoteOffMode
	Retrigger     RetriggerMode
	MaxVoices     int // per-sample cap; 0 means no per-sample cap
	FadeTime      time.Duration
	Path          string
	Layers        []Layer

	buf *audio.Buffer
}

// fadeTime returns the configured fade, defaulted.
func (d *Definition) fadeTime() time.Duration {
	if d.FadeTime <= 0 {
		return DefaultFadeTime
	}
	return d.FadeTime
}

// resolve picks the buffer and gain for a velocity.
func (d *Definition) resolve(velocity uint8) (*audio.Buffer, float32, error) {
	switch d.Velocity {
	case VelocityIgnore:
		fixed := d.FixedVelocity
		if fixed == 0 {
			fixed = DefaultFixedVelocity
		}
		return d.buf, float32(fixed) / 127, nil
	case VelocityScale:
		return d.buf, float32(velocity) / 127, nil
	case VelocityLayers:
		for i := range d.Layers {
			l := &d.Layers[i]
			if velocity >= l.MinVelocity && velocity <= l.MaxVelocity {
				gain := float32(1)
				if d.LayerScale {
					gain = float32(velocity) / 127
				}
				return l.buf, gain, nil
			}
		}
		return nil, 0, &noLayerError{name: d.Name, velocity: velocity}
	}
	return nil, 0, &noLayerError{name: d.Name, velocity: velocity}
}

type noLayerError struct {
	name     string
	velocity uint8
}

func (e *noLayerError) Error() string {
	return "sample " + e.name + ": no layer covers the incoming velocity"
}

// Merge combines global definitions with per-song overrides: a
// per-song definition replaces a global one of the same name.
func Merge(global, song []*Definition) []*Definition {
	if len(song) == 0 {
		return global
	}
	byName := make(map[string]int, len(global))
	out := make([]*Definition, 0, len(global)+len(song))
	for i, d := range global {
		byName[d.Name] = i
		out = append(out, d)
	}
	for _, d := range song {
		if i, ok := byName[d.Name]; ok {
			out[i] = d
			continue
		}
		out = append(out, d)
	}
	return out
}
