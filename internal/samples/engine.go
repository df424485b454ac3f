package samples

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mdwn/mtrack/internal/audio"
	midi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
)

// ErrUnknownSample is returned when a trigger arrives for a note with
// no definition.
var ErrUnknownSample = errors.New("samples: no definition for note")

// ErrVoiceLimitExceeded is returned when a voice limit is hit and no
// voice exists to evict. With limits >= 1 this cannot happen; it is
// logged as an invariant violation.
var ErrVoiceLimitExceeded = errors.New("samples: voice limit exceeded with empty scope")

// voice is one playing instance of a triggered sample. The engine owns
// the bookkeeping; the mixer plays the loaned source until it finishes
// or the token is removed.
type voice struct {
	seq     uint64
	note    uint8
	name    string
	startAt uint64
	src     *audio.BufferSource
	tok     audio.Token
}

// Engine turns MIDI note events into mixer voices. Triggers are
// scheduled one device buffer ahead of the mixer clock, making
// trigger-to-audio latency a fixed two buffers instead of jittering
// with event arrival against the callback boundary.
type Engine struct {
	mixer       *audio.Mixer
	logger      *zap.Logger
	maxVoices   int
	delayFrames uint64

	mu     sync.Mutex
	defs   map[uint8]*Definition
	voices []*voice
	seq    uint64
}

// NewEngine builds an engine over the mixer. maxVoices <= 0 selects
// DefaultMaxVoices.
func NewEngine(mixer *audio.Mixer, maxVoices int, logger *zap.Logger) *Engine {
	if maxVoices <= 0 {
		maxVoices = DefaultMaxVoices
	}
	return &Engine{
		mixer:       mixer,
		logger:      logger,
		maxVoices:   maxVoices,
		delayFrames: uint64(mixer.Format().BufferFrames),
		defs:        make(map[uint8]*Definition),
	}
}

// SetDefinitions replaces the active definition set. Definitions must
// be preloaded. Called at startup with the global set and at song
// boundaries with the merged per-song set.
func (e *Engine) SetDefinitions(defs []*Definition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defs = make(map[uint8]*Definition, len(defs))
	for _, d := range defs {
		if prev, ok := e.defs[d.Note]; ok {
			e.logger.Warn("note bound twice, keeping later definition",
				zap.Uint8("note", d.Note),
				zap.String("dropped", prev.Name),
				zap.String("kept", d.Name))
		}
		e.defs[d.Note] = d
	}
}

// Trigger starts a voice for a note-on message. Messages that are not
// note-ons are ignored. Fails with ErrUnknownSample for unmapped notes
// and audio.ErrBackpressure when the mixer cannot admit the voice.
func (e *Engine) Trigger(msg midi.Message) error {
	var ch, key, vel uint8
	if !msg.GetNoteStart(&ch, &key, &vel) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.defs[key]
	if !ok {
		return fmt.Errorf("note %d: %w", key, ErrUnknownSample)
	}
	buf, gain, err := def.resolve(vel)
	if err != nil {
		return err
	}

	e.reapLocked()
	startAt := e.mixer.Pos() + e.delayFrames

	if def.Retrigger == RetriggerCut {
		// The outgoing voice plays up to the exact frame the new one
		// begins; the mixer keeps its source alive for that tail, so
		// only the bookkeeping moves on here.
		kept := e.voices[:0]
		for _, v := range e.voices {
			if v.name == def.Name {
				v.src.CancelAt(startAt)
				continue
			}
			kept = append(kept, v)
		}
		e.voices = kept
	}

	if def.MaxVoices > 0 && e.countLocked(def.Name) >= def.MaxVoices {
		if err := e.evictLocked(def.Name); err != nil {
			return err
		}
	}
	if len(e.voices) >= e.maxVoices {
		if err := e.evictLocked(""); err != nil {
			return err
		}
	}

	src := audio.NewBufferSource(buf, def.Channels, e.mixer.Format().Channels, gain)
	src.StartAt(startAt)
	tok, err := e.mixer.Add(src)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", def.Name, err)
	}

	e.seq++
	e.voices = append(e.voices, &voice{
		seq:     e.seq,
		note:    key,
		name:    def.Name,
		startAt: startAt,
		src:     src,
		tok:     tok,
	})
	e.logger.Debug("voice started",
		zap.String("sample", def.Name),
		zap.Uint8("velocity", vel),
		zap.Uint64("seq", e.seq),
		zap.Uint64("start_frame", startAt))
	return nil
}

// Release applies the definition's note-off policy to the note's
// sounding voices. Messages that are not note-ends are ignored.
func (e *Engine) Release(msg midi.Message) {
	var ch, key uint8
	if !msg.GetNoteEnd(&ch, &key) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.defs[key]
	if !ok {
		return
	}
	switch def.NoteOff {
	case NoteOffPlayToCompletion:
	case NoteOffStop:
		kept := e.voices[:0]
		for _, v := range e.voices {
			if v.note == key {
				e.mixer.Remove(v.tok)
				continue
			}
			kept = append(kept, v)
		}
		e.voices = kept
	case NoteOffFade:
		at := e.mixer.Pos() + e.delayFrames
		frames := e.mixer.Format().DurationFrames(def.fadeTime())
		for _, v := range e.voices {
			if v.note == key {
				v.src.FadeAt(at, frames)
			}
		}
	}
}

// StopAll removes every voice immediately.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range e.voices {
		e.mixer.Remove(v.tok)
	}
	e.voices = e.voices[:0]
}

// ActiveVoices returns the number of voices the engine is tracking.
func (e *Engine) ActiveVoices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reapLocked()
	return len(e.voices)
}

func (e *Engine) countLocked(name string) int {
	n := 0
	for _, v := range e.voices {
		if v.name == name {
			n++
		}
	}
	return n
}

// evictLocked stops the oldest voice in the scope (all voices when
// name is empty). The caller has already established the scope is at
// its limit, so an empty scope is an invariant violation.
func (e *Engine) evictLocked(name string) error {
	idx := -1
	for i, v := range e.voices {
		if name != "" && v.name != name {
			continue
		}
		if idx == -1 || v.seq < e.voices[idx].seq {
			idx = i
		}
	}
	if idx == -1 {
		e.logger.Error("voice limit hit with empty scope", zap.String("scope", name))
		return ErrVoiceLimitExceeded
	}
	v := e.voices[idx]
	e.mixer.Remove(v.tok)
	e.voices = append(e.voices[:idx], e.voices[idx+1:]...)
	e.logger.Debug("voice evicted",
		zap.String("sample", v.name),
		zap.Uint64("seq", v.seq))
	return nil
}

func (e *Engine) reapLocked() {
	kept := e.voices[:0]
	for _, v := range e.voices {
		if !v.src.Finished() {
			kept = append(kept, v)
		}
	}
	e.voices = kept
}
