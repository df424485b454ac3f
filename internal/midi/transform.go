package midi

import (
	gomidi "gitlab.com/gomidi/midi/v2"
)

// Transformer rewrites one outgoing message into its replacements.
// Messages a transformer does not match pass through unchanged.
type Transformer interface {
	Transform(msg gomidi.Message) []gomidi.Message
}

// NoteMapper fans a single note out to a set of notes, preserving
// channel and velocity, on both note on and note off.
type NoteMapper struct {
	Note uint8
	To   []uint8
}

// Transform implements Transformer.
func (m NoteMapper) Transform(msg gomidi.Message) []gomidi.Message {
	var ch, key, vel uint8
	switch {
	case msg.GetNoteOn(&ch, &key, &vel):
		if key == m.Note {
			out := make([]gomidi.Message, 0, len(m.To))
			for _, note := range m.To {
				out = append(out, gomidi.NoteOn(ch, note, vel))
			}
			return out
		}
	case msg.GetNoteOff(&ch, &key, &vel):
		if key == m.Note {
			out := make([]gomidi.Message, 0, len(m.To))
			for _, note := range m.To {
				out = append(out, gomidi.NoteOff(ch, note))
			}
			return out
		}
	}
	return []gomidi.Message{msg}
}

// ControlChangeMapper fans a single controller out to a set of
// controllers, preserving channel and value.
type ControlChangeMapper struct {
	Controller uint8
	To         []uint8
}

// Transform implements Transformer.
func (m ControlChangeMapper) Transform(msg gomidi.Message) []gomidi.Message {
	var ch, cc, val uint8
	if msg.GetControlChange(&ch, &cc, &val) && cc == m.Controller {
		out := make([]gomidi.Message, 0, len(m.To))
		for _, controller := range m.To {
			out = append(out, gomidi.ControlChange(ch, controller, val))
		}
		return out
	}
	return []gomidi.Message{msg}
}

// Transform returns a sheet with every event expanded through the
// transformers in order. Fanned-out events keep their source offset,
// so expansion never reorders the schedule.
func (s *Sheet) Transform(transformers ...Transformer) *Sheet {
	if len(transformers) == 0 {
		return s
	}
	out := &Sheet{
		Events:   make([]TimedMessage, 0, len(s.Events)),
		Duration: s.Duration,
	}
	for _, ev := range s.Events {
		msgs := []gomidi.Message{ev.Msg}
		for _, t := range transformers {
			next := make([]gomidi.Message, 0, len(msgs))
			for _, m := range msgs {
				next = append(next, t.Transform(m)...)
			}
			msgs = next
		}
		for _, m := range msgs {
			out.Events = append(out.Events, TimedMessage{At: ev.At, Msg: m})
		}
	}
	return out
}
