package samples

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mdwn/mtrack/internal/audio"
	midi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
)

var engineFormat = audio.Format{SampleRate: 48000, Channels: 1, BufferFrames: 64}

func newTestEngine(maxVoices int) (*Engine, *audio.Mixer) {
	m := audio.NewMixer(engineFormat, 16)
	return NewEngine(m, maxVoices, zap.NewNop()), m
}

func constBuf(value float32, frames int) *audio.Buffer {
	data := make([]float32, frames)
	for i := range data {
		data[i] = value
	}
	return &audio.Buffer{Data: data, Channels: 1, Rate: engineFormat.SampleRate}
}

func renderBlock(t *testing.T, m *audio.Mixer) []float32 {
	t.Helper()
	out := make([]float32, engineFormat.BlockSamples())
	m.Render(out)
	return out
}

func kickDef(buf *audio.Buffer) *Definition {
	return &Definition{
		Name:          "kick",
		Note:          36,
		Channels:      []int{0},
		Velocity:      VelocityIgnore,
		FixedVelocity: 127,
		Retrigger:     RetriggerPolyphonic,
		buf:           buf,
	}
}

// --- triggering ---

func TestEngineTriggerSchedulesOneBufferAhead(t *testing.T) {
	e, m := newTestEngine(8)
	e.SetDefinitions([]*Definition{kickDef(constBuf(0.25, 48000))})

	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	// Block 0 covers frames [0, 64); the voice starts at frame 64.
	for i, s := range renderBlock(t, m) {
		if s != 0 {
			t.Fatalf("frame %d audible before scheduled start: %v", i, s)
		}
	}
	for i, s := range renderBlock(t, m) {
		if s != 0.25 {
			t.Fatalf("frame %d = %v, want 0.25", i, s)
		}
	}
}

func TestEngineIgnoresNonNoteMessages(t *testing.T) {
	e, _ := newTestEngine(8)
	e.SetDefinitions([]*Definition{kickDef(constBuf(0.25, 48000))})

	if err := e.Trigger(midi.ControlChange(0, 7, 64)); err != nil {
		t.Fatalf("control change: %v", err)
	}
	if got := e.ActiveVoices(); got != 0 {
		t.Fatalf("ActiveVoices = %d, want 0", got)
	}
}

func TestEngineUnknownNote(t *testing.T) {
	e, _ := newTestEngine(8)
	e.SetDefinitions([]*Definition{kickDef(constBuf(0.25, 48000))})

	err := e.Trigger(midi.NoteOn(0, 99, 100))
	if !errors.Is(err, ErrUnknownSample) {
		t.Fatalf("err = %v, want ErrUnknownSample", err)
	}
}

// --- velocity handling ---

func TestEngineVelocityIgnore(t *testing.T) {
	e, m := newTestEngine(8)
	def := kickDef(constBuf(0.5, 48000))
	def.FixedVelocity = 100
	e.SetDefinitions([]*Definition{def})

	if err := e.Trigger(midi.NoteOn(0, 36, 1)); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	renderBlock(t, m)
	out := renderBlock(t, m)
	want := 0.5 * float32(100) / 127
	if math.Abs(float64(out[0]-want)) > 1e-6 {
		t.Fatalf("sample = %v, want %v", out[0], want)
	}
}

func TestEngineVelocityScale(t *testing.T) {
	e, m := newTestEngine(8)
	def := kickDef(constBuf(0.5, 48000))
	def.Velocity = VelocityScale
	e.SetDefinitions([]*Definition{def})

	if err := e.Trigger(midi.NoteOn(0, 36, 64)); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	renderBlock(t, m)
	out := renderBlock(t, m)
	want := 0.5 * float32(64) / 127
	if math.Abs(float64(out[0]-want)) > 1e-6 {
		t.Fatalf("sample = %v, want %v", out[0], want)
	}
}

func TestEngineVelocityLayers(t *testing.T) {
	e, m := newTestEngine(8)
	def := kickDef(nil)
	def.Velocity = VelocityLayers
	def.Layers = []Layer{
		{MinVelocity: 0, MaxVelocity: 63, buf: constBuf(0.1, 48000)},
		{MinVelocity: 64, MaxVelocity: 127, buf: constBuf(0.2, 48000)},
	}
	e.SetDefinitions([]*Definition{def})

	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	renderBlock(t, m)
	out := renderBlock(t, m)
	if math.Abs(float64(out[0]-0.2)) > 1e-6 {
		t.Fatalf("sample = %v, want 0.2 from the high layer", out[0])
	}
}

func TestEngineVelocityLayersNoMatch(t *testing.T) {
	e, _ := newTestEngine(8)
	def := kickDef(nil)
	def.Velocity = VelocityLayers
	def.Layers = []Layer{{MinVelocity: 64, MaxVelocity: 127, buf: constBuf(0.2, 48000)}}
	e.SetDefinitions([]*Definition{def})

	if err := e.Trigger(midi.NoteOn(0, 36, 10)); err == nil {
		t.Fatal("expected error for uncovered velocity")
	}
	if got := e.ActiveVoices(); got != 0 {
		t.Fatalf("ActiveVoices = %d, want 0", got)
	}
}

// --- retrigger ---

func TestEngineRetriggerCutIsSeamless(t *testing.T) {
	e, m := newTestEngine(8)
	def := kickDef(constBuf(0.25, 48000))
	def.Retrigger = RetriggerCut
	e.SetDefinitions([]*Definition{def})

	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	renderBlock(t, m) // [0, 64): silence, voice scheduled for 64
	renderBlock(t, m) // [64, 128): first voice playing

	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("second trigger: %v", err)
	}

	// Old voice is cut at frame 192, exactly where the new one begins.
	// A gap would dip to 0, an overlap would sum to 0.5; constant 0.25
	// across [128, 320) proves the handoff is sample exact.
	for b := 0; b < 3; b++ {
		out := renderBlock(t, m)
		for i, s := range out {
			if s != 0.25 {
				t.Fatalf("block %d frame %d = %v, want 0.25", b, i, s)
			}
		}
	}
	if got := e.ActiveVoices(); got != 1 {
		t.Fatalf("ActiveVoices = %d, want 1", got)
	}
}

func TestEngineRetriggerPolyphonicStacks(t *testing.T) {
	e, m := newTestEngine(8)
	e.SetDefinitions([]*Definition{kickDef(constBuf(0.25, 48000))})

	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	renderBlock(t, m)
	out := renderBlock(t, m)
	if out[0] != 0.5 {
		t.Fatalf("sample = %v, want 0.5 from two stacked voices", out[0])
	}
}

// --- voice limits ---

func TestEngineGlobalLimitEvictsOldest(t *testing.T) {
	e, m := newTestEngine(2)
	e.SetDefinitions([]*Definition{kickDef(constBuf(0.25, 48000))})

	for i := 0; i < 3; i++ {
		if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
	}

	e.mu.Lock()
	if len(e.voices) != 2 {
		e.mu.Unlock()
		t.Fatalf("voices = %d, want 2", len(e.voices))
	}
	if e.voices[0].seq != 2 || e.voices[1].seq != 3 {
		seqs := []uint64{e.voices[0].seq, e.voices[1].seq}
		e.mu.Unlock()
		t.Fatalf("surviving seqs = %v, want [2 3]", seqs)
	}
	e.mu.Unlock()

	renderBlock(t, m)
	out := renderBlock(t, m)
	if out[0] != 0.5 {
		t.Fatalf("sample = %v, want 0.5 from two surviving voices", out[0])
	}
}

func TestEnginePerSampleLimit(t *testing.T) {
	e, _ := newTestEngine(8)
	kick := kickDef(constBuf(0.25, 48000))
	kick.MaxVoices = 1
	snare := kickDef(constBuf(0.25, 48000))
	snare.Name = "snare"
	snare.Note = 38
	e.SetDefinitions([]*Definition{kick, snare})

	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("kick 1: %v", err)
	}
	if err := e.Trigger(midi.NoteOn(0, 38, 100)); err != nil {
		t.Fatalf("snare: %v", err)
	}
	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("kick 2: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.voices) != 2 {
		t.Fatalf("voices = %d, want 2", len(e.voices))
	}
	// The first kick was evicted by its per-sample limit; the snare
	// was never a candidate.
	if e.voices[0].name != "snare" || e.voices[1].name != "kick" {
		t.Fatalf("surviving voices = %s, %s; want snare, kick",
			e.voices[0].name, e.voices[1].name)
	}
	if e.voices[1].seq != 3 {
		t.Fatalf("surviving kick seq = %d, want 3", e.voices[1].seq)
	}
}

// --- note off ---

func TestEngineNoteOffPlayToCompletion(t *testing.T) {
	e, m := newTestEngine(8)
	e.SetDefinitions([]*Definition{kickDef(constBuf(0.25, 48000))})

	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	renderBlock(t, m)
	e.Release(midi.NoteOff(0, 36))
	out := renderBlock(t, m)
	if out[0] != 0.25 {
		t.Fatalf("sample = %v, want 0.25 after ignored note off", out[0])
	}
}

func TestEngineNoteOffStop(t *testing.T) {
	e, m := newTestEngine(8)
	def := kickDef(constBuf(0.25, 48000))
	def.NoteOff = NoteOffStop
	e.SetDefinitions([]*Definition{def})

	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	renderBlock(t, m)
	renderBlock(t, m)
	e.Release(midi.NoteOff(0, 36))
	for i, s := range renderBlock(t, m) {
		if s != 0 {
			t.Fatalf("frame %d = %v after stop, want 0", i, s)
		}
	}
	if got := e.ActiveVoices(); got != 0 {
		t.Fatalf("ActiveVoices = %d, want 0", got)
	}
}

func TestEngineNoteOffFade(t *testing.T) {
	e, m := newTestEngine(8)
	def := kickDef(constBuf(0.5, 48000))
	def.NoteOff = NoteOffFade
	def.FadeTime = time.Millisecond // 48 frames at 48kHz
	e.SetDefinitions([]*Definition{def})

	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	renderBlock(t, m) // [0, 64)
	renderBlock(t, m) // [64, 128), playing

	// Release at frame 128 schedules the fade for frame 192.
	e.Release(midi.NoteOff(0, 36))

	out := renderBlock(t, m) // [128, 192): still full level
	if out[0] != 0.5 {
		t.Fatalf("pre-fade sample = %v, want 0.5", out[0])
	}

	out = renderBlock(t, m) // [192, 256): 48 fading frames then silence
	if out[0] != 0.5 {
		t.Fatalf("fade frame 0 = %v, want 0.5", out[0])
	}
	want := 0.5 * float32(48-24) / 48
	if math.Abs(float64(out[24]-want)) > 1e-6 {
		t.Fatalf("fade frame 24 = %v, want %v", out[24], want)
	}
	for i := 48; i < 64; i++ {
		if out[i] != 0 {
			t.Fatalf("frame %d = %v after fade end, want 0", i, out[i])
		}
	}
	if got := e.ActiveVoices(); got != 0 {
		t.Fatalf("ActiveVoices = %d, want 0 after fade", got)
	}
}

func TestEngineNoteOffUnknownNoteIsNoOp(t *testing.T) {
	e, m := newTestEngine(8)
	e.SetDefinitions([]*Definition{kickDef(constBuf(0.25, 48000))})

	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	e.Release(midi.NoteOff(0, 99))
	renderBlock(t, m)
	out := renderBlock(t, m)
	if out[0] != 0.25 {
		t.Fatalf("sample = %v, want 0.25", out[0])
	}
}

// --- stop all ---

func TestEngineStopAll(t *testing.T) {
	e, m := newTestEngine(8)
	e.SetDefinitions([]*Definition{kickDef(constBuf(0.25, 48000))})

	for i := 0; i < 3; i++ {
		if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
	}
	renderBlock(t, m)
	e.StopAll()
	if got := e.ActiveVoices(); got != 0 {
		t.Fatalf("ActiveVoices = %d, want 0", got)
	}
	for i, s := range renderBlock(t, m) {
		if s != 0 {
			t.Fatalf("frame %d = %v after StopAll, want 0", i, s)
		}
	}
}

func TestEngineFinishedVoicesReaped(t *testing.T) {
	e, m := newTestEngine(8)
	// 64 frames: starts at frame 64, done by frame 128.
	e.SetDefinitions([]*Definition{kickDef(constBuf(0.25, 64))})

	if err := e.Trigger(midi.NoteOn(0, 36, 100)); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	renderBlock(t, m)
	renderBlock(t, m)
	if got := e.ActiveVoices(); got != 0 {
		t.Fatalf("ActiveVoices = %d, want 0 after buffer end", got)
	}
}
