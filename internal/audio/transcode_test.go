package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// writeWAV builds a minimal PCM16 RIFF/WAVE file.
func writeWAV(t *testing.T, path string, rate, channels int, samples []int16) {
	t.Helper()
	var buf bytes.Buffer
	dataLen := len(samples) * 2
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	binary.Write(&buf, binary.LittleEndian, samples)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-3
}

func TestLoadFileMono(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	writeWAV(t, path, 48000, 1, []int16{0, 16384, -16384, 8192})

	tr := NewTranscoder(DefaultFormat())
	buf, err := tr.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Channels != 1 {
		t.Fatalf("Channels = %d, want 1", buf.Channels)
	}
	if buf.Rate != 48000 {
		t.Fatalf("Rate = %d, want 48000", buf.Rate)
	}
	want := []float32{0, 0.5, -0.5, 0.25}
	if len(buf.Data) != len(want) {
		t.Fatalf("got %d samples, want %d", len(buf.Data), len(want))
	}
	for i, w := range want {
		if !approx(buf.Data[i], w) {
			t.Errorf("sample %d = %v, want %v", i, buf.Data[i], w)
		}
	}
}

func TestLoadFileStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeWAV(t, path, 48000, 2, []int16{16384, -16384, 16384, -16384})

	tr := NewTranscoder(DefaultFormat())
	buf, err := tr.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Channels != 2 {
		t.Fatalf("Channels = %d, want 2", buf.Channels)
	}
	if buf.Frames() != 2 {
		t.Fatalf("Frames = %d, want 2", buf.Frames())
	}
	for f := 0; f < 2; f++ {
		if !approx(buf.Data[2*f], 0.5) || !approx(buf.Data[2*f+1], -0.5) {
			t.Errorf("frame %d = (%v, %v), want (0.5, -0.5)", f, buf.Data[2*f], buf.Data[2*f+1])
		}
	}
}

func TestLoadFileResamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slow.wav")
	samples := make([]int16, 2400) // 0.1s at 24kHz
	for i := range samples {
		samples[i] = 8192
	}
	writeWAV(t, path, 24000, 1, samples)

	tr := NewTranscoder(DefaultFormat())
	buf, err := tr.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Rate != 48000 {
		t.Fatalf("Rate = %d, want 48000", buf.Rate)
	}
	// 0.1s at the device rate, within resampler edge tolerance.
	got := int(buf.Frames())
	if got < 4500 || got > 5100 {
		t.Errorf("resampled frames = %d, want about 4800", got)
	}
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	tr := NewTranscoder(DefaultFormat())
	if _, err := tr.LoadFile(path); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("err = %v, want ErrFormatMismatch", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	tr := NewTranscoder(DefaultFormat())
	if _, err := tr.LoadFile(filepath.Join(t.TempDir(), "absent.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
