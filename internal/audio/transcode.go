package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// ErrFormatMismatch is returned when a media file cannot be bridged to
// the device format. It surfaces at load time, never during playback.
var ErrFormatMismatch = errors.New("audio: source format cannot be transcoded to device format")

// resampleQuality trades CPU for fidelity; 4 is beep's recommended
// middle ground and loading happens off the render path anyway.
const resampleQuality = 4

// Transcoder decodes media files into device-rate PCM buffers. It is
// stateless per call and shared by track loading and sample preloading.
type Transcoder struct {
	format Format
}

// NewTranscoder returns a transcoder targeting the device format.
func NewTranscoder(format Format) *Transcoder {
	return &Transcoder{format: format}
}

// LoadFile decodes an entire wav/flac/mp3/ogg file, resamples it to
// the device rate, and returns it as an in-memory Buffer. Decoding up
// front keeps file I/O off the render path.
func (t *Transcoder) LoadFile(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		stream, format, err = wav.Decode(f)
	case ".flac":
		stream, format, err = flac.Decode(f)
	case ".mp3":
		stream, format, err = mp3.Decode(f)
	case ".ogg", ".oga":
		stream, format, err = vorbis.Decode(f)
	default:
		f.Close()
		return nil, fmt.Errorf("%s: unsupported extension %q: %w", path, ext, ErrFormatMismatch)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	defer stream.Close()

	if format.NumChannels < 1 || format.NumChannels > 2 {
		return nil, fmt.Errorf("%s: %d channels: %w", path, format.NumChannels, ErrFormatMismatch)
	}

	var src beep.Streamer = stream
	if int(format.SampleRate) != t.format.SampleRate {
		src = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(t.format.SampleRate), stream)
	}

	buf := &Buffer{
		Channels: format.NumChannels,
		Rate:     t.format.SampleRate,
	}

	// Decoders hand back stereo pairs regardless of channel count, with
	// mono duplicated across both; keep only what the file carries.
	block := make([][2]float64, 1024)
	for {
		n, ok := src.Stream(block)
		for _, s := range block[:n] {
			buf.Data = append(buf.Data, float32(s[0]))
			if format.NumChannels == 2 {
				buf.Data = append(buf.Data, float32(s[1]))
			}
		}
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(buf.Data) == 0 {
		return nil, fmt.Errorf("%s: empty stream: %w", path, ErrFormatMismatch)
	}
	return buf, nil
}
