// Package audio implements the real-time playback core: decoded PCM
// buffers, channel mapping, the sample-accurate mixer, and the output
// device backends that pull from it.
package audio

import (
	"math"
	"time"
)

// Defaults for the negotiated output format.
const (
	DefaultSampleRate   = 48000
	DefaultChannels     = 2
	DefaultBufferFrames = 512
)

// Format is the output device's negotiated PCM format. Everything past
// the transcoder is interleaved float32 in [-1, 1] at this rate; device
// backends convert to their wire format on the way out.
type Format struct {
	SampleRate   int
	Channels     int
	BufferFrames int
}

// DefaultFormat returns the stock 48kHz stereo format with a 512-frame
// device buffer.
func DefaultFormat() Format {
	return Format{
		SampleRate:   DefaultSampleRate,
		Channels:     DefaultChannels,
		BufferFrames: DefaultBufferFrames,
	}
}

// BlockSamples is the number of interleaved samples in one device block.
func (f Format) BlockSamples() int {
	return f.BufferFrames * f.Channels
}

// FramesDuration converts a frame count to wall time at the format's rate.
func (f Format) FramesDuration(frames uint64) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// DurationFrames converts wall time to a frame count at the format's rate.
func (f Format) DurationFrames(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d.Seconds() * float64(f.SampleRate))
}

// Clip saturates a sample to [-1, 1]. Summation overflow must clamp,
// never wrap.
func Clip(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// PCM16 converts a float32 block to little-endian signed 16-bit PCM,
// saturating at the int16 range. dst must hold 2*len(src) bytes.
func PCM16(dst []byte, src []float32) {
	for i, s := range src {
		v := int16(Clip(s) * math.MaxInt16)
		dst[2*i] = byte(v)
		dst[2*i+1] = byte(v >> 8)
	}
}
