package audio

import (
	"fmt"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"
)

// otoDevice plays through the oto context. oto pulls PCM through an
// io.Reader on its own goroutine; Read renders the mixer into a
// pre-allocated scratch block and converts to s16le on the way out, so
// the pull path never allocates.
type otoDevice struct {
	format  Format
	logger  *zap.Logger
	render  func([]float32)
	scratch []float32
	ctx     *oto.Context
	player  *oto.Player
}

func newOtoDevice(format Format, logger *zap.Logger) *otoDevice {
	return &otoDevice{
		format:  format,
		logger:  logger,
		scratch: make([]float32, format.BlockSamples()),
	}
}

// Start implements OutputDevice.
func (d *otoDevice) Start(render func(out []float32)) error {
	op := &oto.NewContextOptions{
		SampleRate:   d.format.SampleRate,
		ChannelCount: d.format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   d.format.FramesDuration(uint64(d.format.BufferFrames)),
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("oto context: %v: %w", err, ErrDeviceUnavailable)
	}
	<-ready

	d.render = render
	d.ctx = ctx
	d.player = ctx.NewPlayer(d)
	d.player.Play()
	d.logger.Info("audio output started",
		zap.String("backend", "oto"),
		zap.Int("sample_rate", d.format.SampleRate),
		zap.Int("channels", d.format.Channels),
		zap.Int("buffer_frames", d.format.BufferFrames))
	return nil
}

// Read implements io.Reader for the oto player. Each call renders at
// most one block; oto keeps calling until its own buffer is full.
func (d *otoDevice) Read(p []byte) (int, error) {
	bytesPerFrame := 2 * d.format.Channels
	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	if frames > d.format.BufferFrames {
		frames = d.format.BufferFrames
	}
	block := d.scratch[:frames*d.format.Channels]
	d.render(block)
	PCM16(p, block)
	return frames * bytesPerFrame, nil
}

// Close implements OutputDevice.
func (d *otoDevice) Close() error {
	if d.player != nil {
		return d.player.Close()
	}
	return nil
}
