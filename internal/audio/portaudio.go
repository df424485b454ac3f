package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// paDevice plays through PortAudio's callback API. PortAudio invokes
// the callback on its real-time thread with a float32 block, which maps
// directly onto the mixer's render contract.
type paDevice struct {
	format Format
	logger *zap.Logger
	stream *portaudio.Stream
	inited bool
}

func newPortAudioDevice(format Format, logger *zap.Logger) *paDevice {
	return &paDevice{format: format, logger: logger}
}

// Start implements OutputDevice.
func (d *paDevice) Start(render func(out []float32)) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %v: %w", err, ErrDeviceUnavailable)
	}
	d.inited = true

	stream, err := portaudio.OpenDefaultStream(
		0, d.format.Channels,
		float64(d.format.SampleRate),
		d.format.BufferFrames,
		func(out []float32) { render(out) },
	)
	if err != nil {
		return fmt.Errorf("portaudio open: %v: %w", err, ErrDeviceUnavailable)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio start: %v: %w", err, ErrDeviceUnavailable)
	}
	d.stream = stream
	d.logger.Info("audio output started",
		zap.String("backend", "portaudio"),
		zap.Int("sample_rate", d.format.SampleRate),
		zap.Int("channels", d.format.Channels),
		zap.Int("buffer_frames", d.format.BufferFrames))
	return nil
}

// Close implements OutputDevice.
func (d *paDevice) Close() error {
	if d.stream != nil {
		d.stream.Stop()
		d.stream.Close()
		d.stream = nil
	}
	if d.inited {
		portaudio.Terminate()
		d.inited = false
	}
	return nil
}

// DeviceInfo describes one host output device.
type DeviceInfo struct {
	Name        string
	MaxChannels int
	SampleRate  float64
	Default     bool
}

// ListDevices enumerates host audio output devices through PortAudio.
func ListDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %v: %w", err, ErrDeviceUnavailable)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}
	def, _ := portaudio.DefaultOutputDevice()

	var out []DeviceInfo
	for _, dev := range devices {
		if dev.MaxOutputChannels == 0 {
			continue
		}
		out = append(out, DeviceInfo{
			Name:        dev.Name,
			MaxChannels: dev.MaxOutputChannels,
			SampleRate:  dev.DefaultSampleRate,
			Default:     def != nil && dev.Name == def.Name,
		})
	}
	return out, nil
}
