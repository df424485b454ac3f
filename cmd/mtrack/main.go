package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mdwn/mtrack/internal/audio"
	"github.com/mdwn/mtrack/internal/config"
	"github.com/mdwn/mtrack/internal/dmx"
	"github.com/mdwn/mtrack/internal/midi"
	"github.com/mdwn/mtrack/internal/player"
	"github.com/mdwn/mtrack/internal/samples"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "play":
		err = runPlay(os.Args[2:])
	case "devices":
		err = runDevices()
	case "midi-devices":
		err = runMIDIDevices()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`Usage: mtrack <command> [arguments]

Commands:
  play [-samples dir] [file ...]  play audio files in order; with
                                  MTRACK_MIDI_IN set, incoming notes
                                  trigger preloaded samples
  devices                         list audio output devices
  midi-devices                    list MIDI ports

Configuration comes from MTRACK_* environment variables, optionally
via a .env file.`)
}

func runDevices() error {
	devices, err := audio.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := ""
		if d.Default {
			marker = " (default)"
		}
		fmt.Printf("%s: %d channels, %.0f Hz%s\n", d.Name, d.MaxChannels, d.SampleRate, marker)
	}
	return nil
}

func runMIDIDevices() error {
	ports, err := midi.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func runPlay(args []string) error {
	flagSet := flag.NewFlagSet("play", flag.ExitOnError)
	samplesDir := flagSet.String("samples", "", "directory of <note>-<name> audio files for live triggering")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	files := flagSet.Args()

	cfg := config.Load()
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	format := audio.Format{
		SampleRate:   cfg.SampleRate,
		Channels:     cfg.Channels,
		BufferFrames: cfg.BufferFrames,
	}
	mixer := audio.NewMixer(format, 0)
	device, err := audio.NewOutputDevice(cfg.AudioBackend, format, logger.Named("audio"))
	if err != nil {
		return err
	}
	if err := device.Start(mixer.Render); err != nil {
		return fmt.Errorf("start audio output: %w", err)
	}
	defer device.Close()
	transcoder := audio.NewTranscoder(format)

	outDev, inDev := openMIDIDevices(cfg, logger.Named("midi"))
	defer closeMIDIDevices(outDev, inDev)

	engine := samples.NewEngine(mixer, cfg.MaxVoices, logger.Named("samples"))
	var defs []*samples.Definition
	if *samplesDir != "" {
		defs, err = scanSamples(*samplesDir, format.Channels, logger)
		if err != nil {
			return err
		}
		loader := samples.NewLoader(transcoder, logger.Named("samples"))
		if err := loader.Preload(defs); err != nil {
			return fmt.Errorf("preload samples: %w", err)
		}
		engine.SetDefinitions(defs)
		logger.Info("samples loaded", zap.Int("count", len(defs)))
	}
	defer engine.StopAll()

	dmxEngine := openDMX(ctx, cfg, logger)

	if inDev != nil {
		inDev.AddReceiver(func(msg gomidi.Message) {
			if err := engine.Trigger(msg); err != nil {
				logger.Debug("trigger dropped", zap.Error(err))
			}
			engine.Release(msg)
		})
		if err := inDev.Watch(); err != nil {
			logger.Warn("MIDI input unavailable, continuing without it", zap.Error(err))
		}
	}

	if len(files) == 0 {
		if inDev == nil {
			return fmt.Errorf("nothing to play: pass audio files or set MTRACK_MIDI_IN")
		}
		logger.Info("no songs given, running live until interrupted")
		<-ctx.Done()
		return nil
	}

	songs := make([]*player.Song, 0, len(files))
	outs := make([]int, format.Channels)
	for i := range outs {
		outs[i] = i + 1
	}
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		songs = append(songs, &player.Song{
			Name: name,
			Tracks: []player.Track{{
				Name:           name,
				File:           f,
				OutputChannels: outs,
			}},
		})
	}
	playlist, err := player.NewPlaylist(songs)
	if err != nil {
		return err
	}
	allSongs, err := player.AllSongs(songs)
	if err != nil {
		return err
	}

	var sender midi.Sender
	if outDev != nil {
		sender = outDev
	}
	p, err := player.New(player.Config{
		Mixer:      mixer,
		Transcoder: transcoder,
		MIDI:       sender,
		DMX:        dmxEngine,
		Samples:    engine,
		SampleDefs: defs,
		AudioDelay: cfg.AudioDelay,
		MIDIDelay:  cfg.MIDIDelay,
		DMXDelay:   cfg.DMXDelay,
		Logger:     logger.Named("player"),
	}, playlist, allSongs)
	if err != nil {
		return err
	}
	for i := 0; i < playlist.Len(); i++ {
		if ctx.Err() != nil {
			break
		}
		sess, err := p.Play()
		if err != nil {
			return fmt.Errorf("play %s: %w", playlist.Current().Name, err)
		}
		select {
		case <-sess.Done():
		case <-ctx.Done():
			p.Close()
		}
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// openMIDIDevices resolves the configured output and input devices.
// Either may be nil; a device naming both directions is opened once.
func openMIDIDevices(cfg config.Config, logger *zap.Logger) (out, in *midi.Device) {
	if cfg.MIDIOut != "" {
		dev, err := midi.Open(cfg.MIDIOut, logger)
		if err != nil {
			logger.Warn("MIDI output unavailable, continuing without it",
				zap.String("device", cfg.MIDIOut), zap.Error(err))
		} else {
			out = dev
		}
	}
	if cfg.MIDIIn == "" {
		return out, nil
	}
	if out != nil && cfg.MIDIIn == cfg.MIDIOut {
		return out, out
	}
	dev, err := midi.Open(cfg.MIDIIn, logger)
	if err != nil {
		logger.Warn("MIDI input unavailable, continuing without it",
			zap.String("device", cfg.MIDIIn), zap.Error(err))
		return out, nil
	}
	return out, dev
}

func closeMIDIDevices(out, in *midi.Device) {
	if out != nil {
		out.Close()
	}
	if in != nil && in != out {
		in.Close()
	}
}

// openDMX builds and runs the dimming engine for the configured sink,
// or returns nil when DMX is off or unavailable.
func openDMX(ctx context.Context, cfg config.Config, logger *zap.Logger) *dmx.Engine {
	var sink dmx.Sink
	switch cfg.DMXSink {
	case "", "none":
		return nil
	case "artnet":
		s, err := dmx.NewArtNetSink(cfg.ArtNetAddr)
		if err != nil {
			logger.Warn("DMX output unavailable, continuing without it",
				zap.String("addr", cfg.ArtNetAddr), zap.Error(err))
			return nil
		}
		sink = s
	case "ola":
		sink = dmx.NewOLASink(cfg.OLAURL)
	default:
		logger.Warn("unknown DMX sink, continuing without it",
			zap.String("sink", cfg.DMXSink))
		return nil
	}

	universes := make([]dmx.UniverseConfig, 0, len(cfg.DMXUniverses))
	for name, number := range cfg.DMXUniverses {
		universes = append(universes, dmx.UniverseConfig{Number: number, Name: name})
	}
	engine := dmx.NewEngine(cfg.DimSpeed, universes, sink, logger.Named("dmx"))
	go engine.Run(ctx)
	return engine
}

// scanSamples maps a directory of "<note>-<name>.<ext>" files to
// sample definitions routed to every output channel, velocity scaled.
// Files without a numeric note prefix are skipped.
func scanSamples(dir string, channels int, logger *zap.Logger) ([]*samples.Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read samples dir: %w", err)
	}
	dst := make([]int, channels)
	for i := range dst {
		dst[i] = i
	}
	var defs []*samples.Definition
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		prefix, name, ok := strings.Cut(base, "-")
		if !ok {
			logger.Warn("sample file has no note prefix, skipping",
				zap.String("file", e.Name()))
			continue
		}
		note, err := strconv.Atoi(prefix)
		if err != nil || note < 0 || note > 127 {
			logger.Warn("sample file has no usable note prefix, skipping",
				zap.String("file", e.Name()))
			continue
		}
		defs = append(defs, &samples.Definition{
			Name:     name,
			Note:     uint8(note),
			Channels: dst,
			Velocity: samples.VelocityScale,
			Path:     filepath.Join(dir, e.Name()),
		})
	}
	return defs, nil
}
