package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded from environment
// variables.
type Config struct {
	// Audio device
	SampleRate   int
	Channels     int
	BufferFrames int
	AudioBackend string // oto, portaudio, mock

	// Sample engine
	MaxVoices int

	// MIDI devices, resolved by substring match; empty disables the
	// direction
	MIDIOut string
	MIDIIn  string

	// DMX output
	DMXSink      string // artnet, ola, none
	ArtNetAddr   string
	OLAURL       string
	DimSpeed     float64           // seconds per program change unit
	DMXUniverses map[string]uint16 // universe name to transport number

	// Playback delays per medium
	AudioDelay time.Duration
	MIDIDelay  time.Duration
	DMXDelay   time.Duration

	// Status event emission
	StatusPeriod time.Duration

	LogLevel string
}

// Load reads configuration from the environment with sane defaults,
// picking up an optional .env file first. Invalid values fall back to
// their defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		SampleRate:   envInt("MTRACK_SAMPLE_RATE", 48000),
		Channels:     envInt("MTRACK_CHANNELS", 2),
		BufferFrames: envInt("MTRACK_BUFFER_FRAMES", 512),
		AudioBackend: envStr("MTRACK_AUDIO_BACKEND", "oto"),

		MaxVoices: envInt("MTRACK_MAX_VOICES", 32),

		MIDIOut: envStr("MTRACK_MIDI_OUT", ""),
		MIDIIn:  envStr("MTRACK_MIDI_IN", ""),

		DMXSink:      envStr("MTRACK_DMX_SINK", "none"),
		ArtNetAddr:   envStr("MTRACK_ARTNET_ADDR", "127.0.0.1:6454"),
		OLAURL:       envStr("MTRACK_OLA_URL", "http://127.0.0.1:9090"),
		DimSpeed:     envFloat("MTRACK_DIM_SPEED", 0.25),
		DMXUniverses: envUniverses("MTRACK_DMX_UNIVERSES", map[string]uint16{"main": 0}),

		AudioDelay: envDur("MTRACK_AUDIO_DELAY", 0),
		MIDIDelay:  envDur("MTRACK_MIDI_DELAY", 0),
		DMXDelay:   envDur("MTRACK_DMX_DELAY", 0),

		StatusPeriod: envDur("MTRACK_STATUS_PERIOD", time.Second),

		LogLevel: envStr("MTRACK_LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envUniverses parses a comma-separated name=number list, e.g.
// "main=0,stage=1". Malformed entries are skipped; an empty result
// falls back.
func envUniverses(key string, fallback map[string]uint16) map[string]uint16 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	out := make(map[string]uint16)
	for _, part := range strings.Split(v, ",") {
		name, num, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		n, err := strconv.ParseUint(num, 10, 16)
		if err != nil {
			continue
		}
		out[name] = uint16(n)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
