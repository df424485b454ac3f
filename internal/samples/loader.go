package samples

import (
	"fmt"
	"sync"

	"github.com/mdwn/mtrack/internal/audio"
	"go.uber.org/zap"
)

// Loader decodes sample files into device-format buffers, caching by
// path so definitions sharing a file share one decoded copy.
type Loader struct {
	tr     *audio.Transcoder
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]*audio.Buffer
}

// NewLoader returns a loader decoding through the given transcoder.
func NewLoader(tr *audio.Transcoder, logger *zap.Logger) *Loader {
	return &Loader{
		tr:     tr,
		logger: logger,
		cache:  make(map[string]*audio.Buffer),
	}
}

// Load returns the decoded buffer for a path, decoding on first use.
func (l *Loader) Load(path string) (*audio.Buffer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if buf, ok := l.cache[path]; ok {
		return buf, nil
	}
	buf, err := l.tr.LoadFile(path)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("sample loaded",
		zap.String("path", path),
		zap.Duration("duration", buf.Duration()),
		zap.Int("channels", buf.Channels))
	l.cache[path] = buf
	return buf, nil
}

// Preload decodes every file the definitions reference and attaches
// the buffers. Runs at startup or song load, never during playback.
func (l *Loader) Preload(defs []*Definition) error {
	for _, d := range defs {
		if d.Velocity == VelocityLayers {
			for i := range d.Layers {
				buf, err := l.Load(d.Layers[i].Path)
				if err != nil {
					return fmt.Errorf("sample %s: %w", d.Name, err)
				}
				d.Layers[i].buf = buf
			}
			continue
		}
		buf, err := l.Load(d.Path)
		if err != nil {
			return fmt.Errorf("sample %s: %w", d.Name, err)
		}
		d.buf = buf
	}
	return nil
}
