package player

import (
	"sync"
)

// watcherBuffer is the per-watcher channel depth. A session produces a
// handful of transitions, so a slow consumer has to fall well behind
// before drops begin.
const watcherBuffer = 16

// Broadcaster fans out player state transitions to N watchers.
type Broadcaster struct {
	mu       sync.RWMutex
	watchers map[*Watcher]struct{}
}

// Watcher receives state transitions from the broadcaster.
type Watcher struct {
	C    chan State
	done chan struct{}
}

// Done is closed when the watcher is unsubscribed.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		watchers: make(map[*Watcher]struct{}),
	}
}

// Subscribe registers a new watcher.
func (b *Broadcaster) Subscribe() *Watcher {
	w := &Watcher{
		C:    make(chan State, watcherBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.watchers[w] = struct{}{}
	b.mu.Unlock()
	return w
}

// Unsubscribe removes a watcher and signals it to stop.
func (b *Broadcaster) Unsubscribe(w *Watcher) {
	b.mu.Lock()
	delete(b.watchers, w)
	b.mu.Unlock()
	close(w.done)
}

// WatcherCount returns the number of active watchers.
func (b *Broadcaster) WatcherCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.watchers)
}

// publish fans a transition out to all watchers. Slow watchers get
// transitions dropped rather than blocking the player.
func (b *Broadcaster) publish(s State) {
	b.mu.RLock()
	for w := range b.watchers {
		select {
		case w.C <- s:
		default:
		}
	}
	b.mu.RUnlock()
}
