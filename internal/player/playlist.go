package player

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrEmptyPlaylist is returned when a playlist is built with no songs.
var ErrEmptyPlaylist = errors.New("player: playlist has no songs")

// Playlist is an ordered list of songs with a current position. The
// position clamps at both ends rather than wrapping, and survives
// switches to another list.
type Playlist struct {
	songs []*Song

	mu  sync.Mutex
	pos int
}

// NewPlaylist builds a playlist over the given songs, positioned at
// the first.
func NewPlaylist(songs []*Song) (*Playlist, error) {
	if len(songs) == 0 {
		return nil, ErrEmptyPlaylist
	}
	return &Playlist{songs: songs}, nil
}

// AllSongs builds the alphabetized playlist over every known song.
func AllSongs(songs []*Song) (*Playlist, error) {
	sorted := append([]*Song(nil), songs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return NewPlaylist(sorted)
}

// Current returns the song at the current position.
func (p *Playlist) Current() *Song {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.songs[p.pos]
}

// Next moves to the next song and returns it. At the end of the list
// the position stays put.
func (p *Playlist) Next() *Song {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos < len(p.songs)-1 {
		p.pos++
	}
	return p.songs[p.pos]
}

// Previous moves to the previous song and returns it. At the start of
// the list the position stays put.
func (p *Playlist) Previous() *Song {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos > 0 {
		p.pos--
	}
	return p.songs[p.pos]
}

// Len returns the number of songs.
func (p *Playlist) Len() int {
	return len(p.songs)
}

// String lists the playlist contents.
func (p *Playlist) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Playlist (%d songs):\n", len(p.songs))
	for _, s := range p.songs {
		fmt.Fprintf(&b, "  - %s\n", s.Name)
	}
	return b.String()
}
