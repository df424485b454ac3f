// Package player coordinates multitrack playback sessions: audio
// stems through the mixer, the song's MIDI file through the MIDI
// output, and light shows through the DMX engine, all started with
// their configured delays, sharing one cancel handle, and joined into
// a single completion.
package player

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	"github.com/mdwn/mtrack/internal/audio"
	"github.com/mdwn/mtrack/internal/dmx"
	"github.com/mdwn/mtrack/internal/midi"
	"github.com/mdwn/mtrack/internal/playsync"
	"github.com/mdwn/mtrack/internal/samples"
)

// State is the lifecycle of a playback session. Completed and
// Cancelled are terminal for the session; the player itself returns to
// Idle after either.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StatePlaying
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Status is a point-in-time view of playback.
type Status struct {
	State   State
	Song    string
	Elapsed time.Duration
}

// audioPollInterval bounds how quickly the audio driver notices
// completion and cancellation.
const audioPollInterval = 10 * time.Millisecond

// admitRetries bounds how many device blocks the audio driver waits
// out for a mixer slot before giving up on a track.
const admitRetries = 100

// Config wires the player to the running engines. Mixer is required;
// MIDI, DMX, and Samples are optional and disable their media when
// nil.
type Config struct {
	Mixer      *audio.Mixer
	Transcoder *audio.Transcoder

	// MIDI receives the song's MIDI file events and selection events.
	MIDI midi.Sender
	// DMX receives light show events.
	DMX *dmx.Engine

	// Samples is the live trigger engine; per-song definitions are
	// merged over SampleDefs for the session and restored afterwards.
	Samples    *samples.Engine
	SampleDefs []*samples.Definition

	// Mappings routes track names to 1-based device channels for
	// tracks without explicit output channels.
	Mappings map[string][]int

	AudioDelay time.Duration
	MIDIDelay  time.Duration
	DMXDelay   time.Duration

	Logger *zap.Logger
}

// Player plays songs from a playlist or the all-songs list, one
// session at a time.
type Player struct {
	cfg        Config
	format     audio.Format
	transcoder *audio.Transcoder
	logger     *zap.Logger
	bc         *Broadcaster

	mu       sync.Mutex
	playlist *Playlist
	allSongs *Playlist
	useAll   bool
	session  *Session

	// stopRun stays set from a stop request until the session cleanup
	// finishes, so repeated stops do not pile up.
	stopRun atomic.Bool
}

// New builds a player over the given playlists. The selection event of
// the starting song is emitted immediately, mirroring a selection.
func New(cfg Config, playlist, allSongs *Playlist) (*Player, error) {
	if cfg.Mixer == nil {
		return nil, errors.New("player: config needs a mixer")
	}
	if playlist == nil {
		return nil, errors.New("player: config needs a playlist")
	}
	if allSongs == nil {
		allSongs = playlist
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	tr := cfg.Transcoder
	if tr == nil {
		tr = audio.NewTranscoder(cfg.Mixer.Format())
	}

	p := &Player{
		cfg:        cfg,
		format:     cfg.Mixer.Format(),
		transcoder: tr,
		logger:     cfg.Logger,
		bc:         NewBroadcaster(),
		playlist:   playlist,
		allSongs:   allSongs,
	}
	p.emitSelection(playlist.Current())
	return p, nil
}

// Broadcaster exposes the state transition fan-out.
func (p *Player) Broadcaster() *Broadcaster {
	return p.bc
}

// ActivePlaylist returns the list the player is currently drawing
// songs from.
func (p *Player) ActivePlaylist() *Playlist {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

func (p *Player) activeLocked() *Playlist {
	if p.useAll {
		return p.allSongs
	}
	return p.playlist
}

// State returns the player's current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return p.session.State()
	}
	return StateIdle
}

// Status reports the current session, or an idle status naming the
// current selection.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return p.session.Status()
	}
	return Status{State: StateIdle, Song: p.activeLocked().Current().Name}
}

// Play starts the song at the current selection. Playing while a
// session is active is a no-op returning the active session.
func (p *Player) Play() (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.logger.Info("player is already playing a song",
			zap.String("song", p.session.song.Name))
		return p.session, nil
	}
	return p.startLocked(p.activeLocked().Current())
}

// PlaySong starts a session for a specific song, bypassing the
// playlists. Playing while a session is active is a no-op returning
// the active session.
func (p *Player) PlaySong(song *Song) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.logger.Info("player is already playing a song",
			zap.String("song", p.session.song.Name))
		return p.session, nil
	}
	return p.startLocked(song)
}

// Stop cancels the active session. Stopping an idle player, or
// stopping again while a previous stop is still winding down, is a
// no-op.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		p.logger.Info("player is not active, nothing to stop")
		return
	}
	if !p.stopRun.CompareAndSwap(false, true) {
		p.logger.Info("the previous stop is still processing")
		return
	}
	p.logger.Info("stopping playback", zap.String("song", p.session.song.Name))
	p.session.cancel.Cancel()
}

// Next moves the selection forward and emits the new song's selection
// event. While a session is active the selection does not move.
func (p *Player) Next() *Song {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.activeLocked()
	if p.session != nil {
		p.logger.Info("can't go to next, player is active",
			zap.String("song", p.session.song.Name))
		return list.Current()
	}
	return p.nextAndEmit(list)
}

// Previous moves the selection back and emits the new song's selection
// event. While a session is active the selection does not move.
func (p *Player) Previous() *Song {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.activeLocked()
	if p.session != nil {
		p.logger.Info("can't go to previous, player is active",
			zap.String("song", p.session.song.Name))
		return list.Current()
	}
	return p.prevAndEmit(list)
}

// SwitchToAllSongs makes the all-songs list active. No-op while a
// session is active.
func (p *Player) SwitchToAllSongs() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.logger.Info("can't switch to all songs, player is active",
			zap.String("song", p.session.song.Name))
		return
	}
	p.useAll = true
	p.emitSelection(p.allSongs.Current())
}

// SwitchToPlaylist makes the playlist active. No-op while a session is
// active.
func (p *Player) SwitchToPlaylist() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.logger.Info("can't switch to playlist, player is active",
			zap.String("song", p.session.song.Name))
		return
	}
	p.useAll = false
	p.emitSelection(p.playlist.Current())
}

// WaitForCurrent blocks until the active session finishes, reporting
// whether there was one to wait for. On return the playlist has
// already advanced if the song completed naturally.
func (p *Player) WaitForCurrent() bool {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	if sess == nil {
		return false
	}
	p.logger.Info("waiting for song to finish", zap.String("song", sess.song.Name))
	sess.Wait()
	return true
}

// Close stops any active session and waits for it to wind down.
func (p *Player) Close() {
	p.mu.Lock()
	sess := p.session
	if sess != nil && p.stopRun.CompareAndSwap(false, true) {
		sess.cancel.Cancel()
	}
	p.mu.Unlock()
	if sess != nil {
		sess.Wait()
	}
}

func (p *Player) nextAndEmit(list *Playlist) *Song {
	song := list.Next()
	p.emitSelection(song)
	return song
}

func (p *Player) prevAndEmit(list *Playlist) *Song {
	song := list.Previous()
	p.emitSelection(song)
	return song
}

// emitSelection sends the song's selection event, if the song has one
// and a MIDI output is wired.
func (p *Player) emitSelection(song *Song) {
	if p.cfg.MIDI == nil || len(song.SelectionEvent) == 0 {
		return
	}
	if err := p.cfg.MIDI.Send(song.SelectionEvent); err != nil {
		p.logger.Error("error emitting selection event",
			zap.String("song", song.Name),
			zap.Error(err))
	}
}

// Session is one playback run of a song. It resolves to Completed or
// Cancelled exactly once; Wait blocks until then.
type Session struct {
	song   *Song
	cancel *playsync.CancelHandle
	done   chan struct{}

	state     atomic.Int32
	playingAt atomic.Int64
	doneAt    atomic.Int64

	publish func(State)
}

// Song returns the song this session plays.
func (s *Session) Song() *Song {
	return s.song
}

// State returns the session's current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Status reports the session's state and elapsed playing time. Elapsed
// counts from the Playing transition and freezes when the session
// resolves.
func (s *Session) Status() Status {
	st := s.State()
	var elapsed time.Duration
	if at := s.playingAt.Load(); at != 0 {
		end := time.Now()
		if d := s.doneAt.Load(); d != 0 {
			end = time.Unix(0, d)
		}
		elapsed = end.Sub(time.Unix(0, at))
	}
	return Status{State: st, Song: s.song.Name, Elapsed: elapsed}
}

// Stop cancels the session. Stopping a finished session is a no-op.
func (s *Session) Stop() {
	switch s.State() {
	case StateCompleted, StateCancelled:
		return
	}
	s.cancel.Cancel()
}

// Wait blocks until the session has resolved and the player has
// returned to idle.
func (s *Session) Wait() {
	<-s.done
}

// Done is closed once the session has resolved.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	if st == StatePlaying {
		s.playingAt.Store(time.Now().UnixNano())
	}
	if s.publish != nil {
		s.publish(st)
	}
}

// loadedTrack is a track decoded and routed, ready for admission.
type loadedTrack struct {
	name     string
	src      *audio.BufferSource
	tok      audio.Token
	admitted bool
}

// loadedShow is a light show sheet bound to a known universe.
type loadedShow struct {
	universe string
	sheet    *midi.Sheet
}

// startLocked runs the Starting phase: decode and route every track,
// load the MIDI sheet and light shows, apply sample overrides, then
// hand each present medium to its driver. Audio failures abort the
// start; MIDI and DMX problems degrade with a warning.
func (p *Player) startLocked(song *Song) (*Session, error) {
	sess := &Session{
		song:    song,
		cancel:  playsync.NewCancelHandle(),
		done:    make(chan struct{}),
		publish: p.bc.publish,
	}
	sess.setState(StateStarting)

	tracks, err := p.loadTracks(song)
	if err != nil {
		p.bc.publish(StateIdle)
		return nil, err
	}

	var sheet *midi.Sheet
	if song.MIDIFile != "" {
		switch {
		case p.cfg.MIDI == nil:
			p.logger.Warn("song has a MIDI file but no MIDI output is configured",
				zap.String("song", song.Name))
		default:
			sheet, err = midi.LoadSheet(song.MIDIFile, midi.ExcludeChannels(song.ExcludeMIDIChannels...))
			if err != nil {
				p.logger.Warn("skipping MIDI playback",
					zap.String("song", song.Name),
					zap.Error(err))
				sheet = nil
			} else {
				sheet = sheet.Transform(song.Transformers...)
			}
		}
	}

	var shows []loadedShow
	for _, ls := range song.LightShows {
		if p.cfg.DMX == nil {
			p.logger.Warn("song has light shows but no DMX engine is configured",
				zap.String("song", song.Name))
			break
		}
		if _, ok := p.cfg.DMX.Universe(ls.Universe); !ok {
			p.logger.Warn("skipping light show for unknown universe",
				zap.String("song", song.Name),
				zap.String("universe", ls.Universe))
			continue
		}
		sh, err := midi.LoadSheet(ls.File, midi.IncludeChannels(ls.MIDIChannels...))
		if err != nil {
			p.logger.Warn("skipping light show",
				zap.String("song", song.Name),
				zap.String("universe", ls.Universe),
				zap.Error(err))
			continue
		}
		shows = append(shows, loadedShow{universe: ls.Universe, sheet: sh})
	}

	applied := false
	if p.cfg.Samples != nil && len(song.Samples) > 0 {
		p.cfg.Samples.SetDefinitions(samples.Merge(p.cfg.SampleDefs, song.Samples))
		applied = true
	}

	p.logger.Info("playing song",
		zap.String("song", song.Name),
		zap.Int("tracks", len(tracks)),
		zap.Bool("midi", sheet != nil),
		zap.Int("light_shows", len(shows)))

	var wg sync.WaitGroup
	if len(tracks) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runAudio(sess, tracks)
		}()
	}
	if sheet != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runMIDI(sess, sheet)
		}()
	}
	for _, sh := range shows {
		sh := sh
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runShow(sess, sh)
		}()
	}

	sess.setState(StatePlaying)
	p.session = sess
	go p.finish(sess, &wg, applied)
	return sess, nil
}

// finish joins the media drivers and resolves the session. Only a
// natural completion advances the playlist; the driver that happened
// to end first never decides the outcome.
func (p *Player) finish(sess *Session, wg *sync.WaitGroup, samplesApplied bool) {
	wg.Wait()
	sess.cancel.Expire()
	cancelled := sess.cancel.IsCancelled()

	sess.doneAt.Store(time.Now().UnixNano())
	if cancelled {
		sess.setState(StateCancelled)
	} else {
		sess.setState(StateCompleted)
	}

	p.mu.Lock()
	if !cancelled {
		p.nextAndEmit(p.activeLocked())
	}
	if samplesApplied {
		p.cfg.Samples.SetDefinitions(p.cfg.SampleDefs)
	}
	p.session = nil
	p.stopRun.Store(false)
	p.mu.Unlock()

	p.logger.Info("song finished playing",
		zap.String("song", sess.song.Name),
		zap.Bool("cancelled", cancelled))
	p.bc.publish(StateIdle)
	close(sess.done)
}

// loadTracks decodes and routes every track of the song. Any failure
// fails the start: audio is not an optional medium.
func (p *Player) loadTracks(song *Song) ([]*loadedTrack, error) {
	if len(song.Tracks) == 0 {
		return nil, nil
	}
	tracks := make([]*loadedTrack, 0, len(song.Tracks))
	for _, t := range song.Tracks {
		buf, err := p.transcoder.LoadFile(t.File)
		if err != nil {
			return nil, fmt.Errorf("track %s: %w", t.Name, err)
		}
		if t.FileChannel > buf.Channels {
			return nil, fmt.Errorf("track %s: file channel %d beyond the file's %d channels",
				t.Name, t.FileChannel, buf.Channels)
		}
		dst := trackDst(t, buf.Channels, p.cfg.Mappings)
		if len(dst) == 0 {
			p.logger.Warn("track has no output mapping and will be silent",
				zap.String("song", song.Name),
				zap.String("track", t.Name))
		}
		tracks = append(tracks, &loadedTrack{
			name: t.Name,
			src:  audio.NewBufferSource(buf, dst, p.format.Channels, 1),
		})
	}
	return tracks, nil
}

// trackDst builds the 0-based destination list for a track. A file
// channel pick places the output channels at list positions congruent
// to the picked source channel, with -1 holes dropping the rest.
func trackDst(t Track, fileChannels int, table map[string][]int) []int {
	outs := t.OutputChannels
	if len(outs) == 0 {
		outs = audio.MapChannels(t.Name, table)
	}
	if len(outs) == 0 {
		return nil
	}
	if t.FileChannel <= 0 {
		dst := make([]int, len(outs))
		for i, o := range outs {
			dst[i] = o - 1
		}
		return dst
	}
	src := t.FileChannel - 1
	dst := make([]int, src+1+(len(outs)-1)*fileChannels)
	for i := range dst {
		dst[i] = -1
	}
	for j, o := range outs {
		dst[src+j*fileChannels] = o - 1
	}
	return dst
}

// runAudio starts every track at the same mixer frame, one block out,
// then polls for completion. Cancellation removes the tracks from the
// mixer immediately.
func (p *Player) runAudio(sess *Session, tracks []*loadedTrack) {
	if !waitDelay(p.cfg.AudioDelay, sess.cancel) {
		return
	}

	start := p.cfg.Mixer.Pos() + uint64(p.format.BufferFrames)
	for _, t := range tracks {
		t.src.StartAt(start)
		tok, err := p.admit(t.src, sess.cancel)
		if err != nil {
			p.logger.Error("track was not admitted",
				zap.String("track", t.name),
				zap.Error(err))
			continue
		}
		t.tok = tok
		t.admitted = true
	}

	ticker := time.NewTicker(audioPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.cancel.Done():
			for _, t := range tracks {
				if t.admitted {
					p.cfg.Mixer.Remove(t.tok)
				}
			}
			return
		case <-ticker.C:
			finished := true
			for _, t := range tracks {
				if t.admitted && !t.src.Finished() {
					finished = false
					break
				}
			}
			if finished {
				return
			}
		}
	}
}

// admit pushes a source into the mixer, waiting out backpressure one
// device block at a time.
func (p *Player) admit(src audio.Source, cancel *playsync.CancelHandle) (audio.Token, error) {
	block := p.format.FramesDuration(uint64(p.format.BufferFrames))
	for attempt := 0; ; attempt++ {
		tok, err := p.cfg.Mixer.Add(src)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, audio.ErrBackpressure) || attempt >= admitRetries {
			return audio.Token{}, err
		}
		if !waitDelay(block, cancel) {
			return audio.Token{}, err
		}
	}
}

// runMIDI replays the sheet through the MIDI output and silences all
// channels after a cancellation so nothing rings on.
func (p *Player) runMIDI(sess *Session, sheet *midi.Sheet) {
	if !waitDelay(p.cfg.MIDIDelay, sess.cancel) {
		return
	}
	if err := midi.Play(sheet, sess.cancel, p.cfg.MIDI); err != nil {
		p.logger.Error("MIDI playback failed",
			zap.String("song", sess.song.Name),
			zap.Error(err))
	}
	if sess.cancel.IsCancelled() {
		if err := midi.Silence(p.cfg.MIDI); err != nil {
			p.logger.Error("all notes off failed", zap.Error(err))
		}
	}
}

// runShow replays one light show sheet into its universe.
func (p *Player) runShow(sess *Session, show loadedShow) {
	if !waitDelay(p.cfg.DMXDelay, sess.cancel) {
		return
	}
	send := universeSender{engine: p.cfg.DMX, universe: show.universe}
	if err := midi.Play(show.sheet, sess.cancel, send); err != nil {
		p.logger.Error("light show playback failed",
			zap.String("song", sess.song.Name),
			zap.String("universe", show.universe),
			zap.Error(err))
	}
}

// universeSender adapts the DMX engine to the timed sheet walker.
type universeSender struct {
	engine   *dmx.Engine
	universe string
}

func (s universeSender) Send(msg gomidi.Message) error {
	s.engine.HandleMessage(s.universe, msg)
	return nil
}

// waitDelay sleeps out a playback delay, reporting false when the
// session was cancelled along the way.
func waitDelay(d time.Duration, cancel *playsync.CancelHandle) bool {
	if d <= 0 {
		return !cancel.IsCancelled()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-cancel.Done():
		return !cancel.IsCancelled()
	case <-t.C:
		return true
	}
}
