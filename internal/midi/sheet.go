package midi

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// TimedMessage is one sheet event at a wall-clock offset from the
// start of playback.
type TimedMessage struct {
	At  time.Duration
	Msg gomidi.Message
}

// Sheet is a standard MIDI file flattened for playback: channel voice
// events in absolute time order. Duration is the largest event offset
// in the file, meta events included, so it covers trailing silence up
// to the final end of track.
type Sheet struct {
	Events   []TimedMessage
	Duration time.Duration
}

// ChannelFilter restricts which MIDI channels survive sheet loading.
// The zero value keeps every channel; song playback excludes listed
// channels while light shows keep only listed channels.
type ChannelFilter struct {
	include map[uint8]struct{}
	exclude map[uint8]struct{}
}

// IncludeChannels keeps only the listed channels. An empty list keeps
// everything.
func IncludeChannels(channels ...uint8) ChannelFilter {
	return ChannelFilter{include: channelSet(channels)}
}

// ExcludeChannels drops the listed channels.
func ExcludeChannels(channels ...uint8) ChannelFilter {
	return ChannelFilter{exclude: channelSet(channels)}
}

func channelSet(channels []uint8) map[uint8]struct{} {
	if len(channels) == 0 {
		return nil
	}
	set := make(map[uint8]struct{}, len(channels))
	for _, ch := range channels {
		set[ch] = struct{}{}
	}
	return set
}

func (f ChannelFilter) keeps(ch uint8) bool {
	if len(f.include) > 0 {
		_, ok := f.include[ch]
		return ok
	}
	if len(f.exclude) > 0 {
		_, ok := f.exclude[ch]
		return !ok
	}
	return true
}

// ReadSheet parses a standard MIDI file into a Sheet. Tempo changes
// are folded into the event offsets, meta events are dropped, and
// events failing the channel filter are skipped while still counting
// toward the sheet duration.
func ReadSheet(r io.Reader, filter ChannelFilter) (*Sheet, error) {
	var sheet Sheet
	rd := smf.ReadTracksFrom(r)
	rd.Do(func(te smf.TrackEvent) {
		at := time.Duration(te.AbsMicroSeconds) * time.Microsecond
		if at > sheet.Duration {
			sheet.Duration = at
		}
		msg := gomidi.Message(te.Message)
		var ch uint8
		if !msg.GetChannel(&ch) || !filter.keeps(ch) {
			return
		}
		sheet.Events = append(sheet.Events, TimedMessage{At: at, Msg: msg})
	})
	if err := rd.Error(); err != nil {
		return nil, fmt.Errorf("read SMF: %w", err)
	}
	// Tracks arrive one after another; restore absolute time order
	// while keeping track order for simultaneous events.
	sort.SliceStable(sheet.Events, func(i, j int) bool {
		return sheet.Events[i].At < sheet.Events[j].At
	})
	return &sheet, nil
}

// LoadSheet reads a sheet from disk.
func LoadSheet(path string, filter ChannelFilter) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open MIDI file: %w", err)
	}
	defer f.Close()
	return ReadSheet(f, filter)
}
