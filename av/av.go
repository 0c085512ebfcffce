// Package av contains the media types shared by demuxers, codec
// coordinators, timing stages and muxers.
package av

import (
	"fmt"
	"time"
)

// Kind discriminates video and audio values.
type Kind uint8

const (
	Video Kind = iota + 1
	Audio
)

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

type VideoConfig struct {
	Codec       string
	CodedWidth  int
	CodedHeight int
	// Description is the codec configuration record (avcC, hvcC, vpcC, av1C
	// payload or Matroska CodecPrivate) without any container header.
	Description []byte
}

type AudioConfig struct {
	Codec       string
	SampleRate  int
	Channels    int
	Description []byte
}

// Track describes one elementary stream found in a container. Exactly one of
// Video and Audio is set, matching Kind.
type Track struct {
	ID        uint64
	Kind      Kind
	Video     *VideoConfig
	Audio     *AudioConfig
	Timescale uint32
	Duration  time.Duration
	CreatedAt time.Time

	chunk func(Sample) CodedChunk
}

// NewTrack returns a track that converts samples with chunk. When chunk is
// nil the default conversion is used.
func NewTrack(t Track, chunk func(Sample) CodedChunk) *Track {
	t.chunk = chunk
	return &t
}

// Codec returns the codec string of whichever config is set.
func (t *Track) Codec() string {
	switch t.Kind {
	case Video:
		if t.Video != nil {
			return t.Video.Codec
		}
	case Audio:
		if t.Audio != nil {
			return t.Audio.Codec
		}
	}
	return ""
}

// Context returns the container context frames of this track carry.
func (t *Track) Context() ContainerContext {
	return ContainerContext{Duration: t.Duration, CreatedAt: t.CreatedAt}
}

// Chunk converts a container sample into a decodable chunk.
func (t *Track) Chunk(s Sample) CodedChunk {
	if t.chunk != nil {
		return t.chunk(s)
	}
	return DefaultChunk(s)
}

func (t *Track) String() string {
	switch t.Kind {
	case Video:
		return fmt.Sprintf("video#%d %s %dx%d", t.ID, t.Video.Codec, t.Video.CodedWidth, t.Video.CodedHeight)
	case Audio:
		return fmt.Sprintf("audio#%d %s %dHz %dch", t.ID, t.Audio.Codec, t.Audio.SampleRate, t.Audio.Channels)
	}
	return fmt.Sprintf("track#%d", t.ID)
}

// Sample is a container native coded unit. DTS, CTS and Duration are in
// Timescale units.
type Sample struct {
	TrackID   uint64
	Data      []byte
	Offset    int64
	DTS       int64
	CTS       int64
	Duration  int64
	Timescale uint32
	IsSync    bool
}

// Micros converts v from the sample timescale to microseconds.
func (s Sample) Micros(v int64) int64 {
	if s.Timescale == 0 {
		return v
	}
	return v * 1000000 / int64(s.Timescale)
}

func DefaultChunk(s Sample) CodedChunk {
	typ := Delta
	if s.IsSync {
		typ = Key
	}
	return CodedChunk{
		Type:      typ,
		Timestamp: s.Micros(s.CTS),
		Duration:  s.Micros(s.Duration),
		Data:      s.Data,
	}
}

type ChunkType uint8

const (
	Key ChunkType = iota + 1
	Delta
)

func (t ChunkType) String() string {
	if t == Key {
		return "key"
	}
	return "delta"
}

// CodedChunk is the unit handed to and received from a codec. Times are in
// microseconds.
type CodedChunk struct {
	Type      ChunkType
	Timestamp int64
	Duration  int64
	Data      []byte
}

func (c CodedChunk) IsKey() bool {
	return c.Type == Key
}
