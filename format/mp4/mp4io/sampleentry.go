package mp4io

import (
	"fmt"

	"github.com/schahriar/mfx/utils/bits/pio"
)

// Sample entry formats.
const (
	AVC1 = Tag(0x61766331)
	AVC3 = Tag(0x61766333)
	HVC1 = Tag(0x68766331)
	HEV1 = Tag(0x68657631)
	VP08 = Tag(0x76703038)
	VP09 = Tag(0x76703039)
	AV01 = Tag(0x61763031)
	MP4A = Tag(0x6d703461)
	OPUS = Tag(0x4f707573)
)

// Decoder configuration boxes carried inside a sample entry.
const (
	AVCC = Tag(0x61766343)
	HVCC = Tag(0x68766343)
	VPCC = Tag(0x76706343)
	AV1C = Tag(0x61763143)
	ESDS = Tag(0x65736473)
	DOPS = Tag(0x644f7073)
)

func isConfigTag(tag Tag) bool {
	switch tag {
	case AVCC, HVCC, VPCC, AV1C, ESDS, DOPS:
		return true
	}
	return false
}

// ConfigBox keeps a decoder configuration box payload, without its header.
type ConfigBox struct {
	Tag_ Tag
	Data []byte
	AtomPos
}

func (a ConfigBox) Tag() Tag         { return a.Tag_ }
func (a ConfigBox) Children() []Atom { return nil }
func (a ConfigBox) Len() int         { return 8 + len(a.Data) }
func (a ConfigBox) String() string   { return fmt.Sprintf("len=%d", len(a.Data)) }

func (a ConfigBox) Marshal(b []byte) int {
	n := 8 + copy(b[8:], a.Data)
	return putHeader(b, a.Tag_, n)
}

func (a *ConfigBox) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	a.Tag_ = Tag(pio.U32BE(b[4:]))
	a.Data = b[8:]
	return len(b), nil
}

type VisualSampleEntry struct {
	Format               Tag
	DataRefIdx           uint16
	Width                uint16
	Height               uint16
	HorizontalResolution float64
	VerticalResolution   float64
	FrameCount           uint16
	CompressorName       string
	Depth                uint16
	Config               *ConfigBox
	Unknowns             []Atom
	AtomPos
}

const visualSampleEntryLen = 8 + 78

func (a VisualSampleEntry) Tag() Tag       { return a.Format }
func (a VisualSampleEntry) String() string { return fmt.Sprintf("%dx%d", a.Width, a.Height) }

func (a VisualSampleEntry) Children() (r []Atom) {
	if a.Config != nil {
		r = append(r, a.Config)
	}
	return append(r, a.Unknowns...)
}

func (a VisualSampleEntry) Len() int {
	return visualSampleEntryLen + lenAtoms(a.Children())
}

func (a VisualSampleEntry) Marshal(b []byte) int {
	n := 8
	clear(b[n : n+visualSampleEntryLen-8])
	pio.PutU16BE(b[n+6:], a.DataRefIdx)
	n += 8 + 16
	pio.PutU16BE(b[n:], a.Width)
	pio.PutU16BE(b[n+2:], a.Height)
	n += 4
	PutFixed32(b[n:], a.HorizontalResolution)
	PutFixed32(b[n+4:], a.VerticalResolution)
	n += 8 + 4
	pio.PutU16BE(b[n:], a.FrameCount)
	n += 2
	name := a.CompressorName
	if len(name) > 31 {
		name = name[:31]
	}
	b[n] = uint8(len(name))
	copy(b[n+1:], name)
	n += 32
	pio.PutU16BE(b[n:], a.Depth)
	pio.PutI16BE(b[n+2:], -1)
	n += 4
	n += marshalAtoms(b[n:], a.Children())
	return putHeader(b, a.Format, n)
}

func (a *VisualSampleEntry) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if len(b) < visualSampleEntryLen {
		return 0, parseErr("VisualSampleEntry", offset, nil)
	}
	a.Format = Tag(pio.U32BE(b[4:]))
	n = 8
	a.DataRefIdx = pio.U16BE(b[n+6:])
	n += 8 + 16
	a.Width = pio.U16BE(b[n:])
	a.Height = pio.U16BE(b[n+2:])
	n += 4
	a.HorizontalResolution = GetFixed32(b[n:])
	a.VerticalResolution = GetFixed32(b[n+4:])
	n += 8 + 4
	a.FrameCount = pio.U16BE(b[n:])
	n += 2
	if l := int(b[n]); l < 32 {
		a.CompressorName = string(b[n+1 : n+1+l])
	}
	n += 32
	a.Depth = pio.U16BE(b[n:])
	n += 4
	err = eachChild(b, n, offset, a.child)
	return len(b), err
}

func (a *VisualSampleEntry) child(tag Tag, box []byte, offset int) error {
	if isConfigTag(tag) && a.Config == nil {
		a.Config = &ConfigBox{}
		_, err := a.Config.Unmarshal(box, offset)
		return err
	}
	a.Unknowns = append(a.Unknowns, unknown(tag, box, offset))
	return nil
}

type AudioSampleEntry struct {
	Format     Tag
	DataRefIdx uint16
	Channels   uint16
	SampleSize uint16
	SampleRate float64
	Config     *ConfigBox
	Unknowns   []Atom
	AtomPos
}

const audioSampleEntryLen = 8 + 28

func (a AudioSampleEntry) Tag() Tag { return a.Format }

func (a AudioSampleEntry) String() string {
	return fmt.Sprintf("rate=%v ch=%d", a.SampleRate, a.Channels)
}

func (a AudioSampleEntry) Children() (r []Atom) {
	if a.Config != nil {
		r = append(r, a.Config)
	}
	return append(r, a.Unknowns...)
}

func (a AudioSampleEntry) Len() int {
	return audioSampleEntryLen + lenAtoms(a.Children())
}

func (a AudioSampleEntry) Marshal(b []byte) int {
	n := 8
	clear(b[n : n+audioSampleEntryLen-8])
	pio.PutU16BE(b[n+6:], a.DataRefIdx)
	n += 8 + 8
	pio.PutU16BE(b[n:], a.Channels)
	pio.PutU16BE(b[n+2:], a.SampleSize)
	n += 8
	PutFixed32(b[n:], a.SampleRate)
	n += 4
	n += marshalAtoms(b[n:], a.Children())
	return putHeader(b, a.Format, n)
}

func (a *AudioSampleEntry) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if len(b) < audioSampleEntryLen {
		return 0, parseErr("AudioSampleEntry", offset, nil)
	}
	a.Format = Tag(pio.U32BE(b[4:]))
	n = 8
	a.DataRefIdx = pio.U16BE(b[n+6:])
	n += 8 + 8
	a.Channels = pio.U16BE(b[n:])
	a.SampleSize = pio.U16BE(b[n+2:])
	n += 8
	a.SampleRate = GetFixed32(b[n:])
	n += 4
	err = eachChild(b, n, offset, func(tag Tag, box []byte, offset int) error {
		if isConfigTag(tag) && a.Config == nil {
			a.Config = &ConfigBox{}
			_, err := a.Config.Unmarshal(box, offset)
			return err
		}
		a.Unknowns = append(a.Unknowns, unknown(tag, box, offset))
		return nil
	})
	return len(b), err
}
