package mp4io

import (
	"fmt"
	"time"

	"github.com/schahriar/mfx/utils/bits/pio"
)

const (
	MDIA = Tag(0x6d646961)
	MDHD = Tag(0x6d646864)
	HDLR = Tag(0x68646c72)
	MINF = Tag(0x6d696e66)
	VMHD = Tag(0x766d6864)
	SMHD = Tag(0x736d6864)
	DINF = Tag(0x64696e66)
	DREF = Tag(0x64726566)
	URL  = Tag(0x75726c20)
)

type Media struct {
	Header   *MediaHeader
	Handler  *HandlerRefer
	Info     *MediaInfo
	Unknowns []Atom
	AtomPos
}

func (a Media) Tag() Tag { return MDIA }

func (a Media) Len() (n int) {
	n = 8
	if a.Header != nil {
		n += a.Header.Len()
	}
	if a.Handler != nil {
		n += a.Handler.Len()
	}
	if a.Info != nil {
		n += a.Info.Len()
	}
	return n + lenAtoms(a.Unknowns)
}

func (a Media) Marshal(b []byte) (n int) {
	n = 8
	if a.Header != nil {
		n += a.Header.Marshal(b[n:])
	}
	if a.Handler != nil {
		n += a.Handler.Marshal(b[n:])
	}
	if a.Info != nil {
		n += a.Info.Marshal(b[n:])
	}
	n += marshalAtoms(b[n:], a.Unknowns)
	return putHeader(b, MDIA, n)
}

func (a *Media) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	err = eachChild(b, 8, offset, func(tag Tag, box []byte, offset int) (err error) {
		switch tag {
		case MDHD:
			a.Header = &MediaHeader{}
			_, err = a.Header.Unmarshal(box, offset)
		case HDLR:
			a.Handler = &HandlerRefer{}
			_, err = a.Handler.Unmarshal(box, offset)
		case MINF:
			a.Info = &MediaInfo{}
			_, err = a.Info.Unmarshal(box, offset)
		default:
			a.Unknowns = append(a.Unknowns, unknown(tag, box, offset))
		}
		return
	})
	return len(b), err
}

func (a Media) Children() (r []Atom) {
	if a.Header != nil {
		r = append(r, a.Header)
	}
	if a.Handler != nil {
		r = append(r, a.Handler)
	}
	if a.Info != nil {
		r = append(r, a.Info)
	}
	return append(r, a.Unknowns...)
}

type MediaHeader struct {
	FullAtom
	CreateTime time.Time
	ModifyTime time.Time
	TimeScale  uint32
	Duration   uint64
	Language   uint16
	Quality    uint16
	AtomPos
}

func (a MediaHeader) Tag() Tag         { return MDHD }
func (a MediaHeader) Children() []Atom { return nil }
func (a MediaHeader) Len() int         { return 8 + 4 + 3*(4<<a.Version) + 4 + 4 }
func (a MediaHeader) String() string {
	return fmt.Sprintf("timescale=%d dur=%d", a.TimeScale, a.Duration)
}

func (a MediaHeader) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	n = putVersioned(b, n, a.Version, toEpoch(a.CreateTime))
	n = putVersioned(b, n, a.Version, toEpoch(a.ModifyTime))
	pio.PutU32BE(b[n:], a.TimeScale)
	n += 4
	n = putVersioned(b, n, a.Version, a.Duration)
	pio.PutU16BE(b[n:], a.Language)
	pio.PutU16BE(b[n+2:], a.Quality)
	n += 4
	return putHeader(b, MDHD, n)
}

func (a *MediaHeader) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < a.Len() {
		return n, parseErr("mdhd", offset+n, nil)
	}
	var v uint64
	v, n = versioned(b, n, a.Version)
	a.CreateTime = fromEpoch(v)
	v, n = versioned(b, n, a.Version)
	a.ModifyTime = fromEpoch(v)
	a.TimeScale = pio.U32BE(b[n:])
	n += 4
	a.Duration, n = versioned(b, n, a.Version)
	a.Language = pio.U16BE(b[n:])
	a.Quality = pio.U16BE(b[n+2:])
	n += 4
	return
}

// undetermined ISO-639-2 language, packed
const LanguageUndetermined = 0x55c4

type HandlerRefer struct {
	FullAtom
	Type Tag
	Name string
	AtomPos
}

const (
	VideoHandler = Tag(0x76696465) // vide
	SoundHandler = Tag(0x736f756e) // soun
)

func (a HandlerRefer) Tag() Tag         { return HDLR }
func (a HandlerRefer) Children() []Atom { return nil }
func (a HandlerRefer) Len() int         { return 8 + 4 + 4 + 4 + 12 + len(a.Name) + 1 }
func (a HandlerRefer) String() string   { return a.Type.String() }

func (a HandlerRefer) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutU32BE(b[n:], 0)
	pio.PutU32BE(b[n+4:], uint32(a.Type))
	n += 8
	for i := 0; i < 12; i++ {
		b[n+i] = 0
	}
	n += 12
	n += copy(b[n:], a.Name)
	b[n] = 0
	n++
	return putHeader(b, HDLR, n)
}

func (a *HandlerRefer) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < n+20 {
		return n, parseErr("hdlr", offset+n, nil)
	}
	a.Type = Tag(pio.U32BE(b[n+4:]))
	n += 20
	name := b[n:]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	a.Name = string(name)
	return len(b), nil
}

type MediaInfo struct {
	Sound    *SoundMediaInfo
	Video    *VideoMediaInfo
	Data     *Dummy
	Sample   *SampleTable
	Unknowns []Atom
	AtomPos
}

func (a MediaInfo) Tag() Tag { return MINF }

func (a MediaInfo) Len() (n int) {
	n = 8
	if a.Sound != nil {
		n += a.Sound.Len()
	}
	if a.Video != nil {
		n += a.Video.Len()
	}
	if a.Data != nil {
		n += a.Data.Len()
	}
	if a.Sample != nil {
		n += a.Sample.Len()
	}
	return n + lenAtoms(a.Unknowns)
}

func (a MediaInfo) Marshal(b []byte) (n int) {
	n = 8
	if a.Sound != nil {
		n += a.Sound.Marshal(b[n:])
	}
	if a.Video != nil {
		n += a.Video.Marshal(b[n:])
	}
	if a.Data != nil {
		n += a.Data.Marshal(b[n:])
	}
	if a.Sample != nil {
		n += a.Sample.Marshal(b[n:])
	}
	n += marshalAtoms(b[n:], a.Unknowns)
	return putHeader(b, MINF, n)
}

func (a *MediaInfo) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	err = eachChild(b, 8, offset, func(tag Tag, box []byte, offset int) (err error) {
		switch tag {
		case SMHD:
			a.Sound = &SoundMediaInfo{}
			_, err = a.Sound.Unmarshal(box, offset)
		case VMHD:
			a.Video = &VideoMediaInfo{}
			_, err = a.Video.Unmarshal(box, offset)
		case DINF:
			a.Data = &Dummy{Tag_: tag}
			_, err = a.Data.Unmarshal(box, offset)
		case STBL:
			a.Sample = &SampleTable{}
			_, err = a.Sample.Unmarshal(box, offset)
		default:
			a.Unknowns = append(a.Unknowns, unknown(tag, box, offset))
		}
		return
	})
	return len(b), err
}

func (a MediaInfo) Children() (r []Atom) {
	if a.Sound != nil {
		r = append(r, a.Sound)
	}
	if a.Video != nil {
		r = append(r, a.Video)
	}
	if a.Data != nil {
		r = append(r, a.Data)
	}
	if a.Sample != nil {
		r = append(r, a.Sample)
	}
	return append(r, a.Unknowns...)
}

type VideoMediaInfo struct {
	FullAtom
	GraphicsMode uint16
	Opcolor      [3]uint16
	AtomPos
}

func (a VideoMediaInfo) Tag() Tag         { return VMHD }
func (a VideoMediaInfo) Children() []Atom { return nil }
func (a VideoMediaInfo) Len() int         { return 8 + 4 + 8 }

func (a VideoMediaInfo) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutU16BE(b[n:], a.GraphicsMode)
	n += 2
	for _, c := range a.Opcolor {
		pio.PutU16BE(b[n:], c)
		n += 2
	}
	return putHeader(b, VMHD, n)
}

func (a *VideoMediaInfo) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < n+8 {
		return n, parseErr("vmhd", offset+n, nil)
	}
	a.GraphicsMode = pio.U16BE(b[n:])
	n += 2
	for i := range a.Opcolor {
		a.Opcolor[i] = pio.U16BE(b[n:])
		n += 2
	}
	return
}

type SoundMediaInfo struct {
	FullAtom
	Balance int16
	AtomPos
}

func (a SoundMediaInfo) Tag() Tag         { return SMHD }
func (a SoundMediaInfo) Children() []Atom { return nil }
func (a SoundMediaInfo) Len() int         { return 8 + 4 + 4 }

func (a SoundMediaInfo) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutI16BE(b[n:], a.Balance)
	pio.PutU16BE(b[n+2:], 0)
	n += 4
	return putHeader(b, SMHD, n)
}

func (a *SoundMediaInfo) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < n+2 {
		return n, parseErr("smhd", offset+n, nil)
	}
	a.Balance = pio.I16BE(b[n:])
	return n + 4, nil
}

// SelfContainedDataInfo returns a dinf box with a single self reference url
// entry, which every written track uses.
func SelfContainedDataInfo() *Dummy {
	b := make([]byte, 36)
	putHeader(b, DINF, 36)
	putHeader(b[8:], DREF, 28)
	pio.PutU32BE(b[16:], 0)
	pio.PutU32BE(b[20:], 1)
	putHeader(b[24:], URL, 12)
	pio.PutU32BE(b[32:], 1)
	return &Dummy{Tag_: DINF, Data: b}
}
