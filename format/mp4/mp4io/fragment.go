package mp4io

import (
	"fmt"

	"github.com/schahriar/mfx/utils/bits/pio"
)

const (
	MVEX = Tag(0x6d766578)
	MEHD = Tag(0x6d656864)
	TREX = Tag(0x74726578)
	MOOF = Tag(0x6d6f6f66)
	MFHD = Tag(0x6d666864)
	TRAF = Tag(0x74726166)
	TFHD = Tag(0x74666864)
	TFDT = Tag(0x74666474)
	TRUN = Tag(0x7472756e)
)

// tfhd flags
const (
	TFHDBaseDataOffset    = 0x01
	TFHDStsdID            = 0x02
	TFHDDefaultDuration   = 0x08
	TFHDDefaultSize       = 0x10
	TFHDDefaultFlags      = 0x20
	TFHDDurationIsEmpty   = 0x010000
	TFHDDefaultBaseIsMOOF = 0x020000
)

// trun flags
const (
	TRUNDataOffset       = 0x01
	TRUNFirstSampleFlags = 0x04
	TRUNSampleDuration   = 0x100
	TRUNSampleSize       = 0x200
	TRUNSampleFlags      = 0x400
	TRUNSampleCTS        = 0x800
)

// sample flags
const (
	SampleIsNonSync         = 0x00010000
	SampleHasDependencies   = 0x01000000
	SampleHasNoDependencies = 0x02000000
)

type MovieExtend struct {
	Header   *MovieExtendHeader
	Tracks   []*TrackExtend
	Unknowns []Atom
	AtomPos
}

func (a MovieExtend) Tag() Tag { return MVEX }

func (a MovieExtend) Children() (r []Atom) {
	if a.Header != nil {
		r = append(r, a.Header)
	}
	for _, t := range a.Tracks {
		r = append(r, t)
	}
	return append(r, a.Unknowns...)
}

func (a MovieExtend) Len() int { return 8 + lenAtoms(a.Children()) }

func (a MovieExtend) Marshal(b []byte) int {
	return putHeader(b, MVEX, 8+marshalAtoms(b[8:], a.Children()))
}

func (a *MovieExtend) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	err = eachChild(b, 8, offset, func(tag Tag, box []byte, offset int) (err error) {
		switch tag {
		case MEHD:
			a.Header = &MovieExtendHeader{}
			_, err = a.Header.Unmarshal(box, offset)
		case TREX:
			t := &TrackExtend{}
			if _, err = t.Unmarshal(box, offset); err == nil {
				a.Tracks = append(a.Tracks, t)
			}
		default:
			a.Unknowns = append(a.Unknowns, unknown(tag, box, offset))
		}
		return
	})
	return len(b), err
}

// TrackExtend returns the trex defaults of a track or nil.
func (a MovieExtend) TrackExtend(id uint32) *TrackExtend {
	for _, t := range a.Tracks {
		if t.TrackID == id {
			return t
		}
	}
	return nil
}

type MovieExtendHeader struct {
	FullAtom
	FragmentDuration uint64
	AtomPos
}

func (a MovieExtendHeader) Tag() Tag         { return MEHD }
func (a MovieExtendHeader) Children() []Atom { return nil }
func (a MovieExtendHeader) Len() int         { return 8 + 4 + (4 << a.Version) }

func (a MovieExtendHeader) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	n = putVersioned(b, n, a.Version, a.FragmentDuration)
	return putHeader(b, MEHD, n)
}

func (a *MovieExtendHeader) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < a.Len() {
		return n, parseErr("mehd", offset+n, nil)
	}
	a.FragmentDuration, n = versioned(b, n, a.Version)
	return
}

type TrackExtend struct {
	FullAtom
	TrackID               uint32
	DefaultSampleDescIdx  uint32
	DefaultSampleDuration uint32
	DefaultSampleSize     uint32
	DefaultSampleFlags    uint32
	AtomPos
}

func (a TrackExtend) Tag() Tag         { return TREX }
func (a TrackExtend) Children() []Atom { return nil }
func (a TrackExtend) Len() int         { return 8 + 4 + 20 }

func (a TrackExtend) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	for _, v := range []uint32{a.TrackID, a.DefaultSampleDescIdx, a.DefaultSampleDuration, a.DefaultSampleSize, a.DefaultSampleFlags} {
		pio.PutU32BE(b[n:], v)
		n += 4
	}
	return putHeader(b, TREX, n)
}

func (a *TrackExtend) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < n+20 {
		return n, parseErr("trex", offset+n, nil)
	}
	a.TrackID = pio.U32BE(b[n:])
	a.DefaultSampleDescIdx = pio.U32BE(b[n+4:])
	a.DefaultSampleDuration = pio.U32BE(b[n+8:])
	a.DefaultSampleSize = pio.U32BE(b[n+12:])
	a.DefaultSampleFlags = pio.U32BE(b[n+16:])
	return n + 20, nil
}

type MovieFrag struct {
	Header   *MovieFragHeader
	Tracks   []*TrackFrag
	Unknowns []Atom
	AtomPos
}

func (a MovieFrag) Tag() Tag { return MOOF }

func (a MovieFrag) Children() (r []Atom) {
	if a.Header != nil {
		r = append(r, a.Header)
	}
	for _, t := range a.Tracks {
		r = append(r, t)
	}
	return append(r, a.Unknowns...)
}

func (a MovieFrag) Len() int { return 8 + lenAtoms(a.Children()) }

func (a MovieFrag) Marshal(b []byte) int {
	return putHeader(b, MOOF, 8+marshalAtoms(b[8:], a.Children()))
}

func (a *MovieFrag) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	err = eachChild(b, 8, offset, func(tag Tag, box []byte, offset int) (err error) {
		switch tag {
		case MFHD:
			a.Header = &MovieFragHeader{}
			_, err = a.Header.Unmarshal(box, offset)
		case TRAF:
			t := &TrackFrag{}
			if _, err = t.Unmarshal(box, offset); err == nil {
				a.Tracks = append(a.Tracks, t)
			}
		default:
			a.Unknowns = append(a.Unknowns, unknown(tag, box, offset))
		}
		return
	})
	return len(b), err
}

type MovieFragHeader struct {
	FullAtom
	Seqnum uint32
	AtomPos
}

func (a MovieFragHeader) Tag() Tag         { return MFHD }
func (a MovieFragHeader) Children() []Atom { return nil }
func (a MovieFragHeader) Len() int         { return 8 + 4 + 4 }
func (a MovieFragHeader) String() string   { return fmt.Sprintf("seq=%d", a.Seqnum) }

func (a MovieFragHeader) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutU32BE(b[n:], a.Seqnum)
	return putHeader(b, MFHD, n+4)
}

func (a *MovieFragHeader) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < n+4 {
		return n, parseErr("mfhd", offset+n, nil)
	}
	a.Seqnum = pio.U32BE(b[n:])
	return n + 4, nil
}

type TrackFrag struct {
	Header     *TrackFragHeader
	DecodeTime *TrackFragDecodeTime
	Runs       []*TrackFragRun
	Unknowns   []Atom
	AtomPos
}

func (a TrackFrag) Tag() Tag { return TRAF }

func (a TrackFrag) Children() (r []Atom) {
	if a.Header != nil {
		r = append(r, a.Header)
	}
	if a.DecodeTime != nil {
		r = append(r, a.DecodeTime)
	}
	for _, run := range a.Runs {
		r = append(r, run)
	}
	return append(r, a.Unknowns...)
}

func (a TrackFrag) Len() int { return 8 + lenAtoms(a.Children()) }

func (a TrackFrag) Marshal(b []byte) int {
	return putHeader(b, TRAF, 8+marshalAtoms(b[8:], a.Children()))
}

func (a *TrackFrag) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	err = eachChild(b, 8, offset, func(tag Tag, box []byte, offset int) (err error) {
		switch tag {
		case TFHD:
			a.Header = &TrackFragHeader{}
			_, err = a.Header.Unmarshal(box, offset)
		case TFDT:
			a.DecodeTime = &TrackFragDecodeTime{}
			_, err = a.DecodeTime.Unmarshal(box, offset)
		case TRUN:
			run := &TrackFragRun{}
			if _, err = run.Unmarshal(box, offset); err == nil {
				a.Runs = append(a.Runs, run)
			}
		default:
			a.Unknowns = append(a.Unknowns, unknown(tag, box, offset))
		}
		return
	})
	return len(b), err
}

type TrackFragHeader struct {
	FullAtom
	TrackID         uint32
	BaseDataOffset  uint64
	StsdID          uint32
	DefaultDuration uint32
	DefaultSize     uint32
	DefaultFlags    uint32
	AtomPos
}

func (a TrackFragHeader) Tag() Tag         { return TFHD }
func (a TrackFragHeader) Children() []Atom { return nil }

func (a TrackFragHeader) Len() (n int) {
	n = 8 + 4 + 4
	if a.Flags&TFHDBaseDataOffset != 0 {
		n += 8
	}
	for _, f := range []uint32{TFHDStsdID, TFHDDefaultDuration, TFHDDefaultSize, TFHDDefaultFlags} {
		if a.Flags&f != 0 {
			n += 4
		}
	}
	return
}

func (a TrackFragHeader) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutU32BE(b[n:], a.TrackID)
	n += 4
	if a.Flags&TFHDBaseDataOffset != 0 {
		pio.PutU64BE(b[n:], a.BaseDataOffset)
		n += 8
	}
	if a.Flags&TFHDStsdID != 0 {
		pio.PutU32BE(b[n:], a.StsdID)
		n += 4
	}
	if a.Flags&TFHDDefaultDuration != 0 {
		pio.PutU32BE(b[n:], a.DefaultDuration)
		n += 4
	}
	if a.Flags&TFHDDefaultSize != 0 {
		pio.PutU32BE(b[n:], a.DefaultSize)
		n += 4
	}
	if a.Flags&TFHDDefaultFlags != 0 {
		pio.PutU32BE(b[n:], a.DefaultFlags)
		n += 4
	}
	return putHeader(b, TFHD, n)
}

func (a *TrackFragHeader) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < a.Len() {
		return n, parseErr("tfhd", offset+n, nil)
	}
	a.TrackID = pio.U32BE(b[n:])
	n += 4
	if a.Flags&TFHDBaseDataOffset != 0 {
		a.BaseDataOffset = pio.U64BE(b[n:])
		n += 8
	}
	if a.Flags&TFHDStsdID != 0 {
		a.StsdID = pio.U32BE(b[n:])
		n += 4
	}
	if a.Flags&TFHDDefaultDuration != 0 {
		a.DefaultDuration = pio.U32BE(b[n:])
		n += 4
	}
	if a.Flags&TFHDDefaultSize != 0 {
		a.DefaultSize = pio.U32BE(b[n:])
		n += 4
	}
	if a.Flags&TFHDDefaultFlags != 0 {
		a.DefaultFlags = pio.U32BE(b[n:])
		n += 4
	}
	return
}

type TrackFragDecodeTime struct {
	FullAtom
	Time uint64
	AtomPos
}

func (a TrackFragDecodeTime) Tag() Tag         { return TFDT }
func (a TrackFragDecodeTime) Children() []Atom { return nil }
func (a TrackFragDecodeTime) Len() int         { return 8 + 4 + (4 << a.Version) }
func (a TrackFragDecodeTime) String() string   { return fmt.Sprintf("time=%d", a.Time) }

func (a TrackFragDecodeTime) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	n = putVersioned(b, n, a.Version, a.Time)
	return putHeader(b, TFDT, n)
}

func (a *TrackFragDecodeTime) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < a.Len() {
		return n, parseErr("tfdt", offset+n, nil)
	}
	a.Time, n = versioned(b, n, a.Version)
	return
}

type TrackFragRunEntry struct {
	Duration uint32
	Size     uint32
	Flags    uint32
	CTS      int32
}

const maxRunEntries = 1 << 20

type TrackFragRun struct {
	FullAtom
	DataOffset       int32
	FirstSampleFlags uint32
	Entries          []TrackFragRunEntry
	AtomPos
}

func (a TrackFragRun) Tag() Tag         { return TRUN }
func (a TrackFragRun) Children() []Atom { return nil }
func (a TrackFragRun) String() string   { return fmt.Sprintf("samples=%d", len(a.Entries)) }

func (a TrackFragRun) entryLen() (n int) {
	for _, f := range []uint32{TRUNSampleDuration, TRUNSampleSize, TRUNSampleFlags, TRUNSampleCTS} {
		if a.Flags&f != 0 {
			n += 4
		}
	}
	return
}

func (a TrackFragRun) Len() (n int) {
	n = 8 + 4 + 4
	if a.Flags&TRUNDataOffset != 0 {
		n += 4
	}
	if a.Flags&TRUNFirstSampleFlags != 0 {
		n += 4
	}
	return n + a.entryLen()*len(a.Entries)
}

func (a TrackFragRun) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutU32BE(b[n:], uint32(len(a.Entries)))
	n += 4
	if a.Flags&TRUNDataOffset != 0 {
		pio.PutI32BE(b[n:], a.DataOffset)
		n += 4
	}
	if a.Flags&TRUNFirstSampleFlags != 0 {
		pio.PutU32BE(b[n:], a.FirstSampleFlags)
		n += 4
	}
	for _, e := range a.Entries {
		if a.Flags&TRUNSampleDuration != 0 {
			pio.PutU32BE(b[n:], e.Duration)
			n += 4
		}
		if a.Flags&TRUNSampleSize != 0 {
			pio.PutU32BE(b[n:], e.Size)
			n += 4
		}
		if a.Flags&TRUNSampleFlags != 0 {
			pio.PutU32BE(b[n:], e.Flags)
			n += 4
		}
		if a.Flags&TRUNSampleCTS != 0 {
			pio.PutI32BE(b[n:], e.CTS)
			n += 4
		}
	}
	return putHeader(b, TRUN, n)
}

func (a *TrackFragRun) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < n+4 {
		return n, parseErr("SampleCount", offset+n, nil)
	}
	count := int(pio.U32BE(b[n:]))
	n += 4
	if a.Flags&TRUNDataOffset != 0 {
		if len(b) < n+4 {
			return n, parseErr("DataOffset", offset+n, nil)
		}
		a.DataOffset = pio.I32BE(b[n:])
		n += 4
	}
	if a.Flags&TRUNFirstSampleFlags != 0 {
		if len(b) < n+4 {
			return n, parseErr("FirstSampleFlags", offset+n, nil)
		}
		a.FirstSampleFlags = pio.U32BE(b[n:])
		n += 4
	}
	if size := a.entryLen(); (size > 0 && (len(b)-n)/size < count) || count > maxRunEntries {
		return n, parseErr("Entries", offset+n, nil)
	}
	a.Entries = make([]TrackFragRunEntry, count)
	for i := range a.Entries {
		e := &a.Entries[i]
		if a.Flags&TRUNSampleDuration != 0 {
			e.Duration = pio.U32BE(b[n:])
			n += 4
		}
		if a.Flags&TRUNSampleSize != 0 {
			e.Size = pio.U32BE(b[n:])
			n += 4
		}
		if a.Flags&TRUNSampleFlags != 0 {
			e.Flags = pio.U32BE(b[n:])
			n += 4
		}
		if a.Flags&TRUNSampleCTS != 0 {
			e.CTS = pio.I32BE(b[n:])
			n += 4
		}
	}
	return
}
