package mp4io

import (
	"fmt"
	"time"

	"github.com/schahriar/mfx/utils/bits/pio"
)

const (
	MOOV = Tag(0x6d6f6f76)
	MVHD = Tag(0x6d766864)
	TRAK = Tag(0x7472616b)
	TKHD = Tag(0x746b6864)
)

type Movie struct {
	Header      *MovieHeader
	Tracks      []*Track
	MovieExtend *MovieExtend
	Unknowns    []Atom
	AtomPos
}

func (a Movie) Tag() Tag { return MOOV }

func (a Movie) Len() (n int) {
	n = 8
	if a.Header != nil {
		n += a.Header.Len()
	}
	for _, t := range a.Tracks {
		n += t.Len()
	}
	if a.MovieExtend != nil {
		n += a.MovieExtend.Len()
	}
	return n + lenAtoms(a.Unknowns)
}

func (a Movie) Marshal(b []byte) (n int) {
	n = 8
	if a.Header != nil {
		n += a.Header.Marshal(b[n:])
	}
	for _, t := range a.Tracks {
		n += t.Marshal(b[n:])
	}
	if a.MovieExtend != nil {
		n += a.MovieExtend.Marshal(b[n:])
	}
	n += marshalAtoms(b[n:], a.Unknowns)
	return putHeader(b, MOOV, n)
}

func (a *Movie) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	err = eachChild(b, 8, offset, func(tag Tag, box []byte, offset int) (err error) {
		switch tag {
		case MVHD:
			a.Header = &MovieHeader{}
			_, err = a.Header.Unmarshal(box, offset)
		case TRAK:
			t := &Track{}
			if _, err = t.Unmarshal(box, offset); err == nil {
				a.Tracks = append(a.Tracks, t)
			}
		case MVEX:
			a.MovieExtend = &MovieExtend{}
			_, err = a.MovieExtend.Unmarshal(box, offset)
		default:
			a.Unknowns = append(a.Unknowns, unknown(tag, box, offset))
		}
		return
	})
	return len(b), err
}

func (a Movie) Children() (r []Atom) {
	if a.Header != nil {
		r = append(r, a.Header)
	}
	for _, t := range a.Tracks {
		r = append(r, t)
	}
	if a.MovieExtend != nil {
		r = append(r, a.MovieExtend)
	}
	return append(r, a.Unknowns...)
}

type MovieHeader struct {
	FullAtom
	CreateTime      time.Time
	ModifyTime      time.Time
	TimeScale       uint32
	Duration        uint64
	PreferredRate   float64
	PreferredVolume float64
	Matrix          [9]int32
	NextTrackID     uint32
	AtomPos
}

func (a MovieHeader) Tag() Tag          { return MVHD }
func (a MovieHeader) Children() []Atom  { return nil }
func (a MovieHeader) String() string    { return fmt.Sprintf("timescale=%d dur=%d", a.TimeScale, a.Duration) }
func (a MovieHeader) timeFieldLen() int { return 4 << a.Version }
func (a MovieHeader) Len() int          { return 8 + 4 + 3*a.timeFieldLen() + 4 + 4 + 2 + 10 + 36 + 24 + 4 }

func (a MovieHeader) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	n = putVersioned(b, n, a.Version, toEpoch(a.CreateTime))
	n = putVersioned(b, n, a.Version, toEpoch(a.ModifyTime))
	pio.PutU32BE(b[n:], a.TimeScale)
	n += 4
	n = putVersioned(b, n, a.Version, a.Duration)
	PutFixed32(b[n:], a.PreferredRate)
	n += 4
	PutFixed16(b[n:], a.PreferredVolume)
	n += 2 + 10
	for _, entry := range a.Matrix {
		pio.PutI32BE(b[n:], entry)
		n += 4
	}
	n += 24
	pio.PutU32BE(b[n:], a.NextTrackID)
	n += 4
	return putHeader(b, MVHD, n)
}

func (a *MovieHeader) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < a.Len() {
		return n, parseErr("mvhd", offset+n, nil)
	}
	var v uint64
	v, n = versioned(b, n, a.Version)
	a.CreateTime = fromEpoch(v)
	v, n = versioned(b, n, a.Version)
	a.ModifyTime = fromEpoch(v)
	a.TimeScale = pio.U32BE(b[n:])
	n += 4
	a.Duration, n = versioned(b, n, a.Version)
	a.PreferredRate = GetFixed32(b[n:])
	n += 4
	a.PreferredVolume = GetFixed16(b[n:])
	n += 2 + 10
	for i := range a.Matrix {
		a.Matrix[i] = pio.I32BE(b[n:])
		n += 4
	}
	n += 24
	a.NextTrackID = pio.U32BE(b[n:])
	n += 4
	return
}

type Track struct {
	Header   *TrackHeader
	Media    *Media
	Unknowns []Atom
	AtomPos
}

func (a Track) Tag() Tag { return TRAK }

func (a Track) Len() (n int) {
	n = 8
	if a.Header != nil {
		n += a.Header.Len()
	}
	if a.Media != nil {
		n += a.Media.Len()
	}
	return n + lenAtoms(a.Unknowns)
}

func (a Track) Marshal(b []byte) (n int) {
	n = 8
	if a.Header != nil {
		n += a.Header.Marshal(b[n:])
	}
	if a.Media != nil {
		n += a.Media.Marshal(b[n:])
	}
	n += marshalAtoms(b[n:], a.Unknowns)
	return putHeader(b, TRAK, n)
}

func (a *Track) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	err = eachChild(b, 8, offset, func(tag Tag, box []byte, offset int) (err error) {
		switch tag {
		case TKHD:
			a.Header = &TrackHeader{}
			_, err = a.Header.Unmarshal(box, offset)
		case MDIA:
			a.Media = &Media{}
			_, err = a.Media.Unmarshal(box, offset)
		default:
			a.Unknowns = append(a.Unknowns, unknown(tag, box, offset))
		}
		return
	})
	return len(b), err
}

func (a Track) Children() (r []Atom) {
	if a.Header != nil {
		r = append(r, a.Header)
	}
	if a.Media != nil {
		r = append(r, a.Media)
	}
	return append(r, a.Unknowns...)
}

// SampleTable returns the track's stbl or nil.
func (a Track) SampleTable() *SampleTable {
	if a.Media == nil || a.Media.Info == nil {
		return nil
	}
	return a.Media.Info.Sample
}

// TrackHeader flags
const (
	TrackEnabled   = 0x1
	TrackInMovie   = 0x2
	TrackInPreview = 0x4
)

type TrackHeader struct {
	FullAtom
	CreateTime     time.Time
	ModifyTime     time.Time
	TrackID        uint32
	Duration       uint64
	Layer          int16
	AlternateGroup int16
	Volume         float64
	Matrix         [9]int32
	TrackWidth     float64
	TrackHeight    float64
	AtomPos
}

func (a TrackHeader) Tag() Tag         { return TKHD }
func (a TrackHeader) Children() []Atom { return nil }
func (a TrackHeader) String() string   { return fmt.Sprintf("id=%d dur=%d", a.TrackID, a.Duration) }
func (a TrackHeader) Len() int {
	return 8 + 4 + 3*(4<<a.Version) + 4 + 4 + 8 + 2 + 2 + 2 + 2 + 36 + 8
}

func (a TrackHeader) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	n = putVersioned(b, n, a.Version, toEpoch(a.CreateTime))
	n = putVersioned(b, n, a.Version, toEpoch(a.ModifyTime))
	pio.PutU32BE(b[n:], a.TrackID)
	n += 4 + 4
	n = putVersioned(b, n, a.Version, a.Duration)
	n += 8
	pio.PutI16BE(b[n:], a.Layer)
	pio.PutI16BE(b[n+2:], a.AlternateGroup)
	PutFixed16(b[n+4:], a.Volume)
	n += 8
	for _, entry := range a.Matrix {
		pio.PutI32BE(b[n:], entry)
		n += 4
	}
	PutFixed32(b[n:], a.TrackWidth)
	PutFixed32(b[n+4:], a.TrackHeight)
	n += 8
	return putHeader(b, TKHD, n)
}

func (a *TrackHeader) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < a.Len() {
		return n, parseErr("tkhd", offset+n, nil)
	}
	var v uint64
	v, n = versioned(b, n, a.Version)
	a.CreateTime = fromEpoch(v)
	v, n = versioned(b, n, a.Version)
	a.ModifyTime = fromEpoch(v)
	a.TrackID = pio.U32BE(b[n:])
	n += 4 + 4
	a.Duration, n = versioned(b, n, a.Version)
	n += 8
	a.Layer = pio.I16BE(b[n:])
	a.AlternateGroup = pio.I16BE(b[n+2:])
	a.Volume = GetFixed16(b[n+4:])
	n += 8
	for i := range a.Matrix {
		a.Matrix[i] = pio.I32BE(b[n:])
		n += 4
	}
	a.TrackWidth = GetFixed32(b[n:])
	a.TrackHeight = GetFixed32(b[n+4:])
	n += 8
	return
}
