package mp4io

import (
	"fmt"

	"github.com/schahriar/mfx/utils/bits/pio"
)

const (
	STBL = Tag(0x7374626c)
	STSD = Tag(0x73747364)
	STTS = Tag(0x73747473)
	CTTS = Tag(0x63747473)
	STSC = Tag(0x73747363)
	STSS = Tag(0x73747373)
	STCO = Tag(0x7374636f)
	CO64 = Tag(0x636f3634)
	STSZ = Tag(0x7374737a)
)

type SampleTable struct {
	SampleDesc        *SampleDesc
	TimeToSample      *TimeToSample
	CompositionOffset *CompositionOffset
	SampleToChunk     *SampleToChunk
	SyncSample        *SyncSample
	ChunkOffset       *ChunkOffset
	SampleSize        *SampleSize
	Unknowns          []Atom
	AtomPos
}

func (a SampleTable) Tag() Tag { return STBL }

func (a SampleTable) atoms() (r []Atom) {
	if a.SampleDesc != nil {
		r = append(r, a.SampleDesc)
	}
	if a.TimeToSample != nil {
		r = append(r, a.TimeToSample)
	}
	if a.CompositionOffset != nil {
		r = append(r, a.CompositionOffset)
	}
	if a.SampleToChunk != nil {
		r = append(r, a.SampleToChunk)
	}
	if a.SyncSample != nil {
		r = append(r, a.SyncSample)
	}
	if a.SampleSize != nil {
		r = append(r, a.SampleSize)
	}
	if a.ChunkOffset != nil {
		r = append(r, a.ChunkOffset)
	}
	return append(r, a.Unknowns...)
}

func (a SampleTable) Children() []Atom { return a.atoms() }
func (a SampleTable) Len() int         { return 8 + lenAtoms(a.atoms()) }

func (a SampleTable) Marshal(b []byte) int {
	return putHeader(b, STBL, 8+marshalAtoms(b[8:], a.atoms()))
}

func (a *SampleTable) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	err = eachChild(b, 8, offset, func(tag Tag, box []byte, offset int) (err error) {
		switch tag {
		case STSD:
			a.SampleDesc = &SampleDesc{}
			_, err = a.SampleDesc.Unmarshal(box, offset)
		case STTS:
			a.TimeToSample = &TimeToSample{}
			_, err = a.TimeToSample.Unmarshal(box, offset)
		case CTTS:
			a.CompositionOffset = &CompositionOffset{}
			_, err = a.CompositionOffset.Unmarshal(box, offset)
		case STSC:
			a.SampleToChunk = &SampleToChunk{}
			_, err = a.SampleToChunk.Unmarshal(box, offset)
		case STSS:
			a.SyncSample = &SyncSample{}
			_, err = a.SyncSample.Unmarshal(box, offset)
		case STCO, CO64:
			a.ChunkOffset = &ChunkOffset{}
			_, err = a.ChunkOffset.Unmarshal(box, offset)
		case STSZ:
			a.SampleSize = &SampleSize{}
			_, err = a.SampleSize.Unmarshal(box, offset)
		default:
			a.Unknowns = append(a.Unknowns, unknown(tag, box, offset))
		}
		return
	})
	return len(b), err
}

// SampleDesc is the stsd box. Only the first entry is used by the demuxer.
type SampleDesc struct {
	FullAtom
	Entries []Atom
	AtomPos
}

func (a SampleDesc) Tag() Tag         { return STSD }
func (a SampleDesc) Children() []Atom { return a.Entries }
func (a SampleDesc) Len() int         { return 8 + 4 + 4 + lenAtoms(a.Entries) }

func (a SampleDesc) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutU32BE(b[n:], uint32(len(a.Entries)))
	n += 4
	n += marshalAtoms(b[n:], a.Entries)
	return putHeader(b, STSD, n)
}

func (a *SampleDesc) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < n+4 {
		return n, parseErr("EntryCount", offset+n, nil)
	}
	n += 4
	err = eachChild(b, n, offset, func(tag Tag, box []byte, offset int) (err error) {
		var entry Atom
		switch tag {
		case AVC1, AVC3, HVC1, HEV1, VP08, VP09, AV01:
			entry = &VisualSampleEntry{}
		case MP4A, OPUS:
			entry = &AudioSampleEntry{}
		default:
			entry = &Dummy{Tag_: tag}
		}
		if _, err = entry.Unmarshal(box, offset); err == nil {
			a.Entries = append(a.Entries, entry)
		}
		return
	})
	return len(b), err
}

type TimeToSampleEntry struct {
	Count    uint32
	Duration uint32
}

type TimeToSample struct {
	FullAtom
	Entries []TimeToSampleEntry
	AtomPos
}

func (a TimeToSample) Tag() Tag         { return STTS }
func (a TimeToSample) Children() []Atom { return nil }
func (a TimeToSample) Len() int         { return 8 + 4 + 4 + 8*len(a.Entries) }
func (a TimeToSample) String() string   { return fmt.Sprintf("entries=%d", len(a.Entries)) }

func (a TimeToSample) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutU32BE(b[n:], uint32(len(a.Entries)))
	n += 4
	for _, e := range a.Entries {
		pio.PutU32BE(b[n:], e.Count)
		pio.PutU32BE(b[n+4:], e.Duration)
		n += 8
	}
	return putHeader(b, STTS, n)
}

func (a *TimeToSample) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	count, n, err := a.entryCount(b, offset, 8)
	if err != nil {
		return
	}
	a.Entries = make([]TimeToSampleEntry, count)
	for i := range a.Entries {
		a.Entries[i] = TimeToSampleEntry{Count: pio.U32BE(b[n:]), Duration: pio.U32BE(b[n+4:])}
		n += 8
	}
	return
}

// entryCount reads the version, flags and entry count of a table box and
// checks that count entries of size bytes follow.
func (f *FullAtom) entryCount(b []byte, offset, size int) (count, n int, err error) {
	if n, err = f.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < n+4 {
		return 0, n, parseErr("EntryCount", offset+n, nil)
	}
	count = int(pio.U32BE(b[n:]))
	n += 4
	if count < 0 || (len(b)-n)/size < count {
		return 0, n, parseErr("Entries", offset+n, nil)
	}
	return
}

type CompositionOffsetEntry struct {
	Count  uint32
	Offset int32
}

// CompositionOffset is the ctts box. Version 1 allows negative offsets.
type CompositionOffset struct {
	FullAtom
	Entries []CompositionOffsetEntry
	AtomPos
}

func (a CompositionOffset) Tag() Tag         { return CTTS }
func (a CompositionOffset) Children() []Atom { return nil }
func (a CompositionOffset) Len() int         { return 8 + 4 + 4 + 8*len(a.Entries) }

func (a CompositionOffset) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutU32BE(b[n:], uint32(len(a.Entries)))
	n += 4
	for _, e := range a.Entries {
		pio.PutU32BE(b[n:], e.Count)
		pio.PutI32BE(b[n+4:], e.Offset)
		n += 8
	}
	return putHeader(b, CTTS, n)
}

func (a *CompositionOffset) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	count, n, err := a.entryCount(b, offset, 8)
	if err != nil {
		return
	}
	a.Entries = make([]CompositionOffsetEntry, count)
	for i := range a.Entries {
		a.Entries[i] = CompositionOffsetEntry{Count: pio.U32BE(b[n:]), Offset: pio.I32BE(b[n+4:])}
		n += 8
	}
	return
}

type SampleToChunkEntry struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
	SampleDescId    uint32
}

type SampleToChunk struct {
	FullAtom
	Entries []SampleToChunkEntry
	AtomPos
}

func (a SampleToChunk) Tag() Tag         { return STSC }
func (a SampleToChunk) Children() []Atom { return nil }
func (a SampleToChunk) Len() int         { return 8 + 4 + 4 + 12*len(a.Entries) }

func (a SampleToChunk) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutU32BE(b[n:], uint32(len(a.Entries)))
	n += 4
	for _, e := range a.Entries {
		pio.PutU32BE(b[n:], e.FirstChunk)
		pio.PutU32BE(b[n+4:], e.SamplesPerChunk)
		pio.PutU32BE(b[n+8:], e.SampleDescId)
		n += 12
	}
	return putHeader(b, STSC, n)
}

func (a *SampleToChunk) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	count, n, err := a.entryCount(b, offset, 12)
	if err != nil {
		return
	}
	a.Entries = make([]SampleToChunkEntry, count)
	for i := range a.Entries {
		a.Entries[i] = SampleToChunkEntry{
			FirstChunk:      pio.U32BE(b[n:]),
			SamplesPerChunk: pio.U32BE(b[n+4:]),
			SampleDescId:    pio.U32BE(b[n+8:]),
		}
		n += 12
	}
	return
}

// SyncSample lists 1-based sample numbers of random access points.
type SyncSample struct {
	FullAtom
	Entries []uint32
	AtomPos
}

func (a SyncSample) Tag() Tag         { return STSS }
func (a SyncSample) Children() []Atom { return nil }
func (a SyncSample) Len() int         { return 8 + 4 + 4 + 4*len(a.Entries) }

func (a SyncSample) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutU32BE(b[n:], uint32(len(a.Entries)))
	n += 4
	for _, e := range a.Entries {
		pio.PutU32BE(b[n:], e)
		n += 4
	}
	return putHeader(b, STSS, n)
}

func (a *SyncSample) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	count, n, err := a.entryCount(b, offset, 4)
	if err != nil {
		return
	}
	a.Entries = make([]uint32, count)
	for i := range a.Entries {
		a.Entries[i] = pio.U32BE(b[n:])
		n += 4
	}
	return
}

// ChunkOffset is stco, or co64 when Large is set or any offset needs it.
type ChunkOffset struct {
	FullAtom
	Entries []uint64
	Large   bool
	AtomPos
}

func (a ChunkOffset) large() bool {
	if a.Large {
		return true
	}
	for _, e := range a.Entries {
		if e > 0xffffffff {
			return true
		}
	}
	return false
}

func (a ChunkOffset) Tag() Tag {
	if a.large() {
		return CO64
	}
	return STCO
}

func (a ChunkOffset) Children() []Atom { return nil }

func (a ChunkOffset) Len() int {
	if a.large() {
		return 8 + 4 + 4 + 8*len(a.Entries)
	}
	return 8 + 4 + 4 + 4*len(a.Entries)
}

func (a ChunkOffset) Marshal(b []byte) int {
	large := a.large()
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutU32BE(b[n:], uint32(len(a.Entries)))
	n += 4
	for _, e := range a.Entries {
		if large {
			pio.PutU64BE(b[n:], e)
			n += 8
		} else {
			pio.PutU32BE(b[n:], uint32(e))
			n += 4
		}
	}
	return putHeader(b, a.Tag(), n)
}

func (a *ChunkOffset) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	a.Large = Tag(pio.U32BE(b[4:])) == CO64
	size := 4
	if a.Large {
		size = 8
	}
	count, n, err := a.entryCount(b, offset, size)
	if err != nil {
		return
	}
	a.Entries = make([]uint64, count)
	for i := range a.Entries {
		if a.Large {
			a.Entries[i] = pio.U64BE(b[n:])
		} else {
			a.Entries[i] = uint64(pio.U32BE(b[n:]))
		}
		n += size
	}
	return
}

// SampleSize is stsz. When SampleSize is non-zero every sample has that size
// and Entries is empty.
type SampleSize struct {
	FullAtom
	SampleSize  uint32
	SampleCount uint32
	Entries     []uint32
	AtomPos
}

func (a SampleSize) Tag() Tag         { return STSZ }
func (a SampleSize) Children() []Atom { return nil }

func (a SampleSize) Len() int {
	if a.SampleSize != 0 {
		return 8 + 4 + 8
	}
	return 8 + 4 + 8 + 4*len(a.Entries)
}

func (a SampleSize) Count() int {
	if a.SampleSize != 0 {
		return int(a.SampleCount)
	}
	return len(a.Entries)
}

func (a SampleSize) Size(i int) uint32 {
	if a.SampleSize != 0 {
		return a.SampleSize
	}
	return a.Entries[i]
}

func (a SampleSize) Marshal(b []byte) int {
	n := 8
	n += a.marshalFull(b[n:])
	pio.PutU32BE(b[n:], a.SampleSize)
	n += 4
	if a.SampleSize != 0 {
		pio.PutU32BE(b[n:], a.SampleCount)
		return putHeader(b, STSZ, n+4)
	}
	pio.PutU32BE(b[n:], uint32(len(a.Entries)))
	n += 4
	for _, e := range a.Entries {
		pio.PutU32BE(b[n:], e)
		n += 4
	}
	return putHeader(b, STSZ, n)
}

func (a *SampleSize) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	if n, err = a.unmarshalFull(b, 8, offset); err != nil {
		return
	}
	if len(b) < n+8 {
		return n, parseErr("SampleSize", offset+n, nil)
	}
	a.SampleSize = pio.U32BE(b[n:])
	a.SampleCount = pio.U32BE(b[n+4:])
	n += 8
	if a.SampleSize != 0 {
		return
	}
	if (len(b)-n)/4 < int(a.SampleCount) {
		return n, parseErr("Entries", offset+n, nil)
	}
	a.Entries = make([]uint32, a.SampleCount)
	for i := range a.Entries {
		a.Entries[i] = pio.U32BE(b[n:])
		n += 4
	}
	return
}
