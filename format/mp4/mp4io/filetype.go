package mp4io

import "github.com/schahriar/mfx/utils/bits/pio"

const (
	FTYP = Tag(0x66747970)
	STYP = Tag(0x73747970)
	MDAT = Tag(0x6d646174)
	FREE = Tag(0x66726565)
)

// FileType is an ftyp box, or styp when Segment is set.
type FileType struct {
	MajorBrand       Tag
	MinorVersion     uint32
	CompatibleBrands []Tag
	Segment          bool
	AtomPos
}

func (f FileType) Tag() Tag {
	if f.Segment {
		return STYP
	}
	return FTYP
}

func (f FileType) Len() int {
	return 16 + 4*len(f.CompatibleBrands)
}

func (f FileType) Marshal(b []byte) int {
	pio.PutU32BE(b[8:], uint32(f.MajorBrand))
	pio.PutU32BE(b[12:], f.MinorVersion)
	for i, v := range f.CompatibleBrands {
		pio.PutU32BE(b[16+4*i:], uint32(v))
	}
	return putHeader(b, f.Tag(), f.Len())
}

func (f *FileType) Unmarshal(b []byte, offset int) (n int, err error) {
	f.setPos(offset, len(b))
	f.Segment = Tag(pio.U32BE(b[4:])) == STYP
	n = 8
	if len(b) < n+8 {
		return 0, parseErr("MajorBrand", offset+n, nil)
	}
	f.MajorBrand = Tag(pio.U32BE(b[n:]))
	f.MinorVersion = pio.U32BE(b[n+4:])
	n += 8
	for n+4 <= len(b) {
		f.CompatibleBrands = append(f.CompatibleBrands, Tag(pio.U32BE(b[n:])))
		n += 4
	}
	return
}

func (f FileType) Children() []Atom { return nil }

func (f FileType) String() string {
	return "brand=" + f.MajorBrand.String()
}
