package mp4io

import (
	"fmt"
	"io"
	"strings"

	"github.com/schahriar/mfx/utils/bits/pio"
)

type Tag uint32

func (a Tag) String() string {
	var b [4]byte
	pio.PutU32BE(b[:], uint32(a))
	for i := 0; i < 4; i++ {
		if b[i] == 0 {
			b[i] = ' '
		}
	}
	return string(b[:])
}

func StringToTag(tag string) Tag {
	var b [4]byte
	copy(b[:], []byte(tag))
	return Tag(pio.U32BE(b[:]))
}

type Atom interface {
	Pos() (int, int)
	Tag() Tag
	Marshal([]byte) int
	Unmarshal([]byte, int) (int, error)
	Len() int
	Children() []Atom
}

type AtomPos struct {
	Offset int
	Size   int
}

func (a AtomPos) Pos() (int, int) {
	return a.Offset, a.Size
}

func (a *AtomPos) setPos(offset int, size int) {
	a.Offset, a.Size = offset, size
}

// Dummy keeps the raw bytes of a box this package does not model.
type Dummy struct {
	Data []byte
	Tag_ Tag
	AtomPos
}

func (a Dummy) Children() []Atom { return nil }
func (a Dummy) Tag() Tag         { return a.Tag_ }
func (a Dummy) Len() int         { return len(a.Data) }

func (a Dummy) Marshal(b []byte) int {
	copy(b, a.Data)
	return len(a.Data)
}

func (a *Dummy) Unmarshal(b []byte, offset int) (n int, err error) {
	a.setPos(offset, len(b))
	a.Data = b
	return len(b), nil
}

// FullAtom is the version and flags prefix shared by most leaf boxes.
type FullAtom struct {
	Version uint8
	Flags   uint32
}

func (f FullAtom) marshalFull(b []byte) int {
	pio.PutU8(b, f.Version)
	pio.PutU24BE(b[1:], f.Flags)
	return 4
}

func (f *FullAtom) unmarshalFull(b []byte, n, offset int) (int, error) {
	if len(b) < n+4 {
		return n, parseErr("fullAtom", offset+n, nil)
	}
	f.Version = pio.U8(b[n:])
	f.Flags = pio.U24BE(b[n+1:])
	return n + 4, nil
}

// putHeader writes the size and tag of a box whose total length is n.
func putHeader(b []byte, tag Tag, n int) int {
	pio.PutU32BE(b, uint32(n))
	pio.PutU32BE(b[4:], uint32(tag))
	return n
}

// Header is a decoded box header. Size includes the header; zero means the
// box extends to the end of the enclosing data.
type Header struct {
	Tag    Tag
	Size   int64
	HdrLen int
}

// ReadHeader decodes a box header including the 64-bit large size form.
// It returns io.ErrUnexpectedEOF when b is too short.
func ReadHeader(b []byte) (h Header, err error) {
	if len(b) < 8 {
		return h, io.ErrUnexpectedEOF
	}
	h.Size = int64(pio.U32BE(b))
	h.Tag = Tag(pio.U32BE(b[4:]))
	h.HdrLen = 8
	if h.Size == 1 {
		if len(b) < 16 {
			return h, io.ErrUnexpectedEOF
		}
		h.Size = int64(pio.U64BE(b[8:]))
		h.HdrLen = 16
		if h.Size < 16 {
			return h, parseErr("largesize", 8, nil)
		}
	} else if h.Size != 0 && h.Size < 8 {
		return h, parseErr("size", 0, nil)
	}
	return h, nil
}

// eachChild calls fn for every child box of b starting at n.
func eachChild(b []byte, n, offset int, fn func(tag Tag, box []byte, offset int) error) error {
	for n+8 <= len(b) {
		h, err := ReadHeader(b[n:])
		if err != nil {
			return parseErr("child", offset+n, err)
		}
		size := int(h.Size)
		if size == 0 {
			size = len(b) - n
		}
		if len(b) < n+size {
			return parseErr("TagSizeInvalid", offset+n, nil)
		}
		if err := fn(h.Tag, b[n:n+size], offset+n); err != nil {
			return parseErr(h.Tag.String(), offset+n, err)
		}
		n += size
	}
	return nil
}

func unknown(tag Tag, b []byte, offset int) Atom {
	atom := &Dummy{Tag_: tag}
	atom.Unmarshal(b, offset)
	return atom
}

func FindChildrenByName(root Atom, tag string) Atom {
	return FindChildren(root, StringToTag(tag))
}

func FindChildren(root Atom, tag Tag) Atom {
	if root.Tag() == tag {
		return root
	}
	for _, child := range root.Children() {
		if r := FindChildren(child, tag); r != nil {
			return r
		}
	}
	return nil
}

func lenAtoms(atoms []Atom) (n int) {
	for _, atom := range atoms {
		n += atom.Len()
	}
	return
}

func marshalAtoms(b []byte, atoms []Atom) (n int) {
	for _, atom := range atoms {
		n += atom.Marshal(b[n:])
	}
	return
}

// Marshal allocates and marshals a single atom.
func Marshal(a Atom) []byte {
	b := make([]byte, a.Len())
	a.Marshal(b)
	return b
}

func printatom(out io.Writer, root Atom, depth int) {
	offset, size := root.Pos()

	type stringintf interface {
		String() string
	}

	fmt.Fprintf(out,
		"%s%s offset=%d size=%d",
		strings.Repeat(" ", depth*2), root.Tag(), offset, size,
	)
	if str, ok := root.(stringintf); ok {
		fmt.Fprint(out, " ", str.String())
	}
	fmt.Fprintln(out)

	for _, child := range root.Children() {
		printatom(out, child, depth+1)
	}
}

func FprintAtom(out io.Writer, root Atom) {
	printatom(out, root, 0)
}
