// Package mkvio reads EBML elements out of a growing Matroska or WebM byte
// stream.
package mkvio

// ElementType is the EBML data type of an element.
type ElementType uint8

const (
	ElementTypeUnknown ElementType = iota
	ElementTypeMaster
	ElementTypeUint
	ElementTypeInt
	ElementTypeString
	ElementTypeUnicode
	ElementTypeBinary
	ElementTypeFloat
	ElementTypeDate
)

// ElementRegister contains the ID, type, nesting level and name of a known
// Matroska element. Global elements such as Void have level -1.
type ElementRegister struct {
	ID    uint32
	Type  ElementType
	Level int8
	Name  string
}

// Event tells what an Element returned by the Reader stands for.
type Event uint8

const (
	// StartElement opens a master element. Its children follow.
	StartElement Event = iota + 1
	// EndElement closes the master element opened last.
	EndElement
	// DataElement is a complete leaf element with its Content.
	DataElement
)

// Element is one step of the walk over an EBML stream.
type Element struct {
	ElementRegister
	Event Event
	// Offset is the stream position of the element header.
	Offset int64
	// Size is the payload size. It is meaningless when Unknown is set.
	Size    uint64
	Unknown bool
	// Content holds the payload of data elements. It is only valid until
	// the next call to Next.
	Content []byte
}

func (e Element) Uint() uint64 { return readUint(e.Content) }

func (e Element) Int() int64 { return readInt(e.Content) }

func (e Element) Float() float64 { return readFloat(e.Content) }

func (e Element) String() string {
	n := len(e.Content)
	for n > 0 && e.Content[n-1] == 0 {
		n--
	}
	return string(e.Content[:n])
}
