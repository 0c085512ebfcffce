package mkvio

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrParse = errors.New("mkvio: parse error")
	// ErrNeedMore is returned by Next when the next element has not fully
	// arrived yet.
	ErrNeedMore = errors.New("mkvio: need more data")
)

func errorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrParse}, args...)...)
}

// MaxElementSize bounds the payload of a single data element.
const MaxElementSize = 256 << 20

type openElement struct {
	ElementRegister
	offset  int64
	end     int64
	unknown bool
}

// Reader walks the elements of an EBML stream as bytes are pushed into it.
// Master elements are reported when they open and close, data elements once
// their payload is buffered. Unknown elements, Void and CRC-32 are skipped
// without being buffered.
//
// Unknown-size masters close when an element of the same or a higher level
// shows up, which is how live Segment and Cluster elements end.
type Reader struct {
	buf     []byte
	base    int64 // stream offset of buf[0]
	written int64
	pos     int64
	stack   []openElement
	closed  bool
}

func NewReader() *Reader {
	return &Reader{}
}

// Write appends stream bytes.
func (r *Reader) Write(b []byte) (int, error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	n := len(b)
	if skip := r.base - r.written; skip > 0 {
		k := min(skip, int64(len(b)))
		b = b[k:]
		r.written += k
	}
	r.buf = append(r.buf, b...)
	r.written += int64(len(b))
	return n, nil
}

// Close marks the end of the stream. Next then closes every open master
// and finally returns io.EOF.
func (r *Reader) Close() error {
	r.closed = true
	return nil
}

// Offset is the stream position of the next element.
func (r *Reader) Offset() int64 { return r.pos }

// Depth is the number of open master elements.
func (r *Reader) Depth() int { return len(r.stack) }

// Next returns the next element. It returns ErrNeedMore when more bytes
// are required, io.EOF after the stream was closed and fully walked, and an
// error wrapping ErrParse on malformed input.
func (r *Reader) Next() (Element, error) {
	r.compact()
	for {
		if n := len(r.stack); n > 0 {
			top := r.stack[n-1]
			if !top.unknown && r.pos >= top.end {
				return r.pop(), nil
			}
		}
		if r.pos >= r.written && r.closed {
			if len(r.stack) > 0 {
				return r.pop(), nil
			}
			return Element{}, io.EOF
		}
		if r.pos >= r.written {
			return Element{}, ErrNeedMore
		}

		rel := r.pos - r.base
		id, idLen, err := readID(r.buf[rel:])
		if err != nil {
			return Element{}, fmt.Errorf("%w at offset %d", err, r.pos)
		}
		var size uint64
		var sizeLen int
		var unknown bool
		if idLen > 0 {
			size, sizeLen, unknown, err = readVint(r.buf[rel+int64(idLen):])
			if err != nil {
				return Element{}, fmt.Errorf("%w at offset %d", err, r.pos)
			}
		}
		if idLen == 0 || sizeLen == 0 {
			if r.closed {
				return Element{}, fmt.Errorf("mkvio: truncated element header at offset %d: %w", r.pos, io.ErrUnexpectedEOF)
			}
			return Element{}, ErrNeedMore
		}

		reg := GetElementRegister(id)
		if n := len(r.stack); n > 0 && reg.Level >= 0 {
			if top := r.stack[n-1]; top.unknown && reg.Level <= top.Level {
				return r.pop(), nil
			}
		}

		hdr := int64(idLen + sizeLen)
		el := Element{ElementRegister: reg, Offset: r.pos, Size: size, Unknown: unknown}
		if reg.Type == ElementTypeMaster {
			open := openElement{ElementRegister: reg, offset: r.pos, unknown: unknown}
			if !unknown {
				open.end = r.pos + hdr + int64(size)
			}
			r.stack = append(r.stack, open)
			r.pos += hdr
			el.Event = StartElement
			return el, nil
		}
		if unknown {
			return Element{}, errorf("%s with unknown size at offset %d", reg.Name, r.pos)
		}
		if reg.Type == ElementTypeUnknown || reg.ID == ElementVoid.ID || reg.ID == ElementCRC32.ID {
			r.pos += hdr + int64(size)
			r.compact()
			continue
		}
		if size > MaxElementSize {
			return Element{}, errorf("%s of %d bytes at offset %d", reg.Name, size, r.pos)
		}
		end := rel + hdr + int64(size)
		if end > int64(len(r.buf)) {
			if r.closed {
				return Element{}, fmt.Errorf("mkvio: truncated %s at offset %d: %w", reg.Name, r.pos, io.ErrUnexpectedEOF)
			}
			return Element{}, ErrNeedMore
		}
		el.Content = r.buf[rel+hdr : end]
		el.Event = DataElement
		r.pos += hdr + int64(size)
		return el, nil
	}
}

// Skip drops the master element returned last by Next as StartElement
// together with its children. Unknown-size masters cannot be skipped.
func (r *Reader) Skip() error {
	n := len(r.stack)
	if n == 0 {
		return errors.New("mkvio: no open element to skip")
	}
	top := r.stack[n-1]
	if top.unknown {
		return fmt.Errorf("mkvio: cannot skip %s of unknown size", top.Name)
	}
	r.stack = r.stack[:n-1]
	r.pos = top.end
	return nil
}

func (r *Reader) pop() Element {
	n := len(r.stack)
	top := r.stack[n-1]
	r.stack = r.stack[:n-1]
	return Element{ElementRegister: top.ElementRegister, Event: EndElement, Offset: top.offset, Unknown: top.unknown}
}

// compact drops the bytes before pos.
func (r *Reader) compact() {
	if r.pos <= r.base {
		return
	}
	drop := r.pos - r.base
	if drop >= int64(len(r.buf)) {
		r.buf = r.buf[:0]
		r.base = r.pos
		return
	}
	r.buf = append(r.buf[:0], r.buf[drop:]...)
	r.base = r.pos
}
