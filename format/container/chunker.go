package container

import "github.com/schahriar/mfx/av"

// Chunker turns positioned writes into blobs. With a positive size,
// contiguous writes are coalesced into blobs of exactly size bytes (the last
// one may be shorter); a write that is not contiguous flushes what is
// pending first.
type Chunker struct {
	size    int
	mime    string
	emit    Emit
	pending []byte
	offset  int64
	end     int64
	written int64
}

func NewChunker(size int, mime string, emit Emit) *Chunker {
	return &Chunker{size: size, mime: mime, emit: emit}
}

// Write appends b at the end of the output.
func (c *Chunker) Write(b []byte) (int, error) {
	c.WriteAt(b, c.end)
	return len(b), nil
}

// WriteAt places b at off. Writing before the current end is a patch and is
// emitted on its own.
func (c *Chunker) WriteAt(b []byte, off int64) {
	if len(b) == 0 {
		return
	}
	if c.size <= 0 {
		c.out(append([]byte(nil), b...), off)
		if e := off + int64(len(b)); e > c.end {
			c.end = e
		}
		return
	}
	if off != c.offset+int64(len(c.pending)) {
		c.Flush()
		c.offset = off
	}
	for len(b) > 0 {
		n := min(c.size-len(c.pending), len(b))
		c.pending = append(c.pending, b[:n]...)
		b = b[n:]
		if len(c.pending) == c.size {
			c.Flush()
		}
	}
	if e := c.offset + int64(len(c.pending)); e > c.end {
		c.end = e
	}
}

// Flush emits the pending partial blob.
func (c *Chunker) Flush() {
	if len(c.pending) == 0 {
		return
	}
	c.out(c.pending, c.offset)
	c.offset += int64(len(c.pending))
	c.pending = nil
}

// End is the offset just past the last byte written.
func (c *Chunker) End() int64 { return c.end }

// Written is the number of bytes emitted so far, patches included.
func (c *Chunker) Written() int64 { return c.written }

func (c *Chunker) out(b []byte, off int64) {
	c.written += int64(len(b))
	c.emit(av.Blob{Bytes: b, ByteOffset: off, MimeType: c.mime})
}
