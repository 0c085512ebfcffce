package esio

// writer appends big-endian fields and length-prefixed descriptors.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = append(w.buf, uint8(v>>8), uint8(v)) }
func (w *writer) u24(v uint32) { w.buf = append(w.buf, uint8(v>>16), uint8(v>>8), uint8(v)) }

func (w *writer) u32(v uint32) {
	w.buf = append(w.buf, uint8(v>>24), uint8(v>>16), uint8(v>>8), uint8(v))
}

func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

// open writes tag and reserves a 4 byte length. The returned function
// fills in the length once the descriptor contents have been written.
func (w *writer) open(tag Tag) (done func()) {
	w.u8(uint8(tag))
	at := len(w.buf)
	w.buf = append(w.buf, 0, 0, 0, 0)
	return func() {
		length := len(w.buf) - at - 4
		for i := 0; i < 4; i++ {
			v := uint8(length>>(7*(3-i))) & 0x7f
			if i != 3 {
				v |= 0x80
			}
			w.buf[at+i] = v
		}
	}
}
