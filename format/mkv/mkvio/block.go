package mkvio

// Lacing modes of a block header.
const (
	LacingNone  = 0x00
	LacingXiph  = 0x02
	LacingFixed = 0x04
	LacingEBML  = 0x06
)

const (
	blockKeyframe    = 0x80
	blockInvisible   = 0x08
	blockLacingMask  = 0x06
	blockDiscardable = 0x01
)

// Block is a decoded SimpleBlock or Block payload. Frames alias the input.
type Block struct {
	TrackNumber uint64
	// Timecode is relative to the enclosing Cluster.
	Timecode int16
	Flags    uint8
	Frames   [][]byte
}

// Keyframe reports the SimpleBlock keyframe flag. Block elements signal
// keyframes by the absence of ReferenceBlock instead.
func (b Block) Keyframe() bool    { return b.Flags&blockKeyframe != 0 }
func (b Block) Invisible() bool   { return b.Flags&blockInvisible != 0 }
func (b Block) Discardable() bool { return b.Flags&blockDiscardable != 0 }
func (b Block) Lacing() uint8     { return b.Flags & blockLacingMask }

// ParseBlock splits a block payload into its frames.
func ParseBlock(p []byte) (Block, error) {
	var b Block
	track, n, _, err := readVint(p)
	if err != nil {
		return b, err
	}
	if n == 0 || len(p) < n+3 {
		return b, errorf("block header of %d bytes", len(p))
	}
	b.TrackNumber = track
	b.Timecode = int16(uint16(p[n])<<8 | uint16(p[n+1]))
	b.Flags = p[n+2]
	p = p[n+3:]

	if b.Lacing() == LacingNone {
		b.Frames = [][]byte{p}
		return b, nil
	}
	if len(p) == 0 {
		return b, errorf("laced block without frame count")
	}
	count := int(p[0]) + 1
	p = p[1:]
	sizes := make([]int, count)
	switch b.Lacing() {
	case LacingXiph:
		for i := 0; i < count-1; i++ {
			for {
				if len(p) == 0 {
					return b, errorf("truncated xiph lace sizes")
				}
				c := p[0]
				p = p[1:]
				sizes[i] += int(c)
				if c != 0xff {
					break
				}
			}
		}
	case LacingEBML:
		if count == 1 {
			break
		}
		first, n, _, err := readVint(p)
		if err != nil {
			return b, err
		}
		if n == 0 {
			return b, errorf("truncated ebml lace sizes")
		}
		p = p[n:]
		sizes[0] = int(first)
		for i := 1; i < count-1; i++ {
			delta, n, err := readSignedVint(p)
			if err != nil {
				return b, err
			}
			if n == 0 {
				return b, errorf("truncated ebml lace sizes")
			}
			p = p[n:]
			sizes[i] = sizes[i-1] + int(delta)
		}
	case LacingFixed:
		if len(p)%count != 0 {
			return b, errorf("%d bytes do not split into %d fixed laces", len(p), count)
		}
		for i := range sizes {
			sizes[i] = len(p) / count
		}
	}

	total := 0
	for _, s := range sizes[:count-1] {
		if s < 0 {
			return b, errorf("negative lace size")
		}
		total += s
	}
	if b.Lacing() != LacingFixed {
		if total > len(p) {
			return b, errorf("lace sizes exceed block payload")
		}
		sizes[count-1] = len(p) - total
	}
	b.Frames = make([][]byte, count)
	for i, s := range sizes {
		b.Frames[i] = p[:s:s]
		p = p[s:]
	}
	return b, nil
}
