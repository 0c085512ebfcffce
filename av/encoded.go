package av

// Metadata accompanies an encoded chunk. Description is only set when the
// encoder produced a new decoder configuration record.
type Metadata struct {
	Description []byte
}

type Encoded struct {
	Chunk    CodedChunk
	Metadata Metadata
}

// EncodedChunk is a muxer input item carrying a video or an audio chunk,
// or both.
type EncodedChunk struct {
	Video *Encoded
	Audio *Encoded
}

// Blob is a muxer output range. ByteOffset is the position in the output
// file where Bytes belong.
type Blob struct {
	Bytes      []byte
	ByteOffset int64
	MimeType   string
}

func (b Blob) End() int64 {
	return b.ByteOffset + int64(len(b.Bytes))
}
