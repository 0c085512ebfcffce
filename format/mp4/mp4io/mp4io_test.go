package mp4io

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/schahriar/mfx/utils/bits/pio"
)

func testMovie() *Movie {
	return &Movie{
		Header: &MovieHeader{TimeScale: 1000, Duration: 2000, PreferredRate: 1, PreferredVolume: 1, Matrix: UnityMatrix, NextTrackID: 2},
		Tracks: []*Track{{
			Header: &TrackHeader{FullAtom: FullAtom{Flags: TrackEnabled | TrackInMovie}, TrackID: 1, Duration: 2000, Matrix: UnityMatrix, TrackWidth: 640, TrackHeight: 360},
			Media: &Media{
				Header:  &MediaHeader{TimeScale: 90000, Duration: 180000, Language: LanguageUndetermined},
				Handler: &HandlerRefer{Type: VideoHandler, Name: "VideoHandler"},
				Info: &MediaInfo{
					Video: &VideoMediaInfo{FullAtom: FullAtom{Flags: 1}},
					Data:  SelfContainedDataInfo(),
					Sample: &SampleTable{
						SampleDesc: &SampleDesc{Entries: []Atom{&VisualSampleEntry{
							Format: AVC1, DataRefIdx: 1, Width: 640, Height: 360,
							HorizontalResolution: 72, VerticalResolution: 72, FrameCount: 1, Depth: 24,
							Config: &ConfigBox{Tag_: AVCC, Data: []byte{1, 0x42, 0xe0, 0x1e}},
						}}},
						TimeToSample:  &TimeToSample{Entries: []TimeToSampleEntry{{Count: 2, Duration: 90000}}},
						SampleToChunk: &SampleToChunk{Entries: []SampleToChunkEntry{{FirstChunk: 1, SamplesPerChunk: 2, SampleDescId: 1}}},
						SyncSample:    &SyncSample{Entries: []uint32{1}},
						SampleSize:    &SampleSize{Entries: []uint32{10, 20}},
						ChunkOffset:   &ChunkOffset{Entries: []uint64{48}},
					},
				},
			},
		}},
	}
}

func TestMovieRoundTrip(t *testing.T) {
	b := Marshal(testMovie())
	if n := int(pio.U32BE(b)); n != len(b) {
		t.Fatalf("box size %d, buffer %d", n, len(b))
	}
	var got Movie
	if _, err := got.Unmarshal(b, 0); err != nil {
		t.Fatal(err)
	}
	if len(got.Tracks) != 1 {
		t.Fatalf("tracks: %d", len(got.Tracks))
	}
	trak := got.Tracks[0]
	if trak.Header.TrackID != 1 || trak.Header.TrackWidth != 640 {
		t.Errorf("tkhd: %+v", trak.Header)
	}
	if trak.Media.Header.TimeScale != 90000 || trak.Media.Handler.Type != VideoHandler {
		t.Errorf("mdia: %+v %+v", trak.Media.Header, trak.Media.Handler)
	}
	stbl := trak.SampleTable()
	entry, ok := stbl.SampleDesc.Entries[0].(*VisualSampleEntry)
	if !ok {
		t.Fatalf("entry is %T", stbl.SampleDesc.Entries[0])
	}
	if entry.Width != 640 || entry.Height != 360 || entry.Config == nil || entry.Config.Tag_ != AVCC {
		t.Errorf("entry: %+v", entry)
	}
	if !bytes.Equal(entry.Config.Data, []byte{1, 0x42, 0xe0, 0x1e}) {
		t.Errorf("config: %x", entry.Config.Data)
	}
	if stbl.SampleSize.Count() != 2 || stbl.SampleSize.Size(1) != 20 {
		t.Errorf("stsz: %+v", stbl.SampleSize)
	}
	if !bytes.Equal(Marshal(&got), b) {
		t.Error("re-marshalled movie differs")
	}
	if FindChildren(&got, STSS) == nil {
		t.Error("stss not found")
	}
}

func TestChunkOffsetLarge(t *testing.T) {
	co := ChunkOffset{Entries: []uint64{8, 1 << 33}}
	if co.Tag() != CO64 {
		t.Fatalf("tag %s", co.Tag())
	}
	b := Marshal(&co)
	var got ChunkOffset
	if _, err := got.Unmarshal(b, 0); err != nil {
		t.Fatal(err)
	}
	if !got.Large || got.Entries[1] != 1<<33 {
		t.Errorf("got %+v", got)
	}
}

func TestFragmentRoundTrip(t *testing.T) {
	moof := &MovieFrag{
		Header: &MovieFragHeader{Seqnum: 7},
		Tracks: []*TrackFrag{{
			Header:     &TrackFragHeader{FullAtom: FullAtom{Flags: TFHDDefaultBaseIsMOOF | TFHDDefaultFlags}, TrackID: 2, DefaultFlags: SampleIsNonSync},
			DecodeTime: &TrackFragDecodeTime{FullAtom: FullAtom{Version: 1}, Time: 1 << 40},
			Runs: []*TrackFragRun{{
				FullAtom:   FullAtom{Version: 1, Flags: TRUNDataOffset | TRUNSampleDuration | TRUNSampleSize | TRUNSampleCTS},
				DataOffset: 120,
				Entries:    []TrackFragRunEntry{{Duration: 3000, Size: 10, CTS: -3000}, {Duration: 3000, Size: 12}},
			}},
		}},
	}
	var got MovieFrag
	if _, err := got.Unmarshal(Marshal(moof), 0); err != nil {
		t.Fatal(err)
	}
	traf := got.Tracks[0]
	if got.Header.Seqnum != 7 || traf.Header.TrackID != 2 || traf.DecodeTime.Time != 1<<40 {
		t.Errorf("moof: %+v %+v", got.Header, traf.Header)
	}
	run := traf.Runs[0]
	if run.DataOffset != 120 || len(run.Entries) != 2 || run.Entries[0].CTS != -3000 || run.Entries[1].Size != 12 {
		t.Errorf("trun: %+v", run)
	}
}

func TestReadHeader(t *testing.T) {
	b := make([]byte, 16)
	pio.PutU32BE(b, 1)
	pio.PutU32BE(b[4:], uint32(MDAT))
	pio.PutU64BE(b[8:], 1<<32)
	h, err := ReadHeader(b)
	if err != nil {
		t.Fatal(err)
	}
	if h.Tag != MDAT || h.Size != 1<<32 || h.HdrLen != 16 {
		t.Errorf("got %+v", h)
	}
	if _, err := ReadHeader(b[:12]); err == nil {
		t.Error("expected short header error")
	}
}

func TestParseErrorChain(t *testing.T) {
	stbl := SampleTable{TimeToSample: &TimeToSample{Entries: []TimeToSampleEntry{{1, 1}, {2, 2}}}}
	b := Marshal(&stbl)
	// claim more stts entries than present
	pio.PutU32BE(b[8+12:], 100)
	var got SampleTable
	_, err := got.Unmarshal(b, 0)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if !strings.Contains(err.Error(), "stts") {
		t.Errorf("error %q does not name the box", err)
	}
}
