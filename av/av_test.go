package av

import (
	"errors"
	"testing"
	"time"
)

func TestParseMIME(t *testing.T) {
	t.Parallel()
	values := []struct {
		in     string
		family Family
		video  string
		audio  string
	}{
		{`video/mp4; codecs="avc1.64001f,mp4a.40.2"`, FamilyMP4, "avc1.64001f", "mp4a.40.2"},
		{`video/webm; codecs="vp09.00.21.08, opus"`, FamilyMatroska, "vp09.00.21.08", "opus"},
		{`video/webm;codecs=opus`, FamilyMatroska, "", "opus"},
		{`video/webm; codecs=vp8,opus`, FamilyMatroska, "vp8", "opus"},
		{`video/mp4; CODECS="avc1.64001f,mp4a\.40.2"`, FamilyMP4, "avc1.64001f", "mp4a.40.2"},
		{`video/x-matroska`, FamilyMatroska, "", ""},
		{`Video/MP4`, FamilyMP4, "", ""},
	}
	for _, ex := range values {
		m, err := ParseMIME(ex.in)
		if err != nil {
			t.Fatalf("ParseMIME(%q): %v", ex.in, err)
		}
		if m.Family() != ex.family || m.VideoCodec != ex.video || m.AudioCodec != ex.audio {
			t.Errorf("ParseMIME(%q) = %+v family %s", ex.in, m, m.Family())
		}
	}
}

func TestParseMIMEInvalid(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "video", "video/", "/mp4"} {
		if _, err := ParseMIME(in); !errors.Is(err, ErrInvalidMime) {
			t.Errorf("ParseMIME(%q) err = %v", in, err)
		}
	}
}

func TestMIMEString(t *testing.T) {
	t.Parallel()
	m := MIME{Container: "video", Subtype: "webm", VideoCodec: "vp8", AudioCodec: "opus"}
	if got, want := m.String(), `video/webm; codecs="vp8,opus"`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	m.VideoCodec = ""
	if got, want := m.String(), `video/webm; codecs="opus"`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestDefaultChunk(t *testing.T) {
	t.Parallel()
	s := Sample{CTS: 3000, Duration: 3000, Timescale: 90000, IsSync: true, Data: []byte{1}}
	c := NewTrack(Track{ID: 1, Kind: Video, Video: &VideoConfig{}}, nil).Chunk(s)
	if c.Type != Key || c.Timestamp != 33333 || c.Duration != 33333 {
		t.Errorf("got %+v", c)
	}
}

func TestFrameReleaseOnce(t *testing.T) {
	t.Parallel()
	n := 0
	f := NewFrame(Frame{Kind: Video, Timestamp: 10}, func() { n++ })
	g := f.WithDuration(5)
	f.Release()
	Release(g)
	if n != 1 {
		t.Errorf("released %d times, want 1", n)
	}
	if g.End() != 15 {
		t.Errorf("End() = %d, want 15", g.End())
	}
}

func TestFrameClone(t *testing.T) {
	t.Parallel()
	n := 0
	f := NewFrame(Frame{Kind: Video}, func() { n++ })
	c := f.Clone().WithTimestamp(40)
	f.Release()
	f.Release()
	if n != 0 {
		t.Fatalf("payload released while a clone is alive")
	}
	c.Release()
	if n != 1 {
		t.Errorf("released %d times, want 1", n)
	}
}

func TestTrackContext(t *testing.T) {
	t.Parallel()
	tr := NewTrack(Track{ID: 2, Kind: Audio, Audio: &AudioConfig{Codec: "opus"}, Duration: 2 * time.Second}, nil)
	if tr.Context().Duration != 2*time.Second || tr.Codec() != "opus" {
		t.Errorf("got %+v %s", tr.Context(), tr.Codec())
	}
}

func TestCodecFamily(t *testing.T) {
	tests := map[string]string{
		"avc1.42E01E":   "avc",
		"avc3.640028":   "avc",
		"hvc1.1.6.L93":  "hevc",
		"hev1.1.6.L93":  "hevc",
		"vp8":           "vp8",
		"vp09.00.21.08": "vp9",
		"av01.0.04M.08": "av1",
		"mp4a.40.2":     "aac",
		"Opus":          "opus",
		"vorbis":        "vorbis",
		"theora":        "",
	}
	for codec, want := range tests {
		if got := CodecFamily(codec); got != want {
			t.Errorf("%s: got %q, want %q", codec, got, want)
		}
	}
}
