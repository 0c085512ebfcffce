package sink

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pion/webrtc/v3"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/format/container"
	"github.com/schahriar/mfx/stage"
)

func blob(off int64, s string) av.Blob {
	return av.Blob{Bytes: []byte(s), ByteOffset: off, MimeType: "video/webm"}
}

// blobs is a stage.Source replaying fixed blobs.
type blobs []av.Blob

func (b *blobs) Read(context.Context) (av.Blob, error) {
	if len(*b) == 0 {
		return av.Blob{}, io.EOF
	}
	v := (*b)[0]
	*b = (*b)[1:]
	return v, nil
}

var _ stage.Source[av.Blob] = (*blobs)(nil)

func TestFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out", "clip.mp4")
	f, err := NewFile(path, WithMinFree(1))
	if err != nil {
		t.Fatal(err)
	}
	// the last blob patches a header written first
	src := blobs{blob(0, "hdr?"), blob(4, "body"), blob(8, "tail"), blob(3, "!")}
	n, err := Copy(context.Background(), f, &src)
	if err != nil {
		t.Fatal(err)
	}
	if n != 13 {
		t.Errorf("copied %d bytes", n)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("destination exists before close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hdr!bodytail" {
		t.Errorf("got %q", got)
	}
	if err := f.WriteBlob(context.Background(), blob(0, "x")); !errors.Is(err, ErrClosed) {
		t.Errorf("write after close: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temporary files left: %v", entries)
	}
}

func TestFileDiskFull(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f, err := NewFile(filepath.Join(dir, "clip.webm"), WithMinFree(math.MaxUint64/2))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.WriteBlob(context.Background(), blob(0, "data")); !errors.Is(err, ErrDiskFull) {
		t.Errorf("got %v", err)
	}
	if err := f.Abort(); err != nil {
		t.Fatal(err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("abort left %v", entries)
	}
}

func TestWebSocket(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := UpgradeWebSocket(w, r, nil)
		if err != nil {
			errs <- err
			return
		}
		defer s.Close()
		src := blobs{blob(0, "head"), blob(4, "cluster")}
		if _, err := Copy(ctx, s, &src); err != nil {
			errs <- err
			return
		}
		errs <- s.WriteBlob(ctx, blob(0, "rewrite"))
		<-s.Done()
	}))
	defer srv.Close()

	conn, br, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	rw := struct {
		io.Reader
		io.Writer
	}{bufio.NewReader(r), conn}
	want := []struct {
		op   ws.OpCode
		data string
	}{
		{ws.OpText, "video/webm"},
		{ws.OpBinary, "head"},
		{ws.OpBinary, "cluster"},
	}
	for _, w := range want {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			t.Fatal(err)
		}
		if op != w.op || string(data) != w.data {
			t.Errorf("got %v %q, want %v %q", op, data, w.op, w.data)
		}
	}
	if err := <-errs; !errors.Is(err, ErrNotContiguous) {
		t.Errorf("rewrite: %v", err)
	}
}

func TestRTC(t *testing.T) {
	t.Parallel()
	avcC := []byte{1, 0x42, 0xe0, 0x1e, 0xff, 0xe1, 0, 2, 0x67, 1, 1, 0, 2, 0x68, 2}
	tests := []struct {
		name   string
		video  *av.VideoConfig
		audio  *av.AudioConfig
		tracks int
		err    error
	}{
		{"vp8 and opus", &av.VideoConfig{Codec: "vp8"}, &av.AudioConfig{Codec: "opus"}, 2, nil},
		{"avc", &av.VideoConfig{Codec: "avc1.42e01e", Description: avcC}, nil, 1, nil},
		{"hevc", &av.VideoConfig{Codec: "hvc1.1.6.L93.B0"}, nil, 0, container.ErrUnsupportedCodec},
		{"aac", nil, &av.AudioConfig{Codec: "mp4a.40.2"}, 0, container.ErrUnsupportedCodec},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := NewRTC("mfx", tt.video, tt.audio)
			if !errors.Is(err, tt.err) {
				t.Fatalf("got %v, want %v", err, tt.err)
			}
			if err != nil {
				return
			}
			if got := len(r.Tracks()); got != tt.tracks {
				t.Errorf("got %d tracks", got)
			}
			pc, err := NewPeerConnection(webrtc.Configuration{})
			if err != nil {
				t.Fatal(err)
			}
			defer pc.Close()
			if err := r.AddTo(pc); err != nil {
				t.Fatal(err)
			}
			if got := len(pc.GetSenders()); got != tt.tracks {
				t.Errorf("peer connection has %d senders", got)
			}
			for i := 0; i < 3; i++ {
				c := av.EncodedChunk{
					Video: &av.Encoded{Chunk: av.CodedChunk{Type: av.Key, Timestamp: int64(i) * 40000, Data: []byte{0, 0, 0, 1, 0x65}}},
					Audio: &av.Encoded{Chunk: av.CodedChunk{Type: av.Key, Timestamp: int64(i) * 20000, Duration: 20000, Data: []byte{0xfc}}},
				}
				if err := r.WriteChunk(c); err != nil {
					t.Fatal(err)
				}
			}
		})
	}
}
