package sink

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/schahriar/mfx/av"
)

// WebSocket streams blobs to a Media Source Extensions client: one text
// message with the MIME type, then every blob as a binary message. Only
// streaming output can be sent; blobs must arrive in byte order.
type WebSocket struct {
	conn net.Conn
	mu   sync.Mutex
	next int64
	mime bool
	log  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// UpgradeWebSocket takes over an HTTP request.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request, log *slog.Logger) (*WebSocket, error) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn, log), nil
}

// NewWebSocket wraps the server side of an established connection.
func NewWebSocket(conn net.Conn, log *slog.Logger) *WebSocket {
	if log == nil {
		log = slog.Default()
	}
	s := &WebSocket{
		conn: conn,
		log:  log.With("component", "websocket-sink", "remote", conn.RemoteAddr().String()),
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Write is used for control frames written by the read loop.
func (s *WebSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(p)
}

// readLoop answers control frames and notices the client leaving.
func (s *WebSocket) readLoop() {
	defer s.Close()
	rw := struct {
		io.Reader
		io.Writer
	}{s.conn, s}
	for {
		if _, _, err := wsutil.ReadClientData(rw); err != nil {
			s.log.Debug("client gone", "error", err)
			return
		}
	}
}

// Done is closed once the connection is closed by either side.
func (s *WebSocket) Done() <-chan struct{} { return s.done }

func (s *WebSocket) WriteBlob(ctx context.Context, b av.Blob) error {
	select {
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ByteOffset != s.next {
		return ErrNotContiguous
	}
	if !s.mime {
		if err := wsutil.WriteServerText(s.conn, []byte(b.MimeType)); err != nil {
			return err
		}
		s.mime = true
	}
	if err := wsutil.WriteServerBinary(s.conn, b.Bytes); err != nil {
		return err
	}
	s.next = b.End()
	return nil
}

func (s *WebSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
