package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pion/webrtc/v3"

	"github.com/schahriar/mfx"
	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/format"
	"github.com/schahriar/mfx/internal/config"
	"github.com/schahriar/mfx/internal/metrics"
	"github.com/schahriar/mfx/sink"
)

const shutdownTimeout = 10 * time.Second

type server struct {
	dir string
	cfg config.Config
	log *slog.Logger
	met *metrics.Metrics
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.MetricsAddr, "listen address")
	dir := fs.String("dir", ".", "directory holding the media files")
	fs.Parse(args)

	s := &server{dir: *dir, cfg: cfg, log: log, met: metrics.New()}
	srv := &http.Server{Addr: *addr, Handler: s.routes()}
	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	log.Info("server starting", "addr", *addr, "dir", *dir)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutdown signal received, draining connections")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/metrics", s.met.Handler().ServeHTTP)
	r.Route("/streams/{name}", func(r chi.Router) {
		r.Get("/ws", s.websocket)
		r.Post("/rtc", s.rtc)
	})
	return r
}

// open resolves the name in the URL to a file inside the media directory.
func (s *server) open(r *http.Request) (*os.File, string, error) {
	name := filepath.Base(chi.URLParam(r, "name"))
	if name == "." || name == "/" {
		return nil, "", os.ErrNotExist
	}
	path := filepath.Join(s.dir, name)
	mt, err := mimeFor(path, r.URL.Query().Get("mime"))
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	return f, mt, err
}

func (s *server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, os.ErrNotExist) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

// websocket streams a file remuxed into fragmented MP4 (?out=video/mp4) or
// live WebM.
func (s *server) websocket(w http.ResponseWriter, r *http.Request) {
	f, mt, err := s.open(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	defer f.Close()
	out := r.URL.Query().Get("out")
	if out == "" {
		out = "video/webm"
	}
	log := s.log.With("stream", chi.URLParam(r, "name"))
	conn, err := sink.UpgradeWebSocket(w, r, log)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-conn.Done()
		cancel()
	}()
	rm, err := mfx.Remux(ctx, f, mt, mfx.EncodeOptions{
		MimeType:      out,
		Streaming:     true,
		ChunkSize:     s.cfg.ChunkSize,
		Logger:        log,
		Observer:      s.met,
		HighWaterMark: s.cfg.HighWaterMark,
		StallTimeout:  s.cfg.StallTimeout,
	})
	if err != nil {
		log.Warn("remux failed", "error", err)
		return
	}
	n, err := sink.Copy(ctx, conn, rm)
	if err != nil {
		rm.Close()
	}
	if werr := rm.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		err = errors.Join(err, werr)
	}
	log.Info("websocket stream ended", "bytes", n, "error", err)
}

// rtc answers a JSON session description offer and plays the file to the
// peer in real time.
func (s *server) rtc(w http.ResponseWriter, r *http.Request) {
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, mt, err := s.open(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	m, err := av.ParseMIME(mt)
	if err != nil {
		f.Close()
		s.fail(w, err)
		return
	}
	log := s.log.With("stream", chi.URLParam(r, "name"))
	ctx, cancel := context.WithCancel(context.Background())
	var src io.Reader = f
	if m, src, err = format.ResolveMIME(ctx, f, m, log); err != nil {
		cancel()
		f.Close()
		s.fail(w, err)
		return
	}
	p, err := format.NewParser(m, format.ParserOptions{Logger: log})
	if err != nil {
		cancel()
		f.Close()
		s.fail(w, err)
		return
	}
	demux := format.NewDemuxStage(p)
	go demux.Run(ctx)
	go format.Feed(ctx, src, demux)
	stop := func() {
		cancel()
		demux.Cancel()
		f.Close()
	}
	tracks, err := demux.Tracks(ctx)
	if err != nil {
		stop()
		s.fail(w, err)
		return
	}
	var video, audio *av.Track
	for _, t := range tracks {
		if t.Kind == av.Video && video == nil {
			video = t
		}
		if t.Kind == av.Audio && audio == nil {
			audio = t
		}
	}
	var vc *av.VideoConfig
	var ac *av.AudioConfig
	if video != nil {
		vc = video.Video
	}
	if audio != nil {
		ac = audio.Audio
	}
	out, err := sink.NewRTC("mfx", vc, ac)
	if err != nil {
		stop()
		s.fail(w, err)
		return
	}
	pc, err := sink.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		stop()
		s.fail(w, err)
		return
	}
	answer, err := negotiate(pc, out, offer)
	if err != nil {
		pc.Close()
		stop()
		s.fail(w, err)
		return
	}
	connected := make(chan struct{})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Debug("ice state", "state", state.String())
		switch state {
		case webrtc.ICEConnectionStateConnected:
			select {
			case <-connected:
			default:
				close(connected)
			}
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			cancel()
		}
	})
	go func() {
		defer pc.Close()
		defer stop()
		select {
		case <-connected:
		case <-ctx.Done():
			return
		case <-time.After(20 * time.Second):
			log.Warn("peer never connected")
			return
		}
		err := play(ctx, demux, out, video, audio)
		log.Info("rtc stream ended", "error", err)
	}()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(answer)
}

func negotiate(pc *webrtc.PeerConnection, out *sink.RTC, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := out.AddTo(pc); err != nil {
		return nil, err
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		return nil, errors.New("ice gathering timed out")
	}
	return pc.LocalDescription(), nil
}

// play writes the samples of the selected tracks paced by their
// timestamps.
func play(ctx context.Context, demux *format.Demux, out *sink.RTC, video, audio *av.Track) error {
	began := time.Now()
	for {
		b, err := demux.Read(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		var kind av.Kind
		switch {
		case video != nil && b.Track.ID == video.ID:
			kind = av.Video
		case audio != nil && b.Track.ID == audio.ID:
			kind = av.Audio
		default:
			continue
		}
		for _, smp := range b.Samples {
			c := b.Track.Chunk(smp)
			if wait := time.Until(began.Add(time.Duration(c.Timestamp) * time.Microsecond)); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			var ec av.EncodedChunk
			if kind == av.Video {
				ec.Video = &av.Encoded{Chunk: c}
			} else {
				ec.Audio = &av.Encoded{Chunk: c}
			}
			if err := out.WriteChunk(ec); err != nil {
				return err
			}
		}
	}
}
