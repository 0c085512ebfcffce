//go:build cgo_enabled

package astiav

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astiav"

	"github.com/schahriar/mfx/av"
	"github.com/schahriar/mfx/codec"
)

var (
	ErrUnsupportedCodec = errors.New("astiav: unsupported codec")
	ErrClosed           = errors.New("astiav: closed")
)

var timeBase = astiav.NewRational(1, 1000000)

var codecIDs = map[string]astiav.CodecID{
	"avc":    astiav.CodecIDH264,
	"hevc":   astiav.CodecIDHevc,
	"vp8":    astiav.CodecIDVp8,
	"vp9":    astiav.CodecIDVp9,
	"av1":    astiav.CodecIDAv1,
	"aac":    astiav.CodecIDAac,
	"opus":   astiav.CodecIDOpus,
	"vorbis": astiav.CodecIDVorbis,
	"flac":   astiav.CodecIDFlac,
}

func codecID(codec string) (astiav.CodecID, error) {
	id, ok := codecIDs[av.CodecFamily(codec)]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnsupportedCodec, codec)
	}
	return id, nil
}

func channelLayout(channels int) astiav.ChannelLayout {
	if channels == 1 {
		return astiav.ChannelLayoutMono
	}
	return astiav.ChannelLayoutStereo
}

// job is a unit of work for the codec goroutine. A nil packet or frame
// drains the codec and closes done.
type job struct {
	chunk *av.CodedChunk
	frame *av.Frame
	key   bool
	done  chan error
}

// loop owns a codec context. Every call into FFmpeg happens on its
// goroutine.
type loop struct {
	cc       *astiav.CodecContext
	jobs     chan job
	depth    atomic.Int32
	dequeued chan struct{}
	fail     func(error)

	closed    atomic.Bool
	closeOnce sync.Once
	exited    chan struct{}
}

func newLoop(cc *astiav.CodecContext, fail func(error)) *loop {
	return &loop{
		cc:       cc,
		jobs:     make(chan job, 4*codec.MaxQueueDepth),
		dequeued: make(chan struct{}, 1),
		fail:     fail,
		exited:   make(chan struct{}),
	}
}

func (l *loop) QueueDepth() int           { return int(l.depth.Load()) }
func (l *loop) Dequeued() <-chan struct{} { return l.dequeued }

func (l *loop) submit(j job) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.depth.Add(1)
	l.jobs <- j
	return nil
}

func (l *loop) taken() {
	l.depth.Add(-1)
	select {
	case l.dequeued <- struct{}{}:
	default:
	}
}

func (l *loop) flush(ctx context.Context) error {
	done := make(chan error, 1)
	if err := l.submit(job{done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *loop) close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.jobs)
		<-l.exited
		l.cc.Free()
	})
	return nil
}

type Decoder struct {
	*loop
	kind av.Kind
	cb   codec.DecoderCallbacks
}

// NewDecoderFactory returns a factory creating FFmpeg decoders.
func NewDecoderFactory() codec.DecoderFactory {
	return func(kind av.Kind, cb codec.DecoderCallbacks) (codec.Decoder, error) {
		return &Decoder{kind: kind, cb: cb}, nil
	}
}

func (d *Decoder) Configure(cfg codec.Config) error {
	var name string
	params := astiav.AllocCodecParameters()
	defer params.Free()
	switch {
	case cfg.Video != nil:
		name = cfg.Video.Codec
		params.SetMediaType(astiav.MediaTypeVideo)
		params.SetWidth(cfg.Video.CodedWidth)
		params.SetHeight(cfg.Video.CodedHeight)
		if len(cfg.Video.Description) > 0 {
			if err := params.SetExtraData(cfg.Video.Description); err != nil {
				return err
			}
		}
	case cfg.Audio != nil:
		name = cfg.Audio.Codec
		params.SetMediaType(astiav.MediaTypeAudio)
		params.SetSampleRate(cfg.Audio.SampleRate)
		params.SetChannelLayout(channelLayout(cfg.Audio.Channels))
		if len(cfg.Audio.Description) > 0 {
			if err := params.SetExtraData(cfg.Audio.Description); err != nil {
				return err
			}
		}
	}
	id, err := codecID(name)
	if err != nil {
		return err
	}
	params.SetCodecID(id)
	c := astiav.FindDecoder(id)
	if c == nil {
		return fmt.Errorf("%w: no decoder for %q", ErrUnsupportedCodec, name)
	}
	cc := astiav.AllocCodecContext(c)
	if cc == nil {
		return errors.New("astiav: could not allocate codec context")
	}
	if err := params.ToCodecContext(cc); err != nil {
		cc.Free()
		return err
	}
	cc.SetTimeBase(timeBase)
	if err := cc.Open(c, nil); err != nil {
		cc.Free()
		return fmt.Errorf("astiav: open decoder: %w", err)
	}
	d.loop = newLoop(cc, d.cb.Error)
	go d.run()
	return nil
}

func (d *Decoder) Decode(c av.CodedChunk) error {
	if d.loop == nil {
		return ErrClosed
	}
	return d.submit(job{chunk: &c})
}

func (d *Decoder) Flush(ctx context.Context) error {
	if d.loop == nil {
		return nil
	}
	return d.flush(ctx)
}

func (d *Decoder) Close() error {
	if d.loop == nil {
		return nil
	}
	return d.close()
}

func (d *Decoder) run() {
	defer close(d.exited)
	pkt := astiav.AllocPacket()
	defer pkt.Free()
	frame := astiav.AllocFrame()
	defer frame.Free()
	for j := range d.jobs {
		d.taken()
		if j.chunk == nil {
			err := d.cc.SendPacket(nil)
			if err == nil || errors.Is(err, astiav.ErrEof) {
				err = d.receive(frame)
			}
			j.done <- err
			continue
		}
		if err := pkt.FromData(j.chunk.Data); err != nil {
			d.fail(err)
			continue
		}
		pkt.SetPts(j.chunk.Timestamp)
		pkt.SetDuration(j.chunk.Duration)
		err := d.cc.SendPacket(pkt)
		pkt.Unref()
		if err != nil && !errors.Is(err, astiav.ErrEagain) {
			d.fail(fmt.Errorf("astiav: decode: %w", err))
			continue
		}
		if err := d.receive(frame); err != nil {
			d.fail(err)
		}
	}
}

func (d *Decoder) receive(frame *astiav.Frame) error {
	for {
		err := d.cc.ReceiveFrame(frame)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("astiav: receive frame: %w", err)
		}
		buf, err := frame.Data().Bytes(1)
		if err != nil {
			frame.Unref()
			return err
		}
		f := av.Frame{
			Kind:      d.kind,
			Timestamp: frame.Pts(),
			Data:      [][]byte{buf},
		}
		if d.kind == av.Video {
			f.Width, f.Height = frame.Width(), frame.Height()
		} else {
			f.SampleRate = frame.SampleRate()
			f.Channels = frame.ChannelLayout().Channels()
			f.NumberOfFrames = frame.NbSamples()
			f.Duration = int64(f.NumberOfFrames) * 1000000 / int64(max(f.SampleRate, 1))
		}
		frame.Unref()
		d.cb.Output(f)
	}
}

type Encoder struct {
	*loop
	kind av.Kind
	cb   codec.EncoderCallbacks
	sent bool
}

// NewEncoderFactory returns a factory creating FFmpeg encoders.
func NewEncoderFactory() codec.EncoderFactory {
	return func(kind av.Kind, cb codec.EncoderCallbacks) (codec.Encoder, error) {
		return &Encoder{kind: kind, cb: cb}, nil
	}
}

func (e *Encoder) Configure(cfg codec.EncoderConfig) error {
	var name string
	if cfg.Video != nil {
		name = cfg.Video.Codec
	} else if cfg.Audio != nil {
		name = cfg.Audio.Codec
	}
	id, err := codecID(name)
	if err != nil {
		return err
	}
	c := astiav.FindEncoder(id)
	if id == astiav.CodecIDOpus {
		if lib := astiav.FindEncoderByName("libopus"); lib != nil {
			c = lib
		}
	}
	if c == nil {
		return fmt.Errorf("%w: no encoder for %q", ErrUnsupportedCodec, name)
	}
	cc := astiav.AllocCodecContext(c)
	if cc == nil {
		return errors.New("astiav: could not allocate codec context")
	}
	cc.SetTimeBase(timeBase)
	if cfg.Bitrate > 0 {
		cc.SetBitRate(int64(cfg.Bitrate))
	}
	if v := cfg.Video; v != nil {
		cc.SetWidth(v.CodedWidth)
		cc.SetHeight(v.CodedHeight)
		cc.SetPixelFormat(astiav.PixelFormatYuv420P)
	} else {
		a := cfg.Audio
		cc.SetSampleRate(a.SampleRate)
		cc.SetChannelLayout(channelLayout(a.Channels))
		cc.SetSampleFormat(astiav.SampleFormatFltp)
		if id == astiav.CodecIDOpus {
			cc.SetSampleFormat(astiav.SampleFormatFlt)
		}
	}
	cc.SetFlags(astiav.NewCodecContextFlags(astiav.CodecContextFlagGlobalHeader))
	if err := cc.Open(c, nil); err != nil {
		cc.Free()
		return fmt.Errorf("astiav: open encoder: %w", err)
	}
	e.loop = newLoop(cc, e.cb.Error)
	go e.run()
	return nil
}

func (e *Encoder) Encode(f av.Frame, keyFrame bool) error {
	if e.loop == nil {
		return ErrClosed
	}
	// the coordinator releases f once Encode returns
	cp := f
	cp.Data = make([][]byte, len(f.Data))
	for i, p := range f.Data {
		cp.Data[i] = append([]byte(nil), p...)
	}
	return e.submit(job{frame: &cp, key: keyFrame})
}

func (e *Encoder) Flush(ctx context.Context) error {
	if e.loop == nil {
		return nil
	}
	return e.flush(ctx)
}

func (e *Encoder) Close() error {
	if e.loop == nil {
		return nil
	}
	return e.close()
}

func (e *Encoder) run() {
	defer close(e.exited)
	frame := astiav.AllocFrame()
	defer frame.Free()
	pkt := astiav.AllocPacket()
	defer pkt.Free()
	for j := range e.jobs {
		e.taken()
		if j.frame == nil {
			err := e.cc.SendFrame(nil)
			if err == nil || errors.Is(err, astiav.ErrEof) {
				err = e.receive(pkt)
			}
			j.done <- err
			continue
		}
		if err := e.fill(frame, j.frame, j.key); err != nil {
			e.fail(err)
			continue
		}
		err := e.cc.SendFrame(frame)
		frame.Unref()
		if err != nil && !errors.Is(err, astiav.ErrEagain) {
			e.fail(fmt.Errorf("astiav: encode: %w", err))
			continue
		}
		if err := e.receive(pkt); err != nil {
			e.fail(err)
		}
	}
}

func (e *Encoder) fill(frame *astiav.Frame, f *av.Frame, key bool) error {
	if e.kind == av.Video {
		frame.SetWidth(e.cc.Width())
		frame.SetHeight(e.cc.Height())
		frame.SetPixelFormat(e.cc.PixelFormat())
		if key {
			frame.SetPictureType(astiav.PictureTypeI)
		} else {
			frame.SetPictureType(astiav.PictureTypeNone)
		}
	} else {
		frame.SetSampleRate(e.cc.SampleRate())
		frame.SetSampleFormat(e.cc.SampleFormat())
		frame.SetChannelLayout(e.cc.ChannelLayout())
		frame.SetNbSamples(f.NumberOfFrames)
	}
	frame.SetPts(f.Timestamp)
	if err := frame.AllocBuffer(0); err != nil {
		return fmt.Errorf("astiav: alloc frame: %w", err)
	}
	if len(f.Data) == 0 {
		return nil
	}
	return frame.Data().SetBytes(f.Data[0], 1)
}

func (e *Encoder) receive(pkt *astiav.Packet) error {
	for {
		err := e.cc.ReceivePacket(pkt)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("astiav: receive packet: %w", err)
		}
		typ := av.Delta
		if pkt.Flags().Has(astiav.PacketFlagKey) || e.kind == av.Audio {
			typ = av.Key
		}
		out := av.Encoded{Chunk: av.CodedChunk{
			Type:      typ,
			Timestamp: pkt.Pts(),
			Duration:  pkt.Duration(),
			Data:      append([]byte(nil), pkt.Data()...),
		}}
		if !e.sent {
			out.Metadata.Description = append([]byte(nil), e.cc.ExtraData()...)
			e.sent = true
		}
		pkt.Unref()
		e.cb.Output(out)
	}
}
