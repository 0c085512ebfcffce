package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/schahriar/mfx/av"
)

// File writes blobs at their byte offsets into a temporary file next to
// the destination and moves it into place on Close.
type File struct {
	path    string
	tmp     string
	f       *os.File
	minFree uint64
	size    int64
	log     *slog.Logger
}

type FileOption func(*File)

// WithMinFree refuses blobs that would leave less than n bytes free on the
// destination volume.
func WithMinFree(n uint64) FileOption {
	return func(f *File) { f.minFree = n }
}

func WithLogger(log *slog.Logger) FileOption {
	return func(f *File) {
		if log != nil {
			f.log = log
		}
	}
}

func NewFile(path string, opts ...FileOption) (*File, error) {
	f := &File{path: path, log: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f.tmp = filepath.Join(dir, fmt.Sprintf("tmp_%s_%d%s", uuid.New(), time.Now().Unix(), filepath.Ext(path)))
	var err error
	if f.f, err = os.Create(f.tmp); err != nil {
		return nil, err
	}
	f.log = f.log.With("component", "file-sink", "path", path)
	return f, nil
}

func (f *File) checkSpace(n int) error {
	if f.minFree == 0 {
		return nil
	}
	u, err := disk.Usage(filepath.Dir(f.tmp))
	if err != nil {
		f.log.Warn("disk usage unavailable", "error", err)
		return nil
	}
	if u.Free < f.minFree+uint64(n) {
		return fmt.Errorf("%w: %d bytes free, %d required", ErrDiskFull, u.Free, f.minFree+uint64(n))
	}
	return nil
}

func (f *File) WriteBlob(ctx context.Context, b av.Blob) error {
	if f.f == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.End() > f.size {
		if err := f.checkSpace(int(b.End() - f.size)); err != nil {
			return err
		}
	}
	if _, err := f.f.Seek(b.ByteOffset, io.SeekStart); err != nil {
		return err
	}
	if _, err := f.f.Write(b.Bytes); err != nil {
		return err
	}
	f.size = max(f.size, b.End())
	return nil
}

// Close syncs the file and moves it to its destination.
func (f *File) Close() error {
	if f.f == nil {
		return nil
	}
	file := f.f
	f.f = nil
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.tmp, f.path); err != nil {
		return err
	}
	f.log.Debug("file written", "bytes", f.size)
	return nil
}

// Abort discards everything written so far.
func (f *File) Abort() error {
	if f.f == nil {
		return nil
	}
	f.f.Close()
	f.f = nil
	return os.Remove(f.tmp)
}
