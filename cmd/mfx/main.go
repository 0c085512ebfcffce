// Command mfx inspects, remuxes, transcodes and serves media containers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/schahriar/mfx/format/gif"
	"github.com/schahriar/mfx/internal/config"
	"github.com/schahriar/mfx/internal/logger"
)

const usage = `usage: mfx <command> [flags]

commands:
  probe      print the tracks of a file
  remux      copy the tracks of a file into another container
  transcode  decode and re-encode a file (cgo_enabled builds)
  serve      stream files over websocket and WebRTC, expose /metrics
`

type command func(ctx context.Context, cfg config.Config, log *slog.Logger, args []string) error

var commands = map[string]command{
	"probe":     probe,
	"remux":     remux,
	"transcode": transcode,
	"serve":     serve,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mfx:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd(ctx, cfg, log, os.Args[2:]); err != nil {
		log.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

// mimeFor returns override or the container MIME type implied by path.
func mimeFor(path, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v", ".mov":
		return "video/mp4", nil
	case ".m4a":
		return "audio/mp4", nil
	case ".webm":
		return "video/webm", nil
	case ".mkv":
		return "video/x-matroska", nil
	case ".gif":
		return gif.MimeType, nil
	}
	return "", fmt.Errorf("cannot tell the container of %q, pass -mime", path)
}
