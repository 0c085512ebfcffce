// Package config reads the CLI settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/schahriar/mfx/stage"
)

type Config struct {
	LogLevel      string
	LogFormat     string
	MetricsAddr   string
	HighWaterMark int
	StallTimeout  time.Duration
	MinFreeBytes  uint64
	ChunkSize     int
}

// Load reads the given .env files, ".env" when none are named, and builds a
// Config from the environment. Missing files are not an error; variables
// already set in the environment win over the files.
func Load(paths ...string) (Config, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	return FromEnv(), nil
}

func FromEnv() Config {
	return Config{
		LogLevel:      GetEnv("MFX_LOG_LEVEL", "info"),
		LogFormat:     GetEnv("MFX_LOG_FORMAT", "text"),
		MetricsAddr:   GetEnv("MFX_METRICS_ADDR", ":9090"),
		HighWaterMark: GetEnvInt("MFX_HIGH_WATER_MARK", stage.DefaultHighWaterMark),
		StallTimeout:  GetEnvDuration("MFX_STALL_TIMEOUT", 10*time.Second),
		MinFreeBytes:  uint64(GetEnvInt("MFX_MIN_FREE_BYTES", 512<<20)),
		ChunkSize:     GetEnvInt("MFX_CHUNK_SIZE", 0),
	}
}

// GetEnv returns the value of key, or fallback when it is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback when it is unset
// or not an integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration accepts time.ParseDuration syntax or plain seconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
