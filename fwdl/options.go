package fwdl

import (
	"log/slog"
	"time"
)

// Progress reports download progress. Percent is the integer share of
// payload bytes acknowledged so far, across all segments.
type Progress struct {
	Segment string
	Percent int
	Sent    int
	Total   int
	Elapsed time.Duration
}

// ProgressCallback is called every time Percent increases. It should return quickly.
type ProgressCallback func(Progress)

// Config holds the programmer configuration.
type Config struct {
	Logger   *slog.Logger
	Progress ProgressCallback
	// ChunkSize is the payload size of data frames, at most MaxChunk.
	ChunkSize int
}

func defaultConfig() Config {
	return Config{ChunkSize: MaxChunk}
}

// Option configures a [Programmer].
type Option func(*Config)

// WithLogger sets the logger of the download sequence.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithProgress sets the progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(c *Config) { c.Progress = cb }
}

// WithChunkSize sets the data frame payload size. Values outside
// [1, MaxChunk] are ignored.
func WithChunkSize(n int) Option {
	return func(c *Config) {
		if n > 0 && n <= MaxChunk {
			c.ChunkSize = n
		}
	}
}
