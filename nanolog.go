// Package nanolog provides a low-latency binary logging runtime.
// Producers stage records in per-goroutine lock-free rings, a single
// background worker compresses them and writes the stream to a file.
package nanolog

import "sync"

// Magic constants for the binary log format
const (
	MagicHeader = 0x4E4C4F47 // "NLOG"
	Version     = 1

	// Cache line size for padding
	CacheLineSize = 64
)

// Level represents log severity
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal

	numLevels = 5
)

// String returns the level name
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	}
	return "UNKN"
}

var (
	instance     *Runtime
	instanceOnce sync.Once
)

// Default returns the process-wide runtime, creating it on first use.
// Creation failures for the default log file are fatal.
func Default() *Runtime {
	instanceOnce.Do(func() {
		r, err := New()
		if err != nil {
			fatalf("nanolog could not start: %v\nCheck permissions on the "+
				"default log file or use SetLogFile to pick another path", err)
		}
		instance = r
	})
	return instance
}

// Global functions that use the default runtime

// NewLogger creates a producer handle bound to the default runtime.
// A Logger must only be used from a single goroutine.
func NewLogger() *Logger {
	return Default().NewLogger()
}

// Preallocate sets up the runtime up front so the first log call
// does not pay the initialization cost.
func Preallocate() {
	Default()
}

// SetLogLevel sets the minimum severity recorded by producers
func SetLogLevel(level Level) {
	Default().SetLogLevel(level)
}

// GetLogLevel returns the current minimum severity
func GetLogLevel() Level {
	return Default().LogLevel()
}

// SetLogFile switches the output to a new file after draining the old one
func SetLogFile(path string) error {
	return Default().SetLogFile(path)
}

// Sync blocks until every record committed before the call has been
// handed to the output file
func Sync() {
	Default().Sync()
}

// Stats returns a human readable summary of runtime activity
func Stats() string {
	return Default().Stats()
}

// Histograms returns the peek size and producer block distributions
func Histograms() string {
	return Default().Histograms()
}

// Shutdown drains and stops the default runtime
func Shutdown() {
	Default().Shutdown()
}
