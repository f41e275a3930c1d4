package nanolog

import (
	"os"
	"time"
)

// Default policy values. All of them can be changed per runtime with options.
const (
	DefaultLogFile = "/tmp/compressedLog"

	// DefaultStagingBufferSize is the capacity of each producer ring
	DefaultStagingBufferSize = 1 << 20

	// DefaultOutputBufferSize is the size of each of the two output buffers
	DefaultOutputBufferSize = 1 << 23

	// DefaultReleaseThreshold caps how many staged bytes are encoded
	// before space is released back to the producer
	DefaultReleaseThreshold = 1 << 16

	// DefaultLowWorkThreshold is the consumed-bytes level under which the
	// worker naps instead of spinning on the producer cache lines
	DefaultLowWorkThreshold = 1 << 14

	DefaultPollIntervalNoWork  = time.Millisecond
	DefaultPollIntervalLowWork = 100 * time.Microsecond

	// directIOAlignment is the block alignment required by O_DIRECT writes
	directIOAlignment = 512
)

// Config holds the runtime policy knobs
type Config struct {
	LogFile             string
	StagingBufferSize   int
	OutputBufferSize    int
	ReleaseThreshold    int
	LowWorkThreshold    int
	PollIntervalNoWork  time.Duration
	PollIntervalLowWork time.Duration
	FileFlags           int
	FileMode            os.FileMode
	Codec               Codec
	NewEncoder          func(buf []byte, codec Codec) Encoder
	RecordProducerStats bool
}

// Option mutates a Config before the runtime starts
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		LogFile:             DefaultLogFile,
		StagingBufferSize:   DefaultStagingBufferSize,
		OutputBufferSize:    DefaultOutputBufferSize,
		ReleaseThreshold:    DefaultReleaseThreshold,
		LowWorkThreshold:    DefaultLowWorkThreshold,
		PollIntervalNoWork:  DefaultPollIntervalNoWork,
		PollIntervalLowWork: DefaultPollIntervalLowWork,
		FileFlags:           os.O_CREATE | os.O_WRONLY | os.O_APPEND,
		FileMode:            0666,
		Codec:               LZ4Codec{},
		NewEncoder: func(buf []byte, codec Codec) Encoder {
			return NewWireEncoder(buf, codec)
		},
		RecordProducerStats: false,
	}
}

// WithLogFile sets the output path
func WithLogFile(path string) Option {
	return func(c *Config) { c.LogFile = path }
}

// WithStagingBufferSize sets the per-producer ring capacity
func WithStagingBufferSize(n int) Option {
	return func(c *Config) { c.StagingBufferSize = n }
}

// WithOutputBufferSize sets the size of the two output buffers
func WithOutputBufferSize(n int) Option {
	return func(c *Config) { c.OutputBufferSize = n }
}

// WithReleaseThreshold sets the encode chunk size
func WithReleaseThreshold(n int) Option {
	return func(c *Config) { c.ReleaseThreshold = n }
}

// WithLowWorkThreshold sets the consumed-bytes level for the low work nap
func WithLowWorkThreshold(n int) Option {
	return func(c *Config) { c.LowWorkThreshold = n }
}

// WithPollIntervals sets the idle wait and the low work nap durations.
// A zero lowWork disables the nap.
func WithPollIntervals(noWork, lowWork time.Duration) Option {
	return func(c *Config) {
		c.PollIntervalNoWork = noWork
		c.PollIntervalLowWork = lowWork
	}
}

// WithDirectIO opens the output file with O_DIRECT. Writes are padded
// to a 512 byte multiple. Only effective on Linux.
func WithDirectIO() Option {
	return func(c *Config) { c.FileFlags |= directIOFlag }
}

// WithCodec sets the compression codec used by the default encoder
func WithCodec(codec Codec) Option {
	return func(c *Config) { c.Codec = codec }
}

// WithEncoder installs a custom encoder factory
func WithEncoder(factory func(buf []byte, codec Codec) Encoder) Option {
	return func(c *Config) { c.NewEncoder = factory }
}

// WithProducerStats enables the per-producer block histograms
func WithProducerStats() Option {
	return func(c *Config) { c.RecordProducerStats = true }
}
