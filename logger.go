package nanolog

import (
	"encoding/binary"
	"runtime"

	"github.com/go-stack/stack"
)

// siteSkip is the caller depth from siteID up to the logging statement
const siteSkip = 3

// Logger is a producer handle. Each Logger owns one staging buffer and
// must only be used from a single goroutine; create one Logger per
// logging goroutine.
type Logger struct {
	rt *Runtime
	sb *stagingBuffer

	// Call-site ids cached by program counter so the source location is
	// resolved once per site
	sites map[uintptr]uint32

	// nonBlocking makes the logger drop records instead of spinning when
	// the ring is full
	nonBlocking bool
	dropped     uint64

	closed bool
}

func newLogger(r *Runtime) *Logger {
	l := &Logger{rt: r, sites: make(map[uintptr]uint32)}
	// The worker frees the ring only after the producer is gone and the
	// ring has drained. Closing flags that; the finalizer covers loggers
	// that were never closed.
	runtime.SetFinalizer(l, (*Logger).Close)
	return l
}

// Preallocate creates the staging buffer up front so the first log call
// does not pay the allocation
func (l *Logger) Preallocate() {
	l.buffer()
}

// Close hands the staging buffer over for draining and deletion. The
// Logger must not be used afterwards.
func (l *Logger) Close() {
	if l.closed {
		return
	}
	l.closed = true
	runtime.SetFinalizer(l, nil)
	if l.sb != nil {
		l.sb.shouldDeallocate.Store(true)
		l.sb = nil
		l.rt.signalWork()
	}
}

// SetNonBlocking switches the logger between spinning on a full ring
// and dropping the record
func (l *Logger) SetNonBlocking(v bool) {
	l.nonBlocking = v
}

// Dropped returns how many records were discarded in non-blocking mode
func (l *Logger) Dropped() uint64 {
	return l.dropped
}

func (l *Logger) buffer() *stagingBuffer {
	if l.sb == nil {
		l.sb = l.rt.allocStagingBuffer()
	}
	return l.sb
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Field) {
	if LevelDebug >= l.rt.LogLevel() {
		l.log(LevelDebug, msg, fields)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Field) {
	if LevelInfo >= l.rt.LogLevel() {
		l.log(LevelInfo, msg, fields)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Field) {
	if LevelWarn >= l.rt.LogLevel() {
		l.log(LevelWarn, msg, fields)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...Field) {
	if LevelError >= l.rt.LogLevel() {
		l.log(LevelError, msg, fields)
	}
}

// Fatal logs a fatal message. Unlike conventional loggers it does not
// exit; records survive only if the runtime drains them.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.log(LevelFatal, msg, fields)
}

// log stages one record: resolve the call site, reserve ring space,
// serialize, commit
func (l *Logger) log(level Level, msg string, fields []Field) {
	id := l.siteID(level, msg, fields)

	size := stagedHeaderSize
	for i := range fields {
		size += fields[i].encodedSize()
	}

	// Oversized records cannot pass through the encoder chunking, and
	// the ring can never hold its full capacity at once. Shed trailing
	// fields until the record fits.
	limit := l.rt.cfg.ReleaseThreshold
	if limit > l.rt.cfg.StagingBufferSize-1 {
		limit = l.rt.cfg.StagingBufferSize - 1
	}
	nFields := len(fields)
	for size > limit && nFields > 0 {
		nFields--
		size -= fields[nFields].encodedSize()
	}

	sb := l.buffer()
	var buf []byte
	if l.nonBlocking {
		buf = sb.reserveNonBlocking(size)
		if buf == nil {
			l.dropped++
			return
		}
	} else {
		buf = sb.reserve(size)
	}

	binary.LittleEndian.PutUint32(buf, id)
	binary.LittleEndian.PutUint64(buf[4:], uint64(nanotime()))
	binary.LittleEndian.PutUint32(buf[12:], uint32(size-stagedHeaderSize))
	pos := stagedHeaderSize
	for i := 0; i < nFields; i++ {
		pos += fields[i].appendTo(buf[pos:])
	}

	sb.commit(size)
}

// siteID resolves the call-site id, registering the site on first use
func (l *Logger) siteID(level Level, msg string, fields []Field) uint32 {
	pc, _, _, ok := runtime.Caller(siteSkip)
	if ok {
		if id, hit := l.sites[pc]; hit {
			return id
		}
	}

	frame := stack.Caller(siteSkip).Frame()

	nSchema := len(fields)
	if nSchema > 255 {
		nSchema = 255
	}
	schema := make([]FieldType, nSchema)
	for i := 0; i < nSchema; i++ {
		schema[i] = fields[i].Type
	}

	id := l.rt.registry.register(StaticLogInfo{
		Level:    level,
		File:     frame.File,
		Line:     frame.Line,
		Function: frame.Function,
		Message:  msg,
		Schema:   schema,
	})
	if ok {
		l.sites[pc] = id
	}
	return id
}
