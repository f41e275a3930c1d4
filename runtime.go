package nanolog

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Runtime owns the producer buffers, the output file and the compression
// worker. Most programs use the process-wide instance through the package
// functions; independent runtimes are mainly useful for tests and tools.
type Runtime struct {
	cfg Config

	// bufferMutex guards the buffer list, id assignment, the metrics and
	// stats snapshots. The worker releases it around long encode runs.
	bufferMutex   sync.Mutex
	threadBuffers []*stagingBuffer
	nextBufferID  uint32
	metrics       Metrics

	out *os.File
	aio *asyncWriter

	// hasOutstandingOperation tracks the single in-flight write. Worker
	// only.
	hasOutstandingOperation bool

	// Two aligned output regions. The encoder fills compressingBuffer
	// while the kernel drains outputDoubleBuffer.
	compressingBuffer  []byte
	outputDoubleBuffer []byte

	currentLogLevel atomic.Int32

	// condMutex guards syncRequested, running and the sync rendezvous
	condMutex     sync.Mutex
	syncRequested bool
	running       bool
	queueEmptied  *sync.Cond
	shouldExit    atomic.Bool
	workAdded     chan struct{}

	registry *siteRegistry

	// nextSiteToPersist counts dictionary entries already emitted. Owned
	// by the worker, reset only while the worker is stopped.
	nextSiteToPersist int

	workerDone       chan struct{}
	workerStartNanos atomic.Int64

	shutdownOnce sync.Once
}

// New creates an independent runtime. The returned runtime already has
// its worker running.
func New(opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Runtime{
		cfg:       cfg,
		registry:  newSiteRegistry(),
		workAdded: make(chan struct{}, 1),
	}
	r.queueEmptied = sync.NewCond(&r.condMutex)
	r.currentLogLevel.Store(int32(LevelDebug))

	f, err := openLogFile(cfg.LogFile, cfg.FileFlags, cfg.FileMode)
	if err != nil {
		return nil, err
	}
	r.out = f

	r.compressingBuffer = alignedBlock(cfg.OutputBufferSize, directIOAlignment)
	r.outputDoubleBuffer = alignedBlock(cfg.OutputBufferSize, directIOAlignment)

	r.aio = newAsyncWriter()
	r.startWorker()
	return r, nil
}

// openLogFile opens the output and writes the stream header when the
// file is fresh. Direct I/O demands 512 byte writes, so the header block
// is padded; the decoder skips the zero bytes.
func openLogFile(path string, flags int, mode os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		hdr := alignedBlock(directIOAlignment, directIOAlignment)
		n := appendFileHeader(hdr)
		if flags&directIOFlag != 0 {
			n = len(hdr)
		}
		if _, err := f.Write(hdr[:n]); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// NewLogger creates a producer handle bound to this runtime. A Logger
// must only be used from a single goroutine.
func (r *Runtime) NewLogger() *Logger {
	return newLogger(r)
}

// allocStagingBuffer creates and registers a producer ring
func (r *Runtime) allocStagingBuffer() *stagingBuffer {
	r.bufferMutex.Lock()
	id := r.nextBufferID
	r.nextBufferID++
	sb := newStagingBuffer(r.cfg.StagingBufferSize, id, r.cfg.RecordProducerStats)
	r.threadBuffers = append(r.threadBuffers, sb)
	r.bufferMutex.Unlock()
	return sb
}

// LogLevel returns the current minimum severity
func (r *Runtime) LogLevel() Level {
	return Level(r.currentLogLevel.Load())
}

// SetLogLevel sets the minimum severity recorded by producers. Values
// past the valid range are clamped.
func (r *Runtime) SetLogLevel(level Level) {
	if level >= numLevels {
		level = numLevels - 1
	}
	r.currentLogLevel.Store(int32(level))
}

// SetLogFile switches the output to path. The current file is synced and
// drained first, then the worker restarts against the new file with a
// fresh dictionary. On open failure the old file stays active.
//
// Not safe to call concurrently with log production.
func (r *Runtime) SetLogFile(path string) error {
	newOut, err := openLogFile(path, r.cfg.FileFlags, r.cfg.FileMode)
	if err != nil {
		return fmt.Errorf("nanolog: cannot open log file %q: %w", path, err)
	}

	r.Sync()
	r.stopWorker()

	if err := r.out.Close(); err != nil {
		diag.errorf("closing previous log file: %v", err)
	}
	r.out = newOut

	// The new file must start with a complete dictionary
	r.nextSiteToPersist = 0

	r.startWorker()
	return nil
}

// Sync blocks until every record committed before the call has been
// encoded and handed to the output file. It is a non-quiescent
// checkpoint: records committed after the call may be persisted too.
func (r *Runtime) Sync() {
	r.condMutex.Lock()
	if !r.running {
		r.condMutex.Unlock()
		return
	}
	r.syncRequested = true
	r.signalWork()
	r.queueEmptied.Wait()
	r.condMutex.Unlock()
}

// Shutdown drains all pending records, stops the worker and closes the
// output file. Safe to call more than once.
func (r *Runtime) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.Sync()
		r.stopWorker()
		r.aio.close()
		if err := r.out.Close(); err != nil {
			diag.errorf("closing log file: %v", err)
		}
	})
}

func (r *Runtime) startWorker() {
	r.condMutex.Lock()
	r.shouldExit.Store(false)
	r.running = true
	r.condMutex.Unlock()
	r.workerDone = make(chan struct{})
	go r.workerMain()
}

func (r *Runtime) stopWorker() {
	r.condMutex.Lock()
	running := r.running
	r.condMutex.Unlock()
	if !running {
		return
	}
	r.shouldExit.Store(true)
	r.signalWork()
	<-r.workerDone
}

// signalWork wakes the worker if it is sleeping. The channel holds one
// token, extra signals coalesce.
func (r *Runtime) signalWork() {
	select {
	case r.workAdded <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the aggregate metrics
func (r *Runtime) Snapshot() Metrics {
	r.bufferMutex.Lock()
	m := r.metrics
	r.bufferMutex.Unlock()
	return m
}

// Stats returns a human readable summary of runtime activity. It also
// issues fdatasync on the output so the numbers include all I/O time;
// the elapsed time is charged to the disk I/O upper bound.
func (r *Runtime) Stats() string {
	start := nanotime()
	err := fdatasync(int(r.out.Fd()))
	stop := nanotime()

	r.bufferMutex.Lock()
	r.metrics.DiskIONanos += uint64(stop - start)
	m := r.metrics
	r.bufferMutex.Unlock()

	seconds := func(ns uint64) float64 { return float64(ns) / 1e9 }

	var b strings.Builder
	fmt.Fprintf(&b,
		"\nWrote %d events (%0.2f MB) in %0.3f seconds (%0.3f seconds spent compressing)\n",
		m.LogsProcessed,
		float64(m.TotalBytesWritten)/1e6,
		seconds(m.DiskIONanos),
		seconds(m.EncodeLockNanos))

	fmt.Fprintf(&b,
		"There were %d file flushes and the final sync time was %f sec\n",
		m.NumAioWritesCompleted,
		seconds(uint64(stop-start)))
	if err != nil {
		fmt.Fprintf(&b, "The final sync failed: %v\n", err)
	}

	totalNanos := uint64(nanotime() - r.workerStartNanos.Load())
	fmt.Fprintf(&b,
		"Compression thread was active for %0.3f out of %0.3f seconds (%0.2f %%)\n",
		seconds(m.ActiveNanos),
		seconds(totalNanos),
		100.0*float64(m.ActiveNanos)/float64(totalNanos))

	if m.TotalBytesWritten > 0 {
		fmt.Fprintf(&b,
			"On average, that's\n\t%0.2f MB/s or %0.2f ns/byte w/ processing\n",
			float64(m.TotalBytesWritten)/1e6/seconds(totalNanos),
			float64(totalNanos)/float64(m.TotalBytesWritten))
		fmt.Fprintf(&b,
			"\t%0.2f MB/s or %0.2f ns/byte disk throughput (min)\n",
			float64(m.TotalBytesWritten)/1e6/seconds(m.DiskIONanos),
			float64(m.DiskIONanos)/float64(m.TotalBytesWritten))
	}

	if m.LogsProcessed > 0 {
		events := float64(m.LogsProcessed)
		fmt.Fprintf(&b,
			"\t%0.2f ns/event compress only\n"+
				"\t%0.2f ns/event compressing with consume\n"+
				"\t%0.2f ns/event compressing with locking\n"+
				"\t%0.2f ns/event scan+compress\n"+
				"\t%0.2f ns/event in total\n",
			float64(m.EncodeNanos)/events,
			float64(m.EncodeConsumeNanos)/events,
			float64(m.EncodeLockNanos)/events,
			float64(m.ScanNanos)/events,
			float64(totalNanos)/events)
	}

	if m.TotalBytesWritten > 0 {
		fmt.Fprintf(&b,
			"The compression ratio was %0.2f-%0.2fx (%d bytes in, %d bytes out, %d pad bytes)\n",
			float64(m.TotalBytesRead)/float64(m.TotalBytesWritten+m.PadBytesWritten),
			float64(m.TotalBytesRead)/float64(m.TotalBytesWritten),
			m.TotalBytesRead,
			m.TotalBytesWritten,
			m.PadBytesWritten)
	}

	return b.String()
}

// Histograms returns the peek size distribution and the per-producer
// statistics
func (r *Runtime) Histograms() string {
	var b strings.Builder

	r.bufferMutex.Lock()
	b.WriteString("Distribution of StagingBuffer.peek() sizes\n")
	for i, n := range r.metrics.StagingBufferPeekDist {
		fmt.Fprintf(&b, "\t%02d - %02d%%: %d\n",
			i*100/peekDistBuckets, (i+1)*100/peekDistBuckets, n)
	}

	for _, sb := range r.threadBuffers {
		fmt.Fprintf(&b, "Thread %d:\n", sb.id)
		fmt.Fprintf(&b, "\tAllocations   : %d\n\tTimes Blocked : %d\n",
			sb.numAllocations.Load(),
			sb.numTimesProducerBlocked.Load())

		if r.cfg.RecordProducerStats {
			blocked := sb.numTimesProducerBlocked.Load()
			if blocked > 0 {
				fmt.Fprintf(&b, "\tAvgBlock (ns) : %d\n",
					sb.blockedNanos.Load()/uint64(blocked))
			}
			b.WriteString("\tBlock Dist\n")
			for i := range sb.blockedDist {
				fmt.Fprintf(&b, "\t\t%4d - %4d ns: %d\n",
					i*10, (i+1)*10, sb.blockedDist[i].Load())
			}
		}
	}
	r.bufferMutex.Unlock()

	if !r.cfg.RecordProducerStats {
		b.WriteString("Note: Detailed producer stats are disabled. Enable via WithProducerStats\n")
	}
	return b.String()
}
