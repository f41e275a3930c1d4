package nanolog

// peekDistBuckets is the resolution of the peek size distribution
const peekDistBuckets = 10

// Metrics aggregates worker activity. The worker writes the counters,
// except that Stats adds its fdatasync time to DiskIONanos. Writers and
// readers all hold bufferMutex.
type Metrics struct {
	// Time accounting, nanoseconds
	EncodeNanos        uint64 // encoding only
	EncodeConsumeNanos uint64 // encoding plus consuming staged space
	EncodeLockNanos    uint64 // encoding plus the mutex reacquire
	ScanNanos          uint64 // full scan passes
	ActiveNanos        uint64 // worker awake
	SleepLowWorkNanos  uint64 // low work naps
	DiskIONanos        uint64 // submit to completion, upper bound

	// Event counts
	NumEncodeBatches      uint64
	NumEncodePasses       uint64
	NumScans              uint64
	NumLowWorkSleeps      uint64
	NumAioWritesCompleted uint32

	// Byte accounting
	TotalBytesRead    uint64
	TotalBytesWritten uint64
	PadBytesWritten   uint64
	LogsProcessed     uint64
	MsgsWritten       uint64

	// Distribution of peek sizes as a fraction of the staging capacity
	StagingBufferPeekDist [peekDistBuckets]uint64
}

// Sub returns the elementwise difference m - other, for computing deltas
// between two snapshots
func (m Metrics) Sub(other Metrics) Metrics {
	r := m
	r.EncodeNanos -= other.EncodeNanos
	r.EncodeConsumeNanos -= other.EncodeConsumeNanos
	r.EncodeLockNanos -= other.EncodeLockNanos
	r.ScanNanos -= other.ScanNanos
	r.ActiveNanos -= other.ActiveNanos
	r.SleepLowWorkNanos -= other.SleepLowWorkNanos
	r.DiskIONanos -= other.DiskIONanos
	r.NumEncodeBatches -= other.NumEncodeBatches
	r.NumEncodePasses -= other.NumEncodePasses
	r.NumScans -= other.NumScans
	r.NumLowWorkSleeps -= other.NumLowWorkSleeps
	r.NumAioWritesCompleted -= other.NumAioWritesCompleted
	r.TotalBytesRead -= other.TotalBytesRead
	r.TotalBytesWritten -= other.TotalBytesWritten
	r.PadBytesWritten -= other.PadBytesWritten
	r.LogsProcessed -= other.LogsProcessed
	r.MsgsWritten -= other.MsgsWritten
	for i := range r.StagingBufferPeekDist {
		r.StagingBufferPeekDist[i] -= other.StagingBufferPeekDist[i]
	}
	return r
}

// peekDistBucket maps a peek size to its distribution bucket
func peekDistBucket(peekBytes, stagingSize int) int {
	b := peekDistBuckets * peekBytes / stagingSize
	if b >= peekDistBuckets {
		b = peekDistBuckets - 1
	}
	return b
}
