package nanolog

import (
	"runtime"
	"sync/atomic"
)

// producerBlockedBuckets is the size of the per-producer block time
// histogram. Buckets are 10ns wide and the last one saturates.
const producerBlockedBuckets = 64

// stagingBuffer is a single producer, single consumer byte ring holding
// uncompressed records. The owning goroutine reserves and commits, the
// worker peeks and consumes. Positions are byte offsets into storage.
//
// The free space checks are strictly < or > everywhere. If the record
// and read positions were allowed to overlap after a wrap, a full ring
// would be indistinguishable from an empty one. Keeping one byte of
// slack means == always reads as empty.
type stagingBuffer struct {
	_           [CacheLineSize]byte // Padding
	producerPos atomic.Uint64       // Next byte the producer writes
	endOfRecord atomic.Uint64       // Upper bound of committed bytes before a wrap
	_           [48]byte            // Padding to cache line
	consumerPos atomic.Uint64       // Next byte the worker reads
	_           [56]byte            // Padding to cache line

	// minFreeSpace is the producer's cached lower bound on free bytes.
	// Only the producer touches it.
	minFreeSpace uint64

	shouldDeallocate atomic.Bool

	id      uint32
	storage []byte

	// Producer statistics
	numAllocations          atomic.Uint64
	numTimesProducerBlocked atomic.Uint32
	blockedNanos            atomic.Uint64
	recordStats             bool
	blockedDist             [producerBlockedBuckets]atomic.Uint32
}

func newStagingBuffer(capacity int, id uint32, recordStats bool) *stagingBuffer {
	sb := &stagingBuffer{
		id:          id,
		storage:     make([]byte, capacity),
		recordStats: recordStats,
	}
	sb.minFreeSpace = uint64(capacity)
	sb.endOfRecord.Store(uint64(capacity))
	return sb
}

// reserve returns a writable slice of at least n contiguous bytes without
// publishing it. Blocks by spinning when the ring is full.
func (sb *stagingBuffer) reserve(n int) []byte {
	if sb.minFreeSpace > uint64(n) {
		p := sb.producerPos.Load()
		return sb.storage[p : p+uint64(n)]
	}
	return sb.reserveSlow(uint64(n), true)
}

// reserveNonBlocking is reserve that returns nil instead of spinning
func (sb *stagingBuffer) reserveNonBlocking(n int) []byte {
	if sb.minFreeSpace > uint64(n) {
		p := sb.producerPos.Load()
		return sb.storage[p : p+uint64(n)]
	}
	return sb.reserveSlow(uint64(n), false)
}

// reserveSlow re-reads consumerPos and recomputes the free space bound,
// wrapping the producer position when the tail has no room. Touches state
// shared with the worker, so the fast path avoids it entirely.
func (sb *stagingBuffer) reserveSlow(n uint64, blocking bool) []byte {
	capacity := uint64(len(sb.storage))
	start := nanotime()

	for sb.minFreeSpace <= n {
		// consumerPos moves under the worker, read one consistent copy
		cachedConsumerPos := sb.consumerPos.Load()
		prod := sb.producerPos.Load()

		if cachedConsumerPos <= prod {
			sb.minFreeSpace = capacity - prod
			if sb.minFreeSpace > n {
				break
			}

			// Not enough space at the end, wrap around
			sb.endOfRecord.Store(prod)

			// A wrap while the consumer sits at offset zero would make
			// the positions overlap and read as empty. Keep spinning
			// until the consumer moves instead.
			if cachedConsumerPos != 0 {
				// endOfRecord is published before producerPos moves
				sb.producerPos.Store(0)
				sb.minFreeSpace = cachedConsumerPos
			}
		} else {
			sb.minFreeSpace = cachedConsumerPos - prod
		}

		if sb.minFreeSpace <= n {
			if !blocking {
				sb.recordBlocked(start)
				return nil
			}
			// Polling, not parking. The yield keeps the worker runnable
			// when producer and worker share a CPU.
			runtime.Gosched()
		}
	}

	sb.recordBlocked(start)
	p := sb.producerPos.Load()
	return sb.storage[p : p+n]
}

func (sb *stagingBuffer) recordBlocked(start int64) {
	blocked := nanotime() - start
	sb.blockedNanos.Add(uint64(blocked))
	sb.numTimesProducerBlocked.Add(1)
	if sb.recordStats {
		bucket := blocked / 10
		if bucket >= producerBlockedBuckets {
			bucket = producerBlockedBuckets - 1
		}
		sb.blockedDist[bucket].Add(1)
	}
}

// commit publishes the last reserved n bytes to the worker
func (sb *stagingBuffer) commit(n int) {
	sb.producerPos.Store(sb.producerPos.Load() + uint64(n))
	sb.numAllocations.Add(1)
	sb.minFreeSpace -= uint64(n)
}

// peek returns the contiguous committed bytes available to the worker.
// Consuming should be done piece-wise so space returns to the producer
// early; a large peek does not have to be consumed in one call.
func (sb *stagingBuffer) peek() []byte {
	// Save a consistent copy of producerPos
	cachedProducerPos := sb.producerPos.Load()
	cons := sb.consumerPos.Load()

	if cachedProducerPos < cons {
		// The producer wrapped. endOfRecord was published before the
		// wrap, so this load cannot see a stale bound.
		end := sb.endOfRecord.Load()
		if end > cons {
			return sb.storage[cons:end]
		}

		// Roll over
		sb.consumerPos.Store(0)
		cons = 0
	}

	return sb.storage[cons:cachedProducerPos]
}

// consume releases n peeked bytes back to the producer
func (sb *stagingBuffer) consume(n int) {
	sb.consumerPos.Store(sb.consumerPos.Load() + uint64(n))
}

// empty reports whether every committed byte has been consumed
func (sb *stagingBuffer) empty() bool {
	return sb.producerPos.Load() == sb.consumerPos.Load()
}

// checkCanDelete reports whether the producer is gone and the ring has
// drained. Only then may the worker free the buffer.
func (sb *stagingBuffer) checkCanDelete() bool {
	return sb.shouldDeallocate.Load() && sb.empty()
}
