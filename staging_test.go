package nanolog

import (
	"bytes"
	"encoding/binary"
	"runtime"
	"sync"
	"testing"
)

func TestStagingReserveCommitPeek(t *testing.T) {
	sb := newStagingBuffer(64, 0, false)

	if !sb.empty() {
		t.Fatal("new buffer not empty")
	}

	buf := sb.reserve(8)
	if len(buf) != 8 {
		t.Fatalf("reserve returned %d bytes", len(buf))
	}
	copy(buf, "abcdefgh")

	// Nothing is visible before commit
	if got := sb.peek(); len(got) != 0 {
		t.Fatalf("peek before commit returned %d bytes", len(got))
	}

	sb.commit(8)
	got := sb.peek()
	if !bytes.Equal(got, []byte("abcdefgh")) {
		t.Fatalf("peek = %q", got)
	}

	sb.consume(8)
	if !sb.empty() {
		t.Fatal("buffer not empty after consume")
	}
	if got := sb.peek(); len(got) != 0 {
		t.Fatalf("peek after consume returned %d bytes", len(got))
	}
}

func TestStagingCapacityBoundary(t *testing.T) {
	// One byte of slack is reserved, so capacity-1 fits into an empty
	// ring and the full capacity never does
	sb := newStagingBuffer(64, 0, false)

	if buf := sb.reserveNonBlocking(63); buf == nil {
		t.Fatal("capacity-1 reserve failed on an empty buffer")
	}

	sb = newStagingBuffer(64, 0, false)
	if buf := sb.reserveNonBlocking(64); buf != nil {
		t.Fatal("full-capacity reserve succeeded")
	}
	if sb.numTimesProducerBlocked.Load() == 0 {
		t.Fatal("failed reserve did not count as blocked")
	}
}

func TestStagingNoWrapWhileConsumerAtZero(t *testing.T) {
	sb := newStagingBuffer(64, 0, false)

	buf := sb.reserve(32)
	copy(buf, make([]byte, 32))
	sb.commit(32)

	// The consumer has not moved, a wrap would make producer and
	// consumer overlap and read as empty
	if got := sb.reserveNonBlocking(40); got != nil {
		t.Fatal("producer wrapped onto an unmoved consumer")
	}

}

func TestStagingWrapAfterConsumerAdvance(t *testing.T) {
	sb := newStagingBuffer(64, 0, false)

	buf := sb.reserve(40)
	copy(buf, make([]byte, 40))
	sb.commit(40)
	sb.consume(40)

	// Tail room is 24, the request only fits by wrapping to the front
	got := sb.reserve(30)
	if got == nil {
		t.Fatal("reserve failed after consumer advanced")
	}
	copy(got, make([]byte, 30))
	sb.commit(30)

	if prod := sb.producerPos.Load(); prod != 30 {
		t.Fatalf("producer did not wrap, pos = %d", prod)
	}

	// The peek rolls the consumer over to the start of storage
	peeked := sb.peek()
	if len(peeked) != 30 {
		t.Fatalf("peek after wrap = %d bytes, want 30", len(peeked))
	}
	if cons := sb.consumerPos.Load(); cons != 0 {
		t.Fatalf("consumer did not roll over, pos = %d", cons)
	}
}

func TestStagingCheckCanDelete(t *testing.T) {
	sb := newStagingBuffer(64, 0, false)

	buf := sb.reserve(8)
	copy(buf, "12345678")
	sb.commit(8)

	sb.shouldDeallocate.Store(true)
	if sb.checkCanDelete() {
		t.Fatal("deletable while bytes remain")
	}

	sb.consume(8)
	if !sb.checkCanDelete() {
		t.Fatal("not deletable after drain")
	}
}

func TestStagingProducerConsumerOrdering(t *testing.T) {
	// One producer and one consumer hammer a tiny ring. Every committed
	// record must come out exactly once, in order, byte for byte.
	const records = 50000
	const recSize = 8

	sb := newStagingBuffer(128, 0, false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(0); i < records; i++ {
			buf := sb.reserve(recSize)
			binary.LittleEndian.PutUint64(buf, i)
			sb.commit(recSize)
		}
	}()

	next := uint64(0)
	for next < records {
		peeked := sb.peek()
		if len(peeked) == 0 {
			runtime.Gosched()
			continue
		}
		if len(peeked)%recSize != 0 {
			t.Fatalf("peek returned a partial record: %d bytes", len(peeked))
		}
		for off := 0; off < len(peeked); off += recSize {
			got := binary.LittleEndian.Uint64(peeked[off:])
			if got != next {
				t.Fatalf("record %d read as %d", next, got)
			}
			next++
		}
		sb.consume(len(peeked))
	}
	wg.Wait()

	if !sb.empty() {
		t.Fatal("ring not empty after all records consumed")
	}
	if got := sb.numAllocations.Load(); got != records {
		t.Fatalf("numAllocations = %d, want %d", got, records)
	}
}

func TestStagingBlockedHistogram(t *testing.T) {
	sb := newStagingBuffer(64, 0, true)

	if sb.reserveNonBlocking(64) != nil {
		t.Fatal("oversized reserve succeeded")
	}

	var total uint32
	for i := range sb.blockedDist {
		total += sb.blockedDist[i].Load()
	}
	if total == 0 {
		t.Fatal("blocked histogram not populated")
	}
}
