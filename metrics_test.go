package nanolog

import "testing"

func TestMetricsSub(t *testing.T) {
	var a, b Metrics
	a.LogsProcessed = 100
	a.TotalBytesRead = 5000
	a.NumAioWritesCompleted = 7
	a.StagingBufferPeekDist[3] = 12

	b.LogsProcessed = 40
	b.TotalBytesRead = 1000
	b.NumAioWritesCompleted = 2
	b.StagingBufferPeekDist[3] = 5

	d := a.Sub(b)
	if d.LogsProcessed != 60 || d.TotalBytesRead != 4000 {
		t.Fatalf("delta = %+v", d)
	}
	if d.NumAioWritesCompleted != 5 {
		t.Fatalf("write delta = %d", d.NumAioWritesCompleted)
	}
	if d.StagingBufferPeekDist[3] != 7 {
		t.Fatalf("dist delta = %d", d.StagingBufferPeekDist[3])
	}
}

func TestPeekDistBucket(t *testing.T) {
	size := 1000
	if b := peekDistBucket(0, size); b != 0 {
		t.Fatalf("bucket for 0 = %d", b)
	}
	if b := peekDistBucket(999, size); b != peekDistBuckets-1 {
		t.Fatalf("bucket for max = %d", b)
	}
	if b := peekDistBucket(size, size); b != peekDistBuckets-1 {
		t.Fatalf("bucket did not saturate: %d", b)
	}
}

func TestPadTo512(t *testing.T) {
	if padTo512(0) != 0 || padTo512(512) != 512 {
		t.Fatal("aligned sizes changed")
	}
	if got := padTo512(513); got != 1024 {
		t.Fatalf("padTo512(513) = %d", got)
	}
	if got := padTo512(1); got != 512 {
		t.Fatalf("padTo512(1) = %d", got)
	}
}
