package nanolog

import (
	"bytes"
	"testing"
)

func codecsUnderTest() []Codec {
	return []Codec{NoopCodec{}, LZ4Codec{}, S2Codec{}}
}

func TestCodecRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 64)

	for _, codec := range codecsUnderTest() {
		dst := make([]byte, codec.Bound(len(src)))
		n, err := codec.Compress(dst, src)
		if err != nil {
			t.Fatalf("codec %d: compress: %v", codec.ID(), err)
		}

		out := make([]byte, len(src))
		m, err := codec.Decompress(out, dst[:n])
		if err != nil {
			t.Fatalf("codec %d: decompress: %v", codec.ID(), err)
		}
		if m != len(src) || !bytes.Equal(out, src) {
			t.Fatalf("codec %d: round trip mismatch", codec.ID())
		}
	}
}

func TestCodecCompressibleInputShrinks(t *testing.T) {
	src := bytes.Repeat([]byte{'a'}, 4096)

	for _, codec := range []Codec{LZ4Codec{}, S2Codec{}} {
		dst := make([]byte, codec.Bound(len(src)))
		n, err := codec.Compress(dst, src)
		if err != nil {
			t.Fatalf("codec %d: compress: %v", codec.ID(), err)
		}
		if n >= len(src) {
			t.Fatalf("codec %d: %d bytes did not shrink", codec.ID(), n)
		}
	}
}

func TestCodecShortDst(t *testing.T) {
	src := make([]byte, 1024)
	for _, codec := range codecsUnderTest() {
		if _, err := codec.Compress(make([]byte, 8), src); err != ErrShortDst {
			t.Fatalf("codec %d: want ErrShortDst, got %v", codec.ID(), err)
		}
	}
}

func TestCodecByID(t *testing.T) {
	for _, codec := range codecsUnderTest() {
		got, ok := codecByID(codec.ID())
		if !ok || got.ID() != codec.ID() {
			t.Fatalf("codecByID(%d) failed", codec.ID())
		}
	}
	if _, ok := codecByID(CodecID(250)); ok {
		t.Fatal("unknown codec id resolved")
	}
}
