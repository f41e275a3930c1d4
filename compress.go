package nanolog

import (
	"errors"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"
)

// CodecID identifies the compression applied to a buffer extent. It is
// written into every extent header so a file remains readable no matter
// which codec produced which extent.
type CodecID uint8

const (
	CodecIDNone CodecID = iota
	CodecIDLZ4
	CodecIDS2
)

// ErrShortDst is returned when the destination cannot hold the result
var ErrShortDst = errors.New("nanolog: destination buffer too small")

// errIncompressible signals that the codec produced no usable output for
// this input. The encoder stores such extents raw under CodecIDNone.
var errIncompressible = errors.New("nanolog: input not compressible")

// Codec compresses staged record batches into the output buffer. The
// destination is a caller-owned region; a codec never allocates the
// result.
type Codec interface {
	ID() CodecID

	// Bound returns the worst case compressed size for srcLen input bytes
	Bound(srcLen int) int

	// Compress writes the compressed form of src into dst and returns the
	// bytes written. Returns ErrShortDst if dst is too small.
	Compress(dst, src []byte) (int, error)

	// Decompress expands src into dst, whose length must be the original
	// uncompressed size, and returns the bytes written.
	Decompress(dst, src []byte) (int, error)
}

// codecByID returns the codec a decoder needs for an extent
func codecByID(id CodecID) (Codec, bool) {
	switch id {
	case CodecIDNone:
		return NoopCodec{}, true
	case CodecIDLZ4:
		return LZ4Codec{}, true
	case CodecIDS2:
		return S2Codec{}, true
	}
	return nil, false
}

// NoopCodec copies bytes through unchanged
type NoopCodec struct{}

func (NoopCodec) ID() CodecID { return CodecIDNone }

func (NoopCodec) Bound(srcLen int) int { return srcLen }

func (NoopCodec) Compress(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, ErrShortDst
	}
	return copy(dst, src), nil
}

func (NoopCodec) Decompress(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, ErrShortDst
	}
	return copy(dst, src), nil
}

// lz4CompressorPool pools lz4.Compressor instances for reuse. The
// compressor keeps internal state that benefits from reuse.
var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// LZ4Codec is the default codec, block-mode LZ4
type LZ4Codec struct{}

func (LZ4Codec) ID() CodecID { return CodecIDLZ4 }

func (LZ4Codec) Bound(srcLen int) int { return lz4.CompressBlockBound(srcLen) }

func (LZ4Codec) Compress(dst, src []byte) (int, error) {
	if len(dst) < lz4.CompressBlockBound(len(src)) {
		return 0, ErrShortDst
	}

	lc, _ := lz4CompressorPool.Get().(*lz4.Compressor)
	n, err := lc.CompressBlock(src, dst)
	lz4CompressorPool.Put(lc)
	if err != nil {
		return 0, err
	}

	// Incompressible input compresses to zero bytes in block mode
	if n == 0 {
		return 0, errIncompressible
	}
	return n, nil
}

func (LZ4Codec) Decompress(dst, src []byte) (int, error) {
	return lz4.UncompressBlock(src, dst)
}

// S2Codec uses the snappy-compatible s2 block format
type S2Codec struct{}

func (S2Codec) ID() CodecID { return CodecIDS2 }

func (S2Codec) Bound(srcLen int) int { return s2.MaxEncodedLen(srcLen) }

func (S2Codec) Compress(dst, src []byte) (int, error) {
	if len(dst) < s2.MaxEncodedLen(len(src)) {
		return 0, ErrShortDst
	}
	out := s2.Encode(dst, src)
	return len(out), nil
}

func (S2Codec) Decompress(dst, src []byte) (int, error) {
	out, err := s2.Decode(dst, src)
	if err != nil {
		return 0, err
	}
	return len(out), nil
}
