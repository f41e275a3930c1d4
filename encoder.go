package nanolog

import "encoding/binary"

// Staged record layout, producer to worker:
//
//	siteID    uint32
//	timestamp uint64
//	payload   uint32 length + bytes
const stagedHeaderSize = 16

// Chunk tags in the output stream. A log file is the 8 byte file header
// followed by dictionary and extent chunks.
const (
	chunkDictionary byte = 0x01
	chunkExtent     byte = 0x02
)

const (
	fileHeaderSize = 8

	// tag, buffer id, flags, codec id, uncompressed len, compressed len
	extentHeaderSize = 15

	extentFlagNewPass = 0x01
)

// Encoder turns staged bytes into the on-disk format. The worker owns
// exactly one encoder and drives it single threaded.
type Encoder interface {
	// EncodeLogMsgs encodes as many whole records from src as fit in the
	// remaining output space. newPass marks the first extent after the
	// scan cursor crossed index zero. Only records whose site appears in
	// sites are encoded; encoding stops at the first record whose site
	// is missing. Returns the staged bytes consumed and the record count;
	// 0 bytes consumed means the output is full or the first record's
	// site is not in sites, and the worker treats both as a full output.
	EncodeLogMsgs(src []byte, bufferID uint32, newPass bool, sites []StaticLogInfo) (int, uint64)

	// EncodeNewDictionaryEntries persists sites[from:] and returns how
	// many entries fit in the remaining output space.
	EncodeNewDictionaryEntries(sites []StaticLogInfo, from int) int

	// EncodedBytes returns the bytes pending in the output buffer
	EncodedBytes() int

	// SwapBuffer installs the next output region and resets the count
	SwapBuffer(buf []byte)
}

// WireEncoder is the default Encoder. Extents are compressed through the
// configured codec; extents the codec cannot shrink are stored raw.
type WireEncoder struct {
	out   []byte
	pos   int
	codec Codec
}

// NewWireEncoder creates an encoder writing into buf
func NewWireEncoder(buf []byte, codec Codec) *WireEncoder {
	if codec == nil {
		codec = NoopCodec{}
	}
	return &WireEncoder{out: buf, codec: codec}
}

// EncodedBytes returns the bytes pending in the output buffer
func (e *WireEncoder) EncodedBytes() int { return e.pos }

// SwapBuffer installs the next output region and resets the count
func (e *WireEncoder) SwapBuffer(buf []byte) {
	e.out = buf
	e.pos = 0
}

// EncodeLogMsgs implements Encoder
func (e *WireEncoder) EncodeLogMsgs(src []byte, bufferID uint32, newPass bool, sites []StaticLogInfo) (int, uint64) {
	budget := len(e.out) - e.pos - extentHeaderSize
	if budget <= 0 {
		return 0, 0
	}

	// Walk whole records while the compressed worst case stays within
	// the remaining output space
	take := 0
	msgs := uint64(0)
	for take < len(src) {
		if len(src)-take < stagedHeaderSize {
			break
		}
		siteID := binary.LittleEndian.Uint32(src[take:])
		payloadLen := int(binary.LittleEndian.Uint32(src[take+12:]))
		recLen := stagedHeaderSize + payloadLen

		if take+recLen > len(src) {
			break
		}

		// A record may reference a site the dictionary has not persisted
		// yet. Stop here; the next pass persists the entry first.
		if int(siteID) >= len(sites) {
			break
		}

		if e.codec.Bound(take+recLen) > budget {
			break
		}
		take += recLen
		msgs++
	}

	if take == 0 {
		return 0, 0
	}

	headerAt := e.pos
	dst := e.out[headerAt+extentHeaderSize:]

	codecID := e.codec.ID()
	n, err := e.codec.Compress(dst, src[:take])
	if err != nil || n >= take {
		// Store raw, the budget always covers the uncompressed bytes
		n = copy(dst, src[:take])
		codecID = CodecIDNone
	}

	hdr := e.out[headerAt:]
	hdr[0] = chunkExtent
	binary.LittleEndian.PutUint32(hdr[1:], bufferID)
	var flags byte
	if newPass {
		flags |= extentFlagNewPass
	}
	hdr[5] = flags
	hdr[6] = byte(codecID)
	binary.LittleEndian.PutUint32(hdr[7:], uint32(take))
	binary.LittleEndian.PutUint32(hdr[11:], uint32(n))

	e.pos = headerAt + extentHeaderSize + n
	return take, msgs
}

// EncodeNewDictionaryEntries implements Encoder
func (e *WireEncoder) EncodeNewDictionaryEntries(sites []StaticLogInfo, from int) int {
	persisted := 0
	for i := from; i < len(sites); i++ {
		n := dictionaryEntrySize(&sites[i])
		if len(e.out)-e.pos < n {
			break
		}
		e.pos += appendDictionaryEntry(e.out[e.pos:], &sites[i])
		persisted++
	}
	return persisted
}

func dictionaryEntrySize(s *StaticLogInfo) int {
	// tag, id, level, line, schema len
	return 11 + len(s.Schema) +
		2 + len(s.File) +
		2 + len(s.Function) +
		2 + len(s.Message)
}

func appendDictionaryEntry(buf []byte, s *StaticLogInfo) int {
	buf[0] = chunkDictionary
	binary.LittleEndian.PutUint32(buf[1:], s.ID)
	buf[5] = byte(s.Level)
	binary.LittleEndian.PutUint32(buf[6:], uint32(s.Line))
	buf[10] = byte(len(s.Schema))
	pos := 11
	for _, t := range s.Schema {
		buf[pos] = byte(t)
		pos++
	}
	pos += putString16(buf[pos:], s.File)
	pos += putString16(buf[pos:], s.Function)
	pos += putString16(buf[pos:], s.Message)
	return pos
}

func putString16(buf []byte, s string) int {
	if len(s) > 65535 {
		s = s[:65535]
	}
	binary.LittleEndian.PutUint16(buf, uint16(len(s)))
	return 2 + copy(buf[2:], s)
}

// appendFileHeader writes the 8 byte stream header
func appendFileHeader(buf []byte) int {
	binary.LittleEndian.PutUint32(buf, MagicHeader)
	buf[4] = Version
	buf[5] = 0
	buf[6] = 0
	buf[7] = 0
	return fileHeaderSize
}
