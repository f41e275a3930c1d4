package nanolog

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func makeStagedRecord(siteID uint32, ts uint64, payload []byte) []byte {
	buf := make([]byte, stagedHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf, siteID)
	binary.LittleEndian.PutUint64(buf[4:], ts)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(payload)))
	copy(buf[stagedHeaderSize:], payload)
	return buf
}

func testSites(n int) []StaticLogInfo {
	sites := make([]StaticLogInfo, n)
	for i := range sites {
		sites[i] = StaticLogInfo{
			ID:      uint32(i),
			Level:   LevelInfo,
			File:    "encoder_test.go",
			Line:    10 + i,
			Message: "test message",
			Schema:  []FieldType{FieldTypeInt},
		}
	}
	return sites
}

// decodeStream wraps a raw encoder output with a file header and decodes
// everything back
func decodeStream(t *testing.T, encoded []byte) ([]DecodedRecord, []StaticLogInfo) {
	t.Helper()
	stream := make([]byte, fileHeaderSize)
	appendFileHeader(stream)
	stream = append(stream, encoded...)

	dec, err := NewDecoder(stream)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	var recs []DecodedRecord
	for {
		rec, err := dec.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if rec == nil {
			return recs, dec.Sites()
		}
		recs = append(recs, *rec)
	}
}

func TestEncoderRoundTrip(t *testing.T) {
	sites := testSites(2)
	out := make([]byte, 4096)
	enc := NewWireEncoder(out, LZ4Codec{})

	if n := enc.EncodeNewDictionaryEntries(sites, 0); n != 2 {
		t.Fatalf("persisted %d dictionary entries, want 2", n)
	}

	var src []byte
	for i := 0; i < 10; i++ {
		src = append(src, makeStagedRecord(uint32(i%2), uint64(i), []byte("payload payload payload"))...)
	}

	read, msgs := enc.EncodeLogMsgs(src, 3, true, sites)
	if read != len(src) {
		t.Fatalf("consumed %d of %d bytes", read, len(src))
	}
	if msgs != 10 {
		t.Fatalf("encoded %d messages, want 10", msgs)
	}

	recs, gotSites := decodeStream(t, out[:enc.EncodedBytes()])
	if len(gotSites) != 2 {
		t.Fatalf("decoded %d sites, want 2", len(gotSites))
	}
	if gotSites[1].Message != "test message" || gotSites[1].Line != 11 {
		t.Fatalf("site mismatch: %+v", gotSites[1])
	}
	if len(recs) != 10 {
		t.Fatalf("decoded %d records, want 10", len(recs))
	}
	if !recs[0].NewPass {
		t.Fatal("first record lost the pass marker")
	}
	if recs[1].NewPass {
		t.Fatal("pass marker leaked past the first record")
	}
	for i, rec := range recs {
		if rec.BufferID != 3 || rec.Timestamp != uint64(i) {
			t.Fatalf("record %d decoded as %+v", i, rec)
		}
		if !bytes.Equal(rec.Payload, []byte("payload payload payload")) {
			t.Fatalf("record %d payload mismatch", i)
		}
		if rec.Site == nil || rec.Site.ID != uint32(i%2) {
			t.Fatalf("record %d lost its site", i)
		}
	}
}

func TestEncoderOutputFull(t *testing.T) {
	sites := testSites(1)
	enc := NewWireEncoder(make([]byte, 16), NoopCodec{})

	src := makeStagedRecord(0, 1, make([]byte, 100))
	if read, _ := enc.EncodeLogMsgs(src, 0, false, sites); read != 0 {
		t.Fatalf("full output consumed %d bytes", read)
	}
}

func TestEncoderPartialBatch(t *testing.T) {
	sites := testSites(1)
	rec := makeStagedRecord(0, 1, make([]byte, 20))

	// Room for one record but not two
	out := make([]byte, extentHeaderSize+len(rec)+10)
	enc := NewWireEncoder(out, NoopCodec{})

	src := append(append([]byte{}, rec...), rec...)
	read, msgs := enc.EncodeLogMsgs(src, 0, false, sites)
	if read != len(rec) || msgs != 1 {
		t.Fatalf("consumed %d bytes %d msgs, want one record", read, msgs)
	}
}

func TestEncoderStopsAtUnknownSite(t *testing.T) {
	sites := testSites(1)
	enc := NewWireEncoder(make([]byte, 4096), NoopCodec{})

	known := makeStagedRecord(0, 1, nil)
	unknown := makeStagedRecord(7, 2, nil)

	src := append(append([]byte{}, known...), unknown...)
	read, msgs := enc.EncodeLogMsgs(src, 0, false, sites)
	if read != len(known) || msgs != 1 {
		t.Fatalf("consumed %d bytes %d msgs across an unknown site", read, msgs)
	}

	// The unpersisted site alone reads as a full output
	if read, _ := enc.EncodeLogMsgs(unknown, 0, false, sites); read != 0 {
		t.Fatalf("record with unknown site consumed %d bytes", read)
	}
}

func TestEncoderDictionaryPartialFit(t *testing.T) {
	sites := testSites(8)
	need := dictionaryEntrySize(&sites[0])

	enc := NewWireEncoder(make([]byte, need+need/2), NoopCodec{})
	if n := enc.EncodeNewDictionaryEntries(sites, 0); n != 1 {
		t.Fatalf("persisted %d entries into space for one", n)
	}

	// The rest lands after a swap to a fresh buffer
	enc.SwapBuffer(make([]byte, 4096))
	if n := enc.EncodeNewDictionaryEntries(sites, 1); n != 7 {
		t.Fatalf("persisted %d entries after swap, want 7", n)
	}
}

func TestEncoderSwapBuffer(t *testing.T) {
	sites := testSites(1)
	first := make([]byte, 4096)
	enc := NewWireEncoder(first, NoopCodec{})

	src := makeStagedRecord(0, 1, []byte("x"))
	enc.EncodeLogMsgs(src, 0, false, sites)
	if enc.EncodedBytes() == 0 {
		t.Fatal("nothing encoded")
	}

	enc.SwapBuffer(make([]byte, 4096))
	if enc.EncodedBytes() != 0 {
		t.Fatal("swap did not reset the byte count")
	}
}

func TestDecoderSkipsZeroPadding(t *testing.T) {
	sites := testSites(1)
	out := make([]byte, 4096)
	enc := NewWireEncoder(out, NoopCodec{})
	enc.EncodeNewDictionaryEntries(sites, 0)
	enc.EncodeLogMsgs(makeStagedRecord(0, 9, []byte("pad me")), 1, false, sites)

	// Direct I/O pads each write with zero bytes
	encoded := append([]byte{}, out[:enc.EncodedBytes()]...)
	encoded = append(encoded, make([]byte, 512)...)

	recs, _ := decodeStream(t, encoded)
	if len(recs) != 1 || !bytes.Equal(recs[0].Payload, []byte("pad me")) {
		t.Fatalf("decode through padding failed: %+v", recs)
	}
}
