package nanolog

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Decoding errors
var (
	ErrBadMagic  = errors.New("nanolog: bad magic header")
	ErrBadChunk  = errors.New("nanolog: malformed chunk")
	ErrTruncated = errors.New("nanolog: truncated stream")
)

// DecodedRecord is one log record read back out of a file
type DecodedRecord struct {
	BufferID  uint32
	SiteID    uint32
	Timestamp uint64
	NewPass   bool
	Payload   []byte
	Site      *StaticLogInfo
}

// Fields parses the typed field payload
func (r *DecodedRecord) Fields() []DecodedField {
	return decodeFields(r.Payload)
}

// Decoder reads a compressed log stream produced by the runtime. It is
// not safe for concurrent use.
type Decoder struct {
	src   []byte
	pos   int
	sites []StaticLogInfo

	// Records decoded from the current extent, drained by Next
	queue []DecodedRecord
}

// NewDecoder wraps a complete log stream. The stream must start with the
// file header.
func NewDecoder(src []byte) (*Decoder, error) {
	if len(src) < fileHeaderSize {
		return nil, ErrTruncated
	}
	if binary.LittleEndian.Uint32(src) != MagicHeader {
		return nil, ErrBadMagic
	}
	if src[4] != Version {
		return nil, fmt.Errorf("nanolog: unsupported version %d", src[4])
	}
	return &Decoder{src: src, pos: fileHeaderSize}, nil
}

// Sites returns the dictionary entries seen so far
func (d *Decoder) Sites() []StaticLogInfo { return d.sites }

// Next returns the next record, or nil at end of stream. Dictionary
// chunks are consumed transparently; an entry with an already known id
// replaces it, which happens when the output file is reopened and the
// dictionary starts over.
func (d *Decoder) Next() (*DecodedRecord, error) {
	for {
		if len(d.queue) > 0 {
			rec := d.queue[0]
			d.queue = d.queue[1:]
			if int(rec.SiteID) < len(d.sites) {
				rec.Site = &d.sites[rec.SiteID]
			}
			return &rec, nil
		}

		if d.pos >= len(d.src) {
			return nil, nil
		}

		// Zero padding from direct I/O alignment is skipped
		if d.src[d.pos] == 0 {
			d.pos++
			continue
		}

		switch d.src[d.pos] {
		case chunkDictionary:
			if err := d.readDictionaryEntry(); err != nil {
				return nil, err
			}
		case chunkExtent:
			if err := d.readExtent(); err != nil {
				return nil, err
			}
		default:
			return nil, ErrBadChunk
		}
	}
}

func (d *Decoder) readDictionaryEntry() error {
	src := d.src[d.pos:]
	if len(src) < 11 {
		return ErrTruncated
	}
	site := StaticLogInfo{
		ID:    binary.LittleEndian.Uint32(src[1:]),
		Level: Level(src[5]),
		Line:  int(binary.LittleEndian.Uint32(src[6:])),
	}
	schemaLen := int(src[10])
	pos := 11
	if len(src) < pos+schemaLen {
		return ErrTruncated
	}
	for i := 0; i < schemaLen; i++ {
		site.Schema = append(site.Schema, FieldType(src[pos+i]))
	}
	pos += schemaLen

	var err error
	if site.File, pos, err = getString16(src, pos); err != nil {
		return err
	}
	if site.Function, pos, err = getString16(src, pos); err != nil {
		return err
	}
	if site.Message, pos, err = getString16(src, pos); err != nil {
		return err
	}
	d.pos += pos

	// A reopened file restarts ids at zero, replace in place
	if int(site.ID) < len(d.sites) {
		d.sites[site.ID] = site
	} else if int(site.ID) == len(d.sites) {
		d.sites = append(d.sites, site)
	} else {
		return ErrBadChunk
	}
	return nil
}

func (d *Decoder) readExtent() error {
	src := d.src[d.pos:]
	if len(src) < extentHeaderSize {
		return ErrTruncated
	}
	bufferID := binary.LittleEndian.Uint32(src[1:])
	flags := src[5]
	codecID := CodecID(src[6])
	rawLen := int(binary.LittleEndian.Uint32(src[7:]))
	compLen := int(binary.LittleEndian.Uint32(src[11:]))

	if len(src) < extentHeaderSize+compLen {
		return ErrTruncated
	}
	payload := src[extentHeaderSize : extentHeaderSize+compLen]

	codec, ok := codecByID(codecID)
	if !ok {
		return ErrBadChunk
	}
	raw := make([]byte, rawLen)
	if n, err := codec.Decompress(raw, payload); err != nil {
		return err
	} else if n != rawLen {
		return ErrBadChunk
	}

	newPass := flags&extentFlagNewPass != 0
	pos := 0
	for pos < rawLen {
		if rawLen-pos < stagedHeaderSize {
			return ErrBadChunk
		}
		rec := DecodedRecord{
			BufferID:  bufferID,
			SiteID:    binary.LittleEndian.Uint32(raw[pos:]),
			Timestamp: binary.LittleEndian.Uint64(raw[pos+4:]),
			NewPass:   newPass,
		}
		newPass = false
		payloadLen := int(binary.LittleEndian.Uint32(raw[pos+12:]))
		pos += stagedHeaderSize
		if rawLen-pos < payloadLen {
			return ErrBadChunk
		}
		rec.Payload = raw[pos : pos+payloadLen]
		pos += payloadLen
		d.queue = append(d.queue, rec)
	}

	d.pos += extentHeaderSize + compLen
	return nil
}

func getString16(src []byte, pos int) (string, int, error) {
	if len(src) < pos+2 {
		return "", 0, ErrTruncated
	}
	n := int(binary.LittleEndian.Uint16(src[pos:]))
	pos += 2
	if len(src) < pos+n {
		return "", 0, ErrTruncated
	}
	return string(src[pos : pos+n]), pos + n, nil
}
