package nanolog

import (
	"encoding/binary"
	"math"
)

// FieldType represents the type of a field
type FieldType uint8

const (
	FieldTypeInt FieldType = iota
	FieldTypeUint
	FieldTypeFloat64
	FieldTypeString
	FieldTypeBool
	FieldTypeBytes
)

// Field represents a typed field without allocations
type Field struct {
	Key  string
	Type FieldType
	// Union-like storage - only one is used based on Type
	num   uint64
	str   string
	bytes []byte
}

// Int creates an int field
//
//go:inline
func Int(key string, val int) Field {
	return Field{Key: key, Type: FieldTypeInt, num: uint64(val)}
}

// Int64 creates an int64 field
//
//go:inline
func Int64(key string, val int64) Field {
	return Field{Key: key, Type: FieldTypeInt, num: uint64(val)}
}

// Uint creates a uint field
//
//go:inline
func Uint(key string, val uint) Field {
	return Field{Key: key, Type: FieldTypeUint, num: uint64(val)}
}

// Uint64 creates a uint64 field
//
//go:inline
func Uint64(key string, val uint64) Field {
	return Field{Key: key, Type: FieldTypeUint, num: val}
}

// Float64 creates a float64 field
//
//go:inline
func Float64(key string, val float64) Field {
	return Field{Key: key, Type: FieldTypeFloat64, num: math.Float64bits(val)}
}

// String creates a string field
//
//go:inline
func String(key, val string) Field {
	return Field{Key: key, Type: FieldTypeString, str: val}
}

// Bool creates a bool field
//
//go:inline
func Bool(key string, val bool) Field {
	f := Field{Key: key, Type: FieldTypeBool}
	if val {
		f.num = 1
	}
	return f
}

// Bytes creates a byte slice field. The bytes are copied into the
// staging buffer at log time.
//
//go:inline
func Bytes(key string, val []byte) Field {
	return Field{Key: key, Type: FieldTypeBytes, bytes: val}
}

// encodedSize returns the staged size of the field
func (f Field) encodedSize() int {
	// type byte, key length byte, key (truncated to 255 bytes)
	keyLen := len(f.Key)
	if keyLen > 255 {
		keyLen = 255
	}
	n := 2 + keyLen
	switch f.Type {
	case FieldTypeString:
		n += 2 + len(f.str)
	case FieldTypeBytes:
		n += 4 + len(f.bytes)
	case FieldTypeBool:
		n++
	default:
		n += 8
	}
	return n
}

// appendTo writes the field into buf and returns the bytes written.
// buf must hold at least encodedSize bytes. Keys longer than 255 bytes
// are truncated.
func (f Field) appendTo(buf []byte) int {
	keyLen := len(f.Key)
	if keyLen > 255 {
		keyLen = 255
	}

	buf[0] = byte(f.Type)
	buf[1] = byte(keyLen)
	pos := 2 + copy(buf[2:], f.Key[:keyLen])

	switch f.Type {
	case FieldTypeString:
		binary.LittleEndian.PutUint16(buf[pos:], uint16(len(f.str)))
		pos += 2
		pos += copy(buf[pos:], f.str)
	case FieldTypeBytes:
		binary.LittleEndian.PutUint32(buf[pos:], uint32(len(f.bytes)))
		pos += 4
		pos += copy(buf[pos:], f.bytes)
	case FieldTypeBool:
		buf[pos] = byte(f.num)
		pos++
	default:
		binary.LittleEndian.PutUint64(buf[pos:], f.num)
		pos += 8
	}
	return pos
}

// DecodedField is one field parsed back out of a record payload
type DecodedField struct {
	Key   string
	Type  FieldType
	Num   uint64
	Str   string
	Bytes []byte
}

// decodeFields parses a record payload. Returns nil when the payload
// is malformed.
func decodeFields(payload []byte) []DecodedField {
	var fields []DecodedField
	pos := 0
	for pos < len(payload) {
		if len(payload)-pos < 2 {
			return nil
		}
		f := DecodedField{Type: FieldType(payload[pos])}
		keyLen := int(payload[pos+1])
		pos += 2
		if len(payload)-pos < keyLen {
			return nil
		}
		f.Key = string(payload[pos : pos+keyLen])
		pos += keyLen

		switch f.Type {
		case FieldTypeString:
			if len(payload)-pos < 2 {
				return nil
			}
			n := int(binary.LittleEndian.Uint16(payload[pos:]))
			pos += 2
			if len(payload)-pos < n {
				return nil
			}
			f.Str = string(payload[pos : pos+n])
			pos += n
		case FieldTypeBytes:
			if len(payload)-pos < 4 {
				return nil
			}
			n := int(binary.LittleEndian.Uint32(payload[pos:]))
			pos += 4
			if len(payload)-pos < n {
				return nil
			}
			f.Bytes = append([]byte(nil), payload[pos:pos+n]...)
			pos += n
		case FieldTypeBool:
			if len(payload)-pos < 1 {
				return nil
			}
			f.Num = uint64(payload[pos])
			pos++
		default:
			if len(payload)-pos < 8 {
				return nil
			}
			f.Num = binary.LittleEndian.Uint64(payload[pos:])
			pos += 8
		}
		fields = append(fields, f)
	}
	return fields
}
