// Package indexspan implements the ordered index iterator collaborator
// the core treats as a "sorted multimap with a stable key/location
// iterator" (spec.md §1): the B-tree key layout proper is out of scope,
// so this package only needs to preserve value order byte-for-byte and
// hand back a stable Location for each key, the same minimal contract
// the teacher's key encoders (key_encoder_l85.go, key_mask_iterator.go)
// provide over Badger.
package indexspan

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/wbrown/querycore/core/query"
)

// typeTag orders distinct value kinds relative to one another: nil
// sorts lowest, then bool, then numeric, then string. This mirrors
// Document.Get's dynamic typing while keeping byte-comparable order.
type typeTag byte

const (
	tagNil typeTag = iota
	tagBool
	tagNumber
	tagString
)

// encodeValue produces a self-delimiting, order-preserving byte
// encoding of v, such that bytes.Compare(encodeValue(a), encodeValue(b))
// agrees with query.CompareValues(a, b) whenever a and b are of the same
// kind (bool, numeric across int/int64/float64, or string) or one of
// them is nil. Across other kinds the encoding orders by typeTag, while
// CompareValues compares the values' %v strings, so the two can differ
// (true vs 5, or 5 vs "0"). The encoding also ensures that
// concatenating several fields' encodings back to back preserves a
// component-wise comparison (each field's encoding has either a fixed
// width or a terminator byte that sorts below every content byte).
func encodeValue(v query.Value) []byte {
	switch val := v.(type) {
	case nil:
		return []byte{byte(tagNil)}
	case bool:
		b := byte(0)
		if val {
			b = 1
		}
		return []byte{byte(tagBool), b}
	case int:
		return encodeNumber(float64(val))
	case int64:
		return encodeNumber(float64(val))
	case float64:
		return encodeNumber(val)
	case string:
		out := make([]byte, 0, len(val)+2)
		out = append(out, byte(tagString))
		out = append(out, []byte(val)...)
		out = append(out, 0) // terminator: strings never contain NUL
		return out
	default:
		return []byte{byte(tagString), 0}
	}
}

// encodeNumber flips bits so that IEEE-754 float64 bit patterns sort in
// the same order as the numbers they represent: for non-negative
// numbers, flip the sign bit; for negative numbers, flip every bit.
func encodeNumber(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	out := make([]byte, 9)
	out[0] = byte(tagNumber)
	binary.BigEndian.PutUint64(out[1:], bits)
	return out
}

// fieldLen returns the length in bytes of the single field encoding
// that begins at encoded[0:], so callers can walk a multi-field key
// one field at a time without a separate length table.
func fieldLen(encoded []byte) int {
	if len(encoded) == 0 {
		return 0
	}
	switch typeTag(encoded[0]) {
	case tagNil:
		return 1
	case tagBool:
		return 2
	case tagNumber:
		return 9
	default: // tagString
		if i := bytes.IndexByte(encoded[1:], 0); i >= 0 {
			return i + 2
		}
		return len(encoded)
	}
}

// EncodeKey encodes an IndexKey's values into a single ordered byte
// string by concatenating each field's self-delimiting encoding in
// index order. Direction is honored at the iteration level (Store.Scan
// reverses the underlying Badger iterator), not by per-field bit
// flipping, since the core only needs a stable ordered multimap, not a
// real B-tree key layout (spec.md §1).
func EncodeKey(key query.IndexKey) []byte {
	var out []byte
	for i := range key.Spec.Fields {
		var v query.Value
		if i < len(key.Values) {
			v = key.Values[i]
		}
		out = append(out, encodeValue(v)...)
	}
	return out
}

// EncodeLeadingValue encodes a single value the same way EncodeKey
// encodes a field, for callers (core/plan's $min/$max clipping) that
// need to build a bound from a bare query.Value rather than a full
// IndexKey.
func EncodeLeadingValue(v query.Value) []byte {
	return encodeValue(v)
}

// leadingField extracts just the first field's encoded bytes from a
// full multi-field encoded key.
func leadingField(encoded []byte) []byte {
	n := fieldLen(encoded)
	if n > len(encoded) {
		n = len(encoded)
	}
	return encoded[:n]
}

// decodeValue is the exact inverse of encodeValue over a single field's
// encoding (exactly fieldLen(encoded) bytes, no more). It reports false
// if encoded doesn't hold a recognized, complete field encoding, so
// callers can fall back rather than trust a partially-decoded value.
func decodeValue(encoded []byte) (query.Value, bool) {
	if len(encoded) == 0 {
		return nil, false
	}
	switch typeTag(encoded[0]) {
	case tagNil:
		if len(encoded) != 1 {
			return nil, false
		}
		return nil, true
	case tagBool:
		if len(encoded) != 2 {
			return nil, false
		}
		return encoded[1] != 0, true
	case tagNumber:
		if len(encoded) != 9 {
			return nil, false
		}
		bits := binary.BigEndian.Uint64(encoded[1:9])
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), true
	case tagString:
		if len(encoded) < 2 || encoded[len(encoded)-1] != 0 {
			return nil, false
		}
		return string(encoded[1 : len(encoded)-1]), true
	default:
		return nil, false
	}
}

// DecodeKey is the exact inverse of EncodeKey: given the bytes EncodeKey
// produced for an IndexKey over spec, it recovers the original values
// field by field, using fieldLen to find each field's boundary. It
// reports false if encoded doesn't hold exactly len(spec.Fields) fields
// or any field fails to decode, so a covering scan can fall back to a
// document fetch instead of matching against a wrong or partial key.
func DecodeKey(spec query.IndexSpec, encoded []byte) (query.IndexKey, bool) {
	values := make([]query.Value, len(spec.Fields))
	rest := encoded
	for i := range spec.Fields {
		n := fieldLen(rest)
		if n == 0 || n > len(rest) {
			return query.IndexKey{}, false
		}
		v, ok := decodeValue(rest[:n])
		if !ok {
			return query.IndexKey{}, false
		}
		values[i] = v
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return query.IndexKey{}, false
	}
	return query.IndexKey{Spec: spec, Values: values}, true
}
