// Package record implements the self-describing variable-length row
// format stored inside a slotted page: a header byte, a field count, and
// a sequence of inline length-prefixed fields. A record never outlives
// the page frame it was set into or referenced from (see
// pagefmt.Page.Allocate/Slot) — Ref/SpecialRef hand back spans borrowed
// directly from that frame.
package record

import (
	"encoding/binary"
	"fmt"
)

// AlignSize is the on-disk rounding unit for record sizes, matching the
// page's slot-offset accounting (pagefmt adds every allocated record's
// aligned length, as reported by Size or Align, never its raw length, to
// usedspace).
const AlignSize = 4

const (
	offHeader     = 0
	offFieldCount = 1
	fixedPrefix   = 2 // header byte + field-count byte
	lenPrefix     = 2 // per-field uint16 length prefix
)

// align rounds n up to the next multiple of AlignSize.
func align(n int) int {
	r := n % AlignSize
	if r == 0 {
		return n
	}
	return n + (AlignSize - r)
}

// Align is the exported form of align, used by pagefmt to recompute an
// existing record's aligned on-disk footprint from its raw length alone
// (recDelete never re-derives the original field list, only the bytes).
func Align(n int) int { return align(n) }

// Size computes the raw (unaligned) and aligned on-disk byte length a
// record made of fields would occupy, without writing anything.
func Size(fields [][]byte) (alignedBytes, rawBytes int) {
	raw := fixedPrefix
	for _, f := range fields {
		raw += lenPrefix + len(f)
	}
	return align(raw), raw
}

// Set encodes header and fields into buf, which must be at least as long
// as the aligned size Size reports. It returns the number of aligned
// bytes written (the trailing pad, if any, is zeroed). Set never mutates
// the field slices; it only reads them.
func Set(buf []byte, header byte, fields [][]byte) (int, error) {
	if len(fields) > 0xFF {
		return 0, fmt.Errorf("record: too many fields: %d", len(fields))
	}
	aligned, raw := Size(fields)
	if len(buf) < aligned {
		return 0, fmt.Errorf("record: buffer too small: need %d, have %d", aligned, len(buf))
	}
	buf[offHeader] = header
	buf[offFieldCount] = byte(len(fields))
	off := fixedPrefix
	for _, f := range fields {
		if len(f) > 0xFFFF {
			return 0, fmt.Errorf("record: field too long: %d bytes", len(f))
		}
		binary.BigEndian.PutUint16(buf[off:], uint16(len(f)))
		off += lenPrefix
		copy(buf[off:], f)
		off += len(f)
	}
	for i := raw; i < aligned; i++ {
		buf[i] = 0
	}
	return aligned, nil
}

// Ref parses a record previously written by Set, returning its header
// byte and a slice of borrowed field spans (views into buf, not copies).
func Ref(buf []byte) (header byte, fields [][]byte, err error) {
	n, err := Fields(buf)
	if err != nil {
		return 0, nil, err
	}
	header = buf[offHeader]
	fields = make([][]byte, 0, n)
	off := fixedPrefix
	for i := 0; i < n; i++ {
		if off+lenPrefix > len(buf) {
			return 0, nil, fmt.Errorf("record: truncated field %d header", i)
		}
		flen := int(binary.BigEndian.Uint16(buf[off:]))
		off += lenPrefix
		if off+flen > len(buf) {
			return 0, nil, fmt.Errorf("record: truncated field %d body", i)
		}
		fields = append(fields, buf[off:off+flen])
		off += flen
	}
	return header, fields, nil
}

// SpecialRef returns field i's borrowed span without decoding the fields
// before or after it that the caller does not need — it still performs
// an O(n) walk of the length prefixes since field boundaries are not
// individually indexed, matching the record format's documented O(n)
// field-access contract.
func SpecialRef(buf []byte, i int) ([]byte, error) {
	n, err := Fields(buf)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("record: field index %d out of range [0,%d)", i, n)
	}
	off := fixedPrefix
	for j := 0; j < n; j++ {
		if off+lenPrefix > len(buf) {
			return nil, fmt.Errorf("record: truncated field %d header", j)
		}
		flen := int(binary.BigEndian.Uint16(buf[off:]))
		off += lenPrefix
		if off+flen > len(buf) {
			return nil, fmt.Errorf("record: truncated field %d body", j)
		}
		if j == i {
			return buf[off : off+flen], nil
		}
		off += flen
	}
	return nil, fmt.Errorf("record: field index %d out of range [0,%d)", i, n)
}

// Fields returns the number of fields encoded in buf.
func Fields(buf []byte) (int, error) {
	if len(buf) < fixedPrefix {
		return 0, fmt.Errorf("record: buffer too small for header")
	}
	return int(buf[offFieldCount]), nil
}

// Length returns the raw (unaligned) byte length of the record encoded
// in buf, by walking its field length prefixes.
func Length(buf []byte) (int, error) {
	n, err := Fields(buf)
	if err != nil {
		return 0, err
	}
	off := fixedPrefix
	for i := 0; i < n; i++ {
		if off+lenPrefix > len(buf) {
			return 0, fmt.Errorf("record: truncated field %d header", i)
		}
		flen := int(binary.BigEndian.Uint16(buf[off:]))
		off += lenPrefix + flen
		if off > len(buf) {
			return 0, fmt.Errorf("record: truncated field %d body", i)
		}
	}
	return off, nil
}

// Header returns the header byte of the record encoded in buf.
func Header(buf []byte) (byte, error) {
	if len(buf) < fixedPrefix {
		return 0, fmt.Errorf("record: buffer too small for header")
	}
	return buf[offHeader], nil
}
