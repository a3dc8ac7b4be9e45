// Package typ is the scalar type registry: it hands back a Comparator
// for a named column type. The core (pagefmt, btree, table) never
// knows about concrete Go types — it only ever compares two raw byte
// spans through the Comparator it was handed at table-open time.
package typ

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Comparator is a strict weak ordering over two raw byte spans of known
// length. The core relies on this contract for equality detection:
//
//	equal(a, b) == !Less(a, b) && !Less(b, a)
//
// A comparator that is not antisymmetric (e.g. one that treats unrelated
// values as mutually non-less-than) will make recDelete/FindLeafEntry-style
// lookups match the wrong record. Every built-in comparator below is tested
// against this contract in registry_test.go; comparators registered by an
// embedder should be tested the same way.
type Comparator interface {
	// Less reports whether a is ordered strictly before b.
	Less(a, b []byte) bool
	// FixedLen returns the byte length this type always occupies, or 0 if
	// the type is variable-length (e.g. "string").
	FixedLen() int
}

// Registry maps type names to comparators.
type Registry struct {
	types map[string]Comparator
}

// NewRegistry returns a registry pre-populated with the built-in scalar
// types: int32, int64, uuid, string, and bytes:N for any N.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]Comparator)}
	r.Register("int32", int32Type{})
	r.Register("int64", int64Type{})
	r.Register("uuid", uuidType{})
	r.Register("string", stringType{})
	return r
}

// Register adds or replaces the comparator for a type name.
func (r *Registry) Register(name string, c Comparator) {
	r.types[name] = c
}

// Lookup returns the comparator registered for name, or an error if none
// was registered. "bytes:N" names (e.g. "bytes:8") are synthesized on the
// fly as fixed-width byte-span comparators.
func (r *Registry) Lookup(name string) (Comparator, error) {
	if c, ok := r.types[name]; ok {
		return c, nil
	}
	var n int
	if _, err := fmt.Sscanf(name, "bytes:%d", &n); err == nil && n > 0 {
		return fixedBytesType{n: n}, nil
	}
	return nil, fmt.Errorf("typ: unknown type %q", name)
}

// int32Type compares big-endian signed 32-bit integers.
type int32Type struct{}

func (int32Type) FixedLen() int { return 4 }
func (int32Type) Less(a, b []byte) bool {
	return int32(binary.BigEndian.Uint32(a)) < int32(binary.BigEndian.Uint32(b))
}

// int64Type compares big-endian signed 64-bit integers.
type int64Type struct{}

func (int64Type) FixedLen() int { return 8 }
func (int64Type) Less(a, b []byte) bool {
	return int64(binary.BigEndian.Uint64(a)) < int64(binary.BigEndian.Uint64(b))
}

// uuidType compares 16-byte UUIDs lexicographically, matching how
// uuid.UUID sorts when its raw bytes (uuid.UUID.MarshalBinary, or simply
// the [16]byte array) are stored directly as the key field.
type uuidType struct{}

func (uuidType) FixedLen() int { return 16 }
func (uuidType) Less(a, b []byte) bool {
	return bytes.Compare(a[:16], b[:16]) < 0
}

// ParseUUIDKey decodes a 16-byte key field into a uuid.UUID for callers
// that want the typed value back out of a scan.
func ParseUUIDKey(raw []byte) (uuid.UUID, error) {
	var u uuid.UUID
	if len(raw) != 16 {
		return u, fmt.Errorf("typ: uuid key must be 16 bytes, got %d", len(raw))
	}
	copy(u[:], raw)
	return u, nil
}

// stringType compares raw bytes lexicographically; variable length.
type stringType struct{}

func (stringType) FixedLen() int { return 0 }
func (stringType) Less(a, b []byte) bool {
	return bytes.Compare(a, b) < 0
}

// fixedBytesType compares raw byte spans of a fixed declared width.
type fixedBytesType struct{ n int }

func (f fixedBytesType) FixedLen() int { return f.n }
func (f fixedBytesType) Less(a, b []byte) bool {
	return bytes.Compare(a, b) < 0
}

// Equal reports whether a and b compare equal under c: neither is
// ordered strictly before the other.
func Equal(c Comparator, a, b []byte) bool {
	return !c.Less(a, b) && !c.Less(b, a)
}
