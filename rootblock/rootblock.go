// Package rootblock implements the 256-byte file prologue: a magic, a
// file kind (data or index), a creation timestamp, the head
// page id, the total page count, and a checksum.
// Every data file and every index file begins with one of these; pages
// are stored contiguously starting at file offset Size.
package rootblock

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Size is the fixed byte length of the root block. Pages begin at this
// file offset.
const Size = 256

// Kind distinguishes a data file's root block from an index file's.
type Kind uint32

const (
	KindData  Kind = 1
	KindIndex Kind = 2
)

// Magic is the 4-byte sentinel identifying a file produced by this engine.
var Magic = [4]byte{'B', 'T', 'D', 'B'}

const (
	offMagic     = 0
	offKind      = 4
	offTimestamp = 8
	offHead      = 16
	offCnt       = 20
	offChecksum  = 24
)

// crcTable matches the one used for page checksums (pagefmt), so both
// layers share the same integrity convention.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Block is the parsed content of a root block.
type Block struct {
	Kind      Kind
	Timestamp uint64 // unix nanoseconds, set once at creation (see DESIGN.md)
	Head      uint32 // root/first page id
	Cnt       uint32 // total page count, doubles as the next blockid counter
}

// New creates a fresh root block for a newly created file. head/cnt are
// set to the caller's initial values (typically head=1, cnt=1 once the
// first page has been allocated).
func New(kind Kind, timestampUnixNano uint64, head, cnt uint32) *Block {
	return &Block{Kind: kind, Timestamp: timestampUnixNano, Head: head, Cnt: cnt}
}

// Marshal serializes b into a Size-byte buffer with checksum finalized.
func Marshal(b *Block) []byte {
	buf := make([]byte, Size)
	copy(buf[offMagic:], Magic[:])
	binary.BigEndian.PutUint32(buf[offKind:], uint32(b.Kind))
	binary.BigEndian.PutUint64(buf[offTimestamp:], b.Timestamp)
	binary.BigEndian.PutUint32(buf[offHead:], b.Head)
	binary.BigEndian.PutUint32(buf[offCnt:], b.Cnt)
	setChecksum(buf)
	return buf
}

// Unmarshal parses and validates a Size-byte root block buffer.
func Unmarshal(buf []byte) (*Block, error) {
	if len(buf) < Size {
		return nil, fmt.Errorf("rootblock: buffer too small: %d bytes", len(buf))
	}
	if err := verifyChecksum(buf); err != nil {
		return nil, err
	}
	if [4]byte(buf[offMagic:offMagic+4]) != Magic {
		return nil, fmt.Errorf("rootblock: bad magic %q", buf[offMagic:offMagic+4])
	}
	kind := Kind(binary.BigEndian.Uint32(buf[offKind:]))
	if kind != KindData && kind != KindIndex {
		return nil, fmt.Errorf("rootblock: unknown kind %d", kind)
	}
	return &Block{
		Kind:      kind,
		Timestamp: binary.BigEndian.Uint64(buf[offTimestamp:]),
		Head:      binary.BigEndian.Uint32(buf[offHead:]),
		Cnt:       binary.BigEndian.Uint32(buf[offCnt:]),
	}, nil
}

func computeChecksum(buf []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(buf[:offChecksum])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[offChecksum+4:])
	return h.Sum32()
}

func setChecksum(buf []byte) {
	binary.BigEndian.PutUint32(buf[offChecksum:], computeChecksum(buf))
}

func verifyChecksum(buf []byte) error {
	stored := binary.BigEndian.Uint32(buf[offChecksum:])
	computed := computeChecksum(buf)
	if stored != computed {
		return fmt.Errorf("rootblock: checksum mismatch: stored=%08x computed=%08x", stored, computed)
	}
	return nil
}
