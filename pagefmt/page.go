// Package pagefmt implements the slotted page: a fixed 4096-byte frame
// with a common header, a record heap growing forward from the header,
// and a slot directory growing backward from the page tail. It is
// parameterized by page kind (meta, data, index) the way the original
// source duplicates allocate/clear/rewrite/recDelete across Block,
// DataBlock, IndexBlock and MetaBlock — here factored into one module
// shared by every page kind.
package pagefmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/Junix-honor/B-Tree/record"
	"github.com/Junix-honor/B-Tree/typ"
)

// Size is the fixed page frame length.
const Size = 4096

// NoID is the "-1 = none" sentinel used for nextid / child pointers.
const NoID uint32 = 0xFFFFFFFF

// Kind is the page's space id, distinguishing meta/data/index pages.
type Kind uint32

const (
	KindMeta  Kind = 0xFFFFFFFF
	KindData  Kind = 1
	KindIndex Kind = 2
)

// NodeType distinguishes an index page that points at further index
// pages from one whose children are data pages.
type NodeType byte

const (
	NodeTypeInternal    NodeType = 1
	NodeTypePointToLeaf NodeType = 2
)

// Common header layout, shared by every page kind.
const (
	offMagic      = 0
	offSpaceID    = 4
	offBlockID    = 8
	offNextID     = 12
	offFreeSpace  = 16
	offUsedSpace  = 18
	offChecksum   = 20
	commonHdrSize = 24
)

// Data/index pages extend the common header with a slot count; index
// pages further append a one-byte node type.
const (
	offSlotsNum  = commonHdrSize      // 24, data and index pages only
	offNodeType  = commonHdrSize + 2  // 26, index pages only
	dataHdrSize  = commonHdrSize + 2  // 26
	indexHdrSize = commonHdrSize + 3  // 27
	metaHdrSize  = commonHdrSize      // 24
	slotEntryLen = 2
)

// Magic is the 4-byte sentinel identifying a page produced by this
// engine, shared across page kinds (spaceid already distinguishes kind).
var Magic = [4]byte{'B', 'T', 'D', 'P'}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Errors surfaced by page operations, grouped by category: missing
// data, on-disk corruption, no-room-even-after-compaction, and
// structural assertion failures.
var (
	ErrNotFound  = errors.New("pagefmt: not found")
	ErrCorrupt   = errors.New("pagefmt: corrupt page")
	ErrCapacity  = errors.New("pagefmt: record does not fit in an empty page")
	ErrInvariant = errors.New("pagefmt: invariant violation")
)

// Page is a view over a caller-owned Size-byte frame. New and Wrap never
// allocate the frame: callers (datafile, btree, table) allocate a fresh
// frame for each page they read or build and hand it to Page. Only
// Rewrite allocates, for its temporary scratch frame.
type Page struct {
	buf  []byte
	kind Kind
}

// Wrap returns a Page view over an existing Size-byte frame, inferring
// its kind from the stored spaceid field (used when loading a page read
// from disk).
func Wrap(buf []byte) (*Page, error) {
	if len(buf) != Size {
		return nil, fmt.Errorf("pagefmt: frame must be %d bytes, got %d", Size, len(buf))
	}
	p := &Page{buf: buf, kind: Kind(binary.BigEndian.Uint32(buf[offSpaceID:]))}
	if err := p.VerifyChecksum(); err != nil {
		return nil, err
	}
	if [4]byte(buf[offMagic:offMagic+4]) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, buf[offMagic:offMagic+4])
	}
	switch p.kind {
	case KindMeta, KindData, KindIndex:
	default:
		return nil, fmt.Errorf("%w: unknown spaceid %d", ErrCorrupt, p.kind)
	}
	return p, nil
}

// New wraps buf as a fresh page of the given kind and clears it. buf
// must be exactly Size bytes and is owned by the caller for its lifetime.
func New(buf []byte, kind Kind, blockid uint32) (*Page, error) {
	if len(buf) != Size {
		return nil, fmt.Errorf("pagefmt: frame must be %d bytes, got %d", Size, len(buf))
	}
	p := &Page{buf: buf, kind: kind}
	p.Clear(blockid)
	return p, nil
}

func (p *Page) headerSize() int {
	switch p.kind {
	case KindData:
		return dataHdrSize
	case KindIndex:
		return indexHdrSize
	default:
		return metaHdrSize
	}
}

// InitialFreeSpace is the usable payload area: page size minus header.
func (p *Page) InitialFreeSpace() int { return Size - p.headerSize() }

// Bytes returns the raw frame, for handing to fsfile.Write.
func (p *Page) Bytes() []byte { return p.buf }

func (p *Page) Kind() Kind { return p.kind }

func (p *Page) BlockID() uint32 { return binary.BigEndian.Uint32(p.buf[offBlockID:]) }

func (p *Page) NextID() uint32 { return binary.BigEndian.Uint32(p.buf[offNextID:]) }

func (p *Page) SetNextID(id uint32) { binary.BigEndian.PutUint32(p.buf[offNextID:], id) }

func (p *Page) FreeSpace() uint16 { return binary.BigEndian.Uint16(p.buf[offFreeSpace:]) }

func (p *Page) setFreeSpace(v int) { binary.BigEndian.PutUint16(p.buf[offFreeSpace:], uint16(v)) }

func (p *Page) UsedSpace() uint16 { return binary.BigEndian.Uint16(p.buf[offUsedSpace:]) }

func (p *Page) setUsedSpace(v int) { binary.BigEndian.PutUint16(p.buf[offUsedSpace:], uint16(v)) }

// SlotsNum is the number of live slots (only meaningful for data/index
// pages; meta pages carry none).
func (p *Page) SlotsNum() int {
	if p.kind != KindData && p.kind != KindIndex {
		return 0
	}
	return int(binary.BigEndian.Uint16(p.buf[offSlotsNum:]))
}

func (p *Page) setSlotsNum(n int) {
	binary.BigEndian.PutUint16(p.buf[offSlotsNum:], uint16(n))
}

// NodeType is meaningful for index pages only.
func (p *Page) NodeType() NodeType {
	if p.kind != KindIndex {
		return 0
	}
	return NodeType(p.buf[offNodeType])
}

func (p *Page) SetNodeType(nt NodeType) {
	if p.kind != KindIndex {
		return
	}
	p.buf[offNodeType] = byte(nt)
}

// Clear zeroes the frame and reinitializes header fields: magic, spaceid,
// blockid, freespace, usedspace, slotsNum, and nextid to the "none"
// sentinel. Checksum is left pending — the caller finalizes it once all
// mutations for the current operation are done.
func (p *Page) Clear(blockid uint32) {
	for i := range p.buf {
		p.buf[i] = 0
	}
	copy(p.buf[offMagic:], Magic[:])
	binary.BigEndian.PutUint32(p.buf[offSpaceID:], uint32(p.kind))
	binary.BigEndian.PutUint32(p.buf[offBlockID:], blockid)
	p.SetNextID(NoID)
	p.setFreeSpace(p.headerSize())
	p.setUsedSpace(0)
	if p.kind == KindData || p.kind == KindIndex {
		p.setSlotsNum(0)
	}
}

func (p *Page) slotOffsetLoc(i int) int { return Size - slotEntryLen*(i+1) }

func (p *Page) slotDirStart() int { return Size - slotEntryLen*p.SlotsNum() }

func (p *Page) slotRecordOffset(i int) int {
	return int(binary.BigEndian.Uint16(p.buf[p.slotOffsetLoc(i):]))
}

func (p *Page) setSlotRecordOffset(i, recOff int) {
	binary.BigEndian.PutUint16(p.buf[p.slotOffsetLoc(i):], uint16(recOff))
}

// freeLength is the number of bytes between the current freespace
// watermark and the start of the slot directory.
func (p *Page) freeLength() int {
	return p.slotDirStart() - int(p.FreeSpace())
}

// Slot returns the raw record bytes stored at logical slot i (0-based,
// in directory order, which is also key order per invariant I4).
func (p *Page) Slot(i int) ([]byte, error) {
	if i < 0 || i >= p.SlotsNum() {
		return nil, fmt.Errorf("%w: slot index %d out of range [0,%d)", ErrNotFound, i, p.SlotsNum())
	}
	recOff := p.slotRecordOffset(i)
	raw, err := record.Length(p.buf[recOff:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return p.buf[recOff : recOff+raw], nil
}

// Allocate appends (header, fields) as a new record and slot. It returns
// the new slot's index and ok=true on success; ok=false means the record
// does not currently fit. An in-place compaction (Rewrite) is tried first
// only when the page's total free space could hold the record.
// The caller is responsible for calling SortSlots afterward to restore
// key order (I4) and SetChecksum before the page is written.
func (p *Page) Allocate(header byte, fields [][]byte) (slotIndex int, ok bool, err error) {
	aligned, _ := record.Size(fields)
	if p.freeLength() < slotEntryLen {
		return -1, false, nil
	}
	if aligned > p.freeLength()-slotEntryLen {
		if aligned < p.InitialFreeSpace()-int(p.UsedSpace())-slotEntryLen {
			if err := p.Rewrite(); err != nil {
				return -1, false, err
			}
			if aligned > p.freeLength()-slotEntryLen {
				return -1, false, nil
			}
		} else {
			return -1, false, nil
		}
	}
	off := int(p.FreeSpace())
	if _, err := record.Set(p.buf[off:off+aligned], header, fields); err != nil {
		return -1, false, fmt.Errorf("pagefmt: allocate: %w", err)
	}
	idx := p.SlotsNum()
	p.setSlotRecordOffset(idx, off)
	p.setFreeSpace(off + aligned)
	p.setUsedSpace(int(p.UsedSpace()) + aligned + slotEntryLen)
	p.setSlotsNum(idx + 1)
	return idx, true, nil
}

// RecDelete scans slots in directory order and removes the first whose
// keyColumn field compares equal (per typ.Equal) to key. It returns the
// removed slot's former index (0 is significant: the caller must check
// whether the page's minimum key changed) or -1 if nothing matched. The
// vacated record bytes are not reclaimed in place; Rewrite reclaims them.
func (p *Page) RecDelete(keyColumn int, key []byte, cmp typ.Comparator) (int, error) {
	n := p.SlotsNum()
	for i := 0; i < n; i++ {
		rec, err := p.Slot(i)
		if err != nil {
			return -1, err
		}
		kfield, err := record.SpecialRef(rec, keyColumn)
		if err != nil {
			return -1, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if !typ.Equal(cmp, kfield, key) {
			continue
		}
		raw, err := record.Length(rec)
		if err != nil {
			return -1, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		aligned := record.Align(raw)
		p.setUsedSpace(int(p.UsedSpace()) - aligned - slotEntryLen)
		for j := i; j < n-1; j++ {
			p.setSlotRecordOffset(j, p.slotRecordOffset(j+1))
		}
		p.setSlotsNum(n - 1)
		return i, nil
	}
	return -1, nil
}

// SortSlots reorders the slot directory (not the record bytes
// themselves) into ascending order by keyColumn under cmp, restoring
// invariant I4 after an Allocate appended a new slot at the tail.
func (p *Page) SortSlots(keyColumn int, cmp typ.Comparator) error {
	n := p.SlotsNum()
	offs := make([]int, n)
	for i := 0; i < n; i++ {
		offs[i] = p.slotRecordOffset(i)
	}
	keys := make([][]byte, n)
	for i, off := range offs {
		raw, err := record.Length(p.buf[off:])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		kf, err := record.SpecialRef(p.buf[off:off+raw], keyColumn)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		keys[i] = kf
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return cmp.Less(keys[idx[a]], keys[idx[b]])
	})
	for i, j := range idx {
		p.setSlotRecordOffset(i, offs[j])
	}
	return nil
}

// Rewrite compacts the page in place: it re-allocates every live record,
// in current slot order, into a scratch frame and copies that frame
// back, reclaiming the space left by deleted records. Post-condition:
// identical logical content, contiguous free space atop the heap.
func (p *Page) Rewrite() error {
	scratchBuf := make([]byte, Size)
	scratch := &Page{buf: scratchBuf, kind: p.kind}
	scratch.Clear(p.BlockID())
	scratch.SetNextID(p.NextID())
	if p.kind == KindIndex {
		scratch.SetNodeType(p.NodeType())
	}
	n := p.SlotsNum()
	for i := 0; i < n; i++ {
		rec, err := p.Slot(i)
		if err != nil {
			return err
		}
		header, fields, err := record.Ref(rec)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		fcopy := make([][]byte, len(fields))
		for j, f := range fields {
			b := make([]byte, len(f))
			copy(b, f)
			fcopy[j] = b
		}
		if _, ok, err := scratch.Allocate(header, fcopy); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: rewrite could not re-allocate slot %d", ErrInvariant, i)
		}
	}
	copy(p.buf, scratch.buf)
	return nil
}

// SetChecksum finalizes the page's checksum. Every public operation that
// writes a page must call this before the write.
func (p *Page) SetChecksum() {
	binary.BigEndian.PutUint32(p.buf[offChecksum:], p.computeChecksum())
}

// VerifyChecksum reports ErrCorrupt if the stored checksum does not
// match the page contents.
func (p *Page) VerifyChecksum() error {
	stored := binary.BigEndian.Uint32(p.buf[offChecksum:])
	if stored != p.computeChecksum() {
		return fmt.Errorf("%w: checksum mismatch on block %d", ErrCorrupt, p.BlockID())
	}
	return nil
}

func (p *Page) computeChecksum() uint32 {
	h := crc32.New(crcTable)
	h.Write(p.buf[:offChecksum])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(p.buf[offChecksum+4:])
	return h.Sum32()
}
