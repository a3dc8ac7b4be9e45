// Package datafile implements the leaf chain: a singly linked list of
// data pages, each holding records sorted by key, whose head is stored
// in the file's root block. A DataFile owns no buffer pool — every
// ReadPage is a fresh read into a caller-visible frame; there is no
// shared page cache.
package datafile

import (
	"fmt"

	"github.com/Junix-honor/B-Tree/fsfile"
	"github.com/Junix-honor/B-Tree/pagefmt"
	"github.com/Junix-honor/B-Tree/rootblock"
)

// DataFile is an open data file: its root block plus the underlying
// random-access handle.
type DataFile struct {
	f    *fsfile.File
	root *rootblock.Block
}

func offsetForBlock(blockid uint32) int64 {
	return int64(rootblock.Size) + int64(blockid-1)*int64(pagefmt.Size)
}

// Initial loads an existing data file, or creates one with an empty
// first page if path does not yet exist — a load-or-create contract.
func Initial(path string, nowUnixNano uint64) (*DataFile, error) {
	if fsfile.Exists(path) {
		return Open(path)
	}
	return create(path, nowUnixNano)
}

func create(path string, nowUnixNano uint64) (*DataFile, error) {
	f, err := fsfile.Create(path)
	if err != nil {
		return nil, err
	}
	df := &DataFile{f: f, root: rootblock.New(rootblock.KindData, nowUnixNano, 1, 1)}
	if err := df.persistRoot(); err != nil {
		f.Close()
		return nil, err
	}
	first, err := pagefmt.New(make([]byte, pagefmt.Size), pagefmt.KindData, 1)
	if err != nil {
		f.Close()
		return nil, err
	}
	first.SetChecksum()
	if err := df.WritePage(first); err != nil {
		f.Close()
		return nil, err
	}
	return df, nil
}

// Open loads an existing data file's root block.
func Open(path string) (*DataFile, error) {
	f, err := fsfile.Open(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, rootblock.Size)
	if _, err := f.Read(0, buf, len(buf)); err != nil {
		f.Close()
		return nil, err
	}
	root, err := rootblock.Unmarshal(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	if root.Kind != rootblock.KindData {
		f.Close()
		return nil, fmt.Errorf("datafile: %s is not a data file (kind=%d)", path, root.Kind)
	}
	return &DataFile{f: f, root: root}, nil
}

// Close closes the underlying file handle.
func (d *DataFile) Close() error { return d.f.Close() }

// Head returns the first data page's block id.
func (d *DataFile) Head() uint32 { return d.root.Head }

// Cnt returns the total number of pages ever allocated in this file.
func (d *DataFile) Cnt() uint32 { return d.root.Cnt }

// SetHead updates and persists the chain's head pointer.
func (d *DataFile) SetHead(blockid uint32) error {
	d.root.Head = blockid
	return d.persistRoot()
}

func (d *DataFile) persistRoot() error {
	buf := rootblock.Marshal(d.root)
	_, err := d.f.Write(0, buf, len(buf))
	return err
}

// ReadPage loads the page at blockid fresh from disk.
func (d *DataFile) ReadPage(blockid uint32) (*pagefmt.Page, error) {
	buf := make([]byte, pagefmt.Size)
	if _, err := d.f.Read(offsetForBlock(blockid), buf, len(buf)); err != nil {
		return nil, err
	}
	return pagefmt.Wrap(buf)
}

// WritePage writes p to its own blockid's slot. The caller must have
// called p.SetChecksum() first.
func (d *DataFile) WritePage(p *pagefmt.Page) error {
	buf := p.Bytes()
	_, err := d.f.Write(offsetForBlock(p.BlockID()), buf, len(buf))
	return err
}

// AllocatePage reserves a new page id (bumping and persisting Cnt),
// builds a fresh data page for it, and returns it unwritten — the
// caller writes it once populated.
func (d *DataFile) AllocatePage() (*pagefmt.Page, error) {
	id := d.root.Cnt + 1
	d.root.Cnt = id
	if err := d.persistRoot(); err != nil {
		return nil, err
	}
	return pagefmt.New(make([]byte, pagefmt.Size), pagefmt.KindData, id)
}

// BlockIter walks the chain of data pages via nextid, starting at head
// and ending at pagefmt.NoID.
type BlockIter struct {
	df      *DataFile
	blockid uint32
}

// BlockBegin returns an iterator positioned at the chain's first page.
func (d *DataFile) BlockBegin() *BlockIter { return &BlockIter{df: d, blockid: d.Head()} }

// BlockEnd returns the sentinel "one past the chain" iterator value.
func (d *DataFile) BlockEnd() *BlockIter { return &BlockIter{df: d, blockid: pagefmt.NoID} }

// BlockID returns the iterator's current page id.
func (it *BlockIter) BlockID() uint32 { return it.blockid }

// Equal reports whether it and other refer to the same page id.
func (it *BlockIter) Equal(other *BlockIter) bool { return it.blockid == other.blockid }

// Page loads the page the iterator currently points at.
func (it *BlockIter) Page() (*pagefmt.Page, error) { return it.df.ReadPage(it.blockid) }

// Next advances the iterator to the successor page in the chain.
func (it *BlockIter) Next() error {
	p, err := it.Page()
	if err != nil {
		return err
	}
	it.blockid = p.NextID()
	return nil
}

// RecordIter walks the live slots of a single page in order.
type RecordIter struct {
	page *pagefmt.Page
	slot int
}

// Begin returns an iterator positioned at a page's first slot.
func Begin(p *pagefmt.Page) *RecordIter { return &RecordIter{page: p, slot: 0} }

// End returns the "one past the last slot" sentinel for p.
func End(p *pagefmt.Page) *RecordIter { return &RecordIter{page: p, slot: p.SlotsNum()} }

// Equal reports whether both iterators reference the same slot.
func (r *RecordIter) Equal(other *RecordIter) bool { return r.slot == other.slot }

// Next advances to the following slot.
func (r *RecordIter) Next() { r.slot++ }

// Slot returns the iterator's current slot index.
func (r *RecordIter) Slot() int { return r.slot }

// Record returns the raw record bytes at the iterator's current slot.
func (r *RecordIter) Record() ([]byte, error) { return r.page.Slot(r.slot) }
