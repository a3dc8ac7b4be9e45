// Package btree implements the B+ tree index file: internal pages of
// (key -> right-child) slots plus a distinguished left-pointer field,
// with a leaf level of NODE_TYPE_POINT_TO_LEAF pages pointing into the
// data file.
package btree

import (
	"fmt"

	"github.com/Junix-honor/B-Tree/fsfile"
	"github.com/Junix-honor/B-Tree/pagefmt"
	"github.com/Junix-honor/B-Tree/rootblock"
)

// IndexFile is an open index file: its root block (head = tree root
// page id, cnt = total index pages ever allocated) plus the underlying
// random-access handle.
type IndexFile struct {
	f    *fsfile.File
	root *rootblock.Block
}

func offsetForBlock(blockid uint32) int64 {
	return int64(rootblock.Size) + int64(blockid-1)*int64(pagefmt.Size)
}

// initialIndexFile creates a fresh index file whose sole page is a
// POINT_TO_LEAF root pointing at the data file's first page (always
// block 1, since Table always creates the data and index files
// together — see table.Create).
func initialIndexFile(path string, nowUnixNano uint64) (*IndexFile, error) {
	f, err := fsfile.Create(path)
	if err != nil {
		return nil, err
	}
	idx := &IndexFile{f: f, root: rootblock.New(rootblock.KindIndex, nowUnixNano, 1, 1)}
	if err := idx.persistRoot(); err != nil {
		f.Close()
		return nil, err
	}
	first, err := pagefmt.New(make([]byte, pagefmt.Size), pagefmt.KindIndex, 1)
	if err != nil {
		f.Close()
		return nil, err
	}
	first.SetNextID(1)
	first.SetNodeType(pagefmt.NodeTypePointToLeaf)
	first.SetChecksum()
	if err := idx.WritePage(first); err != nil {
		f.Close()
		return nil, err
	}
	return idx, nil
}

// openIndexFile loads an existing index file's root block.
func openIndexFile(path string) (*IndexFile, error) {
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
	if root.Kind != rootblock.KindIndex {
		f.Close()
		return nil, fmt.Errorf("btree: %s is not an index file (kind=%d)", path, root.Kind)
	}
	return &IndexFile{f: f, root: root}, nil
}

// Close closes the underlying file handle.
func (idx *IndexFile) Close() error { return idx.f.Close() }

// Root is the current tree root page id.
func (idx *IndexFile) Root() uint32 { return idx.root.Head }

// Cnt is the total number of index pages ever allocated.
func (idx *IndexFile) Cnt() uint32 { return idx.root.Cnt }

func (idx *IndexFile) persistRoot() error {
	buf := rootblock.Marshal(idx.root)
	_, err := idx.f.Write(0, buf, len(buf))
	return err
}

// SetRoot updates and persists the tree root page id, for when a split
// bubbles all the way up and a new root must be installed.
func (idx *IndexFile) SetRoot(blockid uint32) error {
	idx.root.Head = blockid
	return idx.persistRoot()
}

// ReadPage loads the index page at blockid fresh from disk.
func (idx *IndexFile) ReadPage(blockid uint32) (*pagefmt.Page, error) {
	buf := make([]byte, pagefmt.Size)
	if _, err := idx.f.Read(offsetForBlock(blockid), buf, len(buf)); err != nil {
		return nil, err
	}
	return pagefmt.Wrap(buf)
}

// WritePage writes p to its own blockid's slot. The caller must have
// called p.SetChecksum() first.
func (idx *IndexFile) WritePage(p *pagefmt.Page) error {
	buf := p.Bytes()
	_, err := idx.f.Write(offsetForBlock(p.BlockID()), buf, len(buf))
	return err
}

// AllocatePage reserves a new page id (bumping and persisting Cnt) and
// builds a fresh, empty index page for it.
func (idx *IndexFile) AllocatePage() (*pagefmt.Page, error) {
	id := idx.root.Cnt + 1
	idx.root.Cnt = id
	if err := idx.persistRoot(); err != nil {
		return nil, err
	}
	return pagefmt.New(make([]byte, pagefmt.Size), pagefmt.KindIndex, id)
}

// ReusePage builds a fresh, empty index page reusing an existing block
// id — used when a split rewrites the original page's contents in
// place, keeping the split node's original id for one of the two halves.
func (idx *IndexFile) ReusePage(blockid uint32) (*pagefmt.Page, error) {
	return pagefmt.New(make([]byte, pagefmt.Size), pagefmt.KindIndex, blockid)
}
