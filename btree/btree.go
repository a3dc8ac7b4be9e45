package btree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Junix-honor/B-Tree/fsfile"
	"github.com/Junix-honor/B-Tree/pagefmt"
	"github.com/Junix-honor/B-Tree/record"
	"github.com/Junix-honor/B-Tree/typ"
)

// ErrNotFound is returned when a delete targets a key absent from the
// tree.
var ErrNotFound = errors.New("btree: key not found")

// keyColumn is the index record's field 0 (the key); field 1 is always
// the 4-byte big-endian right-child pointer. Index records never carry
// any other payload, unlike data records.
const keyColumn = 0

// BTree is an open index file plus the comparator for its key column.
type BTree struct {
	idx *IndexFile
	cmp typ.Comparator
}

// Initial loads an existing index file, or creates one (pointing its
// sole leaf-root at data block 1) if path does not yet exist.
func Initial(path string, cmp typ.Comparator, nowUnixNano uint64) (*BTree, error) {
	var idx *IndexFile
	var err error
	if fileExists(path) {
		idx, err = openIndexFile(path)
	} else {
		idx, err = initialIndexFile(path, nowUnixNano)
	}
	if err != nil {
		return nil, err
	}
	return &BTree{idx: idx, cmp: cmp}, nil
}

func fileExists(path string) bool { return fsfile.Exists(path) }

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func ptrOf(rec []byte) (uint32, error) {
	pf, err := record.SpecialRef(rec, 1)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(pf), nil
}

func keyOf(rec []byte) ([]byte, error) {
	return record.SpecialRef(rec, keyColumn)
}

// RecordPointer extracts the right-child pointer field from a raw index
// record, for callers outside this package (table's leaf-level
// sibling/merge logic mirrors the index-level algorithms above).
func RecordPointer(rec []byte) (uint32, error) { return ptrOf(rec) }

// IndexPage loads an index page by id, for callers outside this package
// that need to inspect a parent's slots directly (table's leaf-level
// getBrother/separator lookups).
func (t *BTree) IndexPage(blockid uint32) (*pagefmt.Page, error) {
	return t.idx.ReadPage(blockid)
}

// Close closes the underlying index file.
func (t *BTree) Close() error { return t.idx.Close() }

// Root is the tree's current root page id.
func (t *BTree) Root() uint32 { return t.idx.Root() }

// Cnt is the number of index pages ever allocated.
func (t *BTree) Cnt() uint32 { return t.idx.Cnt() }

// Search descends from the root to the leaf that contains (or would
// contain, on insert) key: among sibling subtrees the chosen one is the
// last whose separator key is strictly less than the search key
// (right-biased routing).
func (t *BTree) Search(key []byte) (dataBlockID uint32, path PathStack, err error) {
	blockid := t.idx.Root()
	path = PathStack{}
	for {
		path.Push(blockid)
		page, err := t.idx.ReadPage(blockid)
		if err != nil {
			return 0, nil, err
		}
		pointer := page.NextID()
		n := page.SlotsNum()
		for i := 0; i < n; i++ {
			rec, err := page.Slot(i)
			if err != nil {
				return 0, nil, err
			}
			k, err := keyOf(rec)
			if err != nil {
				return 0, nil, err
			}
			if !t.cmp.Less(k, key) {
				break
			}
			pointer, err = ptrOf(rec)
			if err != nil {
				return 0, nil, err
			}
		}
		if page.NodeType() == pagefmt.NodeTypePointToLeaf {
			// path's top is this POINT_TO_LEAF page itself: the leaf
			// parent Insert/Remove will mutate directly.
			return pointer, path, nil
		}
		blockid = pointer
	}
}

// Insert bubbles a new separator key and right sibling up into the
// parent recorded in path, splitting index pages as needed.
func (t *BTree) Insert(field []byte, rightid uint32, path PathStack) error {
	insertid, ok := path.Pop()
	if !ok {
		return fmt.Errorf("btree: insert called with empty path")
	}
	page, err := t.idx.ReadPage(insertid)
	if err != nil {
		return err
	}
	if _, ok, err := page.Allocate(0, [][]byte{field, be32(rightid)}); err != nil {
		return err
	} else if ok {
		if err := page.SortSlots(keyColumn, t.cmp); err != nil {
			return err
		}
		page.SetChecksum()
		return t.idx.WritePage(page)
	}
	return t.splitAndInsert(page, insertid, field, rightid, path)
}

func (t *BTree) splitAndInsert(page *pagefmt.Page, insertid uint32, field []byte, rightid uint32, path PathStack) error {
	n := page.SlotsNum()
	halfRec, err := page.Slot(n/2 - 1)
	if err != nil {
		return err
	}
	halfField, err := keyOf(halfRec)
	if err != nil {
		return err
	}
	halfPlusRec, err := page.Slot(n / 2)
	if err != nil {
		return err
	}
	halfPlusField, err := keyOf(halfPlusRec)
	if err != nil {
		return err
	}

	block1, err := t.idx.ReusePage(insertid)
	if err != nil {
		return err
	}
	block1.SetNextID(page.NextID())
	block1.SetNodeType(page.NodeType())

	block2, err := t.idx.AllocatePage()
	if err != nil {
		return err
	}
	block2.SetNodeType(page.NodeType())

	var promoted []byte
	caseA := t.cmp.Less(field, halfPlusField) && t.cmp.Less(halfField, field)
	if caseA {
		for i := 0; i < n/2; i++ {
			if err := copySlot(page, block1, i); err != nil {
				return err
			}
		}
		for i := n / 2; i < n; i++ {
			if err := copySlot(page, block2, i); err != nil {
				return err
			}
		}
		block2.SetNextID(rightid)
		promoted = cloneBytes(field)
	} else {
		pos := n / 2
		if t.cmp.Less(field, halfField) {
			pos = n/2 - 1
		}
		for i := 0; i < pos; i++ {
			if err := copySlot(page, block1, i); err != nil {
				return err
			}
		}
		for i := pos + 1; i < n; i++ {
			if err := copySlot(page, block2, i); err != nil {
				return err
			}
		}
		posRec, err := page.Slot(pos)
		if err != nil {
			return err
		}
		posPtr, err := ptrOf(posRec)
		if err != nil {
			return err
		}
		posKey, err := keyOf(posRec)
		if err != nil {
			return err
		}
		block2.SetNextID(posPtr)
		promoted = cloneBytes(posKey)

		target := block1
		if pos != n/2-1 {
			target = block2
		}
		if _, ok, err := target.Allocate(0, [][]byte{field, be32(rightid)}); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: split insert did not fit in either half", pagefmt.ErrInvariant)
		}
		if err := target.SortSlots(keyColumn, t.cmp); err != nil {
			return err
		}
	}

	block1.SetChecksum()
	block2.SetChecksum()
	if err := t.idx.WritePage(block1); err != nil {
		return err
	}
	if err := t.idx.WritePage(block2); err != nil {
		return err
	}

	if path.Empty() {
		newRoot, err := t.idx.AllocatePage()
		if err != nil {
			return err
		}
		newRoot.SetNextID(insertid)
		newRoot.SetNodeType(pagefmt.NodeTypeInternal)
		if _, ok, err := newRoot.Allocate(0, [][]byte{promoted, be32(block2.BlockID())}); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: could not allocate new root entry", pagefmt.ErrInvariant)
		}
		newRoot.SetChecksum()
		if err := t.idx.WritePage(newRoot); err != nil {
			return err
		}
		return t.idx.SetRoot(newRoot.BlockID())
	}
	return t.Insert(promoted, block2.BlockID(), path)
}

func copySlot(from, to *pagefmt.Page, i int) error {
	rec, err := from.Slot(i)
	if err != nil {
		return err
	}
	header, fields, err := record.Ref(rec)
	if err != nil {
		return err
	}
	fcopy := make([][]byte, len(fields))
	for j, f := range fields {
		fcopy[j] = cloneBytes(f)
	}
	if _, ok, err := to.Allocate(header, fcopy); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: split target page overflowed", pagefmt.ErrInvariant)
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// Updata replaces the (oldField, *) slot in blockid with (newField,
// pointer) — logically an update expressed as delete-then-allocate.
func (t *BTree) Updata(blockid uint32, oldField, newField []byte, pointer uint32) error {
	page, err := t.idx.ReadPage(blockid)
	if err != nil {
		return err
	}
	idxDeleted, err := page.RecDelete(keyColumn, oldField, t.cmp)
	if err != nil {
		return err
	}
	if idxDeleted == -1 {
		return nil
	}
	if _, ok, err := page.Allocate(0, [][]byte{newField, be32(pointer)}); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: updata could not reinsert updated entry", pagefmt.ErrInvariant)
	}
	if err := page.SortSlots(keyColumn, t.cmp); err != nil {
		return err
	}
	page.SetChecksum()
	return t.idx.WritePage(page)
}

// getBrother finds the sibling of blockid under fatherid: the right
// neighbor, unless blockid is the father's last child (then the left
// neighbor). brotherid is pagefmt.NoID if blockid is an only child.
func (t *BTree) getBrother(fatherid, blockid uint32) (brotherid uint32, isRight bool, err error) {
	father, err := t.idx.ReadPage(fatherid)
	if err != nil {
		return 0, false, err
	}
	n := father.SlotsNum()
	broIndex := -1
	if father.NextID() == blockid && n > 0 {
		broIndex = 0
		isRight = true
	} else {
		for i := 0; i < n; i++ {
			rec, err := father.Slot(i)
			if err != nil {
				return 0, false, err
			}
			p, err := ptrOf(rec)
			if err != nil {
				return 0, false, err
			}
			if p == blockid {
				if i == n-1 {
					broIndex = i - 1
					isRight = false
				} else {
					broIndex = i + 1
					isRight = true
				}
				break
			}
		}
	}
	if broIndex == -1 {
		return pagefmt.NoID, false, nil
	}
	rec, err := father.Slot(broIndex)
	if err != nil {
		return 0, false, err
	}
	brotherid, err = ptrOf(rec)
	return brotherid, isRight, err
}

// separatorForChild returns the key of the slot in page whose pointer
// field equals childID — the separator the parent keeps for that child.
func separatorForChild(page *pagefmt.Page, childID uint32) ([]byte, error) {
	n := page.SlotsNum()
	for i := 0; i < n; i++ {
		rec, err := page.Slot(i)
		if err != nil {
			return nil, err
		}
		p, err := ptrOf(rec)
		if err != nil {
			return nil, err
		}
		if p == childID {
			return keyOf(rec)
		}
	}
	return nil, fmt.Errorf("%w: no separator for child %d in parent %d", pagefmt.ErrInvariant, childID, page.BlockID())
}

// combineIndexBlock merges right's slots into left, recovering right's
// leftmost pointer as a bridging (key, pointer) entry whose key is
// right's separator in father. It returns that separator so the caller
// can recursively remove it from father.
func (t *BTree) combineIndexBlock(leftID, rightID, fatherID uint32) ([]byte, error) {
	left, err := t.idx.ReadPage(leftID)
	if err != nil {
		return nil, err
	}
	right, err := t.idx.ReadPage(rightID)
	if err != nil {
		return nil, err
	}
	n := right.SlotsNum()
	for i := 0; i < n; i++ {
		if err := copySlot(right, left, i); err != nil {
			return nil, err
		}
	}
	father, err := t.idx.ReadPage(fatherID)
	if err != nil {
		return nil, err
	}
	sep, err := separatorForChild(father, rightID)
	if err != nil {
		return nil, err
	}
	if _, ok, err := left.Allocate(0, [][]byte{sep, be32(right.NextID())}); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: combineIndexBlock could not insert bridging entry", pagefmt.ErrInvariant)
	}
	if err := left.SortSlots(keyColumn, t.cmp); err != nil {
		return nil, err
	}
	left.SetChecksum()
	if err := t.idx.WritePage(left); err != nil {
		return nil, err
	}
	return cloneBytes(sep), nil
}

// Remove deletes the (field, *) slot located by path, rebalancing via
// parent-separator update, sibling borrow, or merge as needed.
func (t *BTree) Remove(field []byte, path PathStack) error {
	deleteid, ok := path.Pop()
	if !ok {
		return fmt.Errorf("btree: remove called with empty path")
	}
	page, err := t.idx.ReadPage(deleteid)
	if err != nil {
		return err
	}
	deleteIndex, err := page.RecDelete(keyColumn, field, t.cmp)
	if err != nil {
		return err
	}
	if deleteIndex == -1 {
		return ErrNotFound
	}
	page.SetChecksum()
	if err := t.idx.WritePage(page); err != nil {
		return err
	}
	if path.Empty() {
		return nil
	}
	fatherid, _ := path.Top()

	if int(page.UsedSpace()) >= page.InitialFreeSpace()/4 {
		if deleteIndex == 0 && page.SlotsNum() > 0 {
			slot0, err := page.Slot(0)
			if err != nil {
				return err
			}
			newMin, err := keyOf(slot0)
			if err != nil {
				return err
			}
			return t.Updata(fatherid, field, newMin, deleteid)
		}
		return nil
	}

	brotherid, isRight, err := t.getBrother(fatherid, deleteid)
	if err != nil {
		return err
	}
	if brotherid == deleteid {
		return fmt.Errorf("%w: sibling lookup returned self", pagefmt.ErrInvariant)
	}
	if brotherid == pagefmt.NoID {
		if deleteIndex == 0 && page.SlotsNum() > 0 {
			slot0, err := page.Slot(0)
			if err != nil {
				return err
			}
			newMin, err := keyOf(slot0)
			if err != nil {
				return err
			}
			return t.Updata(fatherid, field, newMin, deleteid)
		}
		return nil
	}

	brother, err := t.idx.ReadPage(brotherid)
	if err != nil {
		return err
	}
	if int(brother.UsedSpace()) > brother.InitialFreeSpace()*2/3 {
		return t.borrowFromSibling(fatherid, deleteid, brotherid, isRight)
	}

	var leftID, rightID uint32
	if isRight {
		leftID, rightID = deleteid, brotherid
	} else {
		leftID, rightID = brotherid, deleteid
	}
	delField, err := t.combineIndexBlock(leftID, rightID, fatherid)
	if err != nil {
		return err
	}
	return t.Remove(delField, path)
}

// borrowFromSibling completes, symmetrically to the Table-level leaf
// borrow, the index-level rotation the original source left as a TODO:
// one (key, pointer) entry migrates across the sibling boundary and the
// parent separator is rewritten to match.
func (t *BTree) borrowFromSibling(fatherid, deleteid, brotherid uint32, isRight bool) error {
	deletePage, err := t.idx.ReadPage(deleteid)
	if err != nil {
		return err
	}
	brother, err := t.idx.ReadPage(brotherid)
	if err != nil {
		return err
	}
	father, err := t.idx.ReadPage(fatherid)
	if err != nil {
		return err
	}

	if isRight {
		// brother is deleteid's right sibling: rotate brother's leftmost
		// pointer into deleteid, keyed by their current separator.
		sep, err := separatorForChild(father, brotherid)
		if err != nil {
			return err
		}
		promotedPtr := brother.NextID()
		if _, ok, err := deletePage.Allocate(0, [][]byte{sep, be32(promotedPtr)}); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: borrow could not insert into underfull page", pagefmt.ErrInvariant)
		}
		if err := deletePage.SortSlots(keyColumn, t.cmp); err != nil {
			return err
		}
		deletePage.SetChecksum()

		slot0, err := brother.Slot(0)
		if err != nil {
			return err
		}
		oldKey, err := keyOf(slot0)
		if err != nil {
			return err
		}
		oldPtr, err := ptrOf(slot0)
		if err != nil {
			return err
		}
		oldKey = cloneBytes(oldKey)
		if _, err := brother.RecDelete(keyColumn, oldKey, t.cmp); err != nil {
			return err
		}
		brother.SetNextID(oldPtr)
		brother.SetChecksum()

		if err := t.idx.WritePage(deletePage); err != nil {
			return err
		}
		if err := t.idx.WritePage(brother); err != nil {
			return err
		}
		// brother's subtree now starts at oldPtr, whose lower bound is
		// oldKey: that key becomes brother's separator in father.
		return t.Updata(fatherid, sep, oldKey, brotherid)
	}

	// brother is deleteid's left sibling: rotate brother's last slot
	// into deleteid, updating the parent separator *before* removing it
	// from brother (the same ordering the Table-level left-borrow uses).
	sep, err := separatorForChild(father, deleteid)
	if err != nil {
		return err
	}
	lastIdx := brother.SlotsNum() - 1
	lastRec, err := brother.Slot(lastIdx)
	if err != nil {
		return err
	}
	borrowedKey, err := keyOf(lastRec)
	if err != nil {
		return err
	}
	borrowedKey = cloneBytes(borrowedKey)
	borrowedPtr, err := ptrOf(lastRec)
	if err != nil {
		return err
	}

	if err := t.Updata(fatherid, sep, borrowedKey, deleteid); err != nil {
		return err
	}

	oldLeftPtr := deletePage.NextID()
	if _, ok, err := deletePage.Allocate(0, [][]byte{sep, be32(oldLeftPtr)}); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: borrow could not insert into underfull page", pagefmt.ErrInvariant)
	}
	if err := deletePage.SortSlots(keyColumn, t.cmp); err != nil {
		return err
	}
	deletePage.SetNextID(borrowedPtr)
	deletePage.SetChecksum()

	if _, err := brother.RecDelete(keyColumn, borrowedKey, t.cmp); err != nil {
		return err
	}
	brother.SetChecksum()

	if err := t.idx.WritePage(deletePage); err != nil {
		return err
	}
	return t.idx.WritePage(brother)
}
