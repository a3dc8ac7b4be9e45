// Package table composes a data-page chain and a B+ tree index into the
// clustered storage engine's top-level handle: Insert/Remove/Update keep
// both structures in lockstep, and the iteration API walks the leaf
// chain directly.
package table

import (
	"fmt"

	"github.com/Junix-honor/B-Tree/btree"
	"github.com/Junix-honor/B-Tree/catalog"
	"github.com/Junix-honor/B-Tree/datafile"
	"github.com/Junix-honor/B-Tree/fsfile"
	"github.com/Junix-honor/B-Tree/pagefmt"
	"github.com/Junix-honor/B-Tree/record"
)

// Table is an open relation: its clustered leaf chain, its B+ tree
// index over that chain, and the relation descriptor that names the key
// column and supplies its comparator.
type Table struct {
	info *catalog.RelationInfo
	df   *datafile.DataFile
	bt   *btree.BTree
}

// Create makes a brand-new table's data and index files and registers
// info with eng. It fails if either file already exists.
func Create(eng *catalog.Engine, info *catalog.RelationInfo, nowUnixNano uint64) (*Table, error) {
	if fsfile.Exists(info.DataPath) || fsfile.Exists(info.IndexPath) {
		return nil, fmt.Errorf("table: %q: data or index file already exists", info.Name)
	}
	if err := eng.CreateTable(info); err != nil {
		return nil, err
	}
	return Initial(info, nowUnixNano)
}

// Initial loads an existing table, or creates one from scratch: a
// load-or-create on the table's data file followed by its index.
// info.Comparator() must already be resolved (catalog.Engine.CreateTable
// does this; Engine.Open returns the descriptor it resolved).
func Initial(info *catalog.RelationInfo, nowUnixNano uint64) (*Table, error) {
	df, err := datafile.Initial(info.DataPath, nowUnixNano)
	if err != nil {
		return nil, err
	}
	cmp := info.Comparator()
	if cmp == nil {
		df.Close()
		return nil, fmt.Errorf("table: %q: relation has no resolved comparator", info.Name)
	}
	bt, err := btree.Initial(info.IndexPath, cmp, nowUnixNano)
	if err != nil {
		df.Close()
		return nil, err
	}
	return &Table{info: info, df: df, bt: bt}, nil
}

// Open loads an existing table registered with eng.
func Open(eng *catalog.Engine, name string, nowUnixNano uint64) (*Table, error) {
	info, err := eng.Open(name)
	if err != nil {
		return nil, err
	}
	return Initial(info, nowUnixNano)
}

// Close releases the table's open file handles.
func (t *Table) Close() error {
	err1 := t.df.Close()
	err2 := t.bt.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Destroy removes a table's data and index files outright, bypassing
// any engine registration.
func Destroy(dataPath, indexPath string) error {
	if err := fsfile.Remove(dataPath); err != nil {
		return err
	}
	return fsfile.Remove(indexPath)
}

func (t *Table) keyColumn() int { return t.info.KeyColumn }

func (t *Table) key(rec []byte) ([]byte, error) {
	return record.SpecialRef(rec, t.keyColumn())
}

// BlockBegin / BlockEnd expose the leaf chain's iteration range.
func (t *Table) BlockBegin() *datafile.BlockIter { return t.df.BlockBegin() }
func (t *Table) BlockEnd() *datafile.BlockIter   { return t.df.BlockEnd() }

// Begin / End expose a single leaf page's slot iteration range.
func Begin(p *pagefmt.Page) *datafile.RecordIter { return datafile.Begin(p) }
func End(p *pagefmt.Page) *datafile.RecordIter   { return datafile.End(p) }

// Insert adds a new record, splitting the target leaf and bubbling a
// new separator into the index if it doesn't fit.
func (t *Table) Insert(header byte, fields [][]byte) error {
	key, err := fields2key(fields, t.keyColumn())
	if err != nil {
		return err
	}
	leafID, path, err := t.bt.Search(key)
	if err != nil {
		return err
	}
	leaf, err := t.df.ReadPage(leafID)
	if err != nil {
		return err
	}
	if _, ok, err := leaf.Allocate(header, fields); err != nil {
		return err
	} else if ok {
		if err := leaf.SortSlots(t.keyColumn(), t.info.Comparator()); err != nil {
			return err
		}
		leaf.SetChecksum()
		return t.df.WritePage(leaf)
	}
	return t.splitDataBlock(leaf, header, fields, path)
}

func (t *Table) splitDataBlock(leaf *pagefmt.Page, header byte, fields [][]byte, path btree.PathStack) error {
	n := leaf.SlotsNum()
	half := n / 2

	l1, err := pagefmt.New(make([]byte, pagefmt.Size), pagefmt.KindData, leaf.BlockID())
	if err != nil {
		return err
	}
	l2, err := t.df.AllocatePage()
	if err != nil {
		return err
	}
	for i := 0; i < half; i++ {
		if err := copyRecord(leaf, l1, i); err != nil {
			return err
		}
	}
	for i := half; i < n; i++ {
		if err := copyRecord(leaf, l2, i); err != nil {
			return err
		}
	}
	l1.SetNextID(l2.BlockID())
	l2.SetNextID(leaf.NextID())

	firstOfL2, err := l2.Slot(0)
	if err != nil {
		return err
	}
	separator, err := t.key(firstOfL2)
	if err != nil {
		return err
	}
	separator = cloneBytes(separator)

	key, err := fields2key(fields, t.keyColumn())
	if err != nil {
		return err
	}
	target := l1
	if !t.info.Comparator().Less(key, separator) {
		target = l2
	}
	if _, ok, err := target.Allocate(header, fields); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: record does not fit in an empty data page", pagefmt.ErrCapacity)
	}
	if err := target.SortSlots(t.keyColumn(), t.info.Comparator()); err != nil {
		return err
	}

	l1.SetChecksum()
	l2.SetChecksum()
	if err := t.df.WritePage(l1); err != nil {
		return err
	}
	if err := t.df.WritePage(l2); err != nil {
		return err
	}

	return t.bt.Insert(separator, l2.BlockID(), path)
}

// Remove deletes the record whose key column equals key, rebalancing
// the leaf chain via parent-separator update, sibling borrow, or merge
// as needed.
func (t *Table) Remove(key []byte) error {
	leafID, path, err := t.bt.Search(key)
	if err != nil {
		return err
	}
	leaf, err := t.df.ReadPage(leafID)
	if err != nil {
		return err
	}
	deletedIndex, err := leaf.RecDelete(t.keyColumn(), key, t.info.Comparator())
	if err != nil {
		return err
	}
	if deletedIndex == -1 {
		return btree.ErrNotFound
	}
	leaf.SetChecksum()
	if err := t.df.WritePage(leaf); err != nil {
		return err
	}
	if path.Empty() {
		return nil
	}
	fatherid, _ := path.Top()

	if int(leaf.UsedSpace()) >= leaf.InitialFreeSpace()/3 {
		if deletedIndex == 0 && leaf.SlotsNum() > 0 {
			return t.updateParentSeparator(fatherid, key, leaf, leafID)
		}
		return nil
	}

	brotherid, isRight, err := t.getLeafBrother(fatherid, leafID)
	if err != nil {
		return err
	}
	if brotherid == pagefmt.NoID {
		if deletedIndex == 0 && leaf.SlotsNum() > 0 {
			return t.updateParentSeparator(fatherid, key, leaf, leafID)
		}
		return nil
	}
	brother, err := t.df.ReadPage(brotherid)
	if err != nil {
		return err
	}
	if int(brother.UsedSpace()) > brother.InitialFreeSpace()*2/3 {
		return t.borrowFromLeafSibling(fatherid, leaf, brother, isRight)
	}
	return t.combineDataBlock(leaf, brother, fatherid, isRight, path)
}

func (t *Table) updateParentSeparator(fatherid uint32, oldKey []byte, leaf *pagefmt.Page, leafID uint32) error {
	slot0, err := leaf.Slot(0)
	if err != nil {
		return err
	}
	newMin, err := t.key(slot0)
	if err != nil {
		return err
	}
	return t.bt.Updata(fatherid, oldKey, newMin, leafID)
}

// getLeafBrother mirrors btree.getBrother at the leaf level: the right
// neighbor is preferred, unless the leaf is its parent's last child.
func (t *Table) getLeafBrother(fatherid, blockid uint32) (brotherid uint32, isRight bool, err error) {
	father, err := t.bt.IndexPage(fatherid)
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
			p, err := btree.RecordPointer(rec)
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
	brotherid, err = btree.RecordPointer(rec)
	return brotherid, isRight, err
}

func (t *Table) borrowFromLeafSibling(fatherid uint32, leaf, brother *pagefmt.Page, isRight bool) error {
	if isRight {
		slot0, err := brother.Slot(0)
		if err != nil {
			return err
		}
		header, fields, err := record.Ref(slot0)
		if err != nil {
			return err
		}
		if _, ok, err := leaf.Allocate(header, cloneFields(fields)); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: borrow could not insert into underfull leaf", pagefmt.ErrInvariant)
		}
		if err := leaf.SortSlots(t.keyColumn(), t.info.Comparator()); err != nil {
			return err
		}
		leaf.SetChecksum()

		borrowedKey, err := t.key(slot0)
		if err != nil {
			return err
		}
		borrowedKey = cloneBytes(borrowedKey)
		if _, err := brother.RecDelete(t.keyColumn(), borrowedKey, t.info.Comparator()); err != nil {
			return err
		}
		brother.SetChecksum()

		if err := t.df.WritePage(leaf); err != nil {
			return err
		}
		if err := t.df.WritePage(brother); err != nil {
			return err
		}
		if brother.SlotsNum() == 0 {
			return nil
		}
		ns0, err := brother.Slot(0)
		if err != nil {
			return err
		}
		newMin, err := t.key(ns0)
		if err != nil {
			return err
		}
		brotherSep, err := separatorForChild(t.bt, fatherid, brother.BlockID())
		if err != nil {
			return err
		}
		return t.bt.Updata(fatherid, cloneBytes(brotherSep), newMin, brother.BlockID())
	}

	// Left sibling: take the last slot; the parent separator for leaf
	// must be updated to the borrowed key *before* it is removed from
	// brother.
	lastIdx := brother.SlotsNum() - 1
	lastRec, err := brother.Slot(lastIdx)
	if err != nil {
		return err
	}
	borrowedKey, err := t.key(lastRec)
	if err != nil {
		return err
	}
	borrowedKey = cloneBytes(borrowedKey)
	header, fields, err := record.Ref(lastRec)
	if err != nil {
		return err
	}
	fcopy := cloneFields(fields)

	leafSep, err := separatorForChild(t.bt, fatherid, leaf.BlockID())
	if err != nil {
		return err
	}
	leafSep = cloneBytes(leafSep)
	if err := t.bt.Updata(fatherid, leafSep, borrowedKey, leaf.BlockID()); err != nil {
		return err
	}

	if _, ok, err := leaf.Allocate(header, fcopy); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: borrow could not insert into underfull leaf", pagefmt.ErrInvariant)
	}
	if err := leaf.SortSlots(t.keyColumn(), t.info.Comparator()); err != nil {
		return err
	}
	leaf.SetChecksum()

	if _, err := brother.RecDelete(t.keyColumn(), borrowedKey, t.info.Comparator()); err != nil {
		return err
	}
	brother.SetChecksum()

	if err := t.df.WritePage(leaf); err != nil {
		return err
	}
	return t.df.WritePage(brother)
}

func (t *Table) combineDataBlock(leaf, brother *pagefmt.Page, fatherid uint32, isRight bool, path btree.PathStack) error {
	var left, right *pagefmt.Page
	if isRight {
		left, right = leaf, brother
	} else {
		left, right = brother, leaf
	}

	n := right.SlotsNum()
	for i := 0; i < n; i++ {
		if err := copyRecord(right, left, i); err != nil {
			return err
		}
	}
	if err := left.SortSlots(t.keyColumn(), t.info.Comparator()); err != nil {
		return err
	}

	if isRight {
		left.SetNextID(right.NextID())
	} else {
		if err := t.relinkPredecessor(right.BlockID(), left.BlockID()); err != nil {
			return err
		}
		left.SetNextID(right.NextID())
	}

	separator, err := separatorForChild(t.bt, fatherid, right.BlockID())
	if err != nil {
		return err
	}
	separator = cloneBytes(separator)

	left.SetChecksum()
	if err := t.df.WritePage(left); err != nil {
		return err
	}

	return t.bt.Remove(separator, path)
}

// relinkPredecessor scans the leaf chain for the page whose nextid
// currently points at oldTarget and repoints it at newTarget — used
// when a left-sibling merge removes a page that is not its survivor's
// immediate predecessor in block-id terms.
func (t *Table) relinkPredecessor(oldTarget, newTarget uint32) error {
	it := t.df.BlockBegin()
	end := t.df.BlockEnd()
	for !it.Equal(end) {
		page, err := it.Page()
		if err != nil {
			return err
		}
		if page.NextID() == oldTarget {
			page.SetNextID(newTarget)
			page.SetChecksum()
			return t.df.WritePage(page)
		}
		if err := it.Next(); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: no predecessor of block %d found in leaf chain", pagefmt.ErrInvariant, oldTarget)
}

func separatorForChild(bt *btree.BTree, fatherid, childID uint32) ([]byte, error) {
	father, err := bt.IndexPage(fatherid)
	if err != nil {
		return nil, err
	}
	n := father.SlotsNum()
	for i := 0; i < n; i++ {
		rec, err := father.Slot(i)
		if err != nil {
			return nil, err
		}
		p, err := btree.RecordPointer(rec)
		if err != nil {
			return nil, err
		}
		if p == childID {
			return record.SpecialRef(rec, 0)
		}
	}
	return nil, fmt.Errorf("%w: no separator for child %d in parent %d", pagefmt.ErrInvariant, childID, fatherid)
}

// Update replaces the record keyed by key with a freshly built one,
// expressed as a delete followed by an insert.
func (t *Table) Update(key []byte, header byte, fields [][]byte) error {
	if err := t.Remove(key); err != nil {
		return err
	}
	return t.Insert(header, fields)
}

func copyRecord(from, to *pagefmt.Page, i int) error {
	rec, err := from.Slot(i)
	if err != nil {
		return err
	}
	header, fields, err := record.Ref(rec)
	if err != nil {
		return err
	}
	if _, ok, err := to.Allocate(header, cloneFields(fields)); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: split/merge target page overflowed", pagefmt.ErrInvariant)
	}
	return nil
}

func cloneFields(fields [][]byte) [][]byte {
	out := make([][]byte, len(fields))
	for i, f := range fields {
		b := make([]byte, len(f))
		copy(b, f)
		out[i] = b
	}
	return out
}

func cloneBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

func fields2key(fields [][]byte, keyColumn int) ([]byte, error) {
	if keyColumn < 0 || keyColumn >= len(fields) {
		return nil, fmt.Errorf("table: key column %d out of range [0,%d)", keyColumn, len(fields))
	}
	return fields[keyColumn], nil
}
