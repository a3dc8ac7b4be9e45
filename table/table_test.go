package table

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/Junix-honor/B-Tree/catalog"
	"github.com/Junix-honor/B-Tree/record"
)

func be32(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func int32Of(b []byte) int32 { return int32(binary.BigEndian.Uint32(b)) }

func newTestTable(t *testing.T) (*Table, *catalog.Engine) {
	t.Helper()
	dir := t.TempDir()
	eng := catalog.NewEngine()
	info := &catalog.RelationInfo{
		Name: "rows",
		Fields: []catalog.FieldInfo{
			{Name: "id", Index: 0, Length: 4, FieldType: "int32"},
			{Name: "phone", Index: 1, Length: 11, FieldType: "string"},
			{Name: "blob", Index: 2, Length: 440, FieldType: "string"},
		},
		KeyColumn: 0,
		DataPath:  filepath.Join(dir, "rows.dat"),
		IndexPath: filepath.Join(dir, "rows.idx"),
	}
	tbl, err := Create(eng, info, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tbl, eng
}

func recordFields(id int32, phone string, blob string) [][]byte {
	return [][]byte{be32(id), []byte(phone), []byte(blob)}
}

func scanAll(t *testing.T, tbl *Table) []int32 {
	t.Helper()
	var keys []int32
	it := tbl.BlockBegin()
	end := tbl.BlockEnd()
	for !it.Equal(end) {
		page, err := it.Page()
		if err != nil {
			t.Fatalf("Page: %v", err)
		}
		ri := Begin(page)
		re := End(page)
		for !ri.Equal(re) {
			rec, err := ri.Record()
			if err != nil {
				t.Fatalf("Record: %v", err)
			}
			key, err := tbl.key(rec)
			if err != nil {
				t.Fatalf("key: %v", err)
			}
			keys = append(keys, int32Of(key))
			ri.Next()
		}
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	return keys
}

// chainLen counts the pages reachable along the leaf chain.
func chainLen(t *testing.T, tbl *Table) int {
	t.Helper()
	n := 0
	for it := tbl.BlockBegin(); !it.Equal(tbl.BlockEnd()); n++ {
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	return n
}

// scanPhones returns every row's phone field (field 1), in scan order.
func scanPhones(t *testing.T, tbl *Table) []string {
	t.Helper()
	var phones []string
	it := tbl.BlockBegin()
	end := tbl.BlockEnd()
	for !it.Equal(end) {
		page, err := it.Page()
		if err != nil {
			t.Fatalf("Page: %v", err)
		}
		for ri, re := Begin(page), End(page); !ri.Equal(re); ri.Next() {
			rec, err := ri.Record()
			if err != nil {
				t.Fatalf("Record: %v", err)
			}
			phone, err := record.SpecialRef(rec, 1)
			if err != nil {
				t.Fatalf("phone field: %v", err)
			}
			phones = append(phones, string(phone))
		}
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	return phones
}

// TestEmptyScanScenario checks that a freshly created table already has
// a distinct begin/end block pair, with an empty first page.
func TestEmptyScanScenario(t *testing.T) {
	tbl, _ := newTestTable(t)
	defer tbl.Close()

	if tbl.BlockBegin().Equal(tbl.BlockEnd()) {
		t.Fatalf("blockBegin == blockEnd on a fresh table")
	}
	page, err := tbl.BlockBegin().Page()
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if !Begin(page).Equal(End(page)) {
		t.Fatalf("begin(blockBegin) != end(blockBegin) on an empty page")
	}
}

// TestInsertAndScanOrdering checks that insertion order need not match
// scan order: a full scan must always come back non-decreasing by key
// regardless of the order rows were inserted in.
func TestInsertAndScanOrdering(t *testing.T) {
	tbl, _ := newTestTable(t)
	defer tbl.Close()

	const n = 800
	blob := make([]byte, 440)
	for i := range blob {
		blob[i] = 'x'
	}
	for i := n; i >= 1; i-- {
		if err := tbl.Insert(0, recordFields(int32(i), "13534500702", string(blob))); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	keys := scanAll(t, tbl)
	if len(keys) != n {
		t.Fatalf("scanned %d keys, want %d", len(keys), n)
	}
	for i, k := range keys {
		if k != int32(i+1) {
			t.Fatalf("keys[%d] = %d, want %d (scan not ascending)", i, k, i+1)
		}
	}
}

// TestInsertThenRemoveIsInverse checks that inserting a row and then
// removing it by key restores the prior logical row set.
func TestInsertThenRemoveIsInverse(t *testing.T) {
	tbl, _ := newTestTable(t)
	defer tbl.Close()

	for i := 1; i <= 50; i++ {
		if err := tbl.Insert(0, recordFields(int32(i), "13534500702", "x")); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	before := scanAll(t, tbl)

	if err := tbl.Insert(0, recordFields(int32(999), "13534500702", "x")); err != nil {
		t.Fatalf("Insert(999): %v", err)
	}
	if err := tbl.Remove(be32(999)); err != nil {
		t.Fatalf("Remove(999): %v", err)
	}

	after := scanAll(t, tbl)
	if len(after) != len(before) {
		t.Fatalf("row count changed: %d vs %d", len(after), len(before))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("row set changed at %d: %d vs %d", i, before[i], after[i])
		}
	}
}

// TestPrefixDeleteScenario checks that deleting an ascending prefix of
// keys leaves the minimum visible key advancing by exactly one each
// time, and the surviving rows keep their phone field.
func TestPrefixDeleteScenario(t *testing.T) {
	tbl, _ := newTestTable(t)
	defer tbl.Close()

	const n = 400
	for i := n; i >= 1; i-- {
		if err := tbl.Insert(0, recordFields(int32(i), "13534500702", "x")); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	const deleteUpTo = 300
	for i := 1; i <= deleteUpTo; i++ {
		if err := tbl.Remove(be32(int32(i))); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
		keys := scanAll(t, tbl)
		if len(keys) == 0 || keys[0] != int32(i+1) {
			got := int32(-1)
			if len(keys) > 0 {
				got = keys[0]
			}
			t.Fatalf("after Remove(%d): min key = %d, want %d", i, got, i+1)
		}
	}
	for i, phone := range scanPhones(t, tbl) {
		if phone != "13534500702" {
			t.Fatalf("surviving row %d phone = %q, want %q", i, phone, "13534500702")
		}
	}
}

// TestMergeAfterDeletion checks that deleting enough rows for pages to
// cross the fill floor triggers merges: each merge takes one page out of
// the leaf chain, so the chain ends up shorter, and the surviving rows
// keep their order.
func TestMergeAfterDeletion(t *testing.T) {
	tbl, _ := newTestTable(t)
	defer tbl.Close()

	blob := make([]byte, 440)
	for i := range blob {
		blob[i] = 'y'
	}
	const n = 40
	for i := 1; i <= n; i++ {
		if err := tbl.Insert(0, recordFields(int32(i), "13534500702", string(blob))); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	pagesBefore := chainLen(t, tbl)

	for i := 1; i <= n-2; i++ {
		if err := tbl.Remove(be32(int32(i))); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}

	keys := scanAll(t, tbl)
	if len(keys) != 2 {
		t.Fatalf("scanned %d keys, want 2", len(keys))
	}
	if keys[0] != n-1 || keys[1] != n {
		t.Fatalf("surviving keys = %v, want [%d %d]", keys, n-1, n)
	}
	if pagesAfter := chainLen(t, tbl); pagesAfter >= pagesBefore {
		t.Fatalf("leaf chain has %d pages after deletes, want fewer than %d", pagesAfter, pagesBefore)
	}
}

func TestRemoveMissingKeyReturnsNotFound(t *testing.T) {
	tbl, _ := newTestTable(t)
	defer tbl.Close()
	if err := tbl.Insert(0, recordFields(1, "13534500702", "x")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tbl.Remove(be32(404)); err == nil {
		t.Fatalf("expected error removing a missing key")
	}
}

func TestUpdateReplacesRecord(t *testing.T) {
	tbl, _ := newTestTable(t)
	defer tbl.Close()
	if err := tbl.Insert(0, recordFields(1, "13534500702", "x")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tbl.Update(be32(1), 0, recordFields(1, "19999999999", "x")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	page, err := tbl.BlockBegin().Page()
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	rec, err := page.Slot(0)
	if err != nil {
		t.Fatalf("Slot: %v", err)
	}
	phone, err := record.SpecialRef(rec, 1)
	if err != nil {
		t.Fatalf("phone field: %v", err)
	}
	if string(phone) != "19999999999" {
		t.Fatalf("phone = %q, want updated value", phone)
	}
}
