package catalog

import (
	"path/filepath"
	"testing"

	"github.com/kernaldb/kernel/internal/observability"
	"github.com/kernaldb/kernel/internal/storage"
	"github.com/kernaldb/kernel/internal/types"
	"github.com/kernaldb/kernel/internal/wal"
)

// fakeTxn is a minimal heap.TxnContext for exercising the catalog in
// isolation from internal/txn.
type fakeTxn struct {
	id      types.TxnID
	lastLSN types.LSN
}

func (f *fakeTxn) ID() types.TxnID                          { return f.id }
func (f *fakeTxn) LastLSN() types.LSN                       { return f.lastLSN }
func (f *fakeTxn) SetLastLSN(l types.LSN)                   { f.lastLSN = l }
func (f *fakeTxn) RecordWrite(rid types.RID, before []byte) {}

func newTestCatalog(t *testing.T) (*Catalog, string, func()) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data.db")
	disk, err := storage.OpenDiskManager(dbPath, 0)
	if err != nil {
		t.Fatalf("OpenDiskManager: %v", err)
	}
	lm, err := wal.OpenLogManager(filepath.Join(dir, "test.wal"), 1, observability.Nop())
	if err != nil {
		t.Fatalf("OpenLogManager: %v", err)
	}
	bp := storage.NewBufferPool(disk, lm, 64, observability.Nop())
	cat, err := Open(bp, lm)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cleanup := func() {
		lm.Close()
		disk.Close()
	}
	return cat, dbPath, cleanup
}

func widgetColumns() []types.Column {
	return []types.Column{
		{Name: "id", Kind: types.KindInt64},
		{Name: "name", Kind: types.KindVarString, Nullable: true},
	}
}

func TestCatalogCreateAndGetTable(t *testing.T) {
	cat, _, cleanup := newTestCatalog(t)
	defer cleanup()

	txn := &fakeTxn{id: 1}
	tm, err := cat.CreateTable(txn, "widgets", widgetColumns())
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if tm.OID == 0 {
		t.Fatalf("expected nonzero OID")
	}

	got, ok := cat.GetTable("widgets")
	if !ok {
		t.Fatalf("GetTable: not found")
	}
	if got.Name != "widgets" || len(got.Schema.Columns) != 2 {
		t.Fatalf("unexpected metadata: %+v", got)
	}
	if idx, found := got.Schema.IndexOf("name"); !found || idx != 1 {
		t.Fatalf("schema IndexOf(name) = %d, %v", idx, found)
	}
}

func TestCatalogCreateTableDuplicateFails(t *testing.T) {
	cat, _, cleanup := newTestCatalog(t)
	defer cleanup()
	txn := &fakeTxn{id: 1}
	if _, err := cat.CreateTable(txn, "widgets", widgetColumns()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := cat.CreateTable(txn, "widgets", widgetColumns()); err == nil {
		t.Fatalf("expected error creating duplicate table")
	}
}

func TestCatalogListTables(t *testing.T) {
	cat, _, cleanup := newTestCatalog(t)
	defer cleanup()
	txn := &fakeTxn{id: 1}
	cat.CreateTable(txn, "widgets", widgetColumns())
	cat.CreateTable(txn, "gadgets", widgetColumns())
	names := cat.ListTables()
	if len(names) != 2 {
		t.Fatalf("ListTables = %v, want 2 entries", names)
	}
}

func TestCatalogDropTableRemovesMetadata(t *testing.T) {
	cat, _, cleanup := newTestCatalog(t)
	defer cleanup()
	txn := &fakeTxn{id: 1}
	cat.CreateTable(txn, "widgets", widgetColumns())
	if err := cat.DropTable(txn, "widgets"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if _, ok := cat.GetTable("widgets"); ok {
		t.Fatalf("expected widgets to be gone")
	}
	if err := cat.DropTable(txn, "widgets"); err == nil {
		t.Fatalf("expected error dropping missing table")
	}
}

func TestCatalogCreateIndex(t *testing.T) {
	cat, _, cleanup := newTestCatalog(t)
	defer cleanup()
	txn := &fakeTxn{id: 1}
	cat.CreateTable(txn, "widgets", widgetColumns())
	info, bt, err := cat.CreateIndex(txn, "widgets", "idx_id", []string{"id"}, true)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if info.KeyColumns[0] != 0 {
		t.Fatalf("expected key column position 0, got %v", info.KeyColumns)
	}
	if err := bt.Insert([]byte("k"), types.RID{PageID: 1, Slot: 0}); err != nil {
		t.Fatalf("Insert into new index: %v", err)
	}

	got, ok := cat.GetIndex("widgets", "idx_id")
	if !ok || got.RootPage != info.RootPage {
		t.Fatalf("GetIndex mismatch: %+v", got)
	}
	if len(cat.ListIndexes("widgets")) != 1 {
		t.Fatalf("expected one index")
	}
}

func TestCatalogCreateIndexUnknownColumnFails(t *testing.T) {
	cat, _, cleanup := newTestCatalog(t)
	defer cleanup()
	txn := &fakeTxn{id: 1}
	cat.CreateTable(txn, "widgets", widgetColumns())
	if _, _, err := cat.CreateIndex(txn, "widgets", "bad", []string{"nope"}, false); err == nil {
		t.Fatalf("expected error for unknown column")
	}
}

func TestCatalogDropIndex(t *testing.T) {
	cat, _, cleanup := newTestCatalog(t)
	defer cleanup()
	txn := &fakeTxn{id: 1}
	cat.CreateTable(txn, "widgets", widgetColumns())
	cat.CreateIndex(txn, "widgets", "idx_id", []string{"id"}, true)
	if err := cat.DropIndex(txn, "widgets", "idx_id"); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	if _, ok := cat.GetIndex("widgets", "idx_id"); ok {
		t.Fatalf("expected index to be gone")
	}
}

func TestCatalogReloadRebuildsFromSystemHeaps(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data.db")
	walPath := filepath.Join(dir, "test.wal")

	disk, err := storage.OpenDiskManager(dbPath, 0)
	if err != nil {
		t.Fatalf("OpenDiskManager: %v", err)
	}
	lm, err := wal.OpenLogManager(walPath, 1, observability.Nop())
	if err != nil {
		t.Fatalf("OpenLogManager: %v", err)
	}
	bp := storage.NewBufferPool(disk, lm, 64, observability.Nop())
	cat, err := Open(bp, lm)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	txn := &fakeTxn{id: 1}
	cols := []types.Column{
		{Name: "id", Kind: types.KindInt64},
		{Name: "label", Kind: types.KindVarString, Nullable: true, Default: valuePtr(types.VarString("n/a"))},
	}
	if _, err := cat.CreateTable(txn, "widgets", cols); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, _, err := cat.CreateIndex(txn, "widgets", "idx_id", []string{"id"}, true); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := bp.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	lm.Close()
	disk.Close()

	disk2, err := storage.OpenDiskManager(dbPath, 0)
	if err != nil {
		t.Fatalf("reopen disk: %v", err)
	}
	defer disk2.Close()
	lm2, err := wal.OpenLogManager(walPath, 1, observability.Nop())
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	defer lm2.Close()
	bp2 := storage.NewBufferPool(disk2, lm2, 64, observability.Nop())
	cat2, err := Open(bp2, lm2)
	if err != nil {
		t.Fatalf("reopen catalog: %v", err)
	}

	tm, ok := cat2.GetTable("widgets")
	if !ok {
		t.Fatalf("expected widgets table to survive reload")
	}
	if len(tm.Schema.Columns) != 2 || tm.Schema.Columns[1].Default == nil {
		t.Fatalf("column metadata not restored: %+v", tm.Schema.Columns)
	}
	if tm.Schema.Columns[1].Default.S != "n/a" {
		t.Fatalf("default value not restored: %+v", tm.Schema.Columns[1].Default)
	}
	if _, ok := cat2.GetIndex("widgets", "idx_id"); !ok {
		t.Fatalf("expected idx_id to survive reload")
	}

	// A fresh CreateTable after reload must not collide OIDs with restored rows.
	if _, err := cat2.CreateTable(&fakeTxn{id: 2}, "gadgets", widgetColumns()); err != nil {
		t.Fatalf("CreateTable after reload: %v", err)
	}
	g, _ := cat2.GetTable("gadgets")
	if g.OID == tm.OID {
		t.Fatalf("OID collision after reload: %d == %d", g.OID, tm.OID)
	}
}

func valuePtr(v types.Value) *types.Value { return &v }
