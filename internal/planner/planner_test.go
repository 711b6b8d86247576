package planner

import (
	"path/filepath"
	"testing"

	"github.com/kernaldb/kernel/internal/catalog"
	"github.com/kernaldb/kernel/internal/observability"
	"github.com/kernaldb/kernel/internal/sql"
	"github.com/kernaldb/kernel/internal/storage"
	"github.com/kernaldb/kernel/internal/types"
	"github.com/kernaldb/kernel/internal/wal"
)

type fakeTxn struct {
	id types.TxnID
}

func (f *fakeTxn) ID() types.TxnID                          { return f.id }
func (f *fakeTxn) LastLSN() types.LSN                       { return 0 }
func (f *fakeTxn) SetLastLSN(types.LSN)                     {}
func (f *fakeTxn) RecordWrite(rid types.RID, before []byte) {}

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	dir := t.TempDir()
	disk, err := storage.OpenDiskManager(filepath.Join(dir, "data.db"), 0)
	if err != nil {
		t.Fatalf("OpenDiskManager: %v", err)
	}
	t.Cleanup(func() { disk.Close() })
	lm, err := wal.OpenLogManager(filepath.Join(dir, "test.wal"), 1, observability.Nop())
	if err != nil {
		t.Fatalf("OpenLogManager: %v", err)
	}
	t.Cleanup(func() { lm.Close() })
	bp := storage.NewBufferPool(disk, lm, 64, observability.Nop())
	cat, err := catalog.Open(bp, lm)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	txn := &fakeTxn{id: 1}
	cols := []types.Column{
		{Name: "id", Kind: types.KindInt64},
		{Name: "name", Kind: types.KindVarString, Nullable: true},
		{Name: "qty", Kind: types.KindInt64},
	}
	if _, err := cat.CreateTable(txn, "widgets", cols); err != nil {
		t.Fatalf("CreateTable widgets: %v", err)
	}
	if _, _, err := cat.CreateIndex(txn, "widgets", "idx_id", []string{"id"}, true); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := cat.CreateTable(txn, "gadgets", []types.Column{
		{Name: "id", Kind: types.KindInt64},
		{Name: "widget_id", Kind: types.KindInt64},
	}); err != nil {
		t.Fatalf("CreateTable gadgets: %v", err)
	}
	return New(cat)
}

func mustBuild(t *testing.T, p *Planner, text string) Node {
	t.Helper()
	stmt, err := sql.Parse(text)
	if err != nil {
		t.Fatalf("sql.Parse(%q): %v", text, err)
	}
	node, err := p.Build(stmt)
	if err != nil {
		t.Fatalf("Build(%q): %v", text, err)
	}
	return node
}

func TestBuildSeqScanFallback(t *testing.T) {
	p := newTestPlanner(t)
	node := mustBuild(t, p, `SELECT * FROM widgets`)
	if _, ok := node.(*SeqScanNode); !ok {
		t.Fatalf("got %T, want *SeqScanNode", node)
	}
}

func TestBuildIndexScanForEquality(t *testing.T) {
	p := newTestPlanner(t)
	node := mustBuild(t, p, `SELECT * FROM widgets WHERE id = 5`)
	scan, ok := node.(*IndexScanNode)
	if !ok {
		t.Fatalf("got %T, want *IndexScanNode", node)
	}
	if scan.Index != "idx_id" || len(scan.EqValues) != 1 {
		t.Fatalf("unexpected index scan: %+v", scan)
	}
	lit, ok := scan.EqValues[0].(*sql.LiteralExpr)
	if !ok || lit.Value.I != 5 {
		t.Fatalf("unexpected equality value: %+v", scan.EqValues[0])
	}
}

func TestBuildIndexScanLeavesResidualFilter(t *testing.T) {
	p := newTestPlanner(t)
	node := mustBuild(t, p, `SELECT * FROM widgets WHERE id = 5 AND qty > 1`)
	filter, ok := node.(*FilterNode)
	if !ok {
		t.Fatalf("got %T, want *FilterNode wrapping the index scan", node)
	}
	if _, ok := filter.Input.(*IndexScanNode); !ok {
		t.Fatalf("filter input = %T, want *IndexScanNode", filter.Input)
	}
	bin, ok := filter.Predicate.(*sql.BinaryExpr)
	if !ok || bin.Op != ">" {
		t.Fatalf("unexpected residual predicate: %+v", filter.Predicate)
	}
}

func TestBuildSeqScanWithFilterWhenNoIndexMatches(t *testing.T) {
	p := newTestPlanner(t)
	node := mustBuild(t, p, `SELECT * FROM widgets WHERE qty > 1`)
	filter, ok := node.(*FilterNode)
	if !ok {
		t.Fatalf("got %T, want *FilterNode", node)
	}
	if _, ok := filter.Input.(*SeqScanNode); !ok {
		t.Fatalf("filter input = %T, want *SeqScanNode", filter.Input)
	}
}

func TestBuildHashJoinForEquiJoin(t *testing.T) {
	p := newTestPlanner(t)
	node := mustBuild(t, p, `SELECT * FROM widgets JOIN gadgets ON widgets.id = gadgets.widget_id`)
	hj, ok := node.(*HashJoinNode)
	if !ok {
		t.Fatalf("got %T, want *HashJoinNode", node)
	}
	if hj.LeftKey.Name != "id" || hj.RightKey.Name != "widget_id" {
		t.Fatalf("unexpected join keys: %+v %+v", hj.LeftKey, hj.RightKey)
	}
}

func TestBuildNestedLoopJoinForNonEquiCondition(t *testing.T) {
	p := newTestPlanner(t)
	node := mustBuild(t, p, `SELECT * FROM widgets JOIN gadgets ON widgets.id > gadgets.widget_id`)
	if _, ok := node.(*NestedLoopJoinNode); !ok {
		t.Fatalf("got %T, want *NestedLoopJoinNode", node)
	}
}

func TestJoinPredicatePushdownFiltersEachSideBeforeJoining(t *testing.T) {
	p := newTestPlanner(t)
	node := mustBuild(t, p,
		`SELECT * FROM widgets JOIN gadgets ON widgets.id = gadgets.widget_id WHERE widgets.qty > 1 AND gadgets.id = 7`)
	hj, ok := node.(*HashJoinNode)
	if !ok {
		t.Fatalf("got %T, want *HashJoinNode", node)
	}
	if _, ok := hj.Left.(*FilterNode); !ok {
		t.Fatalf("left side = %T, want a pushed-down Filter over widgets", hj.Left)
	}
	rightFilter, ok := hj.Right.(*FilterNode)
	if !ok {
		t.Fatalf("right side = %T, want a pushed-down Filter over gadgets (no index on gadgets.id)", hj.Right)
	}
	if _, ok := rightFilter.Input.(*SeqScanNode); !ok {
		t.Fatalf("right filter input = %T, want *SeqScanNode", rightFilter.Input)
	}
}

func TestBuildAggregateAndHaving(t *testing.T) {
	p := newTestPlanner(t)
	node := mustBuild(t, p, `SELECT qty, COUNT(*) FROM widgets GROUP BY qty HAVING COUNT(*) > 1`)
	proj, ok := node.(*ProjectNode)
	if !ok {
		t.Fatalf("got %T, want *ProjectNode wrapping the aggregate", node)
	}
	agg, ok := proj.Input.(*HashAggregateNode)
	if !ok {
		t.Fatalf("project input = %T, want *HashAggregateNode", proj.Input)
	}
	if len(agg.Aggregates) != 1 || agg.Aggregates[0].Func != "COUNT" {
		t.Fatalf("unexpected aggregates: %+v", agg.Aggregates)
	}
	if agg.Having == nil {
		t.Fatalf("expected HAVING to survive onto the aggregate node")
	}
}

func TestHavingOnlyAggregateIsComputedEvenWhenNotProjected(t *testing.T) {
	p := newTestPlanner(t)
	node := mustBuild(t, p, `SELECT qty FROM widgets GROUP BY qty HAVING COUNT(*) > 1`)
	proj, ok := node.(*ProjectNode)
	if !ok {
		t.Fatalf("got %T, want *ProjectNode", node)
	}
	agg, ok := proj.Input.(*HashAggregateNode)
	if !ok {
		t.Fatalf("project input = %T, want *HashAggregateNode", proj.Input)
	}
	if len(agg.Aggregates) != 1 || agg.Aggregates[0].Func != "COUNT" {
		t.Fatalf("expected COUNT(*) to be pulled in from HAVING, got %+v", agg.Aggregates)
	}
}

func TestBuildOrderAndLimit(t *testing.T) {
	p := newTestPlanner(t)
	node := mustBuild(t, p, `SELECT id FROM widgets ORDER BY id DESC LIMIT 5 OFFSET 2`)
	limit, ok := node.(*LimitNode)
	if !ok {
		t.Fatalf("got %T, want *LimitNode", node)
	}
	if *limit.Limit != 5 || *limit.Offset != 2 {
		t.Fatalf("unexpected limit/offset: %+v %+v", limit.Limit, limit.Offset)
	}
	proj, ok := limit.Input.(*ProjectNode)
	if !ok {
		t.Fatalf("limit input = %T, want *ProjectNode", limit.Input)
	}
	if _, ok := proj.Input.(*SortNode); !ok {
		t.Fatalf("project input = %T, want *SortNode", proj.Input)
	}
}

func TestConstantFoldingEvaluatesArithmetic(t *testing.T) {
	node := mustBuildNoCatalog(t, `SELECT 1 + 2 FROM widgets`)
	proj, ok := node.(*ProjectNode)
	if !ok {
		t.Fatalf("got %T, want *ProjectNode", node)
	}
	lit, ok := proj.Items[0].Expr.(*sql.LiteralExpr)
	if !ok || lit.Value.I != 3 {
		t.Fatalf("expected constant-folded 1+2=3, got %+v", proj.Items[0].Expr)
	}
}

func TestDedupExprsDropsDuplicateConjuncts(t *testing.T) {
	stmt, err := sql.Parse(`SELECT * FROM widgets WHERE qty > 1 AND qty > 1`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sel := stmt.(*sql.SelectStmt)
	conjuncts := dedupExprs(splitAnd(sel.Where))
	if len(conjuncts) != 1 {
		t.Fatalf("dedupExprs: got %d conjuncts, want 1", len(conjuncts))
	}
}

func TestBuildInsertUpdateDelete(t *testing.T) {
	p := newTestPlanner(t)
	if _, ok := mustBuild(t, p, `INSERT INTO widgets (id, name) VALUES (1, 'a')`).(*InsertNode); !ok {
		t.Fatalf("expected *InsertNode")
	}
	upd, ok := mustBuild(t, p, `UPDATE widgets SET qty = 1 WHERE id = 1`).(*UpdateNode)
	if !ok {
		t.Fatalf("expected *UpdateNode")
	}
	if _, ok := upd.Input.(*IndexScanNode); !ok {
		t.Fatalf("update input = %T, want *IndexScanNode via idx_id", upd.Input)
	}
	del, ok := mustBuild(t, p, `DELETE FROM widgets WHERE qty > 1`).(*DeleteNode)
	if !ok {
		t.Fatalf("expected *DeleteNode")
	}
	if _, ok := del.Input.(*FilterNode); !ok {
		t.Fatalf("delete input = %T, want *FilterNode", del.Input)
	}
}

// mustBuildNoCatalog builds a plan against a from-clause table that need
// not exist in the catalog, for pure rewrite-rule tests (constant folding)
// that don't exercise index/table metadata.
func mustBuildNoCatalog(t *testing.T, text string) Node {
	t.Helper()
	p := newTestPlanner(t)
	return mustBuild(t, p, text)
}
