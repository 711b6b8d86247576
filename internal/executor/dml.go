package executor

import (
	"bytes"
	"context"
	"io"

	"github.com/kernaldb/kernel/internal/catalog"
	"github.com/kernaldb/kernel/internal/errs"
	"github.com/kernaldb/kernel/internal/index"
	"github.com/kernaldb/kernel/internal/planner"
	"github.com/kernaldb/kernel/internal/sql"
	"github.com/kernaldb/kernel/internal/txn"
	"github.com/kernaldb/kernel/internal/types"
)

// execInsert evaluates each VALUES row against the table's schema,
// defaulting unlisted columns to their declared Default (or NULL), and
// maintains every secondary index alongside the heap insert.
func (ex *Executor) execInsert(ctx context.Context, t *txn.Transaction, n *planner.InsertNode) (*Result, error) {
	tm, ok := ex.cat.GetTable(n.Table)
	if !ok {
		return nil, errs.New(errs.Catalog, "table %q does not exist", n.Table)
	}
	if err := ex.txns.LockTable(ctx, t, n.Table, txn.IX); err != nil {
		return nil, err
	}
	h, _, err := ex.heapFor(n.Table)
	if err != nil {
		return nil, err
	}
	indexes := ex.cat.ListIndexes(n.Table)

	var affected int64
	for _, rowExprs := range n.Rows {
		vals, err := buildInsertRow(tm.Schema, n.Columns, rowExprs)
		if err != nil {
			return nil, err
		}
		tup := types.NewTuple(vals)
		if err := tm.Schema.Validate(tup); err != nil {
			return nil, err
		}
		t.SetCurrentTable(n.Table)
		rid, err := h.Insert(t, tup.Bytes())
		if err != nil {
			return nil, err
		}
		if err := ex.insertIndexEntries(indexes, vals, rid); err != nil {
			return nil, err
		}
		affected++
	}
	return &Result{RowsAffected: affected}, nil
}

// execUpdate pulls matching rows through its scan/filter input, applies
// each Assignment, and rewrites the heap tuple plus any secondary index
// entry whose key or RID changed.
func (ex *Executor) execUpdate(ctx context.Context, t *txn.Transaction, n *planner.UpdateNode) (*Result, error) {
	tm, ok := ex.cat.GetTable(n.Table)
	if !ok {
		return nil, errs.New(errs.Catalog, "table %q does not exist", n.Table)
	}
	if err := ex.txns.LockTable(ctx, t, n.Table, txn.IX); err != nil {
		return nil, err
	}
	input, err := ex.build(t, n.Input)
	if err != nil {
		return nil, err
	}
	if err := input.Open(ctx); err != nil {
		return nil, err
	}
	defer input.Close()

	h, _, err := ex.heapFor(n.Table)
	if err != nil {
		return nil, err
	}
	indexes := ex.cat.ListIndexes(n.Table)

	var affected int64
	for {
		row, err := input.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := ex.txns.LockRow(ctx, t, n.Table, row.RID, txn.X); err != nil {
			return nil, err
		}

		newVals := append([]types.Value{}, row.Values...)
		for _, asn := range n.Assignments {
			pos, ok := tm.Schema.IndexOf(asn.Column)
			if !ok {
				return nil, errs.New(errs.Catalog, "column %q not found on table %q", asn.Column, n.Table)
			}
			v, err := evalExpr(row, asn.Value)
			if err != nil {
				return nil, err
			}
			newVals[pos] = v
		}
		newTup := types.NewTuple(newVals)
		if err := tm.Schema.Validate(newTup); err != nil {
			return nil, err
		}

		t.SetCurrentTable(n.Table)
		newRID, err := h.Update(t, row.RID, newTup.Bytes())
		if err != nil {
			return nil, err
		}
		if err := ex.updateIndexEntries(indexes, row.Values, newVals, row.RID, newRID); err != nil {
			return nil, err
		}
		affected++
	}
	return &Result{RowsAffected: affected}, nil
}

// execDelete pulls matching rows through its scan/filter input and marks
// each one deleted, removing its entry from every secondary index.
func (ex *Executor) execDelete(ctx context.Context, t *txn.Transaction, n *planner.DeleteNode) (*Result, error) {
	if _, ok := ex.cat.GetTable(n.Table); !ok {
		return nil, errs.New(errs.Catalog, "table %q does not exist", n.Table)
	}
	if err := ex.txns.LockTable(ctx, t, n.Table, txn.IX); err != nil {
		return nil, err
	}
	input, err := ex.build(t, n.Input)
	if err != nil {
		return nil, err
	}
	if err := input.Open(ctx); err != nil {
		return nil, err
	}
	defer input.Close()

	h, _, err := ex.heapFor(n.Table)
	if err != nil {
		return nil, err
	}
	indexes := ex.cat.ListIndexes(n.Table)

	var affected int64
	for {
		row, err := input.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := ex.txns.LockRow(ctx, t, n.Table, row.RID, txn.X); err != nil {
			return nil, err
		}
		t.SetCurrentTable(n.Table)
		if err := h.MarkDelete(t, row.RID); err != nil {
			return nil, err
		}
		for _, info := range indexes {
			bt, _, err := ex.indexFor(n.Table, info.Name)
			if err != nil {
				return nil, err
			}
			key := index.EncodeKey(extractKeyVals(row.Values, info.KeyColumns))
			if _, err := bt.Delete(key); err != nil {
				return nil, err
			}
		}
		affected++
	}
	return &Result{RowsAffected: affected}, nil
}

func (ex *Executor) insertIndexEntries(indexes []*catalog.IndexInfo, vals []types.Value, rid types.RID) error {
	for _, info := range indexes {
		bt, _, err := ex.indexFor(info.TableName, info.Name)
		if err != nil {
			return err
		}
		key := index.EncodeKey(extractKeyVals(vals, info.KeyColumns))
		if info.Unique {
			if _, found, gerr := bt.Get(key); gerr != nil {
				return gerr
			} else if found {
				return errs.New(errs.Constraint, "duplicate key value violates unique constraint %q", info.Name)
			}
		}
		if err := bt.Insert(key, rid); err != nil {
			return err
		}
	}
	return nil
}

func (ex *Executor) updateIndexEntries(indexes []*catalog.IndexInfo, oldVals, newVals []types.Value, oldRID, newRID types.RID) error {
	for _, info := range indexes {
		oldKey := index.EncodeKey(extractKeyVals(oldVals, info.KeyColumns))
		newKey := index.EncodeKey(extractKeyVals(newVals, info.KeyColumns))
		if bytes.Equal(oldKey, newKey) && newRID == oldRID {
			continue
		}
		bt, _, err := ex.indexFor(info.TableName, info.Name)
		if err != nil {
			return err
		}
		if _, err := bt.Delete(oldKey); err != nil {
			return err
		}
		if info.Unique {
			if _, found, gerr := bt.Get(newKey); gerr != nil {
				return gerr
			} else if found {
				return errs.New(errs.Constraint, "duplicate key value violates unique constraint %q", info.Name)
			}
		}
		if err := bt.Insert(newKey, newRID); err != nil {
			return err
		}
	}
	return nil
}

func extractKeyVals(vals []types.Value, positions []int) []types.Value {
	out := make([]types.Value, len(positions))
	for i, p := range positions {
		out[i] = vals[p]
	}
	return out
}

// buildInsertRow assembles a full-width value vector for one VALUES row,
// defaulting every column the statement doesn't list to its schema Default
// (or NULL), and resolving an empty column list to the table's own column
// order (INSERT INTO t VALUES (...) with no explicit column list).
func buildInsertRow(schema *types.Schema, columns []string, rowExprs []sql.Expr) ([]types.Value, error) {
	vals := make([]types.Value, len(schema.Columns))
	for i, c := range schema.Columns {
		if c.Default != nil {
			vals[i] = *c.Default
		} else {
			vals[i] = types.Null()
		}
	}

	cols := columns
	if len(cols) == 0 {
		cols = make([]string, len(schema.Columns))
		for i, c := range schema.Columns {
			cols[i] = c.Name
		}
	}
	if len(cols) != len(rowExprs) {
		return nil, errs.New(errs.Type, "INSERT has %d columns but %d values", len(cols), len(rowExprs))
	}

	empty := &Row{Schema: &rowSchema{}}
	for i, colName := range cols {
		pos, ok := schema.IndexOf(colName)
		if !ok {
			return nil, errs.New(errs.Catalog, "column %q not found", colName)
		}
		v, err := evalExpr(empty, rowExprs[i])
		if err != nil {
			return nil, err
		}
		vals[pos] = v
	}
	return vals, nil
}
