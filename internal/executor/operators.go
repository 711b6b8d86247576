package executor

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/kernaldb/kernel/internal/errs"
	"github.com/kernaldb/kernel/internal/index"
	"github.com/kernaldb/kernel/internal/planner"
	"github.com/kernaldb/kernel/internal/sql"
	"github.com/kernaldb/kernel/internal/txn"
	"github.com/kernaldb/kernel/internal/types"
)

// Operator is one node of the executor's plan tree: a Volcano-style
// iterator (spec §4.11) that produces Rows one at a time through Next,
// reporting end-of-input as io.EOF. Open acquires whatever locks and
// buffers the operator needs; Close releases anything it holds open
// (its own resources, plus its children's, for non-leaf operators).
//
// A leaf scan materializes its matching rows during Open rather than
// truly streaming page-by-page — simpler, and acceptable because a scan's
// own output is what every higher operator pulls through one Row at a
// time anyway. Blocking operators (join, aggregate, sort) always
// materialize their input in Open, exactly as a Volcano plan requires.
type Operator interface {
	Open(ctx context.Context) error
	Next() (*Row, error)
	Close() error
	Schema() *rowSchema
}

func drain(op Operator) ([]*Row, error) {
	var rows []*Row
	for {
		r, err := op.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// ---------------------------- seqScanOp ----------------------------

// seqScanOp reads every live tuple of a table in heap order, grounded on
// the teacher's full-table-scan path in processNonAggregateQuery.
type seqScanOp struct {
	ex    *Executor
	txn   *txn.Transaction
	table string
	alias string

	schema *rowSchema
	rows   []*Row
	pos    int
}

func (o *seqScanOp) Schema() *rowSchema { return o.schema }

func (o *seqScanOp) Open(ctx context.Context) error {
	h, schema, err := o.ex.heapFor(o.table)
	if err != nil {
		return err
	}
	ref := o.alias
	if ref == "" {
		ref = o.table
	}
	o.schema = schemaFor(ref, schema)

	if err := o.ex.txns.LockTable(ctx, o.txn, o.table, txn.IS); err != nil {
		return err
	}

	var rows []*Row
	var iterErr error
	if err := h.Iterate(func(rid types.RID, data []byte) bool {
		tup, derr := types.DeserializeTuple(data)
		if derr != nil {
			iterErr = derr
			return false
		}
		if lerr := o.ex.txns.LockRow(ctx, o.txn, o.table, rid, txn.S); lerr != nil {
			iterErr = lerr
			return false
		}
		rows = append(rows, &Row{Schema: o.schema, Values: tup.Values, RID: rid, Table: o.table})
		return true
	}); err != nil {
		return err
	}
	if iterErr != nil {
		return iterErr
	}
	o.rows = rows
	return nil
}

func (o *seqScanOp) Next() (*Row, error) {
	if o.pos >= len(o.rows) {
		return nil, io.EOF
	}
	r := o.rows[o.pos]
	o.pos++
	return r, nil
}

func (o *seqScanOp) Close() error {
	o.rows = nil
	return nil
}

// ---------------------------- indexScanOp ----------------------------

// indexScanOp reads a table through a secondary index, restricted to the
// key range planner.IndexScanNode describes.
type indexScanOp struct {
	ex   *Executor
	txn  *txn.Transaction
	node *planner.IndexScanNode

	schema *rowSchema
	rows   []*Row
	pos    int
}

func (o *indexScanOp) Schema() *rowSchema { return o.schema }

func (o *indexScanOp) Open(ctx context.Context) error {
	h, schema, err := o.ex.heapFor(o.node.Table)
	if err != nil {
		return err
	}
	bt, _, err := o.ex.indexFor(o.node.Table, o.node.Index)
	if err != nil {
		return err
	}
	ref := o.node.Alias
	if ref == "" {
		ref = o.node.Table
	}
	o.schema = schemaFor(ref, schema)

	if err := o.ex.txns.LockTable(ctx, o.txn, o.node.Table, txn.IS); err != nil {
		return err
	}

	empty := &Row{Schema: &rowSchema{}}
	eqVals := make([]types.Value, 0, len(o.node.EqValues))
	for _, e := range o.node.EqValues {
		v, err := evalExpr(empty, e)
		if err != nil {
			return err
		}
		eqVals = append(eqVals, v)
	}
	var lowVal, highVal *types.Value
	if o.node.RangeLow != nil {
		v, err := evalExpr(empty, o.node.RangeLow)
		if err != nil {
			return err
		}
		lowVal = &v
	}
	if o.node.RangeHigh != nil {
		v, err := evalExpr(empty, o.node.RangeHigh)
		if err != nil {
			return err
		}
		highVal = &v
	}
	startKey, endKey := buildRangeBounds(eqVals, lowVal, highVal)

	var rows []*Row
	var iterErr error
	if err := bt.ScanRange(startKey, endKey, func(_ []byte, rid types.RID) bool {
		data, derr := h.Get(rid)
		if derr != nil {
			iterErr = derr
			return false
		}
		tup, derr := types.DeserializeTuple(data)
		if derr != nil {
			iterErr = derr
			return false
		}
		if lerr := o.ex.txns.LockRow(ctx, o.txn, o.node.Table, rid, txn.S); lerr != nil {
			iterErr = lerr
			return false
		}
		rows = append(rows, &Row{Schema: o.schema, Values: tup.Values, RID: rid, Table: o.node.Table})
		return true
	}); err != nil {
		return err
	}
	if iterErr != nil {
		return iterErr
	}
	o.rows = rows
	return nil
}

func (o *indexScanOp) Next() (*Row, error) {
	if o.pos >= len(o.rows) {
		return nil, io.EOF
	}
	r := o.rows[o.pos]
	o.pos++
	return r, nil
}

func (o *indexScanOp) Close() error {
	o.rows = nil
	return nil
}

// buildRangeBounds computes ScanRange bounds for an index scan over a
// composite key, from an equality-matched prefix plus an optional
// trailing range predicate. The upper bound's trailing 0xFF byte absorbs
// any further key columns the index carries beyond the matched prefix:
// every real encoded key component begins with a tag byte of 0x00-0x02
// (index.EncodeKey), so it always compares less than a 0xFF suffix.
func buildRangeBounds(eqVals []types.Value, low, high *types.Value) (startKey, endKey []byte) {
	startVals := append([]types.Value{}, eqVals...)
	if low != nil {
		startVals = append(startVals, *low)
	}
	startKey = index.EncodeKey(startVals)

	endVals := append([]types.Value{}, eqVals...)
	if high != nil {
		endVals = append(endVals, *high)
	}
	endKey = append(index.EncodeKey(endVals), 0xFF)
	return startKey, endKey
}

// ---------------------------- filterOp ----------------------------

type filterOp struct {
	input Operator
	pred  sql.Expr
}

func (o *filterOp) Schema() *rowSchema          { return o.input.Schema() }
func (o *filterOp) Open(ctx context.Context) error { return o.input.Open(ctx) }
func (o *filterOp) Close() error                { return o.input.Close() }

func (o *filterOp) Next() (*Row, error) {
	for {
		row, err := o.input.Next()
		if err != nil {
			return nil, err
		}
		v, err := evalExpr(row, o.pred)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			return row, nil
		}
	}
}

// ---------------------------- projectOp ----------------------------

type projectOp struct {
	input Operator
	items []sql.SelectItem

	schema *rowSchema
}

func (o *projectOp) Schema() *rowSchema { return o.schema }

func (o *projectOp) Open(ctx context.Context) error {
	if err := o.input.Open(ctx); err != nil {
		return err
	}
	o.schema = projectSchema(o.input.Schema(), o.items)
	return nil
}

func (o *projectOp) Close() error { return o.input.Close() }

func (o *projectOp) Next() (*Row, error) {
	row, err := o.input.Next()
	if err != nil {
		return nil, err
	}
	vals, err := projectRow(row, o.items)
	if err != nil {
		return nil, err
	}
	return &Row{Schema: o.schema, Values: vals, RID: row.RID, Table: row.Table}, nil
}

func projectSchema(in *rowSchema, items []sql.SelectItem) *rowSchema {
	var cols []colRef
	idx := 0
	for _, it := range items {
		if it.Star {
			cols = append(cols, in.cols...)
			idx += len(in.cols)
			continue
		}
		cols = append(cols, colRef{name: projName(it, idx)})
		idx++
	}
	return &rowSchema{cols: cols}
}

func projectRow(row *Row, items []sql.SelectItem) ([]types.Value, error) {
	var vals []types.Value
	for _, it := range items {
		if it.Star {
			vals = append(vals, row.Values...)
			continue
		}
		v, err := evalExpr(row, it.Expr)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// projName derives a result column's display name: its alias, or a bare
// column reference's own name, or a positional fallback — grounded on
// the teacher's projName (internal/engine/exec.go).
func projName(it sql.SelectItem, idx int) string {
	if it.Alias != "" {
		return it.Alias
	}
	if ref, ok := it.Expr.(*sql.ColumnRef); ok {
		return ref.Name
	}
	return fmt.Sprintf("col_%d", idx)
}

// ---------------------------- join operators ----------------------------

// nestedLoopJoinOp evaluates On over every (left, right) pair, materializing
// the full result during Open, grounded on the teacher's
// processInnerJoin/processLeftJoin/processRightJoin (internal/engine/exec.go),
// which build their output the same way rather than streaming it.
type nestedLoopJoinOp struct {
	left, right Operator
	joinType    sql.JoinType
	on          sql.Expr

	schema *rowSchema
	rows   []*Row
	pos    int
}

func (o *nestedLoopJoinOp) Schema() *rowSchema { return o.schema }

func (o *nestedLoopJoinOp) Open(ctx context.Context) error {
	if err := o.left.Open(ctx); err != nil {
		return err
	}
	if err := o.right.Open(ctx); err != nil {
		return err
	}
	leftRows, err := drain(o.left)
	if err != nil {
		return err
	}
	rightRows, err := drain(o.right)
	if err != nil {
		return err
	}
	o.schema = concatSchema(o.left.Schema(), o.right.Schema())

	rightMatched := make([]bool, len(rightRows))
	var out []*Row
	for _, l := range leftRows {
		matchedAny := false
		for ri, r := range rightRows {
			combined := concatRows(l, r)
			ok, err := o.evalOn(combined)
			if err != nil {
				return err
			}
			if ok {
				matchedAny = true
				rightMatched[ri] = true
				out = append(out, combined)
			}
		}
		if !matchedAny && o.joinType == sql.LeftJoin {
			out = append(out, padRight(l, o.right.Schema()))
		}
	}
	if o.joinType == sql.RightJoin {
		for ri, r := range rightRows {
			if !rightMatched[ri] {
				out = append(out, padLeft(o.left.Schema(), r))
			}
		}
	}
	o.rows = out
	return nil
}

func (o *nestedLoopJoinOp) evalOn(row *Row) (bool, error) {
	if o.on == nil {
		return true, nil
	}
	v, err := evalExpr(row, o.on)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func (o *nestedLoopJoinOp) Next() (*Row, error) {
	if o.pos >= len(o.rows) {
		return nil, io.EOF
	}
	r := o.rows[o.pos]
	o.pos++
	return r, nil
}

func (o *nestedLoopJoinOp) Close() error {
	o.rows = nil
	if err := o.left.Close(); err != nil {
		return err
	}
	return o.right.Close()
}

// hashJoinOp builds a hash table over the build side's key and probes it
// with the other side, for a recognized single-column equi-join.
type hashJoinOp struct {
	left, right   Operator
	joinType      sql.JoinType
	leftKey       *sql.ColumnRef
	rightKey      *sql.ColumnRef
	buildFromLeft bool

	schema *rowSchema
	rows   []*Row
	pos    int
}

func (o *hashJoinOp) Schema() *rowSchema { return o.schema }

func (o *hashJoinOp) Open(ctx context.Context) error {
	if err := o.left.Open(ctx); err != nil {
		return err
	}
	if err := o.right.Open(ctx); err != nil {
		return err
	}
	leftRows, err := drain(o.left)
	if err != nil {
		return err
	}
	rightRows, err := drain(o.right)
	if err != nil {
		return err
	}
	o.schema = concatSchema(o.left.Schema(), o.right.Schema())

	buildRows, probeRows := leftRows, rightRows
	buildKey, probeKey := o.leftKey, o.rightKey
	buildIsLeft := true
	if !o.buildFromLeft {
		buildRows, probeRows = rightRows, leftRows
		buildKey, probeKey = o.rightKey, o.leftKey
		buildIsLeft = false
	}

	table := make(map[uint64][]*Row)
	for _, r := range buildRows {
		v, err := evalExpr(r, buildKey)
		if err != nil {
			return err
		}
		if v.IsNull() {
			continue
		}
		table[v.Hash()] = append(table[v.Hash()], r)
	}

	buildMatched := make(map[*Row]bool, len(buildRows))
	var out []*Row
	for _, p := range probeRows {
		pv, err := evalExpr(p, probeKey)
		if err != nil {
			return err
		}
		matchedAny := false
		if !pv.IsNull() {
			for _, b := range table[pv.Hash()] {
				bv, err := evalExpr(b, buildKey)
				if err != nil {
					return err
				}
				if !bv.Equal(pv) {
					continue
				}
				matchedAny = true
				buildMatched[b] = true
				if buildIsLeft {
					out = append(out, concatRows(b, p))
				} else {
					out = append(out, concatRows(p, b))
				}
			}
		}
		if !matchedAny {
			probeIsOuter := (buildIsLeft && o.joinType == sql.RightJoin) || (!buildIsLeft && o.joinType == sql.LeftJoin)
			if probeIsOuter {
				if buildIsLeft {
					out = append(out, padLeft(o.left.Schema(), p))
				} else {
					out = append(out, padRight(p, o.right.Schema()))
				}
			}
		}
	}
	buildIsOuter := (buildIsLeft && o.joinType == sql.LeftJoin) || (!buildIsLeft && o.joinType == sql.RightJoin)
	if buildIsOuter {
		for _, b := range buildRows {
			if !buildMatched[b] {
				if buildIsLeft {
					out = append(out, padRight(b, o.right.Schema()))
				} else {
					out = append(out, padLeft(o.left.Schema(), b))
				}
			}
		}
	}
	o.rows = out
	return nil
}

func (o *hashJoinOp) Next() (*Row, error) {
	if o.pos >= len(o.rows) {
		return nil, io.EOF
	}
	r := o.rows[o.pos]
	o.pos++
	return r, nil
}

func (o *hashJoinOp) Close() error {
	o.rows = nil
	if err := o.left.Close(); err != nil {
		return err
	}
	return o.right.Close()
}

func padRight(l *Row, rightSchema *rowSchema) *Row {
	vals := make([]types.Value, 0, len(l.Values)+len(rightSchema.cols))
	vals = append(vals, l.Values...)
	for range rightSchema.cols {
		vals = append(vals, types.Null())
	}
	return &Row{Schema: concatSchema(l.Schema, rightSchema), Values: vals, RID: types.InvalidRID}
}

func padLeft(leftSchema *rowSchema, r *Row) *Row {
	vals := make([]types.Value, 0, len(leftSchema.cols)+len(r.Values))
	for range leftSchema.cols {
		vals = append(vals, types.Null())
	}
	vals = append(vals, r.Values...)
	return &Row{Schema: concatSchema(leftSchema, r.Schema), Values: vals, RID: types.InvalidRID}
}

// ---------------------------- hashAggregateOp ----------------------------

// aggState accumulates one aggregate call's running value for one group.
type aggState struct {
	count    int64
	sum      float64
	hasValue bool
	min, max types.Value
}

type hashAggregateOp struct {
	input      Operator
	groupBy    []sql.Expr
	aggregates []planner.AggCall
	having     sql.Expr

	schema *rowSchema
	rows   []*Row
	pos    int
}

func (o *hashAggregateOp) Schema() *rowSchema { return o.schema }

// Open groups input rows by GroupBy, accumulates Aggregates per group, and
// discards groups Having rejects — all in one eager pass, since hash
// aggregation is a blocking operator that needs every input row before it
// can produce its first output row anyway.
func (o *hashAggregateOp) Open(ctx context.Context) error {
	if err := o.input.Open(ctx); err != nil {
		return err
	}
	rows, err := drain(o.input)
	if err != nil {
		return err
	}

	type group struct {
		vals   []types.Value
		states []*aggState
	}
	groups := make(map[string]*group)
	var order []string

	ensure := func(key string, vals []types.Value) *group {
		g, ok := groups[key]
		if !ok {
			st := make([]*aggState, len(o.aggregates))
			for i := range st {
				st[i] = &aggState{}
			}
			g = &group{vals: vals, states: st}
			groups[key] = g
			order = append(order, key)
		}
		return g
	}

	if len(o.groupBy) == 0 {
		ensure("", nil)
	}

	for _, r := range rows {
		gvals := make([]types.Value, len(o.groupBy))
		for i, ge := range o.groupBy {
			v, err := evalExpr(r, ge)
			if err != nil {
				return err
			}
			gvals[i] = v
		}
		key := string(index.EncodeKey(gvals))
		g := ensure(key, gvals)
		for i, agg := range o.aggregates {
			if err := accumulate(g.states[i], agg, r); err != nil {
				return err
			}
		}
	}

	groupCols := make([]colRef, len(o.groupBy))
	for i, ge := range o.groupBy {
		if cr, ok := ge.(*sql.ColumnRef); ok {
			groupCols[i] = colRef{table: cr.Table, name: cr.Name}
		} else {
			groupCols[i] = colRef{name: fmt.Sprintf("group_%d", i)}
		}
	}
	aggCols := make([]colRef, len(o.aggregates))
	for i, agg := range o.aggregates {
		aggCols[i] = colRef{name: aggCallKey(agg)}
	}
	schema := &rowSchema{cols: append(append([]colRef{}, groupCols...), aggCols...)}
	o.schema = schema

	var outRows []*Row
	for _, key := range order {
		g := groups[key]
		vals := make([]types.Value, 0, len(o.groupBy)+len(o.aggregates))
		vals = append(vals, g.vals...)
		for i, agg := range o.aggregates {
			vals = append(vals, finalizeAgg(g.states[i], agg))
		}
		row := &Row{Schema: schema, Values: vals, RID: types.InvalidRID}
		if o.having != nil {
			hv, err := evalExpr(row, o.having)
			if err != nil {
				return err
			}
			if !truthy(hv) {
				continue
			}
		}
		outRows = append(outRows, row)
	}
	o.rows = outRows
	return nil
}

func (o *hashAggregateOp) Next() (*Row, error) {
	if o.pos >= len(o.rows) {
		return nil, io.EOF
	}
	r := o.rows[o.pos]
	o.pos++
	return r, nil
}

func (o *hashAggregateOp) Close() error {
	o.rows = nil
	return o.input.Close()
}

// aggCallKey names an aggregate's output column by the exprKey signature
// of the FuncCall it was derived from, so evalAggregateRef can resolve the
// same aggregate whether it was collected from the SELECT list or pulled
// in from HAVING (see planner.mergeHavingAggregates).
func aggCallKey(a planner.AggCall) string {
	var args []sql.Expr
	if a.Arg != nil {
		args = []sql.Expr{a.Arg}
	}
	return exprKey(&sql.FuncCall{Name: a.Func, Args: args})
}

func accumulate(st *aggState, agg planner.AggCall, row *Row) error {
	switch agg.Func {
	case "COUNT":
		if _, isStar := agg.Arg.(*sql.StarExpr); isStar || agg.Arg == nil {
			st.count++
			return nil
		}
		v, err := evalExpr(row, agg.Arg)
		if err != nil {
			return err
		}
		if !v.IsNull() {
			st.count++
		}
		return nil
	case "SUM", "AVG":
		v, err := evalExpr(row, agg.Arg)
		if err != nil {
			return err
		}
		if v.IsNull() {
			return nil
		}
		f, ok := v.AsFloat()
		if !ok {
			return errs.New(errs.Type, "%s requires a numeric argument", agg.Func)
		}
		st.sum += f
		st.count++
		st.hasValue = true
		return nil
	case "MIN", "MAX":
		v, err := evalExpr(row, agg.Arg)
		if err != nil {
			return err
		}
		if v.IsNull() {
			return nil
		}
		if !st.hasValue {
			st.min, st.max = v, v
			st.hasValue = true
			return nil
		}
		if v.Compare(st.min) < 0 {
			st.min = v
		}
		if v.Compare(st.max) > 0 {
			st.max = v
		}
		return nil
	default:
		return errs.New(errs.Internal, "unsupported aggregate %q", agg.Func)
	}
}

func finalizeAgg(st *aggState, agg planner.AggCall) types.Value {
	switch agg.Func {
	case "COUNT":
		return types.Int64(st.count)
	case "SUM":
		if !st.hasValue {
			return types.Null()
		}
		return types.Float64(st.sum)
	case "AVG":
		if !st.hasValue || st.count == 0 {
			return types.Null()
		}
		return types.Float64(st.sum / float64(st.count))
	case "MIN":
		if !st.hasValue {
			return types.Null()
		}
		return st.min
	case "MAX":
		if !st.hasValue {
			return types.Null()
		}
		return st.max
	default:
		return types.Null()
	}
}

// ---------------------------- sortOp ----------------------------

type sortOp struct {
	input Operator
	terms []sql.OrderTerm

	schema *rowSchema
	rows   []*Row
	pos    int
}

func (o *sortOp) Schema() *rowSchema { return o.schema }

func (o *sortOp) Open(ctx context.Context) error {
	if err := o.input.Open(ctx); err != nil {
		return err
	}
	rows, err := drain(o.input)
	if err != nil {
		return err
	}
	o.schema = o.input.Schema()

	type keyedRow struct {
		row  *Row
		keys []types.Value
	}
	keyed := make([]keyedRow, len(rows))
	for i, r := range rows {
		keys := make([]types.Value, len(o.terms))
		for j, term := range o.terms {
			v, err := evalExpr(r, term.Expr)
			if err != nil {
				return err
			}
			keys[j] = v
		}
		keyed[i] = keyedRow{row: r, keys: keys}
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		for t, term := range o.terms {
			cmp := keyed[i].keys[t].Compare(keyed[j].keys[t])
			if cmp == 0 {
				continue
			}
			if term.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	out := make([]*Row, len(keyed))
	for i, kr := range keyed {
		out[i] = kr.row
	}
	o.rows = out
	return nil
}

func (o *sortOp) Next() (*Row, error) {
	if o.pos >= len(o.rows) {
		return nil, io.EOF
	}
	r := o.rows[o.pos]
	o.pos++
	return r, nil
}

func (o *sortOp) Close() error {
	o.rows = nil
	return o.input.Close()
}

// ---------------------------- limitOp ----------------------------

type limitOp struct {
	input  Operator
	limit  *int64
	offset *int64

	skipped int64
	emitted int64
}

func (o *limitOp) Schema() *rowSchema          { return o.input.Schema() }
func (o *limitOp) Open(ctx context.Context) error { return o.input.Open(ctx) }
func (o *limitOp) Close() error                { return o.input.Close() }

func (o *limitOp) Next() (*Row, error) {
	if o.limit != nil && o.emitted >= *o.limit {
		return nil, io.EOF
	}
	off := int64(0)
	if o.offset != nil {
		off = *o.offset
	}
	for o.skipped < off {
		if _, err := o.input.Next(); err != nil {
			return nil, err
		}
		o.skipped++
	}
	row, err := o.input.Next()
	if err != nil {
		return nil, err
	}
	o.emitted++
	return row, nil
}
