package planner

import (
	"github.com/kernaldb/kernel/internal/catalog"
	"github.com/kernaldb/kernel/internal/errs"
	"github.com/kernaldb/kernel/internal/sql"
	"github.com/kernaldb/kernel/internal/types"
)

// Planner builds a physical plan tree from a parsed statement, using the
// catalog to resolve table schemas and candidate indexes.
type Planner struct {
	cat *catalog.Catalog
}

// New builds a Planner bound to cat.
func New(cat *catalog.Catalog) *Planner {
	return &Planner{cat: cat}
}

// Build compiles stmt into a plan tree.
func (p *Planner) Build(stmt sql.Statement) (Node, error) {
	switch s := stmt.(type) {
	case *sql.SelectStmt:
		return p.buildSelect(s)
	case *sql.InsertStmt:
		return &InsertNode{Table: s.Table, Columns: s.Columns, Rows: s.Rows}, nil
	case *sql.UpdateStmt:
		return p.buildUpdate(s)
	case *sql.DeleteStmt:
		return p.buildDelete(s)
	default:
		return nil, errs.New(errs.Internal, "planner: %T has no physical plan (DDL/txn statements execute directly)", stmt)
	}
}

// ---------------------------- SELECT ----------------------------

func (p *Planner) buildSelect(s *sql.SelectStmt) (Node, error) {
	foldSelectItems(s.Columns)
	where := foldConstants(s.Where)
	conjuncts := dedupExprs(splitAnd(where))

	base, remaining, err := p.buildTableAccess(s.From, s.FromAs, conjuncts)
	if err != nil {
		return nil, err
	}
	conjuncts = remaining
	var plan Node = base

	for _, j := range s.Joins {
		right, rightRemaining, err := p.buildTableAccess(j.Table, j.Alias, conjuncts)
		if err != nil {
			return nil, err
		}
		conjuncts = rightRemaining
		on := foldConstants(j.On)
		plan = buildJoin(plan, right, j.Type, on)
	}

	// Predicate pushdown already consumed table-local conjuncts as Filters
	// directly under each scan inside buildTableAccess; whatever remains
	// references more than one table (a join predicate folded into the ON
	// clause above) or could not be attributed to a single side, so it is
	// applied as a residual Filter above the join tree.
	if len(conjuncts) > 0 {
		plan = &FilterNode{Input: plan, Predicate: reAnd(conjuncts)}
	}

	aggs := collectAggregates(s.Columns)
	having := foldConstants(s.Having)
	aggs = mergeHavingAggregates(aggs, having)
	if len(s.GroupBy) > 0 || len(aggs) > 0 {
		plan = &HashAggregateNode{
			Input:      plan,
			GroupBy:    s.GroupBy,
			Aggregates: aggs,
			Having:     having,
		}
	}

	if len(s.OrderBy) > 0 {
		plan = &SortNode{Input: plan, Terms: s.OrderBy}
	}

	if !isSelectStar(s.Columns) {
		plan = &ProjectNode{Input: plan, Items: s.Columns}
	}

	if s.Limit != nil || s.Offset != nil {
		plan = &LimitNode{Input: plan, Limit: s.Limit, Offset: s.Offset}
	}

	return plan, nil
}

// foldSelectItems applies constant folding to each projected expression in
// place, e.g. rewriting `SELECT 1 + 2` into a single literal before the
// executor ever sees it.
func foldSelectItems(items []sql.SelectItem) {
	for i, it := range items {
		if it.Star || it.Expr == nil {
			continue
		}
		items[i].Expr = foldConstants(it.Expr)
	}
}

func isSelectStar(items []sql.SelectItem) bool {
	return len(items) == 1 && items[0].Star
}

func collectAggregates(items []sql.SelectItem) []AggCall {
	var out []AggCall
	for _, it := range items {
		fc, ok := it.Expr.(*sql.FuncCall)
		if !ok || !isAggregateFunc(fc.Name) {
			continue
		}
		var arg sql.Expr
		if len(fc.Args) > 0 {
			arg = fc.Args[0]
		}
		alias := it.Alias
		if alias == "" {
			alias = fc.Name
		}
		out = append(out, AggCall{Func: fc.Name, Arg: arg, Alias: alias})
	}
	return out
}

// mergeHavingAggregates adds an AggCall for every aggregate function
// referenced in having that isn't already covered by aggs (the ones
// collected from the select list), so `HAVING COUNT(*) > 1` computes
// correctly even when COUNT(*) doesn't itself appear as a projected
// column. Extra entries are keyed by their own exprKey signature rather
// than a user-facing alias, since nothing projects them.
func mergeHavingAggregates(aggs []AggCall, having sql.Expr) []AggCall {
	seen := make(map[string]bool, len(aggs))
	for _, a := range aggs {
		seen[exprKey(&sql.FuncCall{Name: a.Func, Args: singletonArgs(a.Arg)})] = true
	}
	var extra []AggCall
	var walk func(e sql.Expr)
	walk = func(e sql.Expr) {
		switch n := e.(type) {
		case nil:
		case *sql.FuncCall:
			if isAggregateFunc(n.Name) {
				key := exprKey(n)
				if !seen[key] {
					seen[key] = true
					var arg sql.Expr
					if len(n.Args) > 0 {
						arg = n.Args[0]
					}
					extra = append(extra, AggCall{Func: n.Name, Arg: arg, Alias: key})
				}
				return
			}
			for _, a := range n.Args {
				walk(a)
			}
		case *sql.BinaryExpr:
			walk(n.L)
			walk(n.R)
		case *sql.UnaryExpr:
			walk(n.X)
		case *sql.IsNullExpr:
			walk(n.X)
		case *sql.BetweenExpr:
			walk(n.X)
			walk(n.Low)
			walk(n.High)
		case *sql.InExpr:
			walk(n.X)
			for _, it := range n.List {
				walk(it)
			}
		}
	}
	walk(having)
	return append(aggs, extra...)
}

func singletonArgs(arg sql.Expr) []sql.Expr {
	if arg == nil {
		return nil
	}
	return []sql.Expr{arg}
}

func isAggregateFunc(name string) bool {
	switch name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	}
	return false
}

// buildTableAccess picks an index scan when a prefix of conjuncts matches
// an index key (spec §4.10's index-selection rule), falling back to a
// sequential scan, and pushes every conjunct it can attribute solely to
// table/alias down as a Filter directly above the chosen scan.
func (p *Planner) buildTableAccess(table, alias string, conjuncts []sql.Expr) (Node, []sql.Expr, error) {
	ref := alias
	if ref == "" {
		ref = table
	}
	local, rest := partitionByTable(conjuncts, ref, table)

	scan, consumed := p.chooseIndexScan(table, alias, local)
	var unconsumed []sql.Expr
	for _, c := range local {
		if !containsExpr(consumed, c) {
			unconsumed = append(unconsumed, c)
		}
	}
	var node Node = scan
	if len(unconsumed) > 0 {
		node = &FilterNode{Input: scan, Predicate: reAnd(unconsumed)}
	}
	return node, rest, nil
}

// partitionByTable splits conjuncts into those referencing only ref/table
// (and unqualified column names, which are assumed to belong to whichever
// single table is in scope) and everything else.
func partitionByTable(conjuncts []sql.Expr, ref, table string) (local, rest []sql.Expr) {
	for _, c := range conjuncts {
		tabs := referencedTables(c)
		if len(tabs) == 0 {
			local = append(local, c)
			continue
		}
		onlyThis := true
		for t := range tabs {
			if t != ref && t != table {
				onlyThis = false
				break
			}
		}
		if onlyThis {
			local = append(local, c)
		} else {
			rest = append(rest, c)
		}
	}
	return local, rest
}

func referencedTables(e sql.Expr) map[string]bool {
	out := map[string]bool{}
	var walk func(sql.Expr)
	walk = func(e sql.Expr) {
		switch n := e.(type) {
		case *sql.ColumnRef:
			if n.Table != "" {
				out[n.Table] = true
			}
		case *sql.BinaryExpr:
			walk(n.L)
			walk(n.R)
		case *sql.UnaryExpr:
			walk(n.X)
		case *sql.IsNullExpr:
			walk(n.X)
		case *sql.BetweenExpr:
			walk(n.X)
			walk(n.Low)
			walk(n.High)
		case *sql.InExpr:
			walk(n.X)
			for _, it := range n.List {
				walk(it)
			}
		case *sql.FuncCall:
			for _, a := range n.Args {
				walk(a)
			}
		}
	}
	walk(e)
	return out
}

// chooseIndexScan tries every index on table and keeps the one whose key
// prefix is satisfied by the longest run of equality conjuncts (optionally
// followed by one range conjunct on the next key column), per spec §4.10.
func (p *Planner) chooseIndexScan(table, alias string, conjuncts []sql.Expr) (Node, []sql.Expr) {
	tm, ok := p.cat.GetTable(table)
	if !ok {
		return &SeqScanNode{Table: table, Alias: alias}, nil
	}
	var best *IndexScanNode
	var bestConsumed []sql.Expr
	bestLen := 0
	for _, idx := range p.cat.ListIndexes(table) {
		var eqValues []sql.Expr
		var consumed []sql.Expr
		var rangeLow, rangeHigh sql.Expr
		matched := 0
		for _, pos := range idx.KeyColumns {
			if pos >= len(tm.Schema.Columns) {
				break
			}
			colName := tm.Schema.Columns[pos].Name
			if eq, c, found := findEquality(conjuncts, colName); found {
				eqValues = append(eqValues, eq)
				consumed = append(consumed, c)
				matched++
				continue
			}
			if low, high, c, found := findRange(conjuncts, colName); found {
				rangeLow, rangeHigh = low, high
				consumed = append(consumed, c)
				matched++
			}
			break
		}
		if matched > bestLen {
			bestLen = matched
			best = &IndexScanNode{
				Table: table, Alias: alias, Index: idx.Name,
				EqValues: eqValues, RangeLow: rangeLow, RangeHigh: rangeHigh,
			}
			bestConsumed = consumed
		}
	}
	if best != nil {
		return best, bestConsumed
	}
	return &SeqScanNode{Table: table, Alias: alias}, nil
}

func findEquality(conjuncts []sql.Expr, col string) (value sql.Expr, source sql.Expr, ok bool) {
	for _, c := range conjuncts {
		bin, isBin := c.(*sql.BinaryExpr)
		if !isBin || bin.Op != "=" {
			continue
		}
		if ref, lit, matched := matchColumnLiteral(bin, col); matched {
			_ = ref
			return lit, c, true
		}
	}
	return nil, nil, false
}

func findRange(conjuncts []sql.Expr, col string) (low, high sql.Expr, source sql.Expr, ok bool) {
	for _, c := range conjuncts {
		switch n := c.(type) {
		case *sql.BetweenExpr:
			if ref, isCol := n.X.(*sql.ColumnRef); isCol && ref.Name == col {
				return n.Low, n.High, c, true
			}
		case *sql.BinaryExpr:
			switch n.Op {
			case "<", "<=":
				if ref, isCol := n.L.(*sql.ColumnRef); isCol && ref.Name == col {
					return nil, n.R, c, true
				}
			case ">", ">=":
				if ref, isCol := n.L.(*sql.ColumnRef); isCol && ref.Name == col {
					return n.R, nil, c, true
				}
			}
		}
	}
	return nil, nil, nil, false
}

// matchColumnLiteral reports whether bin is `col = literal` or
// `literal = col`, in either operand order.
func matchColumnLiteral(bin *sql.BinaryExpr, col string) (*sql.ColumnRef, sql.Expr, bool) {
	if ref, ok := bin.L.(*sql.ColumnRef); ok && ref.Name == col {
		return ref, bin.R, true
	}
	if ref, ok := bin.R.(*sql.ColumnRef); ok && ref.Name == col {
		return ref, bin.L, true
	}
	return nil, nil, false
}

func containsExpr(list []sql.Expr, target sql.Expr) bool {
	for _, e := range list {
		if e == target {
			return true
		}
	}
	return false
}

// ------------------------------ JOIN ------------------------------

// buildJoin chooses HashJoin for a recognized single-column equi-join
// (spec §4.10), else NestedLoopJoin — grounded on the teacher's
// HashJoinOptimizer.extractJoinCondition/ProcessOptimizedJoin split.
func buildJoin(left, right Node, jt sql.JoinType, on sql.Expr) Node {
	bin, ok := on.(*sql.BinaryExpr)
	if !ok || bin.Op != "=" {
		return &NestedLoopJoinNode{Left: left, Right: right, Type: jt, On: on}
	}
	lref, lok := bin.L.(*sql.ColumnRef)
	rref, rok := bin.R.(*sql.ColumnRef)
	if !lok || !rok {
		return &NestedLoopJoinNode{Left: left, Right: right, Type: jt, On: on}
	}
	return &HashJoinNode{Left: left, Right: right, Type: jt, LeftKey: lref, RightKey: rref, BuildFromLeft: true}
}

// ---------------------------- UPDATE/DELETE ----------------------------

func (p *Planner) buildUpdate(s *sql.UpdateStmt) (Node, error) {
	input, _, err := p.buildTableAccess(s.Table, "", dedupExprs(splitAnd(foldConstants(s.Where))))
	if err != nil {
		return nil, err
	}
	return &UpdateNode{Input: input, Table: s.Table, Assignments: s.Assignments}, nil
}

func (p *Planner) buildDelete(s *sql.DeleteStmt) (Node, error) {
	input, _, err := p.buildTableAccess(s.Table, "", dedupExprs(splitAnd(foldConstants(s.Where))))
	if err != nil {
		return nil, err
	}
	return &DeleteNode{Input: input, Table: s.Table}, nil
}

// ------------------------- rewrite rules -------------------------

// splitAnd flattens a tree of AND conjunctions into its leaf conjuncts.
// A nil expr yields no conjuncts.
func splitAnd(e sql.Expr) []sql.Expr {
	if e == nil {
		return nil
	}
	if bin, ok := e.(*sql.BinaryExpr); ok && bin.Op == "AND" {
		return append(splitAnd(bin.L), splitAnd(bin.R)...)
	}
	return []sql.Expr{e}
}

// reAnd rebuilds a single expression ANDing every conjunct together.
func reAnd(conjuncts []sql.Expr) sql.Expr {
	if len(conjuncts) == 0 {
		return nil
	}
	out := conjuncts[0]
	for _, c := range conjuncts[1:] {
		out = &sql.BinaryExpr{Op: "AND", L: out, R: c}
	}
	return out
}

// dedupExprs is the planner's common-subexpression-elimination pass: two
// WHERE conjuncts that are syntactically identical are redundant (the
// second can never change the result), so only the first occurrence is
// kept. The AST carries no subquery expression node, so a general CSE
// pass over shared subquery results does not apply here; this covers the
// one form of duplication the fixed grammar can actually produce.
func dedupExprs(conjuncts []sql.Expr) []sql.Expr {
	seen := map[string]bool{}
	var out []sql.Expr
	for _, c := range conjuncts {
		key := exprKey(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func exprKey(e sql.Expr) string {
	switch n := e.(type) {
	case nil:
		return ""
	case *sql.LiteralExpr:
		return "L:" + n.Value.Kind.String() + ":" + n.Value.String()
	case *sql.ColumnRef:
		return "C:" + n.Table + "." + n.Name
	case *sql.StarExpr:
		return "*"
	case *sql.UnaryExpr:
		return "U(" + n.Op + "," + exprKey(n.X) + ")"
	case *sql.BinaryExpr:
		return "B(" + n.Op + "," + exprKey(n.L) + "," + exprKey(n.R) + ")"
	case *sql.IsNullExpr:
		return "IN(" + exprKey(n.X) + ")"
	case *sql.BetweenExpr:
		return "BT(" + exprKey(n.X) + "," + exprKey(n.Low) + "," + exprKey(n.High) + ")"
	case *sql.InExpr:
		s := "IL(" + exprKey(n.X)
		for _, it := range n.List {
			s += "," + exprKey(it)
		}
		return s + ")"
	case *sql.FuncCall:
		s := "F(" + n.Name
		for _, a := range n.Args {
			s += "," + exprKey(a)
		}
		return s + ")"
	default:
		return "?"
	}
}

// foldConstants evaluates subtrees whose operands are all literals,
// replacing them with their computed LiteralExpr result. Anything
// involving a column reference is left untouched for the executor.
func foldConstants(e sql.Expr) sql.Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *sql.UnaryExpr:
		x := foldConstants(n.X)
		if lit, ok := x.(*sql.LiteralExpr); ok {
			if folded, ok := foldUnary(n.Op, lit.Value); ok {
				return &sql.LiteralExpr{Value: folded}
			}
		}
		return &sql.UnaryExpr{Op: n.Op, X: x}
	case *sql.BinaryExpr:
		l := foldConstants(n.L)
		r := foldConstants(n.R)
		litL, okL := l.(*sql.LiteralExpr)
		litR, okR := r.(*sql.LiteralExpr)
		if okL && okR {
			if folded, ok := foldBinary(n.Op, litL.Value, litR.Value); ok {
				return &sql.LiteralExpr{Value: folded}
			}
		}
		return &sql.BinaryExpr{Op: n.Op, L: l, R: r}
	case *sql.IsNullExpr:
		return &sql.IsNullExpr{X: foldConstants(n.X), Not: n.Not}
	case *sql.BetweenExpr:
		return &sql.BetweenExpr{X: foldConstants(n.X), Low: foldConstants(n.Low), High: foldConstants(n.High), Not: n.Not}
	case *sql.InExpr:
		list := make([]sql.Expr, len(n.List))
		for i, it := range n.List {
			list[i] = foldConstants(it)
		}
		return &sql.InExpr{X: foldConstants(n.X), List: list, Not: n.Not}
	case *sql.FuncCall:
		args := make([]sql.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = foldConstants(a)
		}
		return &sql.FuncCall{Name: n.Name, Args: args, Distinct: n.Distinct}
	default:
		return e
	}
}

func foldUnary(op string, v types.Value) (types.Value, bool) {
	switch op {
	case "-":
		if f, ok := v.AsFloat(); ok {
			if v.Kind == types.KindFloat64 {
				return types.Float64(-f), true
			}
			return types.Int64(-int64(f)), true
		}
	case "NOT":
		if v.Kind == types.KindBool {
			return types.Bool(v.I == 0), true
		}
	}
	return types.Value{}, false
}

func foldBinary(op string, l, r types.Value) (types.Value, bool) {
	switch op {
	case "+", "-", "*", "/", "%":
		lf, lok := l.AsFloat()
		rf, rok := r.AsFloat()
		if !lok || !rok {
			return types.Value{}, false
		}
		var res float64
		switch op {
		case "+":
			res = lf + rf
		case "-":
			res = lf - rf
		case "*":
			res = lf * rf
		case "/":
			if rf == 0 {
				return types.Value{}, false
			}
			res = lf / rf
		case "%":
			if rf == 0 {
				return types.Value{}, false
			}
			res = float64(int64(lf) % int64(rf))
		}
		if l.Kind == types.KindFloat64 || r.Kind == types.KindFloat64 || op == "/" {
			return types.Float64(res), true
		}
		return types.Int64(int64(res)), true
	case "=", "!=", "<>", "<", "<=", ">", ">=":
		cmp := l.Compare(r)
		var b bool
		switch op {
		case "=":
			b = cmp == 0
		case "!=", "<>":
			b = cmp != 0
		case "<":
			b = cmp < 0
		case "<=":
			b = cmp <= 0
		case ">":
			b = cmp > 0
		case ">=":
			b = cmp >= 0
		}
		return types.Bool(b), true
	case "AND":
		if l.Kind == types.KindBool && r.Kind == types.KindBool {
			return types.Bool(l.I != 0 && r.I != 0), true
		}
	case "OR":
		if l.Kind == types.KindBool && r.Kind == types.KindBool {
			return types.Bool(l.I != 0 || r.I != 0), true
		}
	}
	return types.Value{}, false
}
