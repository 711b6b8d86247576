package executor

import (
	"github.com/kernaldb/kernel/internal/errs"
	"github.com/kernaldb/kernel/internal/sql"
	"github.com/kernaldb/kernel/internal/types"
)

// evalExpr evaluates e against row, grounded on the teacher's evalExpr
// dispatch switch (internal/engine/exec.go) and its evalBinary/evalUnary/
// evalComparisonBinary/evalArithmeticBinary/evalIn/evalLike/evalIsNull
// helpers, reworked from map[string]any rows and Go `any` arithmetic to
// typed types.Value operands and explicit Kind-aware comparison.
//
// Aggregate FuncCalls (COUNT/SUM/AVG/MIN/MAX) are not evaluated here:
// internal/planner lifts every aggregate call the query needs into a
// HashAggregateNode.Aggregates entry, and hashAggregateOp's output row
// carries one precomputed column per call, named by the call's own
// exprKey-style signature. evalExpr resolves an aggregate FuncCall by
// recomputing that signature and reading the corresponding column,
// rather than evaluating the call's arguments itself.
func evalExpr(row *Row, e sql.Expr) (types.Value, error) {
	switch n := e.(type) {
	case *sql.LiteralExpr:
		return n.Value, nil
	case *sql.ColumnRef:
		idx, ok := row.Schema.resolve(n.Table, n.Name)
		if !ok {
			return types.Value{}, errs.New(errs.Type, "column %q not found", qualifiedName(n.Table, n.Name))
		}
		return row.Values[idx], nil
	case *sql.StarExpr:
		return types.Value{}, errs.New(errs.Internal, "'*' cannot be evaluated as a scalar expression")
	case *sql.UnaryExpr:
		return evalUnary(n, row)
	case *sql.BinaryExpr:
		return evalBinary(n, row)
	case *sql.IsNullExpr:
		return evalIsNull(n, row)
	case *sql.BetweenExpr:
		return evalBetween(n, row)
	case *sql.InExpr:
		return evalIn(n, row)
	case *sql.FuncCall:
		return evalAggregateRef(n, row)
	default:
		return types.Value{}, errs.New(errs.Internal, "executor: unhandled expression %T", e)
	}
}

func qualifiedName(table, name string) string {
	if table == "" {
		return name
	}
	return table + "." + name
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

func isAggregateFuncName(name string) bool {
	switch name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	}
	return false
}

func evalAggregateRef(fc *sql.FuncCall, row *Row) (types.Value, error) {
	if !isAggregateFuncName(fc.Name) {
		return types.Value{}, errs.New(errs.Parse, "unsupported function %q", fc.Name)
	}
	sig := exprKey(fc)
	idx, ok := row.Schema.resolve("", sig)
	if !ok {
		return types.Value{}, errs.New(errs.Internal, "aggregate %s evaluated outside an aggregate result row", sig)
	}
	return row.Values[idx], nil
}

func evalUnary(n *sql.UnaryExpr, row *Row) (types.Value, error) {
	v, err := evalExpr(row, n.X)
	if err != nil {
		return types.Value{}, err
	}
	switch n.Op {
	case "-":
		if v.IsNull() {
			return types.Null(), nil
		}
		f, ok := v.AsFloat()
		if !ok {
			return types.Value{}, errs.New(errs.Type, "unary - requires a numeric operand")
		}
		if v.Kind == types.KindFloat64 {
			return types.Float64(-f), nil
		}
		return types.Int64(-v.I), nil
	case "NOT":
		if v.IsNull() {
			return types.Null(), nil
		}
		return types.Bool(v.I == 0), nil
	default:
		return types.Value{}, errs.New(errs.Internal, "unknown unary operator %q", n.Op)
	}
}

func evalBinary(n *sql.BinaryExpr, row *Row) (types.Value, error) {
	switch n.Op {
	case "AND":
		return evalAnd(n, row)
	case "OR":
		return evalOr(n, row)
	}
	lv, err := evalExpr(row, n.L)
	if err != nil {
		return types.Value{}, err
	}
	rv, err := evalExpr(row, n.R)
	if err != nil {
		return types.Value{}, err
	}
	switch n.Op {
	case "+", "-", "*", "/", "%":
		return evalArithmetic(n.Op, lv, rv)
	case "=", "!=", "<>", "<", "<=", ">", ">=":
		return evalComparison(n.Op, lv, rv)
	case "LIKE":
		return evalLike(lv, rv)
	default:
		return types.Value{}, errs.New(errs.Internal, "unknown binary operator %q", n.Op)
	}
}

// evalAnd/evalOr implement SQL three-valued logic (NULL propagates unless
// short-circuited by a decisive FALSE/TRUE operand), matching the
// teacher's triAnd/triOr truth table under types.Value.
func evalAnd(n *sql.BinaryExpr, row *Row) (types.Value, error) {
	lv, err := evalExpr(row, n.L)
	if err != nil {
		return types.Value{}, err
	}
	if !lv.IsNull() && lv.I == 0 {
		return types.Bool(false), nil
	}
	rv, err := evalExpr(row, n.R)
	if err != nil {
		return types.Value{}, err
	}
	if !rv.IsNull() && rv.I == 0 {
		return types.Bool(false), nil
	}
	if lv.IsNull() || rv.IsNull() {
		return types.Null(), nil
	}
	return types.Bool(true), nil
}

func evalOr(n *sql.BinaryExpr, row *Row) (types.Value, error) {
	lv, err := evalExpr(row, n.L)
	if err != nil {
		return types.Value{}, err
	}
	if !lv.IsNull() && lv.I != 0 {
		return types.Bool(true), nil
	}
	rv, err := evalExpr(row, n.R)
	if err != nil {
		return types.Value{}, err
	}
	if !rv.IsNull() && rv.I != 0 {
		return types.Bool(true), nil
	}
	if lv.IsNull() || rv.IsNull() {
		return types.Null(), nil
	}
	return types.Bool(false), nil
}

func evalArithmetic(op string, l, r types.Value) (types.Value, error) {
	if l.IsNull() || r.IsNull() {
		return types.Null(), nil
	}
	lf, lok := l.AsFloat()
	rf, rok := r.AsFloat()
	if !lok || !rok {
		return types.Value{}, errs.New(errs.Type, "operator %s requires numeric operands", op)
	}
	useFloat := l.Kind == types.KindFloat64 || r.Kind == types.KindFloat64
	switch op {
	case "+":
		if useFloat {
			return types.Float64(lf + rf), nil
		}
		return types.Int64(l.I + r.I), nil
	case "-":
		if useFloat {
			return types.Float64(lf - rf), nil
		}
		return types.Int64(l.I - r.I), nil
	case "*":
		if useFloat {
			return types.Float64(lf * rf), nil
		}
		return types.Int64(l.I * r.I), nil
	case "/":
		if rf == 0 {
			return types.Value{}, errs.New(errs.Constraint, "division by zero")
		}
		if useFloat {
			return types.Float64(lf / rf), nil
		}
		return types.Int64(l.I / r.I), nil
	case "%":
		if r.I == 0 {
			return types.Value{}, errs.New(errs.Constraint, "modulo by zero")
		}
		return types.Int64(l.I % r.I), nil
	default:
		return types.Value{}, errs.New(errs.Internal, "unknown arithmetic operator %q", op)
	}
}

func evalComparison(op string, l, r types.Value) (types.Value, error) {
	if l.IsNull() || r.IsNull() {
		return types.Null(), nil
	}
	cmp := l.Compare(r)
	switch op {
	case "=":
		return types.Bool(cmp == 0), nil
	case "!=", "<>":
		return types.Bool(cmp != 0), nil
	case "<":
		return types.Bool(cmp < 0), nil
	case "<=":
		return types.Bool(cmp <= 0), nil
	case ">":
		return types.Bool(cmp > 0), nil
	case ">=":
		return types.Bool(cmp >= 0), nil
	default:
		return types.Value{}, errs.New(errs.Internal, "unknown comparison operator %q", op)
	}
}

// evalLike implements SQL LIKE with `%` and `_` wildcards (spec §4.9),
// grounded on the teacher's matchLikePattern but rewritten against plain
// strings instead of a rune-escape-aware scanner, since the grammar here
// has no ESCAPE clause.
func evalLike(l, r types.Value) (types.Value, error) {
	if l.IsNull() || r.IsNull() {
		return types.Null(), nil
	}
	return types.Bool(matchLike(l.S, r.S)), nil
}

func matchLike(s, pattern string) bool {
	return matchLikeRunes([]rune(s), []rune(pattern))
}

func matchLikeRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if matchLikeRunes(s[i:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return matchLikeRunes(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return matchLikeRunes(s[1:], p[1:])
	}
}

func evalIsNull(n *sql.IsNullExpr, row *Row) (types.Value, error) {
	v, err := evalExpr(row, n.X)
	if err != nil {
		return types.Value{}, err
	}
	isNull := v.IsNull()
	if n.Not {
		isNull = !isNull
	}
	return types.Bool(isNull), nil
}

func evalBetween(n *sql.BetweenExpr, row *Row) (types.Value, error) {
	v, err := evalExpr(row, n.X)
	if err != nil {
		return types.Value{}, err
	}
	lo, err := evalExpr(row, n.Low)
	if err != nil {
		return types.Value{}, err
	}
	hi, err := evalExpr(row, n.High)
	if err != nil {
		return types.Value{}, err
	}
	if v.IsNull() || lo.IsNull() || hi.IsNull() {
		return types.Null(), nil
	}
	in := v.Compare(lo) >= 0 && v.Compare(hi) <= 0
	if n.Not {
		in = !in
	}
	return types.Bool(in), nil
}

func evalIn(n *sql.InExpr, row *Row) (types.Value, error) {
	v, err := evalExpr(row, n.X)
	if err != nil {
		return types.Value{}, err
	}
	if v.IsNull() {
		return types.Null(), nil
	}
	sawNull := false
	found := false
	for _, item := range n.List {
		iv, err := evalExpr(row, item)
		if err != nil {
			return types.Value{}, err
		}
		if iv.IsNull() {
			sawNull = true
			continue
		}
		if v.Equal(iv) {
			found = true
			break
		}
	}
	if found {
		return types.Bool(!n.Not), nil
	}
	if sawNull {
		return types.Null(), nil
	}
	return types.Bool(n.Not), nil
}

// truthy reports whether v is SQL-true (non-NULL, non-zero), the
// predicate every Filter/Having/join-ON test applies to an evaluated
// expression, mirroring the teacher's `toTri(val) == tvTrue` checks.
func truthy(v types.Value) bool {
	return !v.IsNull() && v.I != 0
}
