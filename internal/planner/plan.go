// Package planner turns a parsed sql.Statement into a plan tree of
// physical operators the executor can run (spec §4.10).
//
// What: a rule-based rewrite pipeline (predicate pushdown, constant
// folding, and a common-subexpression pass that drops duplicate WHERE
// conjuncts; there is no projection-pushdown or subquery-flattening pass)
// followed by join-algorithm and index-access selection,
// producing a tree of {SeqScan, IndexScan, Filter, Project,
// NestedLoopJoin, HashJoin, HashAggregate, Sort, Limit, Insert, Update,
// Delete} nodes.
// How: grounded on the teacher's internal/engine/optimizations.go, whose
// HashJoinOptimizer.extractJoinCondition/ProcessOptimizedJoin pick
// hash-join for a recognized equi-join and fall back to nested-loop
// otherwise — the same rule this planner encodes at plan-build time
// instead of per-call at execution time.
// Why: a fixed rule-based pipeline (no cost model, no join reordering)
// matches spec §1's explicit non-goal of "cost-based join reordering
// beyond heuristic rules," and the teacher's own optimizer is itself a
// rule-based (not cost-based) pass.
package planner

import "github.com/kernaldb/kernel/internal/sql"

// Node is implemented by every plan tree node.
type Node interface {
	isNode()
	// Children returns this node's plan inputs, for tree walks.
	Children() []Node
}

// SeqScanNode reads every tuple of a table in heap order.
type SeqScanNode struct {
	Table string
	Alias string
}

func (*SeqScanNode) isNode()            {}
func (*SeqScanNode) Children() []Node    { return nil }

// IndexScanNode reads a table through a secondary index, restricted to
// keys satisfying an equality prefix and an optional trailing range.
type IndexScanNode struct {
	Table     string
	Alias     string
	Index     string
	EqValues  []sql.Expr // equality values for the key's leading columns
	RangeLow  sql.Expr   // inclusive lower bound on the first non-equality key column, or nil
	RangeHigh sql.Expr   // inclusive upper bound, or nil
}

func (*IndexScanNode) isNode()         {}
func (*IndexScanNode) Children() []Node { return nil }

// FilterNode discards tuples for which Predicate is not true.
type FilterNode struct {
	Input     Node
	Predicate sql.Expr
}

func (n *FilterNode) isNode()          {}
func (n *FilterNode) Children() []Node { return []Node{n.Input} }

// ProjectNode evaluates a fixed output column list over its input.
type ProjectNode struct {
	Input Node
	Items []sql.SelectItem
}

func (n *ProjectNode) isNode()          {}
func (n *ProjectNode) Children() []Node { return []Node{n.Input} }

// NestedLoopJoinNode evaluates On for every (left, right) tuple pair.
// Chosen when the join predicate is not a recognized equi-join, or is
// absent (cross join).
type NestedLoopJoinNode struct {
	Left, Right Node
	Type        sql.JoinType
	On          sql.Expr
}

func (n *NestedLoopJoinNode) isNode()          {}
func (n *NestedLoopJoinNode) Children() []Node { return []Node{n.Left, n.Right} }

// HashJoinNode builds a hash table over the build side's key and probes
// it with the other side. buildJoin always builds from the left input;
// no estimate of either side's size is made. Chosen when On is a single
// `=` comparison between two column references (spec §4.10's equi-join
// rule).
type HashJoinNode struct {
	Left, Right     Node
	Type            sql.JoinType
	LeftKey         *sql.ColumnRef
	RightKey        *sql.ColumnRef
	BuildFromLeft   bool // true if Left is the build (hash-table) side
}

func (n *HashJoinNode) isNode()          {}
func (n *HashJoinNode) Children() []Node { return []Node{n.Left, n.Right} }

// AggCall is one aggregate function applied during HashAggregateNode.
type AggCall struct {
	Func  string // COUNT, SUM, AVG, MIN, MAX
	Arg   sql.Expr
	Alias string
}

// HashAggregateNode groups input tuples by GroupBy and computes Aggregates
// per group, discarding groups Having (if set) rejects.
type HashAggregateNode struct {
	Input      Node
	GroupBy    []sql.Expr
	Aggregates []AggCall
	Having     sql.Expr
}

func (n *HashAggregateNode) isNode()          {}
func (n *HashAggregateNode) Children() []Node { return []Node{n.Input} }

// SortNode orders its input by Terms, stably.
type SortNode struct {
	Input Node
	Terms []sql.OrderTerm
}

func (n *SortNode) isNode()          {}
func (n *SortNode) Children() []Node { return []Node{n.Input} }

// LimitNode caps the number of tuples pulled from Input after skipping
// Offset of them.
type LimitNode struct {
	Input  Node
	Limit  *int64
	Offset *int64
}

func (n *LimitNode) isNode()          {}
func (n *LimitNode) Children() []Node { return []Node{n.Input} }

// InsertNode evaluates each row's expressions and inserts the resulting
// tuples into Table.
type InsertNode struct {
	Table   string
	Columns []string
	Rows    [][]sql.Expr
}

func (*InsertNode) isNode()         {}
func (*InsertNode) Children() []Node { return nil }

// UpdateNode applies Assignments to every tuple Input produces.
type UpdateNode struct {
	Input       Node
	Table       string
	Assignments []sql.Assignment
}

func (n *UpdateNode) isNode()          {}
func (n *UpdateNode) Children() []Node { return []Node{n.Input} }

// DeleteNode removes every tuple Input produces.
type DeleteNode struct {
	Input Node
	Table string
}

func (n *DeleteNode) isNode()          {}
func (n *DeleteNode) Children() []Node { return []Node{n.Input} }
