package sql

import (
	"testing"

	"github.com/kernaldb/kernel/internal/types"
)

func mustParse(t *testing.T, text string) Statement {
	t.Helper()
	stmt, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return stmt
}

func TestParseCreateTable(t *testing.T) {
	stmt := mustParse(t, `CREATE TABLE IF NOT EXISTS widgets (
		id INT64 PRIMARY KEY,
		name VARCHAR NOT NULL,
		tag CHAR(8) DEFAULT 'n/a',
		price FLOAT64
	)`)
	ct, ok := stmt.(*CreateTableStmt)
	if !ok {
		t.Fatalf("got %T, want *CreateTableStmt", stmt)
	}
	if !ct.IfNotExists || ct.Table != "widgets" || len(ct.Columns) != 4 {
		t.Fatalf("unexpected statement: %+v", ct)
	}
	if ct.Columns[0].Nullable {
		t.Fatalf("primary key column should not be nullable")
	}
	if ct.Columns[1].Nullable {
		t.Fatalf("NOT NULL column should not be nullable")
	}
	lit, ok := ct.Columns[2].Default.(*LiteralExpr)
	if !ok || lit.Value.S != "n/a" {
		t.Fatalf("unexpected default: %+v", ct.Columns[2].Default)
	}
}

func TestParseCreateIndex(t *testing.T) {
	stmt := mustParse(t, `CREATE UNIQUE INDEX idx_id ON widgets (id, name)`)
	ci, ok := stmt.(*CreateIndexStmt)
	if !ok {
		t.Fatalf("got %T, want *CreateIndexStmt", stmt)
	}
	if !ci.Unique || ci.Table != "widgets" || len(ci.Columns) != 2 {
		t.Fatalf("unexpected statement: %+v", ci)
	}
}

func TestParseDropTable(t *testing.T) {
	stmt := mustParse(t, `DROP TABLE IF EXISTS widgets`)
	dt, ok := stmt.(*DropTableStmt)
	if !ok || !dt.IfExists || dt.Table != "widgets" {
		t.Fatalf("unexpected statement: %+v", stmt)
	}
}

func TestParseInsert(t *testing.T) {
	stmt := mustParse(t, `INSERT INTO widgets (id, name) VALUES (1, 'a'), (2, 'b')`)
	ins, ok := stmt.(*InsertStmt)
	if !ok {
		t.Fatalf("got %T, want *InsertStmt", stmt)
	}
	if ins.Table != "widgets" || len(ins.Columns) != 2 || len(ins.Rows) != 2 {
		t.Fatalf("unexpected statement: %+v", ins)
	}
	lit, ok := ins.Rows[1][1].(*LiteralExpr)
	if !ok || lit.Value.S != "b" {
		t.Fatalf("unexpected second row value: %+v", ins.Rows[1][1])
	}
}

func TestParseSelectBasic(t *testing.T) {
	stmt := mustParse(t, `SELECT id, name AS nm FROM widgets WHERE id > 1 AND name LIKE 'w%' ORDER BY id DESC LIMIT 10 OFFSET 5`)
	sel, ok := stmt.(*SelectStmt)
	if !ok {
		t.Fatalf("got %T, want *SelectStmt", stmt)
	}
	if len(sel.Columns) != 2 || sel.Columns[1].Alias != "nm" {
		t.Fatalf("unexpected columns: %+v", sel.Columns)
	}
	if sel.From != "widgets" {
		t.Fatalf("unexpected from: %q", sel.From)
	}
	if sel.Limit == nil || *sel.Limit != 10 || sel.Offset == nil || *sel.Offset != 5 {
		t.Fatalf("unexpected limit/offset: %+v %+v", sel.Limit, sel.Offset)
	}
	if len(sel.OrderBy) != 1 || !sel.OrderBy[0].Desc {
		t.Fatalf("unexpected order by: %+v", sel.OrderBy)
	}
	and, ok := sel.Where.(*BinaryExpr)
	if !ok || and.Op != "AND" {
		t.Fatalf("unexpected where: %+v", sel.Where)
	}
}

func TestParseSelectStarAndAggregate(t *testing.T) {
	stmt := mustParse(t, `SELECT *, COUNT(*), SUM(price) FROM widgets GROUP BY tag HAVING COUNT(*) > 1`)
	sel := stmt.(*SelectStmt)
	if !sel.Columns[0].Star {
		t.Fatalf("expected first item to be star")
	}
	fc, ok := sel.Columns[1].Expr.(*FuncCall)
	if !ok || fc.Name != "COUNT" {
		t.Fatalf("unexpected second item: %+v", sel.Columns[1].Expr)
	}
	if _, ok := fc.Args[0].(*StarExpr); !ok {
		t.Fatalf("expected COUNT(*) arg to be StarExpr")
	}
	if len(sel.GroupBy) != 1 || sel.Having == nil {
		t.Fatalf("unexpected group by/having: %+v %+v", sel.GroupBy, sel.Having)
	}
}

func TestParseSelectJoin(t *testing.T) {
	stmt := mustParse(t, `SELECT a.id FROM widgets AS a LEFT JOIN gadgets AS b ON a.id = b.widget_id`)
	sel := stmt.(*SelectStmt)
	if len(sel.Joins) != 1 || sel.Joins[0].Type != LeftJoin || sel.Joins[0].Table != "gadgets" {
		t.Fatalf("unexpected joins: %+v", sel.Joins)
	}
	on, ok := sel.Joins[0].On.(*BinaryExpr)
	if !ok || on.Op != "=" {
		t.Fatalf("unexpected on clause: %+v", sel.Joins[0].On)
	}
}

func TestParseSelectTemporal(t *testing.T) {
	stmt := mustParse(t, `SELECT id FROM widgets FOR SYSTEM_TIME AS OF TX 42`)
	sel := stmt.(*SelectStmt)
	if sel.Temporal == nil || sel.Temporal.TxID != 42 {
		t.Fatalf("unexpected temporal clause: %+v", sel.Temporal)
	}
}

func TestParseUpdate(t *testing.T) {
	stmt := mustParse(t, `UPDATE widgets SET name = 'x', price = price + 1 WHERE id = 1`)
	upd, ok := stmt.(*UpdateStmt)
	if !ok || len(upd.Assignments) != 2 {
		t.Fatalf("unexpected statement: %+v", stmt)
	}
	bin, ok := upd.Assignments[1].Value.(*BinaryExpr)
	if !ok || bin.Op != "+" {
		t.Fatalf("unexpected assignment expr: %+v", upd.Assignments[1].Value)
	}
}

func TestParseDelete(t *testing.T) {
	stmt := mustParse(t, `DELETE FROM widgets WHERE id IN (1, 2, 3)`)
	del, ok := stmt.(*DeleteStmt)
	if !ok {
		t.Fatalf("got %T, want *DeleteStmt", stmt)
	}
	in, ok := del.Where.(*InExpr)
	if !ok || len(in.List) != 3 {
		t.Fatalf("unexpected where: %+v", del.Where)
	}
}

func TestParseBetweenAndIsNull(t *testing.T) {
	stmt := mustParse(t, `SELECT id FROM widgets WHERE id BETWEEN 1 AND 10 AND name IS NOT NULL`)
	sel := stmt.(*SelectStmt)
	and, ok := sel.Where.(*BinaryExpr)
	if !ok || and.Op != "AND" {
		t.Fatalf("unexpected where: %+v", sel.Where)
	}
	bet, ok := and.L.(*BetweenExpr)
	if !ok {
		t.Fatalf("unexpected left operand: %+v", and.L)
	}
	if lit, ok := bet.Low.(*LiteralExpr); !ok || lit.Value.I != 1 {
		t.Fatalf("unexpected low bound: %+v", bet.Low)
	}
	isn, ok := and.R.(*IsNullExpr)
	if !ok || !isn.Not {
		t.Fatalf("unexpected right operand: %+v", and.R)
	}
}

func TestParseTransactionStatements(t *testing.T) {
	if _, ok := mustParse(t, `BEGIN`).(*BeginStmt); !ok {
		t.Fatalf("expected BeginStmt")
	}
	begin := mustParse(t, `BEGIN TRANSACTION ISOLATION LEVEL SERIALIZABLE`).(*BeginStmt)
	if begin.Isolation != "SERIALIZABLE" {
		t.Fatalf("unexpected isolation: %q", begin.Isolation)
	}
	if _, ok := mustParse(t, `COMMIT`).(*CommitStmt); !ok {
		t.Fatalf("expected CommitStmt")
	}
	if _, ok := mustParse(t, `ROLLBACK`).(*RollbackStmt); !ok {
		t.Fatalf("expected RollbackStmt")
	}
}

func TestParseOperatorPrecedence(t *testing.T) {
	stmt := mustParse(t, `SELECT 1 + 2 * 3 FROM widgets`)
	sel := stmt.(*SelectStmt)
	add, ok := sel.Columns[0].Expr.(*BinaryExpr)
	if !ok || add.Op != "+" {
		t.Fatalf("unexpected expr: %+v", sel.Columns[0].Expr)
	}
	mul, ok := add.R.(*BinaryExpr)
	if !ok || mul.Op != "*" {
		t.Fatalf("expected multiplication nested under addition, got %+v", add.R)
	}
}

func TestParseUnaryMinusAndNot(t *testing.T) {
	stmt := mustParse(t, `SELECT -price FROM widgets WHERE NOT active`)
	sel := stmt.(*SelectStmt)
	un, ok := sel.Columns[0].Expr.(*UnaryExpr)
	if !ok || un.Op != "-" {
		t.Fatalf("unexpected expr: %+v", sel.Columns[0].Expr)
	}
	notExpr, ok := sel.Where.(*UnaryExpr)
	if !ok || notExpr.Op != "NOT" {
		t.Fatalf("unexpected where: %+v", sel.Where)
	}
}

func TestParseQuotedIdentifierAndColumnRef(t *testing.T) {
	stmt := mustParse(t, `SELECT "order" FROM widgets`)
	sel := stmt.(*SelectStmt)
	ref, ok := sel.Columns[0].Expr.(*ColumnRef)
	if !ok || ref.Name != "order" {
		t.Fatalf("unexpected expr: %+v", sel.Columns[0].Expr)
	}
}

func TestParseRejectsTrailingInput(t *testing.T) {
	if _, err := Parse(`SELECT id FROM widgets; DROP TABLE widgets`); err == nil {
		t.Fatalf("expected trailing-input error")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse(`SELECT FROM WHERE`); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLiteralValueKinds(t *testing.T) {
	stmt := mustParse(t, `SELECT 1, 1.5, 'x', TRUE, FALSE, NULL FROM widgets`)
	sel := stmt.(*SelectStmt)
	want := []types.Kind{types.KindInt64, types.KindFloat64, types.KindVarString, types.KindBool, types.KindBool, types.KindNull}
	for i, k := range want {
		lit, ok := sel.Columns[i].Expr.(*LiteralExpr)
		if !ok {
			t.Fatalf("column %d: got %T, want *LiteralExpr", i, sel.Columns[i].Expr)
		}
		if lit.Value.Kind != k {
			t.Fatalf("column %d: kind = %v, want %v", i, lit.Value.Kind, k)
		}
	}
}
