package sql

import (
	"strconv"
	"strings"

	"github.com/kernaldb/kernel/internal/errs"
	"github.com/kernaldb/kernel/internal/types"
)

// Parser holds the lexer and current/peek tokens for recursive-descent
// parsing, grounded on the teacher's internal/engine.Parser shape.
type Parser struct {
	lx   *lexer
	cur  token
	peek token
}

// NewParser creates a parser over text.
func NewParser(text string) *Parser {
	p := &Parser{lx: newLexer(text)}
	p.cur = p.lx.nextToken()
	p.peek = p.lx.nextToken()
	return p
}

// Parse consumes exactly one statement and reports a trailing-input error
// if anything but `;` or EOF follows it.
func Parse(text string) (Statement, error) {
	p := NewParser(text)
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if p.cur.Typ == tSymbol && p.cur.Val == ";" {
		p.next()
	}
	if p.cur.Typ != tEOF {
		return nil, p.errf("unexpected trailing input %q", p.cur.Val)
	}
	return stmt, nil
}

func (p *Parser) next() { p.cur, p.peek = p.peek, p.lx.nextToken() }

func (p *Parser) errf(format string, a ...any) error {
	return errs.New(errs.Parse, "near %q: "+format, append([]any{p.cur.Val}, a...)...)
}

func (p *Parser) isKeyword(kw string) bool { return p.cur.Typ == tKeyword && p.cur.Val == kw }
func (p *Parser) isSymbol(sym string) bool { return p.cur.Typ == tSymbol && p.cur.Val == sym }

func (p *Parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.errf("expected keyword %q", kw)
	}
	p.next()
	return nil
}

func (p *Parser) expectSymbol(sym string) error {
	if !p.isSymbol(sym) {
		return p.errf("expected %q", sym)
	}
	p.next()
	return nil
}

// ident accepts an identifier, a quoted identifier (tIdent either way), or
// a keyword used as an identifier — spec §4.9's `"`-and-backtick quoting
// plus practical column-naming leniency the teacher's parser also allows.
func (p *Parser) ident() (string, error) {
	if p.cur.Typ == tIdent || p.cur.Typ == tKeyword {
		name := p.cur.Val
		p.next()
		return name, nil
	}
	return "", p.errf("expected identifier")
}

func (p *Parser) parseStatement() (Statement, error) {
	switch {
	case p.isKeyword("CREATE"):
		return p.parseCreate()
	case p.isKeyword("DROP"):
		return p.parseDropTable()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("SELECT"):
		return p.parseSelect()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("BEGIN"):
		return p.parseBegin()
	case p.isKeyword("COMMIT"):
		p.next()
		return &CommitStmt{}, nil
	case p.isKeyword("ROLLBACK"):
		p.next()
		return &RollbackStmt{}, nil
	default:
		return nil, p.errf("expected a statement")
	}
}

// ------------------------------- DDL -------------------------------

func (p *Parser) parseCreate() (Statement, error) {
	p.next() // CREATE
	if p.isKeyword("TABLE") {
		return p.parseCreateTable()
	}
	unique := false
	if p.isKeyword("UNIQUE") {
		unique = true
		p.next()
	}
	if p.isKeyword("INDEX") {
		return p.parseCreateIndex(unique)
	}
	return nil, p.errf("expected TABLE or INDEX after CREATE")
}

func (p *Parser) parseIfNotExists() (bool, error) {
	if !p.isKeyword("IF") {
		return false, nil
	}
	p.next()
	if err := p.expectKeyword("NOT"); err != nil {
		return false, err
	}
	if err := p.expectKeyword("EXISTS"); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Parser) parseCreateTable() (Statement, error) {
	p.next() // TABLE
	ifNotExists, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var cols []ColumnDef
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.isSymbol(",") {
			p.next()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &CreateTableStmt{Table: name, Columns: cols, IfNotExists: ifNotExists}, nil
}

func (p *Parser) parseColumnDef() (ColumnDef, error) {
	name, err := p.ident()
	if err != nil {
		return ColumnDef{}, err
	}
	kind, length, err := p.parseTypeName()
	if err != nil {
		return ColumnDef{}, err
	}
	col := ColumnDef{Name: name, Kind: kind, Length: length, Nullable: true}
	for {
		switch {
		case p.isKeyword("NOT"):
			p.next()
			if err := p.expectKeyword("NULL"); err != nil {
				return ColumnDef{}, err
			}
			col.Nullable = false
		case p.isKeyword("NULL"):
			p.next()
			col.Nullable = true
		case p.isKeyword("PRIMARY"):
			p.next()
			if err := p.expectKeyword("KEY"); err != nil {
				return ColumnDef{}, err
			}
			col.Nullable = false
		case p.isKeyword("DEFAULT"):
			p.next()
			e, err := p.parseExpr()
			if err != nil {
				return ColumnDef{}, err
			}
			col.Default = e
		default:
			return col, nil
		}
	}
}

func (p *Parser) parseTypeName() (types.Kind, int, error) {
	if p.cur.Typ != tKeyword && p.cur.Typ != tIdent {
		return 0, 0, p.errf("expected a type name")
	}
	name := strings.ToUpper(p.cur.Val)
	p.next()
	length := 0
	if p.isSymbol("(") {
		p.next()
		n, err := p.expectNumberLiteral()
		if err != nil {
			return 0, 0, err
		}
		length = int(n)
		if err := p.expectSymbol(")"); err != nil {
			return 0, 0, err
		}
	}
	switch name {
	case "BOOL", "BOOLEAN":
		return types.KindBool, 0, nil
	case "INT8":
		return types.KindInt8, 0, nil
	case "INT16":
		return types.KindInt16, 0, nil
	case "INT32", "INT":
		return types.KindInt32, 0, nil
	case "INT64", "BIGINT":
		return types.KindInt64, 0, nil
	case "FLOAT64", "FLOAT", "DOUBLE":
		return types.KindFloat64, 0, nil
	case "CHAR":
		return types.KindFixedString, length, nil
	case "VARCHAR", "TEXT", "STRING":
		return types.KindVarString, 0, nil
	case "BLOB":
		return types.KindBlob, 0, nil
	case "TIMESTAMP", "DATE", "DATETIME", "TIME":
		return types.KindTimestamp, 0, nil
	case "VECTOR":
		return types.KindVector, length, nil
	default:
		return 0, 0, p.errf("unknown type %q", name)
	}
}

func (p *Parser) expectNumberLiteral() (int64, error) {
	if p.cur.Typ != tNumber {
		return 0, p.errf("expected a number")
	}
	n, err := strconv.ParseInt(p.cur.Val, 10, 64)
	if err != nil {
		return 0, p.errf("invalid number %q", p.cur.Val)
	}
	p.next()
	return n, nil
}

func (p *Parser) parseCreateIndex(unique bool) (Statement, error) {
	p.next() // INDEX
	ifNotExists, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		c, err := p.ident()
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
		if p.isSymbol(",") {
			p.next()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &CreateIndexStmt{Name: name, Table: table, Columns: cols, Unique: unique, IfNotExists: ifNotExists}, nil
}

func (p *Parser) parseDropTable() (Statement, error) {
	p.next() // DROP
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	ifExists := false
	if p.isKeyword("IF") {
		p.next()
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		ifExists = true
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	return &DropTableStmt{Table: name, IfExists: ifExists}, nil
}

// ------------------------------- DML -------------------------------

func (p *Parser) parseInsert() (Statement, error) {
	p.next() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	var cols []string
	if p.isSymbol("(") {
		p.next()
		for {
			c, err := p.ident()
			if err != nil {
				return nil, err
			}
			cols = append(cols, c)
			if p.isSymbol(",") {
				p.next()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	var rows [][]Expr
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.isSymbol(",") {
				p.next()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if p.isSymbol(",") {
			p.next()
			continue
		}
		break
	}
	return &InsertStmt{Table: table, Columns: cols, Rows: rows}, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.next() // UPDATE
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	var assigns []Assignment
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, Assignment{Column: col, Value: val})
		if p.isSymbol(",") {
			p.next()
			continue
		}
		break
	}
	var where Expr
	if p.isKeyword("WHERE") {
		p.next()
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return &UpdateStmt{Table: table, Assignments: assigns, Where: where}, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	p.next() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	var where Expr
	if p.isKeyword("WHERE") {
		p.next()
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return &DeleteStmt{Table: table, Where: where}, nil
}

func (p *Parser) parseBegin() (Statement, error) {
	p.next() // BEGIN
	if p.isKeyword("TRANSACTION") {
		p.next()
	}
	iso := ""
	if p.isKeyword("ISOLATION") {
		p.next()
		if err := p.expectKeyword("LEVEL"); err != nil {
			return nil, err
		}
		switch {
		case p.isKeyword("SERIALIZABLE"):
			iso = "SERIALIZABLE"
			p.next()
		case p.isKeyword("REPEATABLE"):
			p.next()
			if err := p.expectKeyword("READ"); err != nil {
				return nil, err
			}
			iso = "REPEATABLE READ"
		case p.isKeyword("READ"):
			p.next()
			if p.isKeyword("COMMITTED") {
				p.next()
				iso = "READ COMMITTED"
			} else if p.isKeyword("UNCOMMITTED") {
				p.next()
				iso = "READ UNCOMMITTED"
			} else {
				return nil, p.errf("expected COMMITTED or UNCOMMITTED")
			}
		default:
			return nil, p.errf("expected an isolation level")
		}
	}
	return &BeginStmt{Isolation: iso}, nil
}

// ------------------------------ SELECT ------------------------------

func (p *Parser) parseSelect() (Statement, error) {
	p.next() // SELECT
	stmt := &SelectStmt{}
	if p.isKeyword("DISTINCT") {
		stmt.Distinct = true
		p.next()
	}
	items, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	stmt.Columns = items

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.From = from
	if p.isKeyword("AS") {
		p.next()
		alias, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.FromAs = alias
	} else if p.cur.Typ == tIdent {
		alias, _ := p.ident()
		stmt.FromAs = alias
	}

	for p.isKeyword("JOIN") || p.isKeyword("LEFT") || p.isKeyword("RIGHT") || p.isKeyword("INNER") {
		join, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, join)
	}

	if p.isKeyword("FOR") {
		temp, err := p.parseTemporal()
		if err != nil {
			return nil, err
		}
		stmt.Temporal = temp
	}

	if p.isKeyword("WHERE") {
		p.next()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}

	if p.isKeyword("GROUP") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, e)
			if p.isSymbol(",") {
				p.next()
				continue
			}
			break
		}
	}

	if p.isKeyword("HAVING") {
		p.next()
		h, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Having = h
	}

	if p.isKeyword("ORDER") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			desc := false
			if p.isKeyword("DESC") {
				desc = true
				p.next()
			} else if p.isKeyword("ASC") {
				p.next()
			}
			stmt.OrderBy = append(stmt.OrderBy, OrderTerm{Expr: e, Desc: desc})
			if p.isSymbol(",") {
				p.next()
				continue
			}
			break
		}
	}

	if p.isKeyword("LIMIT") {
		p.next()
		n, err := p.expectNumberLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}
	if p.isKeyword("OFFSET") {
		p.next()
		n, err := p.expectNumberLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Offset = &n
	}

	return stmt, nil
}

func (p *Parser) parseSelectList() ([]SelectItem, error) {
	var items []SelectItem
	for {
		if p.isSymbol("*") {
			p.next()
			items = append(items, SelectItem{Star: true})
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			item := SelectItem{Expr: e}
			if p.isKeyword("AS") {
				p.next()
				alias, err := p.ident()
				if err != nil {
					return nil, err
				}
				item.Alias = alias
			} else if p.cur.Typ == tIdent {
				alias, _ := p.ident()
				item.Alias = alias
			}
			items = append(items, item)
		}
		if p.isSymbol(",") {
			p.next()
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseJoin() (JoinClause, error) {
	jt := InnerJoin
	switch {
	case p.isKeyword("LEFT"):
		jt = LeftJoin
		p.next()
		if p.isKeyword("OUTER") {
			p.next()
		}
	case p.isKeyword("RIGHT"):
		jt = RightJoin
		p.next()
		if p.isKeyword("OUTER") {
			p.next()
		}
	case p.isKeyword("INNER"):
		p.next()
	}
	if err := p.expectKeyword("JOIN"); err != nil {
		return JoinClause{}, err
	}
	table, err := p.ident()
	if err != nil {
		return JoinClause{}, err
	}
	alias := ""
	if p.isKeyword("AS") {
		p.next()
		alias, err = p.ident()
		if err != nil {
			return JoinClause{}, err
		}
	} else if p.cur.Typ == tIdent {
		alias, _ = p.ident()
	}
	if err := p.expectKeyword("ON"); err != nil {
		return JoinClause{}, err
	}
	on, err := p.parseExpr()
	if err != nil {
		return JoinClause{}, err
	}
	return JoinClause{Type: jt, Table: table, Alias: alias, On: on}, nil
}

func (p *Parser) parseTemporal() (*TemporalClause, error) {
	p.next() // FOR
	if err := p.expectKeyword("SYSTEM_TIME"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("OF"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TX"); err != nil {
		return nil, err
	}
	n, err := p.expectNumberLiteral()
	if err != nil {
		return nil, err
	}
	return &TemporalClause{TxID: n}, nil
}

// ---------------------------- Expressions ----------------------------
//
// Precedence, lowest to highest: OR; AND; NOT; comparison/IS/IN/BETWEEN/
// LIKE; + -; * / %; unary - ; primary.

func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", L: left, R: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", L: left, R: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.isKeyword("NOT") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", X: x}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	switch {
	case p.isSymbol("=") || p.isSymbol("!=") || p.isSymbol("<>") ||
		p.isSymbol("<") || p.isSymbol("<=") || p.isSymbol(">") || p.isSymbol(">="):
		op := p.cur.Val
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, L: left, R: right}, nil
	case p.isKeyword("IS"):
		p.next()
		not := false
		if p.isKeyword("NOT") {
			not = true
			p.next()
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &IsNullExpr{X: left, Not: not}, nil
	case p.isKeyword("BETWEEN"):
		p.next()
		low, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		high, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{X: left, Low: low, High: high}, nil
	case p.isKeyword("LIKE"):
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: "LIKE", L: left, R: right}, nil
	case p.isKeyword("IN"):
		p.next()
		list, err := p.parseInList()
		if err != nil {
			return nil, err
		}
		return &InExpr{X: left, List: list}, nil
	case p.isKeyword("NOT"):
		p.next()
		switch {
		case p.isKeyword("LIKE"):
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &UnaryExpr{Op: "NOT", X: &BinaryExpr{Op: "LIKE", L: left, R: right}}, nil
		case p.isKeyword("IN"):
			p.next()
			list, err := p.parseInList()
			if err != nil {
				return nil, err
			}
			return &InExpr{X: left, List: list, Not: true}, nil
		case p.isKeyword("BETWEEN"):
			p.next()
			low, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AND"); err != nil {
				return nil, err
			}
			high, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &BetweenExpr{X: left, Low: low, High: high, Not: true}, nil
		default:
			return nil, p.errf("expected LIKE, IN, or BETWEEN after NOT")
		}
	default:
		return left, nil
	}
}

func (p *Parser) parseInList() ([]Expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var list []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if p.isSymbol(",") {
			p.next()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isSymbol("+") || p.isSymbol("-") {
		op := p.cur.Val
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isSymbol("*") || p.isSymbol("/") || p.isSymbol("%") {
		op := p.cur.Val
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.isSymbol("-") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", X: x}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch {
	case p.cur.Typ == tNumber:
		v, err := parseNumberLiteral(p.cur.Val)
		if err != nil {
			return nil, err
		}
		p.next()
		return &LiteralExpr{Value: v}, nil
	case p.cur.Typ == tString:
		v := types.VarString(p.cur.Val)
		p.next()
		return &LiteralExpr{Value: v}, nil
	case p.isKeyword("TRUE"):
		p.next()
		return &LiteralExpr{Value: types.Bool(true)}, nil
	case p.isKeyword("FALSE"):
		p.next()
		return &LiteralExpr{Value: types.Bool(false)}, nil
	case p.isKeyword("NULL"):
		p.next()
		return &LiteralExpr{Value: types.Null()}, nil
	case p.isSymbol("("):
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.isSymbol("*"):
		p.next()
		return &StarExpr{}, nil
	case isAggregateKeyword(p.cur) || p.cur.Typ == tIdent:
		return p.parseIdentOrCall()
	default:
		return nil, p.errf("expected an expression")
	}
}

func isAggregateKeyword(t token) bool {
	if t.Typ != tKeyword {
		return false
	}
	switch t.Val {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	}
	return false
}

func (p *Parser) parseIdentOrCall() (Expr, error) {
	name := p.cur.Val
	p.next()
	if p.isSymbol("(") {
		p.next()
		distinct := false
		if p.isKeyword("DISTINCT") {
			distinct = true
			p.next()
		}
		var args []Expr
		if p.isSymbol("*") {
			p.next()
			args = append(args, &StarExpr{})
		} else if !p.isSymbol(")") {
			for {
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.isSymbol(",") {
					p.next()
					continue
				}
				break
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return &FuncCall{Name: strings.ToUpper(name), Args: args, Distinct: distinct}, nil
	}
	if p.isSymbol(".") {
		p.next()
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &ColumnRef{Table: name, Name: col}, nil
	}
	return &ColumnRef{Name: name}, nil
}

func parseNumberLiteral(s string) (types.Value, error) {
	if strings.Contains(s, ".") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return types.Value{}, errs.New(errs.Parse, "invalid number %q", s)
		}
		return types.Float64(f), nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return types.Value{}, errs.New(errs.Parse, "invalid number %q", s)
	}
	return types.Int64(i), nil
}
