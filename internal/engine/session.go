package engine

import (
	"context"
	"sync"

	"github.com/kernaldb/kernel/internal/errs"
	"github.com/kernaldb/kernel/internal/sql"
	"github.com/kernaldb/kernel/internal/txn"
	"github.com/kernaldb/kernel/internal/types"
)

// QueryResult is spec §6's QueryResult: a single statement's outcome,
// shared by every external interface (embedded API, TCP wire protocol,
// gRPC admin plane, kernelctl REPL).
type QueryResult struct {
	Success      bool
	Message      string
	ColumnNames  []string
	Rows         [][]types.Value
	RowsAffected int64
}

// Session holds one client's in-flight transaction, so concurrent clients
// (each with its own Session) never contend over a single implicit
// transaction the way a naked Engine.ExecuteSQL would if it tried to
// multiplex them (spec §8's deadlock scenario needs exactly this: two
// independent transactions racing each other).
type Session struct {
	eng *Engine
	mu  sync.Mutex

	tx       *txn.Transaction
	written  map[string]bool // tables written by tx, pending invalidation at commit
}

// NewSession opens an independent client session against e.
func (e *Engine) NewSession() *Session {
	return &Session{eng: e}
}

func isolationFromClause(s string) txn.IsolationLevel {
	switch s {
	case "READ UNCOMMITTED":
		return txn.ReadUncommitted
	case "READ COMMITTED":
		return txn.ReadCommitted
	case "REPEATABLE READ":
		return txn.RepeatableRead
	case "SERIALIZABLE":
		return txn.Serializable
	default:
		return txn.Serializable
	}
}

// ExecuteSQL parses and runs one statement. Without an open explicit
// transaction (BEGIN), every statement runs and commits/aborts on its own
// (autocommit); between BEGIN and COMMIT/ROLLBACK, statements share the
// session's single transaction.
func (s *Session) ExecuteSQL(ctx context.Context, text string) (*QueryResult, error) {
	stmt, err := sql.Parse(text)
	if err != nil {
		return &QueryResult{Success: false, Message: err.Error()}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := stmt.(type) {
	case *sql.BeginStmt:
		return s.begin(st)
	case *sql.CommitStmt:
		return s.commit()
	case *sql.RollbackStmt:
		return s.rollback()
	case *sql.CreateTableStmt:
		return s.runDDL(func(t *txn.Transaction) error {
			cols := make([]types.Column, len(st.Columns))
			for i, c := range st.Columns {
				col := types.Column{Name: c.Name, Kind: c.Kind, Length: c.Length, Nullable: c.Nullable}
				if lit, ok := c.Default.(*sql.LiteralExpr); ok {
					v := lit.Value
					col.Default = &v
				}
				cols[i] = col
			}
			_, err := s.eng.cat.CreateTable(t, st.Table, cols)
			if err != nil && st.IfNotExists && errs.KindOf(err) == errs.Catalog {
				return nil
			}
			return err
		})
	case *sql.CreateIndexStmt:
		return s.runDDL(func(t *txn.Transaction) error {
			_, _, err := s.eng.cat.CreateIndex(t, st.Table, st.Name, st.Columns, st.Unique)
			if err != nil && st.IfNotExists && errs.KindOf(err) == errs.Catalog {
				return nil
			}
			return err
		})
	case *sql.DropTableStmt:
		return s.runDDL(func(t *txn.Transaction) error {
			err := s.eng.cat.DropTable(t, st.Table)
			if err != nil && st.IfExists && errs.KindOf(err) == errs.Catalog {
				return nil
			}
			return err
		})
	default:
		return s.runDML(ctx, text, stmt)
	}
}

func (s *Session) begin(st *sql.BeginStmt) (*QueryResult, error) {
	if s.tx != nil {
		return &QueryResult{Success: false, Message: "a transaction is already in progress"}, nil
	}
	s.tx = s.eng.txm.Begin(isolationFromClause(st.Isolation))
	s.written = nil
	return &QueryResult{Success: true, Message: "BEGIN"}, nil
}

func (s *Session) commit() (*QueryResult, error) {
	if s.tx == nil {
		return &QueryResult{Success: false, Message: "no transaction in progress"}, nil
	}
	t := s.tx
	written := s.written
	s.tx = nil
	s.written = nil
	if err := s.eng.txm.Commit(t); err != nil {
		return &QueryResult{Success: false, Message: err.Error()}, nil
	}
	for table := range written {
		s.eng.cache.invalidate(table)
	}
	return &QueryResult{Success: true, Message: "COMMIT"}, nil
}

func (s *Session) rollback() (*QueryResult, error) {
	if s.tx == nil {
		return &QueryResult{Success: false, Message: "no transaction in progress"}, nil
	}
	t := s.tx
	s.tx = nil
	s.written = nil
	if err := s.eng.txm.Abort(t, s.eng.heapFor); err != nil {
		return &QueryResult{Success: false, Message: err.Error()}, nil
	}
	return &QueryResult{Success: true, Message: "ROLLBACK"}, nil
}

// runDDL executes fn under the session's explicit transaction if one is
// open, else an implicit one this call begins and commits/aborts on its
// own (autocommit), matching every other statement kind's behavior.
func (s *Session) runDDL(fn func(t *txn.Transaction) error) (*QueryResult, error) {
	if s.tx != nil {
		if err := fn(s.tx); err != nil {
			return &QueryResult{Success: false, Message: err.Error()}, nil
		}
		return &QueryResult{Success: true}, nil
	}
	t := s.eng.txm.Begin(txn.Serializable)
	if err := fn(t); err != nil {
		s.eng.txm.Abort(t, s.eng.heapFor)
		return &QueryResult{Success: false, Message: err.Error()}, nil
	}
	if err := s.eng.txm.Commit(t); err != nil {
		return &QueryResult{Success: false, Message: err.Error()}, nil
	}
	return &QueryResult{Success: true}, nil
}

// runDML plans and executes an INSERT/UPDATE/DELETE/SELECT, using the
// session's open transaction if any, else an autocommit transaction whose
// isolation matches the statement kind (writes serializable, reads
// repeatable-read, mirroring the executor package's own test convention).
// SELECTs are served from and populate the engine's query cache, keyed on
// statement text plus the WAL's durable LSN.
func (s *Session) runDML(ctx context.Context, text string, stmt sql.Statement) (*QueryResult, error) {
	node, err := s.eng.pl.Build(stmt)
	if err != nil {
		return &QueryResult{Success: false, Message: err.Error()}, nil
	}

	selectable := isSelect(stmt)
	var key string
	var refTables map[string]bool
	if selectable {
		refTables = referencedTables(node)
		key = cacheKey(text, uint64(s.eng.lm.PersistentLSN()))
		if cached, hit := s.eng.cache.get(key); hit {
			return cached, nil
		}
	}

	t := s.tx
	implicit := t == nil
	if implicit {
		iso := txn.Serializable
		if selectable {
			iso = txn.RepeatableRead
		}
		t = s.eng.txm.Begin(iso)
	}

	res, err := s.eng.ex.Execute(ctx, t, node)
	if err != nil {
		if implicit {
			s.eng.txm.Abort(t, s.eng.heapFor)
		}
		return &QueryResult{Success: false, Message: err.Error()}, nil
	}

	qr := &QueryResult{Success: true, ColumnNames: res.Columns, Rows: res.Rows, RowsAffected: res.RowsAffected}

	if !selectable {
		if table := targetTable(stmt); table != "" {
			if implicit {
				if commitErr := s.eng.txm.Commit(t); commitErr != nil {
					return &QueryResult{Success: false, Message: commitErr.Error()}, nil
				}
				s.eng.cache.invalidate(table)
				return qr, nil
			}
			if s.written == nil {
				s.written = make(map[string]bool)
			}
			s.written[table] = true
			return qr, nil
		}
	}

	if implicit {
		if err := s.eng.txm.Commit(t); err != nil {
			return &QueryResult{Success: false, Message: err.Error()}, nil
		}
	}

	if selectable {
		// An autocommit COMMIT above advances the durable LSN; key the entry
		// by the LSN the next identical SELECT will look it up under.
		key = cacheKey(text, uint64(s.eng.lm.PersistentLSN()))
		s.eng.cache.put(key, refTables, qr)
	}

	return qr, nil
}

// targetTable names the table a non-SELECT statement writes, for cache
// invalidation; Session tracks this itself since Transaction keeps no
// exported record of which tables its undo log touched.
func targetTable(stmt sql.Statement) string {
	switch st := stmt.(type) {
	case *sql.InsertStmt:
		return st.Table
	case *sql.UpdateStmt:
		return st.Table
	case *sql.DeleteStmt:
		return st.Table
	default:
		return ""
	}
}
