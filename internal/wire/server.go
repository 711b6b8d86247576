package wire

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/kernaldb/kernel/internal/engine"
	"github.com/kernaldb/kernel/internal/errs"
	"github.com/kernaldb/kernel/internal/types"
	"github.com/rs/zerolog"
)

func errUnknownMessageType(t MessageType) error {
	return errs.New(errs.Type, "wire: unknown message type 0x%02x", byte(t))
}

// queryPayload is a MsgQuery/MsgBegin/MsgExecute frame's JSON body: the
// raw SQL text to run against the connection's session.
type queryPayload struct {
	SQL string `json:"sql"`
}

// resultPayload is a MsgResult frame's JSON body, the wire rendering of
// an engine.QueryResult.
type resultPayload struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message,omitempty"`
	Columns      []string      `json:"columns,omitempty"`
	Rows         [][]any       `json:"rows,omitempty"`
	RowsAffected int64         `json:"rows_affected"`
}

func toResultPayload(r *engine.QueryResult) resultPayload {
	rows := make([][]any, len(r.Rows))
	for i, row := range r.Rows {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = valueToJSON(v)
		}
		rows[i] = cells
	}
	return resultPayload{
		Success:      r.Success,
		Message:      r.Message,
		Columns:      r.ColumnNames,
		Rows:         rows,
		RowsAffected: r.RowsAffected,
	}
}

func valueToJSON(v types.Value) any {
	switch v.Kind {
	case types.KindNull:
		return nil
	case types.KindBool:
		return v.I != 0
	case types.KindFloat64:
		return v.F
	case types.KindVarString, types.KindFixedString, types.KindBlob, types.KindTimestamp:
		return v.S
	case types.KindVector:
		return v.V
	default: // integer kinds
		return v.I
	}
}

// Server accepts TCP connections speaking the frame protocol in
// protocol.go, dispatching each connection's frames to its own
// engine.Session so concurrent clients never share transaction state.
type Server struct {
	eng *engine.Engine
	log zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewServer builds a Server over eng that logs through log as given; any
// component tag is the caller's to attach.
func NewServer(eng *engine.Engine, log zerolog.Logger) *Server {
	return &Server{eng: eng, log: log}
}

// ListenAndServe binds addr and serves connections until Close is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.serveOn(ln)
}

// serveOn serves connections on an already-bound listener, until Close is
// called. Split out from ListenAndServe so tests can bind an ephemeral
// port (":0") and recover the actual address before serving.
func (s *Server) serveOn(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections. In-flight connections finish on
// their own as their clients disconnect.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConn(conn net.Conn) {
	connID := uuid.New().String()
	log := s.log.With().Str("conn", connID).Logger()
	defer conn.Close()

	sess := s.eng.NewSession()
	ctx := context.Background()

	for {
		f, err := ReadFrame(conn)
		if err != nil {
			log.Debug().Err(err).Msg("wire: connection closed")
			return
		}
		if err := s.dispatch(ctx, conn, sess, f); err != nil {
			log.Warn().Err(err).Msg("wire: failed to write response")
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, sess *engine.Session, f Frame) error {
	switch f.Type {
	case MsgPing:
		return WriteFrame(conn, Frame{Type: MsgPong})
	case MsgDisconnect:
		return WriteFrame(conn, Frame{Type: MsgDisconnect})
	case MsgQuery, MsgExecute, MsgBegin:
		var p queryPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return s.writeError(conn, err)
		}
		res, err := sess.ExecuteSQL(ctx, p.SQL)
		if err != nil {
			return s.writeError(conn, err)
		}
		return s.writeResult(conn, res)
	case MsgCommit:
		res, err := sess.ExecuteSQL(ctx, "COMMIT")
		if err != nil {
			return s.writeError(conn, err)
		}
		return s.writeResult(conn, res)
	case MsgRollback:
		res, err := sess.ExecuteSQL(ctx, "ROLLBACK")
		if err != nil {
			return s.writeError(conn, err)
		}
		return s.writeResult(conn, res)
	default:
		return s.writeError(conn, errUnknownMessageType(f.Type))
	}
}

func (s *Server) writeResult(conn net.Conn, res *engine.QueryResult) error {
	payload, err := json.Marshal(toResultPayload(res))
	if err != nil {
		return err
	}
	return WriteFrame(conn, Frame{Type: MsgResult, Payload: payload})
}

func (s *Server) writeError(conn net.Conn, err error) error {
	payload, _ := json.Marshal(resultPayload{Success: false, Message: err.Error()})
	return WriteFrame(conn, Frame{Type: MsgError, Payload: payload})
}
