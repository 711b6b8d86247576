package wire

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kernaldb/kernel/internal/engine"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// Admin is the kernel's gRPC admin/introspection surface: a hand-rolled
// service (no protobuf), grounded verbatim on the teacher's
// TinySQLServer/registerTinySQLServer/_TinySQL_*_Handler pattern in
// cmd/server/main.go, keeping its Exec RPC and adding a Status RPC for
// operational introspection; there is no Query RPC.

// jsonCodec marshals gRPC messages as JSON instead of protobuf, exactly
// as the teacher's own jsonCodec does, so tooling can call this service
// without a generated client. kernelctl does not use it: it talks to
// kerneld over the TCP wire protocol.
type jsonCodec struct{}

func (jsonCodec) Name() string                      { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func registerJSONCodec() { encoding.RegisterCodec(jsonCodec{}) }

type execRequest struct {
	SQL string `json:"sql"`
}

type execResponse struct {
	Success      bool    `json:"success"`
	Message      string  `json:"message,omitempty"`
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any `json:"rows,omitempty"`
	RowsAffected int64   `json:"rows_affected"`
	Duration     string  `json:"duration"`
}

type statusRequest struct{}

type statusResponse struct {
	Tables             []string `json:"tables"`
	ActiveTransactions int      `json:"active_transactions"`
	Uptime             string   `json:"uptime"`
}

// AdminServer is the gRPC service every admin RPC dispatches through.
type AdminServer interface {
	Exec(context.Context, *execRequest) (*execResponse, error)
	Status(context.Context, *statusRequest) (*statusResponse, error)
}

func registerAdminServer(s *grpc.Server, srv AdminServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "kernel.Admin",
		HandlerType: (*AdminServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Exec", Handler: adminExecHandler},
			{MethodName: "Status", Handler: adminStatusHandler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "kernel",
	}, srv)
}

func adminExecHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(execRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Exec(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kernel.Admin/Exec"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(AdminServer).Exec(ctx, req.(*execRequest)) }
	return interceptor(ctx, in, info, handler)
}

func adminStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(statusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kernel.Admin/Status"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(AdminServer).Status(ctx, req.(*statusRequest)) }
	return interceptor(ctx, in, info, handler)
}

// adminServer is the concrete AdminServer backing one Engine.
type adminServer struct {
	eng   *engine.Engine
	start time.Time
}

func (a *adminServer) Exec(ctx context.Context, req *execRequest) (*execResponse, error) {
	begin := time.Now()
	res, err := a.eng.ExecuteSQL(ctx, req.SQL)
	if err != nil {
		return &execResponse{Success: false, Message: err.Error(), Duration: time.Since(begin).String()}, nil
	}
	rows := make([][]any, len(res.Rows))
	for i, row := range res.Rows {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = valueToJSON(v)
		}
		rows[i] = cells
	}
	return &execResponse{
		Success:      res.Success,
		Message:      res.Message,
		Columns:      res.ColumnNames,
		Rows:         rows,
		RowsAffected: res.RowsAffected,
		Duration:     time.Since(begin).String(),
	}, nil
}

func (a *adminServer) Status(ctx context.Context, req *statusRequest) (*statusResponse, error) {
	return &statusResponse{
		Tables:             a.eng.ListTables(),
		ActiveTransactions: a.eng.ActiveTransactions(),
		Uptime:             time.Since(a.start).String(),
	}, nil
}

// NewGRPCServer builds a *grpc.Server exposing eng's admin/introspection
// RPCs, registering the JSON codec on each call.
func NewGRPCServer(eng *engine.Engine) *grpc.Server {
	registerJSONCodec()
	gs := grpc.NewServer()
	registerAdminServer(gs, &adminServer{eng: eng, start: time.Now()})
	return gs
}
