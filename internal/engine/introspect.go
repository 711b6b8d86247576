package engine

// ListTables reports every table name in the catalog, for the admin
// introspection surface (internal/wire's gRPC Status RPC).
func (e *Engine) ListTables() []string {
	return e.cat.ListTables()
}

// ActiveTransactions reports how many transactions are currently in
// flight across every session sharing this Engine.
func (e *Engine) ActiveTransactions() int {
	return e.txm.ActiveCount()
}
