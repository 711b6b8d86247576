package engine

import "github.com/kernaldb/kernel/internal/vector"

// Vector search (spec §4.12) has no SQL grammar of its own -- VECTOR is
// only a column-type keyword in the lexer -- so it is exposed directly as
// Engine methods delegating to the vector.Registry every Engine owns,
// rather than inventing new statement syntax the teacher's parser never
// had a reason to support.

// CreateVectorIndex registers a new named vector index of dimension dim.
func (e *Engine) CreateVectorIndex(name string, dim int, kind vector.Kind, cfg vector.Config) error {
	return e.vectors.CreateIndex(name, dim, kind, cfg)
}

// DropVectorIndex removes a named vector index. Reports whether it existed.
func (e *Engine) DropVectorIndex(name string) bool {
	return e.vectors.DropIndex(name)
}

// VectorAdd inserts or replaces id's vector in the named index.
func (e *Engine) VectorAdd(name string, id int64, vec []float64) error {
	return e.vectors.Add(name, id, vec)
}

// VectorRemove deletes id from the named index, reporting whether it was present.
func (e *Engine) VectorRemove(name string, id int64) (bool, error) {
	return e.vectors.Remove(name, id)
}

// VectorSearch runs a k-nearest-neighbour query against the named index.
func (e *Engine) VectorSearch(name string, query []float64, k int, threshold float64, hasThreshold bool) ([]vector.Match, error) {
	return e.vectors.Search(name, query, k, threshold, hasThreshold)
}
