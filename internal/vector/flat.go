package vector

import "sort"

// flatIndex is an exhaustive index: Search scores every stored vector.
// Grounded on vector_search.go's VecSearchTableFunc.Execute, which scores
// every row of a table the same way; this type just keeps the vectors
// independent of any table.
type flatIndex struct {
	cfg     Config
	vectors map[int64][]float64
}

func newFlat(cfg Config) *flatIndex {
	return &flatIndex{cfg: cfg, vectors: make(map[int64][]float64)}
}

func (f *flatIndex) Dim() int { return f.cfg.Dim }
func (f *flatIndex) Len() int { return len(f.vectors) }

func (f *flatIndex) Add(id int64, vec []float64) error {
	f.vectors[id] = append([]float64(nil), vec...)
	return nil
}

func (f *flatIndex) Remove(id int64) bool {
	if _, ok := f.vectors[id]; !ok {
		return false
	}
	delete(f.vectors, id)
	return true
}

func (f *flatIndex) Search(query []float64, k int, threshold float64, hasThreshold bool) ([]Match, error) {
	matches := make([]Match, 0, len(f.vectors))
	for id, v := range f.vectors {
		d := distance(v, query, f.cfg.Metric)
		if hasThreshold && d > threshold {
			continue
		}
		matches = append(matches, Match{ID: id, Distance: d})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}
