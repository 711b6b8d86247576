package vector

import "testing"

func TestFlatIndexLiteralScenario(t *testing.T) {
	r := NewRegistry()
	if err := r.CreateIndex("demo", 3, KindFlat, Config{Metric: L2}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	vecs := map[int64][]float64{
		1: {0, 0, 0},
		2: {1, 0, 0},
		3: {0, 1, 0},
		4: {10, 10, 10},
	}
	for id, v := range vecs {
		if err := r.Add("demo", id, v); err != nil {
			t.Fatalf("Add(%d): %v", id, err)
		}
	}
	matches, err := r.Search("demo", []float64{0, 0, 0}, 2, 0, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].ID != 1 || matches[0].Distance != 0.0 {
		t.Fatalf("match[0] = %+v, want {1 0}", matches[0])
	}
	if matches[1].ID != 2 || matches[1].Distance != 1.0 {
		t.Fatalf("match[1] = %+v, want {2 1}", matches[1])
	}
}

func TestSearchRespectsThreshold(t *testing.T) {
	r := NewRegistry()
	r.CreateIndex("demo", 2, KindFlat, Config{Metric: L2})
	r.Add("demo", 1, []float64{0, 0})
	r.Add("demo", 2, []float64{5, 0})
	matches, err := r.Search("demo", []float64{0, 0}, 5, 1.0, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != 1 {
		t.Fatalf("threshold filter failed: %+v", matches)
	}
}

func TestDimensionMismatchRejected(t *testing.T) {
	r := NewRegistry()
	r.CreateIndex("demo", 3, KindFlat, Config{})
	if err := r.Add("demo", 1, []float64{1, 2}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestRemoveThenSearchExcludesID(t *testing.T) {
	r := NewRegistry()
	r.CreateIndex("demo", 2, KindFlat, Config{Metric: L2})
	r.Add("demo", 1, []float64{0, 0})
	r.Add("demo", 2, []float64{1, 1})
	ok, err := r.Remove("demo", 1)
	if err != nil || !ok {
		t.Fatalf("Remove: ok=%v err=%v", ok, err)
	}
	matches, err := r.Search("demo", []float64{0, 0}, 5, 0, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, m := range matches {
		if m.ID == 1 {
			t.Fatalf("removed id still present: %+v", matches)
		}
	}
}

func TestHNSWFindsNearestNeighbors(t *testing.T) {
	r := NewRegistry()
	if err := r.CreateIndex("hnsw_demo", 2, KindHNSW, Config{Metric: L2, M: 4, EfConstruction: 20, EfSearch: 20}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	pts := map[int64][]float64{
		1: {0, 0}, 2: {1, 0}, 3: {0, 1}, 4: {1, 1},
		5: {10, 10}, 6: {11, 10}, 7: {10, 11}, 8: {20, 20},
	}
	for id, v := range pts {
		if err := r.Add("hnsw_demo", id, v); err != nil {
			t.Fatalf("Add(%d): %v", id, err)
		}
	}
	matches, err := r.Search("hnsw_demo", []float64{0, 0}, 3, 0, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	if matches[0].ID != 1 {
		t.Fatalf("nearest neighbor should be id 1 (exact match), got %+v", matches)
	}
}

func TestMetricParsing(t *testing.T) {
	cases := map[string]Metric{"": L2, "l2": L2, "cosine": Cosine, "manhattan": Manhattan, "dot": Dot}
	for s, want := range cases {
		got, err := ParseMetric(s)
		if err != nil || got != want {
			t.Fatalf("ParseMetric(%q) = %v, %v; want %v", s, got, err, want)
		}
	}
	if _, err := ParseMetric("bogus"); err == nil {
		t.Fatalf("expected error for unknown metric")
	}
}

func TestCreateIndexRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	if err := r.CreateIndex("dup", 2, KindFlat, Config{}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := r.CreateIndex("dup", 2, KindFlat, Config{}); err == nil {
		t.Fatalf("expected error on duplicate index name")
	}
}
