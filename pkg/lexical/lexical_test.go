package lexical

import (
	"context"
	"testing"
)

func buildTestStore(t *testing.T, collection string, docs []Document) *Store {
	t.Helper()
	s := NewStore()
	if err := s.Build(context.Background(), collection, docs); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestScoresAlignedWithIndexingOrder(t *testing.T) {
	docs := []Document{
		{ID: "d1", Content: "kubernetes cluster networking"},
		{ID: "d2", Content: "cooking pasta with tomato sauce"},
		{ID: "d3", Content: "kubernetes pod scheduling and networking"},
	}
	s := buildTestStore(t, "kb", docs)

	scored, err := s.Scores(context.Background(), "kb", "kubernetes networking")
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	if len(scored) != 3 {
		t.Fatalf("Expected 3 scored documents, got %d", len(scored))
	}
	for i, doc := range docs {
		if scored[i].ID != doc.ID {
			t.Errorf("Position %d: expected %s, got %s", i, doc.ID, scored[i].ID)
		}
		if scored[i].Content != doc.Content {
			t.Errorf("Position %d: content mismatch", i)
		}
	}
	if scored[0].Score <= 0 {
		t.Error("Expected positive score for matching document d1")
	}
	if scored[1].Score != 0 {
		t.Errorf("Expected zero score for unrelated document d2, got %f", scored[1].Score)
	}
	if scored[2].Score <= 0 {
		t.Error("Expected positive score for matching document d3")
	}
}

func TestScoresCaseInsensitive(t *testing.T) {
	s := buildTestStore(t, "kb", []Document{
		{ID: "d1", Content: "GraphQL Federation Setup"},
	})

	scored, err := s.Scores(context.Background(), "kb", "graphql")
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	if scored[0].Score <= 0 {
		t.Error("Expected lowercase query to match capitalized content")
	}
}

func TestScoresStopWordsDropped(t *testing.T) {
	s := buildTestStore(t, "kb", []Document{
		{ID: "d1", Content: "the quick brown fox"},
	})

	// A query of nothing but stop words must match nothing.
	scored, err := s.Scores(context.Background(), "kb", "the and of")
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	if scored[0].Score != 0 {
		t.Errorf("Expected zero score for stop-word query, got %f", scored[0].Score)
	}
}

func TestScoresEmptyQuery(t *testing.T) {
	s := buildTestStore(t, "kb", []Document{
		{ID: "d1", Content: "alpha"},
		{ID: "d2", Content: "beta"},
	})

	for _, q := range []string{"", "   "} {
		scored, err := s.Scores(context.Background(), "kb", q)
		if err != nil {
			t.Fatalf("Scores(%q) error = %v", q, err)
		}
		if len(scored) != 2 {
			t.Fatalf("Expected 2 scored documents, got %d", len(scored))
		}
		for _, sd := range scored {
			if sd.Score != 0 {
				t.Errorf("Expected zero score for query %q, got %f", q, sd.Score)
			}
		}
	}
}

func TestScoresMissingCollection(t *testing.T) {
	s := NewStore()
	defer s.Close()

	if _, err := s.Scores(context.Background(), "absent", "query"); err == nil {
		t.Error("Expected error for missing collection")
	}
}

func TestBuildReplacesIndex(t *testing.T) {
	s := buildTestStore(t, "user", []Document{
		{ID: "old", Content: "legacy payroll export"},
	})

	err := s.Build(context.Background(), "user", []Document{
		{ID: "new", Content: "quarterly revenue report"},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	scored, err := s.Scores(context.Background(), "user", "payroll")
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	if len(scored) != 1 || scored[0].ID != "new" {
		t.Fatalf("Expected only replacement document, got %+v", scored)
	}
	if scored[0].Score != 0 {
		t.Error("Expected old content to be gone after rebuild")
	}
}

func TestHasAndDrop(t *testing.T) {
	s := buildTestStore(t, "kb", []Document{
		{ID: "d1", Content: "content"},
	})

	if !s.Has("kb") {
		t.Error("Expected Has to report built collection")
	}
	if s.Has("other") {
		t.Error("Expected Has to report false for unknown collection")
	}

	s.Drop("kb")
	if s.Has("kb") {
		t.Error("Expected collection gone after Drop")
	}
}

func TestBuildEmptyCollection(t *testing.T) {
	s := buildTestStore(t, "kb", nil)

	scored, err := s.Scores(context.Background(), "kb", "anything")
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	if len(scored) != 0 {
		t.Errorf("Expected no scored documents, got %d", len(scored))
	}
}
