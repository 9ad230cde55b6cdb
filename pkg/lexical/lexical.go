// Package lexical provides in-memory keyword indexes for hybrid retrieval.
//
// One bleve index is held per collection, built whole at preprocessing time
// and dropped with the collection. Scores come back aligned with indexing
// order so callers can run distribution-based filtering over the full
// corpus, counting unmatched documents as zero.
package lexical

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	regexptok "github.com/blevesearch/bleve/v2/analysis/tokenizer/regexp"
	"github.com/blevesearch/bleve/v2/mapping"
)

const (
	wordTokenizerName = "word_chars"
	analyzerName      = "query_words"
	contentField      = "content"

	// wordPattern mirrors \w+ with unicode letters and digits.
	wordPattern = `[\p{L}\p{N}_]+`
)

// Document is one indexed chunk.
type Document struct {
	ID      string
	Content string
}

// ScoredDocument is a document with its relevance score for one query.
// Documents matching no query term score zero.
type ScoredDocument struct {
	ID      string
	Content string
	Score   float64
}

// indexedDocument is the shape handed to bleve for analysis.
type indexedDocument struct {
	Content string `json:"content"`
}

type entry struct {
	index bleve.Index
	docs  []Document
}

// Store manages one in-memory keyword index per collection.
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
	}
}

// Build indexes docs under collection, replacing any existing index.
func (s *Store) Build(ctx context.Context, collection string, docs []Document) error {
	idx, err := newMemIndex()
	if err != nil {
		return fmt.Errorf("failed to create index for %s: %w", collection, err)
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, indexedDocument{Content: doc.Content}); err != nil {
			_ = idx.Close()
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return fmt.Errorf("failed to execute index batch: %w", err)
	}

	stored := make([]Document, len(docs))
	copy(stored, docs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[collection]; ok {
		_ = old.index.Close()
	}
	s.entries[collection] = &entry{index: idx, docs: stored}
	return nil
}

// Has reports whether collection carries a keyword index.
func (s *Store) Has(collection string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[collection]
	return ok
}

// Scores runs query against the collection's index and returns one entry per
// indexed document, in indexing order. A query that analyzes to no terms
// scores every document zero.
func (s *Store) Scores(ctx context.Context, collection, query string) ([]ScoredDocument, error) {
	s.mu.RLock()
	e, ok := s.entries[collection]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no keyword index for collection %s", collection)
	}

	scored := make([]ScoredDocument, len(e.docs))
	for i, doc := range e.docs {
		scored[i] = ScoredDocument{ID: doc.ID, Content: doc.Content}
	}
	if len(e.docs) == 0 || strings.TrimSpace(query) == "" {
		return scored, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField(contentField)

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = len(e.docs)

	result, err := e.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed for %s: %w", collection, err)
	}

	byID := make(map[string]float64, len(result.Hits))
	for _, hit := range result.Hits {
		byID[hit.ID] = hit.Score
	}
	for i := range scored {
		scored[i].Score = byID[scored[i].ID]
	}
	return scored, nil
}

// Drop removes the collection's index, releasing its memory.
func (s *Store) Drop(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[collection]; ok {
		_ = e.index.Close()
		delete(s.entries, collection)
	}
}

// Close releases every index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, e := range s.entries {
		_ = e.index.Close()
		delete(s.entries, name)
	}
	return nil
}

// newMemIndex builds an in-memory index whose analyzer splits on word
// characters, lowercases, and drops English stop words.
func newMemIndex() (bleve.Index, error) {
	indexMapping, err := buildIndexMapping()
	if err != nil {
		return nil, err
	}
	return bleve.NewMemOnly(indexMapping)
}

func buildIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomTokenizer(wordTokenizerName, map[string]interface{}{
		"type":   regexptok.Name,
		"regexp": wordPattern,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add word tokenizer: %w", err)
	}

	err = indexMapping.AddCustomAnalyzer(analyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": wordTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			en.StopName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = analyzerName
	return indexMapping, nil
}
