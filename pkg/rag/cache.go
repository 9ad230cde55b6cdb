package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Collection name prefixes. One collection per session per source keeps
// eviction and isolation trivial.
const (
	kbCollectionPrefix       = "kb_"
	userDocsCollectionPrefix = "user_docs_"
)

// KBCollection returns the knowledge-base collection name for a session.
func KBCollection(sessionID string) string {
	return kbCollectionPrefix + sessionID
}

// UserDocsCollection returns the user-documents collection name for a session.
func UserDocsCollection(sessionID string) string {
	return userDocsCollectionPrefix + sessionID
}

// CacheEntry records what a prepared collection holds.
type CacheEntry struct {
	CollectionName string
	Hybrid         bool
	ProcessedAt    time.Time
	DocumentCount  int
}

// CacheManager owns the prepared-collection lifecycle for sessions. It keeps
// one cache entry per collection and guarantees each collection is indexed at
// most once per cache generation.
//
// Knowledge-base preprocessing is idempotent for a session. User-document
// preprocessing rebuilds the collection from scratch whenever a new upload
// arrived since the last build, so stale chunks never leak between uploads.
type CacheManager struct {
	index  *Index
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*CacheEntry
	locks   map[string]*sync.Mutex
}

// NewCacheManager creates a cache manager over the given index.
func NewCacheManager(index *Index) *CacheManager {
	return &CacheManager{
		index:   index,
		logger:  slog.Default(),
		entries: make(map[string]*CacheEntry),
		locks:   make(map[string]*sync.Mutex),
	}
}

// collectionLock returns the per-collection mutex, creating it on first use.
// Serializing per collection lets independent sessions preprocess in parallel
// while a single session's rebuild stays atomic.
func (cm *CacheManager) collectionLock(collection string) *sync.Mutex {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	lock, ok := cm.locks[collection]
	if !ok {
		lock = &sync.Mutex{}
		cm.locks[collection] = lock
	}
	return lock
}

// Entry returns the cache entry for a collection, or nil when none exists.
func (cm *CacheManager) Entry(collection string) *CacheEntry {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if e, ok := cm.entries[collection]; ok {
		copied := *e
		return &copied
	}
	return nil
}

// Prepared reports whether a collection has been indexed this generation.
func (cm *CacheManager) Prepared(collection string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	_, ok := cm.entries[collection]
	return ok
}

// PreprocessKB indexes the knowledge-base documents for a session exactly
// once. Later calls with the same session are no-ops regardless of content,
// so the KB corpus stays stable for the session's lifetime.
func (cm *CacheManager) PreprocessKB(ctx context.Context, sessionID string, texts []string, hybrid bool) (string, error) {
	collection := KBCollection(sessionID)
	lock := cm.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	if cm.Prepared(collection) {
		cm.logger.Debug("Knowledge base already prepared", "collection", collection)
		return collection, nil
	}

	count, err := cm.index.Upsert(ctx, collection, texts, hybrid)
	if err != nil {
		return "", fmt.Errorf("preprocess knowledge base: %w", err)
	}

	cm.setEntry(collection, hybrid, count)
	cm.logger.Info("Knowledge base prepared", "collection", collection, "chunks", count, "hybrid", hybrid)
	return collection, nil
}

// PreprocessUserDocs prepares the user-document collection for a session.
// When newUpload is set the collection is evicted, dropped, and rebuilt from
// only the given texts. Without a new upload an existing collection is
// reused as-is.
func (cm *CacheManager) PreprocessUserDocs(ctx context.Context, sessionID string, texts []string, hybrid, newUpload bool) (string, error) {
	collection := UserDocsCollection(sessionID)
	lock := cm.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	if cm.Prepared(collection) && !newUpload {
		cm.logger.Debug("User documents already prepared", "collection", collection)
		return collection, nil
	}

	if newUpload {
		cm.evict(collection)
		if err := cm.index.Drop(ctx, collection); err != nil {
			return "", fmt.Errorf("rebuild user documents: %w", err)
		}
		cm.logger.Info("Rebuilding user document collection", "collection", collection)
	}

	count, err := cm.index.Upsert(ctx, collection, texts, hybrid)
	if err != nil {
		return "", fmt.Errorf("preprocess user documents: %w", err)
	}

	cm.setEntry(collection, hybrid, count)
	cm.logger.Info("User documents prepared", "collection", collection, "chunks", count, "hybrid", hybrid)
	return collection, nil
}

// ClearKB drops a session's knowledge-base collection and cache entry.
func (cm *CacheManager) ClearKB(ctx context.Context, sessionID string) error {
	return cm.clear(ctx, KBCollection(sessionID))
}

// ClearUserDocs drops a session's user-document collection and cache entry.
func (cm *CacheManager) ClearUserDocs(ctx context.Context, sessionID string) error {
	return cm.clear(ctx, UserDocsCollection(sessionID))
}

// ClearSession drops every collection owned by a session. Used when the
// session itself is deleted.
func (cm *CacheManager) ClearSession(ctx context.Context, sessionID string) error {
	if err := cm.ClearUserDocs(ctx, sessionID); err != nil {
		return err
	}
	return cm.ClearKB(ctx, sessionID)
}

func (cm *CacheManager) clear(ctx context.Context, collection string) error {
	lock := cm.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	cm.evict(collection)
	if err := cm.index.Drop(ctx, collection); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}
	cm.logger.Debug("Cleared collection", "collection", collection)
	return nil
}

func (cm *CacheManager) setEntry(collection string, hybrid bool, count int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.entries[collection] = &CacheEntry{
		CollectionName: collection,
		Hybrid:         hybrid,
		ProcessedAt:    time.Now(),
		DocumentCount:  count,
	}
}

func (cm *CacheManager) evict(collection string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.entries, collection)
}
