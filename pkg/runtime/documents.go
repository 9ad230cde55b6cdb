package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/strandlabs/strand/pkg/extract"
	"github.com/strandlabs/strand/pkg/session"
)

// ErrNoKBDirectory is returned by LoadKB when documents.kb_dir is unset.
var ErrNoKBDirectory = errors.New("runtime: no knowledge-base directory configured")

// AddDocuments extracts the uploaded files and stores them on the session.
// Files that fail extraction are skipped; the returned slice holds only
// the documents that made it in.
func (r *Runtime) AddDocuments(ctx context.Context, sessionID string, docType session.DocType, uploads []extract.Upload) ([]extract.Document, error) {
	docs := r.extractor.Process(ctx, uploads)
	if err := r.sessions.AddDocuments(ctx, sessionID, docType, docs); err != nil {
		return nil, err
	}
	r.logger.Info("Documents added",
		"session_id", sessionID, "doc_type", docType, "count", len(docs))
	return docs, nil
}

// LoadKB loads every readable document under the configured knowledge-base
// directory into the session, then indexes the knowledge base eagerly so
// the first retrieval turn does not pay the embedding cost.
func (r *Runtime) LoadKB(ctx context.Context, sessionID string) ([]extract.Document, error) {
	dir := r.cfg.Documents.KBDir
	if dir == "" {
		return nil, ErrNoKBDirectory
	}

	docs, err := r.extractor.LoadDir(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("runtime: load knowledge base: %w", err)
	}
	if err := r.sessions.AddDocuments(ctx, sessionID, session.DocTypeKB, docs); err != nil {
		return nil, err
	}

	got, err := r.sessions.Get(ctx, &session.GetRequest{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	snap := got.Session
	if _, err := r.cache.PreprocessKB(ctx, sessionID, documentTexts(snap.KBDocs), r.hybridFor(snap.GPTConfig)); err != nil {
		r.logger.Warn("Failed to index knowledge base",
			"session_id", sessionID, "error", err)
	}
	return docs, nil
}
