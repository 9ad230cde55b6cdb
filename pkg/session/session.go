// Package session stores per-conversation state.
//
// A session holds everything one conversation accumulates: message history,
// uploaded documents, knowledge-base documents, the custom GPT configuration,
// a rolling summary and generated image URLs. Turns are serialized per
// session through BeginTurn; the store itself is safe for concurrent use
// across sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/extract"
	"github.com/strandlabs/strand/pkg/llms"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionLimit is returned when creating a session would exceed the
// configured cap.
var ErrSessionLimit = errors.New("session limit reached")

// DocType distinguishes the two document stores of a session.
type DocType string

const (
	// DocTypeUser marks documents uploaded for the current conversation.
	DocTypeUser DocType = "user"

	// DocTypeKB marks knowledge-base documents configured for the GPT.
	DocTypeKB DocType = "kb"
)

// ParseDocType validates a client-supplied document type.
func ParseDocType(s string) (DocType, error) {
	switch DocType(s) {
	case DocTypeUser, DocTypeKB:
		return DocType(s), nil
	}
	return "", fmt.Errorf("session: invalid doc_type %q (use %q or %q)", s, DocTypeUser, DocTypeKB)
}

// GPTConfig is the custom GPT definition attached to a session.
type GPTConfig struct {
	Name         string   `json:"name,omitempty" mapstructure:"name"`
	Description  string   `json:"description,omitempty" mapstructure:"description"`
	Model        string   `json:"model,omitempty" mapstructure:"model"`
	Instruction  string   `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
	Temperature  *float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	HybridSearch bool     `json:"hybrid_search,omitempty" mapstructure:"hybrid_search"`
	WebSearch    bool     `json:"web_search,omitempty" mapstructure:"web_search"`
	DeepSearch   bool     `json:"deep_search,omitempty" mapstructure:"deep_search"`
}

// DecodeGPTConfig strictly decodes a client payload. Unknown fields are
// rejected so configuration typos surface instead of being dropped.
func DecodeGPTConfig(raw map[string]any) (*GPTConfig, error) {
	var cfg GPTConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &cfg,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, fmt.Errorf("session: build decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("session: invalid gpt config: %w", err)
	}
	return &cfg, nil
}

// Snapshot is a point-in-time copy of one session, safe to read and
// marshal while the session keeps changing.
type Snapshot struct {
	ID        string             `json:"session_id"`
	CreatedAt time.Time          `json:"created_at"`
	Messages  []llms.Message     `json:"messages"`
	UserDocs  []extract.Document `json:"uploaded_docs"`
	KBDocs    []extract.Document `json:"kb"`
	GPTConfig *GPTConfig         `json:"gpt_config,omitempty"`
	Summary   string             `json:"summary,omitempty"`
	ImageURLs []string           `json:"image_urls,omitempty"`
}

// Service manages session lifecycle and per-session state.
type Service interface {
	// Create registers a new session.
	Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error)

	// Get returns a snapshot of an existing session.
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)

	// Delete removes a session.
	Delete(ctx context.Context, req *DeleteRequest) error

	// AppendMessage adds one message to the session history.
	AppendMessage(ctx context.Context, sessionID string, msg llms.Message) error

	// SetGPTConfig replaces the session's GPT configuration.
	SetGPTConfig(ctx context.Context, sessionID string, cfg *GPTConfig) error

	// SetSummary replaces the rolling conversation summary.
	SetSummary(ctx context.Context, sessionID string, summary string) error

	// AddDocuments appends documents to the user or KB store. User
	// documents also arm the new-upload latch consumed by TakeNewUploads.
	AddDocuments(ctx context.Context, sessionID string, docType DocType, docs []extract.Document) error

	// AddImageURLs records generated image URLs.
	AddImageURLs(ctx context.Context, sessionID string, urls ...string) error

	// TakeNewUploads drains the documents uploaded since the last call.
	TakeNewUploads(ctx context.Context, sessionID string) ([]extract.Document, error)

	// BeginTurn acquires the session's exclusive turn slot, blocking while
	// another turn is in flight. The returned release must be called when
	// the turn completes.
	BeginTurn(ctx context.Context, sessionID string) (release func(), err error)
}

// CreateRequest contains parameters for creating a session.
type CreateRequest struct {
	// SessionID is optional; generated when empty.
	SessionID string
}

// CreateResponse contains the created session.
type CreateResponse struct {
	Session *Snapshot
}

// GetRequest contains parameters for retrieving a session.
type GetRequest struct {
	SessionID string
}

// GetResponse contains the retrieved session snapshot.
type GetResponse struct {
	Session *Snapshot
}

// DeleteRequest contains parameters for deleting a session.
type DeleteRequest struct {
	SessionID string
}

// memorySession is the in-memory record behind one session id.
type memorySession struct {
	mu         sync.RWMutex
	id         string
	createdAt  time.Time
	lastActive time.Time
	messages   []llms.Message
	userDocs   []extract.Document
	kbDocs     []extract.Document
	newUploads []extract.Document
	gptConfig  *GPTConfig
	summary    string
	imageURLs  []string

	// turn is a capacity-1 semaphore serializing turns on this session.
	turn chan struct{}
}

func (s *memorySession) snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		ID:        s.id,
		CreatedAt: s.createdAt,
		Messages:  make([]llms.Message, len(s.messages)),
		UserDocs:  make([]extract.Document, len(s.userDocs)),
		KBDocs:    make([]extract.Document, len(s.kbDocs)),
		Summary:   s.summary,
		ImageURLs: append([]string(nil), s.imageURLs...),
	}
	copy(snap.Messages, s.messages)
	copy(snap.UserDocs, s.userDocs)
	copy(snap.KBDocs, s.kbDocs)
	if s.gptConfig != nil {
		cfg := *s.gptConfig
		snap.GPTConfig = &cfg
	}
	return snap
}

// MemoryService is the in-process Service implementation. Sessions live in
// a map; idle sessions are swept lazily when new sessions are created.
type MemoryService struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	cfg      config.SessionConfig
	onEvict  func(sessionID string)
	now      func() time.Time
	logger   *slog.Logger
}

// NewMemoryService builds an in-memory session store.
func NewMemoryService(cfg config.SessionConfig) *MemoryService {
	return &MemoryService{
		sessions: make(map[string]*memorySession),
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// OnEvict registers a hook invoked with the id of every idle-evicted
// session, so owners of derived state (vector collections, caches) can
// clean up. Called outside store locks.
func (s *MemoryService) OnEvict(fn func(sessionID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

func (s *MemoryService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	s.mu.Lock()
	evicted := s.evictIdleLocked()

	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		s.notifyEvicted(evicted)
		return nil, ErrSessionLimit
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.sessions[id]; exists {
		s.mu.Unlock()
		s.notifyEvicted(evicted)
		return nil, fmt.Errorf("session: id %q already exists", id)
	}

	now := s.now()
	sess := &memorySession{
		id:         id,
		createdAt:  now,
		lastActive: now,
		turn:       make(chan struct{}, 1),
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	s.notifyEvicted(evicted)
	return &CreateResponse{Session: sess.snapshot()}, nil
}

func (s *MemoryService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return nil, err
	}
	return &GetResponse{Session: sess.snapshot()}, nil
}

func (s *MemoryService) Delete(ctx context.Context, req *DeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[req.SessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, req.SessionID)
	return nil
}

func (s *MemoryService) AppendMessage(ctx context.Context, sessionID string, msg llms.Message) error {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.messages = append(sess.messages, msg)
	sess.lastActive = s.now()
	return nil
}

func (s *MemoryService) SetGPTConfig(ctx context.Context, sessionID string, cfg *GPTConfig) error {
	if cfg == nil {
		return fmt.Errorf("session: nil gpt config")
	}
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	clone := *cfg
	sess.gptConfig = &clone
	sess.lastActive = s.now()
	return nil
}

func (s *MemoryService) SetSummary(ctx context.Context, sessionID string, summary string) error {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.summary = summary
	sess.lastActive = s.now()
	return nil
}

func (s *MemoryService) AddDocuments(ctx context.Context, sessionID string, docType DocType, docs []extract.Document) error {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch docType {
	case DocTypeUser:
		sess.userDocs = append(sess.userDocs, docs...)
		sess.newUploads = append(sess.newUploads, docs...)
	case DocTypeKB:
		sess.kbDocs = append(sess.kbDocs, docs...)
	default:
		return fmt.Errorf("session: invalid doc type %q", docType)
	}
	sess.lastActive = s.now()
	return nil
}

func (s *MemoryService) AddImageURLs(ctx context.Context, sessionID string, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.imageURLs = append(sess.imageURLs, urls...)
	sess.lastActive = s.now()
	return nil
}

func (s *MemoryService) TakeNewUploads(ctx context.Context, sessionID string) ([]extract.Document, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	uploads := sess.newUploads
	sess.newUploads = nil
	return uploads, nil
}

func (s *MemoryService) BeginTurn(ctx context.Context, sessionID string) (func(), error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	select {
	case sess.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sess.mu.Lock()
	sess.lastActive = s.now()
	sess.mu.Unlock()

	return func() { <-sess.turn }, nil
}

func (s *MemoryService) lookup(sessionID string) (*memorySession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// evictIdleLocked removes sessions idle past the TTL. Caller holds the
// service write lock; returned ids are reported to the evict hook after
// the lock is released.
func (s *MemoryService) evictIdleLocked() []string {
	ttl := s.cfg.IdleTTL.Duration()
	if ttl <= 0 {
		return nil
	}

	now := s.now()
	var evicted []string
	for id, sess := range s.sessions {
		sess.mu.RLock()
		idle := now.Sub(sess.lastActive)
		sess.mu.RUnlock()
		if idle > ttl {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (s *MemoryService) notifyEvicted(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.mu.RLock()
	hook := s.onEvict
	s.mu.RUnlock()

	for _, id := range ids {
		s.logger.Info("Evicted idle session", "session_id", id)
		if hook != nil {
			hook(id)
		}
	}
}

var _ Service = (*MemoryService)(nil)
