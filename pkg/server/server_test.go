package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/extract"
	"github.com/strandlabs/strand/pkg/observability"
	"github.com/strandlabs/strand/pkg/runtime"
	"github.com/strandlabs/strand/pkg/session"
	"github.com/strandlabs/strand/pkg/stream"
)

// stubEngine backs the HTTP surface with real session semantics and a
// canned turn.
type stubEngine struct {
	cfg      *config.Config
	sessions session.Service
	turn     func(ctx context.Context, req runtime.TurnRequest, sink stream.Sink) (*runtime.TurnResult, error)
	kbDocs   []extract.Document
	kbErr    error
}

func newStubEngine(t *testing.T) *stubEngine {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.APIKey = "sk-test"
	return &stubEngine{
		cfg:      cfg,
		sessions: session.NewMemoryService(cfg.Session),
	}
}

func (e *stubEngine) Config() *config.Config { return e.cfg }

func (e *stubEngine) Sessions() session.Service { return e.sessions }

func (e *stubEngine) Turn(ctx context.Context, req runtime.TurnRequest, sink stream.Sink) (*runtime.TurnResult, error) {
	if e.turn != nil {
		return e.turn(ctx, req, sink)
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, runtime.ErrEmptyMessage
	}
	if _, err := e.sessions.Get(ctx, &session.GetRequest{SessionID: req.SessionID}); err != nil {
		return nil, err
	}
	answer := "echo: " + req.Message
	_ = sink.Send(ctx, stream.StatusProgress("processing", "Starting processing...", "orchestrator", 0))
	_ = sink.Send(ctx, stream.Content(answer, answer, false, "SimpleLLM"))
	_ = sink.Send(ctx, stream.Content("", answer, true, "SimpleLLM"))
	_ = sink.Send(ctx, stream.Done(req.SessionID))
	return &runtime.TurnResult{SessionID: req.SessionID, Answer: answer}, nil
}

func (e *stubEngine) AddDocuments(ctx context.Context, sessionID string, docType session.DocType, uploads []extract.Upload) ([]extract.Document, error) {
	docs := make([]extract.Document, 0, len(uploads))
	for _, up := range uploads {
		docs = append(docs, extract.Document{
			ID:       up.ID,
			Filename: up.Filename,
			Content:  "extracted",
			FileType: up.FileType,
		})
	}
	if err := e.sessions.AddDocuments(ctx, sessionID, docType, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (e *stubEngine) LoadKB(ctx context.Context, sessionID string) ([]extract.Document, error) {
	if e.kbErr != nil {
		return nil, e.kbErr
	}
	if err := e.sessions.AddDocuments(ctx, sessionID, session.DocTypeKB, e.kbDocs); err != nil {
		return nil, err
	}
	return e.kbDocs, nil
}

func (e *stubEngine) DeleteSession(ctx context.Context, sessionID string) error {
	return e.sessions.Delete(ctx, &session.DeleteRequest{SessionID: sessionID})
}

func newTestServer(t *testing.T, eng *stubEngine, opts ...Option) *httptest.Server {
	t.Helper()
	srv := New(&eng.cfg.Server, eng, opts...)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sid, _ := decodeBody(t, resp)["session_id"].(string)
	require.NotEmpty(t, sid)
	return sid
}

func TestRootEndpoint(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t), WithVersion("1.2.3"))

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Strand AI Assistant API", body["message"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestHealthEndpoint(t *testing.T) {
	eng := newStubEngine(t)
	ts := newTestServer(t, eng)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["provider_configured"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHealthEndpointUnconfiguredProvider(t *testing.T) {
	eng := newStubEngine(t)
	eng.cfg.LLM.APIKey = ""
	ts := newTestServer(t, eng)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, false, decodeBody(t, resp)["provider_configured"])
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t))
	sid := createSession(t, ts)

	resp, err := http.Get(ts.URL + "/api/sessions/" + sid)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, sid, body["session_id"])
	assert.Contains(t, body, "messages")

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+sid, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Session deleted successfully", decodeBody(t, resp)["message"])

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetSessionNotFound(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t))

	resp, err := http.Get(ts.URL + "/api/sessions/ghost")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, decodeBody(t, resp)["error"])
}

func TestGPTConfigEndpoint(t *testing.T) {
	eng := newStubEngine(t)
	ts := newTestServer(t, eng)
	sid := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/"+sid+"/gpt-config", map[string]any{
		"name":          "Helper",
		"model":         "gpt-4o",
		"system_prompt": "Answer briefly.",
		"web_search":    true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GPT configuration updated successfully", decodeBody(t, resp)["message"])

	got, err := eng.sessions.Get(context.Background(), &session.GetRequest{SessionID: sid})
	require.NoError(t, err)
	require.NotNil(t, got.Session.GPTConfig)
	assert.Equal(t, "Helper", got.Session.GPTConfig.Name)
	assert.True(t, got.Session.GPTConfig.WebSearch)
}

func TestGPTConfigRejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t))
	sid := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/"+sid+"/gpt-config", map[string]any{
		"name":       "Helper",
		"tempreture": 0.7,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeBody(t, resp)["error"], "invalid gpt config")
}

func TestAddDocumentsEndpoint(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t))
	sid := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/"+sid+"/add-documents", map[string]any{
		"documents": []map[string]any{
			{"id": "d1", "filename": "notes.txt", "file_url": "https://files.test/notes.txt", "file_type": "txt", "size": 12},
		},
		"doc_type": "user",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "Successfully uploaded 1 documents", body["message"])
	require.Len(t, body["documents"], 1)
}

func TestAddDocumentsInvalidDocType(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t))
	sid := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/"+sid+"/add-documents", map[string]any{
		"documents": []map[string]any{{"filename": "notes.txt", "file_url": "https://files.test/notes.txt"}},
		"doc_type":  "archive",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid doc_type. Use 'user' or 'kb'", decodeBody(t, resp)["error"])
}

func TestGetDocumentsEndpoint(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t))
	sid := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/"+sid+"/add-documents", map[string]any{
		"documents": []map[string]any{{"filename": "notes.txt", "file_url": "https://files.test/notes.txt"}},
		"doc_type":  "user",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/sessions/" + sid + "/documents")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Len(t, body["uploaded_docs"], 1)
	assert.Empty(t, body["kb"])
}

func TestLoadKBEndpoint(t *testing.T) {
	eng := newStubEngine(t)
	eng.kbDocs = []extract.Document{
		{ID: "kb1", Filename: "guide.md", Content: "usage guide"},
		{ID: "kb2", Filename: "faq.md", Content: "faq"},
	}
	ts := newTestServer(t, eng)
	sid := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/"+sid+"/load-kb", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "Loaded 2 KB documents", body["message"])
	assert.Len(t, body["kb_documents"], 2)
}

func TestLoadKBWithoutDirectory(t *testing.T) {
	eng := newStubEngine(t)
	eng.kbErr = runtime.ErrNoKBDirectory
	ts := newTestServer(t, eng)
	sid := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/"+sid+"/load-kb", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestChatEndpoint(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t))
	sid := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/"+sid+"/chat", map[string]any{"message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "echo: hello", body["message"])
	assert.Equal(t, sid, body["session_id"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestChatEndpointEmptyMessage(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t))
	sid := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/"+sid+"/chat", map[string]any{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestChatEndpointUnknownSession(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t))

	resp := postJSON(t, ts.URL+"/api/sessions/ghost/chat", map[string]any{"message": "hello"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

type sseEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		require.True(t, strings.HasPrefix(block, "data: "), "unexpected SSE block %q", block)
		var ev sseEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestChatStreamEndpoint(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t))
	sid := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/"+sid+"/chat/stream", map[string]any{"message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	events := parseSSE(t, buf.String())
	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, "status", events[0].Type)
	assert.Equal(t, "done", events[len(events)-1].Type)

	var done stream.DoneData
	require.NoError(t, json.Unmarshal(events[len(events)-1].Data, &done))
	assert.Equal(t, sid, done.SessionID)

	var sawComplete bool
	for _, ev := range events {
		if ev.Type != "content" {
			continue
		}
		var content stream.ContentData
		require.NoError(t, json.Unmarshal(ev.Data, &content))
		if content.IsComplete {
			sawComplete = true
			assert.Equal(t, "echo: hello", content.FullResponse)
		}
	}
	assert.True(t, sawComplete)
}

func TestChatStreamRejectsBadInputBeforeStreaming(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t))
	sid := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/ghost/chat/stream", map[string]any{"message": "hello"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/sessions/"+sid+"/chat/stream", map[string]any{"message": " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, newStubEngine(t))

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestMetricsEndpointMounted(t *testing.T) {
	obs := observability.NewManager(observability.Config{
		Metrics: observability.MetricsConfig{Enabled: true},
	})
	ts := newTestServer(t, newStubEngine(t), WithObservability(obs))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
