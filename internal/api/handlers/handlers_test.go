package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appMiddleware "github.com/agentica-ai/knowledgebase/internal/api/middlewares"
	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/core/ingestion_engine"
	"github.com/agentica-ai/knowledgebase/internal/models"
)

type fakeIngestor struct {
	req     ingestion_engine.Request
	files   []core.File
	url     string
	batches map[string]ingestion_engine.Batch
}

func (f *fakeIngestor) IngestFiles(context.Context, ingestion_engine.Request, []core.File, ingestion_engine.StatusFunc) []ingestion_engine.ItemResult {
	return nil
}

func (f *fakeIngestor) IngestURL(context.Context, ingestion_engine.Request, string, ingestion_engine.StatusFunc) ingestion_engine.ItemResult {
	return ingestion_engine.ItemResult{}
}

func (f *fakeIngestor) Submit(_ context.Context, req ingestion_engine.Request, files []core.File) string {
	f.req, f.files = req, files
	items := make([]ingestion_engine.ItemState, len(files))
	for i, file := range files {
		items[i] = ingestion_engine.ItemState{FileName: file.Name, Stage: ingestion_engine.StagePending}
	}
	f.batches["batch-1"] = ingestion_engine.Batch{ID: "batch-1", UserID: req.UserID, AgentID: req.AgentID, Items: items}
	return "batch-1"
}

func (f *fakeIngestor) SubmitURL(_ context.Context, req ingestion_engine.Request, rawURL string) string {
	f.req, f.url = req, rawURL
	f.batches["batch-url"] = ingestion_engine.Batch{ID: "batch-url", UserID: req.UserID,
		Items: []ingestion_engine.ItemState{{FileName: rawURL, Stage: ingestion_engine.StagePending}}}
	return "batch-url"
}

func (f *fakeIngestor) Batch(id string) (ingestion_engine.Batch, bool) {
	b, ok := f.batches[id]
	return b, ok
}

type fakeDocs struct {
	docs         map[string]models.Document
	deleted      []string
	failAll      error
	similarLimit int
}

func (f *fakeDocs) Get(_ context.Context, userID, id string) (*models.Document, error) {
	if f.failAll != nil {
		return nil, f.failAll
	}
	d, ok := f.docs[id]
	if !ok || d.UserID != userID {
		return nil, core.ErrNotFound
	}
	return &d, nil
}

func (f *fakeDocs) ListByAgent(_ context.Context, userID, agentID string) ([]models.Document, error) {
	if f.failAll != nil {
		return nil, f.failAll
	}
	out := []models.Document{}
	for _, d := range f.docs {
		if d.UserID == userID && d.AgentID == agentID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDocs) Chunks(ctx context.Context, userID, id string) ([]models.Chunk, error) {
	if _, err := f.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return []models.Chunk{{ID: "c1", DocumentID: id, ChunkIndex: 0, Content: "text"}}, nil
}

func (f *fakeDocs) Delete(ctx context.Context, userID, id string) error {
	if _, err := f.Get(ctx, userID, id); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDocs) OpenOriginal(ctx context.Context, userID, id string) (io.ReadCloser, *models.Document, error) {
	d, err := f.Get(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(strings.NewReader("original bytes")), d, nil
}

func (f *fakeDocs) Similar(ctx context.Context, userID, id string, limit int) ([]models.SimilarDocument, error) {
	if _, err := f.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	f.similarLimit = limit
	return []models.SimilarDocument{{Document: models.Document{ID: "doc-3", UserID: userID}, Similarity: 0.4}}, nil
}

func (f *fakeDocs) Stats(context.Context, string) (*models.KnowledgeBaseStats, error) {
	return &models.KnowledgeBaseStats{TotalDocuments: 1, TotalChunks: 1, FileTypes: map[string]int{"txt": 1}, Statuses: map[string]int{"completed": 1}}, nil
}

type fakeKnowledge struct {
	answer  *models.Answer
	err     error
	matches []models.ChunkMatch

	lastUser      string
	lastThreshold float64
	lastFilter    models.SearchFilter
	lastLimit     int
}

func (f *fakeKnowledge) Ask(_ context.Context, _, question string) (*models.Answer, error) {
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", core.ErrInvalidInput)
	}
	return f.answer, f.err
}

func (f *fakeKnowledge) Search(_ context.Context, _, _ string, limit int, threshold float64) ([]models.ChunkMatch, error) {
	f.lastLimit, f.lastThreshold = limit, threshold
	return f.matches, f.err
}

func (f *fakeKnowledge) SearchAdvanced(_ context.Context, userID, query string, filter models.SearchFilter, limit int) ([]models.ChunkMatch, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", core.ErrInvalidInput)
	}
	f.lastUser, f.lastFilter, f.lastLimit = userID, filter, limit
	return f.matches, f.err
}

type testEnv struct {
	router    http.Handler
	ingestor  *fakeIngestor
	docs      *fakeDocs
	knowledge *fakeKnowledge
}

func newTestEnv(maxFileSize int64) *testEnv {
	env := &testEnv{
		ingestor: &fakeIngestor{batches: map[string]ingestion_engine.Batch{}},
		docs: &fakeDocs{docs: map[string]models.Document{
			"doc-1": {ID: "doc-1", UserID: "user-1", AgentID: "agent-1", OriginalFileName: "q3.txt", Status: models.StatusCompleted,
				Metadata: map[string]any{"mimeType": "text/plain"}},
			"doc-2": {ID: "doc-2", UserID: "user-2", AgentID: "agent-1"},
		}},
		knowledge: &fakeKnowledge{},
	}
	docH := NewDocumentHandler(env.docs, env.ingestor, maxFileSize)
	chatH := NewChatHandler(env.knowledge)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if u := req.Header.Get("X-Test-User"); u != "" {
				req = req.WithContext(appMiddleware.WithUserID(req.Context(), u))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/api/health", NewHealthHandler().Health)
	r.Post("/api/agents/{agentID}/documents", docH.UploadDocuments)
	r.Post("/api/agents/{agentID}/documents/url", docH.IngestURL)
	r.Get("/api/agents/{agentID}/documents", docH.ListDocuments)
	r.Get("/api/ingest/batches/{batchID}", docH.GetBatch)
	r.Get("/api/documents/{documentID}", docH.GetDocument)
	r.Get("/api/documents/{documentID}/chunks", docH.GetChunks)
	r.Get("/api/documents/{documentID}/similar", docH.SimilarDocuments)
	r.Get("/api/documents/{documentID}/file", docH.DownloadOriginal)
	r.Delete("/api/documents/{documentID}", docH.DeleteDocument)
	r.Get("/api/knowledge/stats", docH.Stats)
	r.Post("/api/agents/{agentID}/ask", chatH.Ask)
	r.Post("/api/agents/{agentID}/search", chatH.Search)
	r.Post("/api/knowledge/search", chatH.SearchAdvanced)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, user string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, field string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(0)
	rec := env.do(t, http.MethodGet, "/api/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestUploadDocumentsAccepted(t *testing.T) {
	env := newTestEnv(0)
	body, ct := multipartBody(t, "files", map[string]string{"../../etc/q3.txt": "Quarterly revenue grew 12%."})

	rec := env.do(t, http.MethodPost, "/api/agents/agent-1/documents", "user-1", body, ct)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "batch-1", resp.BatchID)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, ingestion_engine.StagePending, resp.Items[0].Stage)

	assert.Equal(t, ingestion_engine.Request{UserID: "user-1", AgentID: "agent-1"}, env.ingestor.req)
	require.Len(t, env.ingestor.files, 1)
	assert.Equal(t, "q3.txt", env.ingestor.files[0].Name)
	assert.Equal(t, "Quarterly revenue grew 12%.", string(env.ingestor.files[0].Data))
	assert.Equal(t, int64(27), env.ingestor.files[0].Size)
}

func TestUploadOversizedFileIsPassedWithoutData(t *testing.T) {
	env := newTestEnv(10)
	body, ct := multipartBody(t, "files", map[string]string{"big.txt": strings.Repeat("x", 64)})

	rec := env.do(t, http.MethodPost, "/api/agents/agent-1/documents", "user-1", body, ct)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, env.ingestor.files, 1)
	assert.Nil(t, env.ingestor.files[0].Data)
	assert.Equal(t, int64(64), env.ingestor.files[0].Size)
}

func TestUploadRejections(t *testing.T) {
	env := newTestEnv(0)

	rec := env.do(t, http.MethodPost, "/api/agents/agent-1/documents", "", strings.NewReader(""), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body, ct := multipartBody(t, "other", map[string]string{"a.txt": "x"})
	rec = env.do(t, http.MethodPost, "/api/agents/agent-1/documents", "user-1", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no files provided")

	rec = env.do(t, http.MethodPost, "/api/agents/agent-1/documents", "user-1", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestURL(t *testing.T) {
	env := newTestEnv(0)

	rec := env.do(t, http.MethodPost, "/api/agents/agent-1/documents/url", "user-1",
		strings.NewReader(`{"url":"https://example.com/pricing"}`), "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "https://example.com/pricing", env.ingestor.url)
	assert.Contains(t, rec.Body.String(), `"batch_id":"batch-url"`)

	rec = env.do(t, http.MethodPost, "/api/agents/agent-1/documents/url", "user-1", strings.NewReader(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/agents/agent-1/documents/url", "user-1", strings.NewReader(`not json`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBatchIsOwnerScoped(t *testing.T) {
	env := newTestEnv(0)
	env.ingestor.batches["b"] = ingestion_engine.Batch{ID: "b", UserID: "user-1", Done: true}

	rec := env.do(t, http.MethodGet, "/api/ingest/batches/b", "user-1", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"done":true`)

	rec = env.do(t, http.MethodGet, "/api/ingest/batches/b", "user-2", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentEndpoints(t *testing.T) {
	env := newTestEnv(0)

	rec := env.do(t, http.MethodGet, "/api/agents/agent-1/documents", "user-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list DocumentListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rec = env.do(t, http.MethodGet, "/api/documents/doc-1", "user-1", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"original_filename":"q3.txt"`)

	rec = env.do(t, http.MethodGet, "/api/documents/doc-2", "user-1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/documents/doc-1/chunks", "user-1", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = env.do(t, http.MethodGet, "/api/documents/doc-1/file", "user-1", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "original bytes", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="q3.txt"`)

	rec = env.do(t, http.MethodDelete, "/api/documents/doc-1", "user-1", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"doc-1"}, env.docs.deleted)

	rec = env.do(t, http.MethodGet, "/api/knowledge/stats", "user-1", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_documents":1`)
}

func TestDocumentStoreFailure(t *testing.T) {
	env := newTestEnv(0)
	env.docs.failAll = errors.New("connection refused")

	rec := env.do(t, http.MethodGet, "/api/agents/agent-1/documents", "user-1", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to list documents")
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestAsk(t *testing.T) {
	env := newTestEnv(0)
	env.knowledge.answer = &models.Answer{Text: "Revenue grew 12%.", Sources: []models.Source{{FileName: "q3.txt", ChunkIndex: 0, Relevance: 0.8}}}

	rec := env.do(t, http.MethodPost, "/api/agents/agent-1/ask", "user-1", strings.NewReader(`{"question":"How did revenue change?"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":"Revenue grew 12%.","sources":[{"filename":"q3.txt","chunk_index":0,"relevance_score":0.8}]}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/agents/agent-1/ask", "user-1", strings.NewReader(`{"question":""}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   int
		reason string
	}{
		{"overloaded", fmt.Errorf("%w: %w: %w", core.ErrAnswerFailed, core.ErrAIOverloaded, errors.New("503 Service Unavailable")), http.StatusServiceUnavailable, "temporarily overloaded"},
		{"status code in input", fmt.Errorf("%w: question mentions 503", core.ErrInvalidInput), http.StatusBadRequest, "503"},
		{"answer failed", fmt.Errorf("%w: empty response", core.ErrAnswerFailed), http.StatusInternalServerError, "Failed to generate answer"},
		{"retrieval", fmt.Errorf("%w: db down", core.ErrRetrievalFailed), http.StatusInternalServerError, "Failed to search documents"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(0)
			env.knowledge.err = tc.err

			rec := env.do(t, http.MethodPost, "/api/agents/agent-1/ask", "user-1", strings.NewReader(`{"question":"q"}`), "application/json")
			assert.Equal(t, tc.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.reason)
		})
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(0)
	env.knowledge.matches = []models.ChunkMatch{{Chunk: models.Chunk{ID: "c1", Content: "Refunds within 30 days."}, FileName: "faq.md", Similarity: 0.91}}

	rec := env.do(t, http.MethodPost, "/api/agents/agent-1/search", "user-1", strings.NewReader(`{"query":"refund","limit":3}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
	assert.Contains(t, rec.Body.String(), `"filename":"faq.md"`)
	assert.Equal(t, 3, env.knowledge.lastLimit)
	assert.Zero(t, env.knowledge.lastThreshold)

	rec = env.do(t, http.MethodPost, "/api/agents/agent-1/search", "user-1", strings.NewReader(`{"query":"refund","threshold":0.5}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.5, env.knowledge.lastThreshold, 1e-9)

	rec = env.do(t, http.MethodPost, "/api/agents/agent-1/search", "user-1", strings.NewReader(`{"query":"refund","threshold":1.2}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "threshold")
}

func TestSearchAdvanced(t *testing.T) {
	env := newTestEnv(0)
	env.knowledge.matches = []models.ChunkMatch{{Chunk: models.Chunk{ID: "c1", Importance: 8}, FileName: "pricing.pdf", Similarity: 0.3}}

	body := `{"query":"enterprise pricing","agent_id":"agent-1","categories":["Sales","Pricing"],"min_importance":5,"limit":15}`
	rec := env.do(t, http.MethodPost, "/api/knowledge/search", "user-1", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"filename":"pricing.pdf"`)
	assert.Equal(t, "user-1", env.knowledge.lastUser)
	assert.Equal(t, models.SearchFilter{AgentID: "agent-1", Categories: []string{"Sales", "Pricing"}, MinImportance: 5}, env.knowledge.lastFilter)
	assert.Equal(t, 15, env.knowledge.lastLimit)

	rec = env.do(t, http.MethodPost, "/api/knowledge/search", "user-1", strings.NewReader(`{"query":""}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/knowledge/search", "", strings.NewReader(`{"query":"x"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSimilarDocuments(t *testing.T) {
	env := newTestEnv(0)

	rec := env.do(t, http.MethodGet, "/api/documents/doc-1/similar?limit=4", "user-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SimilarDocumentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "doc-3", resp.Documents[0].ID)
	assert.InDelta(t, 0.4, resp.Documents[0].Similarity, 1e-9)
	assert.Equal(t, 4, env.docs.similarLimit)

	rec = env.do(t, http.MethodGet, "/api/documents/doc-1/similar", "user-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, env.docs.similarLimit)

	rec = env.do(t, http.MethodGet, "/api/documents/doc-1/similar?limit=abc", "user-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/documents/doc-2/similar", "user-1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
