package handlers

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ory/herodot"
	"github.com/sirupsen/logrus"

	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/core/ingestion_engine"
	"github.com/agentica-ai/knowledgebase/internal/models"
)

const (
	multipartMemory = 32 << 20
	maxBatchFiles   = 20
)

// DocumentStore is the document management surface the handler needs.
type DocumentStore interface {
	Get(ctx context.Context, userID, id string) (*models.Document, error)
	ListByAgent(ctx context.Context, userID, agentID string) ([]models.Document, error)
	Chunks(ctx context.Context, userID, id string) ([]models.Chunk, error)
	Delete(ctx context.Context, userID, id string) error
	OpenOriginal(ctx context.Context, userID, id string) (io.ReadCloser, *models.Document, error)
	Stats(ctx context.Context, userID string) (*models.KnowledgeBaseStats, error)
	Similar(ctx context.Context, userID, id string, limit int) ([]models.SimilarDocument, error)
}

type DocumentHandler struct {
	docs        DocumentStore
	ingestor    ingestion_engine.Ingestor
	maxFileSize int64
	writer      *herodot.JSONWriter
	log         *logrus.Entry
}

func NewDocumentHandler(docs DocumentStore, ing ingestion_engine.Ingestor, maxFileSize int64) *DocumentHandler {
	if maxFileSize <= 0 {
		maxFileSize = ingestion_engine.DefaultMaxFileSize
	}
	return &DocumentHandler{
		docs:        docs,
		ingestor:    ing,
		maxFileSize: maxFileSize,
		writer:      herodot.NewJSONWriter(nil),
		log:         logrus.WithField("component", "document_handler"),
	}
}

// BatchResponse is returned when ingestion has been accepted.
type BatchResponse struct {
	BatchID string                       `json:"batch_id"`
	Items   []ingestion_engine.ItemState `json:"items"`
}

type URLRequest struct {
	URL string `json:"url"`
}

type DocumentListResponse struct {
	Documents []models.Document `json:"documents"`
	Count     int               `json:"count"`
}

type SimilarDocumentsResponse struct {
	Documents []models.SimilarDocument `json:"documents"`
	Count     int                      `json:"count"`
}

type ChunkListResponse struct {
	Chunks []models.Chunk `json:"chunks"`
	Count  int            `json:"count"`
}

// UploadDocuments accepts a multipart batch in the "files" field and starts ingestion.
func (h *DocumentHandler) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.writer)
	if !ok {
		return
	}
	agentID := chi.URLParam(r, "agentID")

	r.Body = http.MaxBytesReader(w, r.Body, maxBatchFiles*(h.maxFileSize+1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("no files provided"))
		return
	}
	if len(headers) > maxBatchFiles {
		h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason(fmt.Sprintf("at most %d files per upload", maxBatchFiles)))
		return
	}

	files := make([]core.File, 0, len(headers))
	for _, fh := range headers {
		f, err := h.readFile(fh)
		if err != nil {
			h.log.WithField("file", fh.Filename).Warnf("reading upload failed: %v", err)
			h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("invalid file "+fh.Filename))
			return
		}
		files = append(files, f)
	}

	req := ingestion_engine.Request{UserID: userID, AgentID: agentID}
	h.accepted(w, r, h.ingestor.Submit(r.Context(), req, files))
}

// readFile loads the part into memory. Parts above the size limit are passed
// on without data; the pipeline rejects them by size.
func (h *DocumentHandler) readFile(fh *multipart.FileHeader) (core.File, error) {
	f := core.File{
		Name:     filepath.Base(fh.Filename),
		MIMEType: fh.Header.Get("Content-Type"),
		Size:     fh.Size,
	}
	if fh.Size > h.maxFileSize {
		return f, nil
	}
	src, err := fh.Open()
	if err != nil {
		return f, err
	}
	defer src.Close()

	f.Data, err = io.ReadAll(io.LimitReader(src, h.maxFileSize+1))
	if err != nil {
		return f, err
	}
	f.Size = int64(len(f.Data))
	return f, nil
}

// IngestURL starts ingestion of a web page.
func (h *DocumentHandler) IngestURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.writer)
	if !ok {
		return
	}
	var body URLRequest
	if !decodeJSON(w, r, h.writer, &body) {
		return
	}
	if body.URL == "" {
		h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("url is required"))
		return
	}

	req := ingestion_engine.Request{UserID: userID, AgentID: chi.URLParam(r, "agentID")}
	h.accepted(w, r, h.ingestor.SubmitURL(r.Context(), req, body.URL))
}

func (h *DocumentHandler) accepted(w http.ResponseWriter, r *http.Request, batchID string) {
	resp := &BatchResponse{BatchID: batchID}
	if b, ok := h.ingestor.Batch(batchID); ok {
		resp.Items = b.Items
	}
	h.writer.WriteCode(w, r, http.StatusAccepted, resp)
}

// GetBatch reports per-item progress of a batch owned by the caller.
func (h *DocumentHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.writer)
	if !ok {
		return
	}
	b, found := h.ingestor.Batch(chi.URLParam(r, "batchID"))
	if !found || b.UserID != userID {
		h.writer.WriteError(w, r, herodot.ErrNotFound.WithReason("batch not found"))
		return
	}
	h.writer.Write(w, r, &b)
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.writer)
	if !ok {
		return
	}
	docs, err := h.docs.ListByAgent(r.Context(), userID, chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, r, h.writer, err, "Failed to list documents")
		return
	}
	h.writer.Write(w, r, &DocumentListResponse{Documents: docs, Count: len(docs)})
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.writer)
	if !ok {
		return
	}
	doc, err := h.docs.Get(r.Context(), userID, chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, r, h.writer, err, "Failed to load document")
		return
	}
	h.writer.Write(w, r, doc)
}

func (h *DocumentHandler) GetChunks(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.writer)
	if !ok {
		return
	}
	chunks, err := h.docs.Chunks(r.Context(), userID, chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, r, h.writer, err, "Failed to load chunks")
		return
	}
	h.writer.Write(w, r, &ChunkListResponse{Chunks: chunks, Count: len(chunks)})
}

// SimilarDocuments lists the caller's documents that share topics with this one.
// An optional limit query parameter caps the result.
func (h *DocumentHandler) SimilarDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.writer)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("limit must be a positive integer"))
			return
		}
		limit = n
	}
	docs, err := h.docs.Similar(r.Context(), userID, chi.URLParam(r, "documentID"), limit)
	if err != nil {
		writeError(w, r, h.writer, err, "Failed to find similar documents")
		return
	}
	h.writer.Write(w, r, &SimilarDocumentsResponse{Documents: docs, Count: len(docs)})
}

// DownloadOriginal streams the archived upload.
func (h *DocumentHandler) DownloadOriginal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.writer)
	if !ok {
		return
	}
	rc, doc, err := h.docs.OpenOriginal(r.Context(), userID, chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, r, h.writer, err, "Failed to load original file")
		return
	}
	defer rc.Close()

	contentType, _ := doc.Metadata["mimeType"].(string)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.OriginalFileName))
	if _, err := io.Copy(w, rc); err != nil {
		h.log.WithField("document", doc.ID).Warnf("streaming original failed: %v", err)
	}
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.writer)
	if !ok {
		return
	}
	if err := h.docs.Delete(r.Context(), userID, chi.URLParam(r, "documentID")); err != nil {
		writeError(w, r, h.writer, err, "Failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.writer)
	if !ok {
		return
	}
	stats, err := h.docs.Stats(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.writer, err, "Failed to load statistics")
		return
	}
	h.writer.Write(w, r, stats)
}
