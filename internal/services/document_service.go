package services

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/models"
)

// DocumentService manages stored documents on behalf of their owner. Documents
// of other users are reported as not found.
type DocumentService struct {
	db      core.DbClient
	storage core.ObjectClient
	log     *logrus.Entry
}

// NewDocumentService builds the service. storage may be nil when uploads are not archived.
func NewDocumentService(db core.DbClient, storage core.ObjectClient) *DocumentService {
	return &DocumentService{db: db, storage: storage, log: logrus.WithField("component", "documents")}
}

func (s *DocumentService) Get(ctx context.Context, userID, id string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return doc, nil
}

func (s *DocumentService) ListByAgent(ctx context.Context, userID, agentID string) ([]models.Document, error) {
	return s.db.ListDocumentsByAgent(ctx, userID, agentID)
}

func (s *DocumentService) Chunks(ctx context.Context, userID, id string) ([]models.Chunk, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.db.GetChunksByDocument(ctx, id)
}

// Delete removes the document and its chunks, then the archived upload. A
// failing object delete is logged and does not fail the call.
func (s *DocumentService) Delete(ctx context.Context, userID, id string) error {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if s.storage != nil && doc.StoragePath != "" {
		if err := s.storage.DeleteFile(ctx, doc.StoragePath); err != nil {
			s.log.WithField("document", id).Warnf("deleting archived upload failed: %v", err)
		}
	}
	return nil
}

// OpenOriginal streams the archived upload of a document.
func (s *DocumentService) OpenOriginal(ctx context.Context, userID, id string) (io.ReadCloser, *models.Document, error) {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	if s.storage == nil || doc.StoragePath == "" {
		return nil, nil, fmt.Errorf("original of document %s: %w", id, core.ErrNotFound)
	}
	rc, err := s.storage.GetObjectReader(ctx, doc.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return rc, doc, nil
}

const (
	similarDocumentThreshold = 0.3
	defaultSimilarLimit      = 10
	maxSimilarLimit          = 50
)

// Similar lists the owner's other documents that share analysis terms with the given one.
func (s *DocumentService) Similar(ctx context.Context, userID, id string, limit int) ([]models.SimilarDocument, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSimilarLimit
	}
	limit = min(limit, maxSimilarLimit)
	return s.db.FindSimilarDocuments(ctx, id, similarDocumentThreshold, limit)
}

func (s *DocumentService) Stats(ctx context.Context, userID string) (*models.KnowledgeBaseStats, error) {
	return s.db.KnowledgeBaseStats(ctx, userID)
}
