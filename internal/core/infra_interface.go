package core

import (
	"context"
	"io"

	"github.com/agentica-ai/knowledgebase/internal/models"
)

// DbClient defines all persistence operations the knowledge base needs.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	// CreateDocument writes the document with its analysis columns.
	CreateDocument(ctx context.Context, doc *models.Document) error
	// CreateDocumentBasic writes only the required columns.
	CreateDocumentBasic(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByAgent(ctx context.Context, userID, agentID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status string) error
	DeleteDocument(ctx context.Context, id string) error

	InsertDocumentChunks(ctx context.Context, chunks []models.Chunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)

	SearchChunksFullText(ctx context.Context, agentID, query string, limit int) ([]models.ChunkMatch, error)
	SearchChunksPattern(ctx context.Context, agentID, query string, limit int) ([]models.ChunkMatch, error)
	// SearchChunksByVector returns chunks whose cosine similarity to queryVec is at least minSimilarity.
	SearchChunksByVector(ctx context.Context, agentID string, queryVec []float32, minSimilarity float64, limit int) ([]models.ChunkMatch, error)
	// SearchChunksAdvanced runs a full text search over every document the user owns.
	SearchChunksAdvanced(ctx context.Context, userID, query string, filter models.SearchFilter, limit int) ([]models.ChunkMatch, error)
	// FindSimilarDocuments ranks the owner's other documents by overlap of their analysis terms.
	FindSimilarDocuments(ctx context.Context, documentID string, minSimilarity float64, limit int) ([]models.SimilarDocument, error)

	KnowledgeBaseStats(ctx context.Context, userID string) (*models.KnowledgeBaseStats, error)

	Close() error
}

// ObjectClient defines interactions with S3-compatible object storage.
// Keys are relative to the client's bucket.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (path string, err error)
	DeleteFile(ctx context.Context, key string) error
	GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error)
}
