package models

import (
	"time"
)

// Document processing states persisted in processing_status.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Sentiment and reading level values accepted in an AnalysisResult.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"

	ReadingBeginner     = "beginner"
	ReadingIntermediate = "intermediate"
	ReadingAdvanced     = "advanced"
)

// Document represents one uploaded file or fetched URL in an agent's knowledge base.
type Document struct {
	ID               string          `db:"id" json:"id"`
	UserID           string          `db:"user_id" json:"user_id"`
	AgentID          string          `db:"agent_id" json:"agent_id"`
	FileName         string          `db:"filename" json:"filename"` // <unixmillis>_<original>
	OriginalFileName string          `db:"original_filename" json:"original_filename"`
	FileType         string          `db:"file_type" json:"file_type"`
	FileSize         int64           `db:"file_size" json:"file_size"`
	Content          string          `db:"content" json:"content,omitempty"`
	SourceURL        string          `db:"url" json:"url,omitempty"`
	StoragePath      string          `db:"storage_path" json:"storage_path,omitempty"`
	Metadata         map[string]any  `db:"metadata" json:"metadata,omitempty"`
	Analysis         *AnalysisResult `db:"analysis" json:"analysis,omitempty"`
	Status           string          `db:"processing_status" json:"processing_status"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Chunk is one retrievable segment of a Document.
type Chunk struct {
	ID                string    `db:"id" json:"id"`
	DocumentID        string    `db:"document_id" json:"document_id"`
	ChunkIndex        int       `db:"chunk_index" json:"chunk_index"`
	Content           string    `db:"content" json:"content"`
	Summary           string    `db:"summary" json:"summary"`
	Keywords          []string  `db:"keywords" json:"keywords"`
	Importance        int       `db:"importance" json:"importance"`
	SearchableContent string    `db:"searchable_content" json:"searchable_content"`
	TokenCount        int       `db:"token_count" json:"token_count"`
	Embedding         []float32 `db:"embedding" json:"-"` // pgvector column, optional
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// AnalysisResult is the document-level metadata produced by the analyzer.
type AnalysisResult struct {
	Summary      string   `json:"summary"`
	KeyTopics    []string `json:"keyTopics"`
	Entities     []string `json:"entities"`
	Categories   []string `json:"categories"`
	Sentiment    string   `json:"sentiment"`
	Language     string   `json:"language"`
	ReadingLevel string   `json:"readingLevel"`
	WordCount    int      `json:"wordCount"`
	KeyPhrases   []string `json:"keyPhrases"`
	Questions    []string `json:"questions"`
	ActionItems  []string `json:"actionItems"`
}

// FallbackAnalysis is used whenever the AI analysis cannot be obtained.
func FallbackAnalysis() AnalysisResult {
	return AnalysisResult{
		Summary:      "Document analysis failed. Content has been stored for basic search.",
		KeyTopics:    []string{},
		Entities:     []string{},
		Categories:   []string{"uncategorized"},
		Sentiment:    SentimentNeutral,
		Language:     "unknown",
		ReadingLevel: ReadingIntermediate,
		KeyPhrases:   []string{},
		Questions:    []string{},
		ActionItems:  []string{},
	}
}

// ChunkData is the chunker's output before search text and persistence are attached.
type ChunkData struct {
	Content    string   `json:"content"`
	Summary    string   `json:"summary"`
	Keywords   []string `json:"keywords"`
	Importance int      `json:"importance"`
	ChunkIndex int      `json:"chunk_index"`
}

// ChunkMatch is a chunk returned by a retrieval query together with its document's filename.
type ChunkMatch struct {
	Chunk
	FileName   string  `json:"filename"`
	Similarity float64 `json:"similarity"`
}

// SearchFilter narrows an advanced search across a user's documents.
// An empty AgentID or Categories means no restriction on that field.
type SearchFilter struct {
	AgentID       string   `json:"agent_id,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	MinImportance int      `json:"min_importance,omitempty"`
}

// SimilarDocument is a document whose analysis terms overlap another's.
type SimilarDocument struct {
	Document
	Similarity float64 `json:"similarity"`
}

// Source cites one chunk used to build an answer.
type Source struct {
	FileName   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Relevance  float64 `json:"relevance_score"`
}

// Answer is a retrieval-augmented response.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// KnowledgeBaseStats summarises a user's stored documents.
type KnowledgeBaseStats struct {
	TotalDocuments int            `json:"total_documents"`
	TotalChunks    int            `json:"total_chunks"`
	TotalSize      int64          `json:"total_size"`
	FileTypes      map[string]int `json:"file_types"`
	Statuses       map[string]int `json:"statuses"`
}
