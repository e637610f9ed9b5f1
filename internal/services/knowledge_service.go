package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/core/knowledge"
	"github.com/agentica-ai/knowledgebase/internal/core/llm"
	"github.com/agentica-ai/knowledgebase/internal/models"
)

const (
	defaultSearchLimit    = 10
	defaultMatchThreshold = 0.78
	defaultAdvancedLimit  = 20
	maxAdvancedLimit      = 100
)

// KnowledgeOptions tunes retrieval. Zero values take the defaults; an EmbedDim
// of 0 accepts query vectors of any length.
type KnowledgeOptions struct {
	Retry          llm.RetryPolicy
	Limit          int
	MatchThreshold float64
	EmbedDim       int
}

// KnowledgeService answers questions and finds similar chunks within an agent's knowledge base.
type KnowledgeService struct {
	db        core.DbClient
	answerer  *knowledge.Answerer
	embedder  core.EmbeddingProvider
	retry     llm.RetryPolicy
	limit     int
	threshold float64
	embedDim  int
}

// NewKnowledgeService builds the service. Without an embedder, Search falls
// back to full-text ranking.
func NewKnowledgeService(db core.DbClient, gen core.LLMProvider, emb core.EmbeddingProvider, opts KnowledgeOptions) *KnowledgeService {
	if opts.Limit <= 0 {
		opts.Limit = defaultSearchLimit
	}
	if opts.MatchThreshold <= 0 || opts.MatchThreshold > 1 {
		opts.MatchThreshold = defaultMatchThreshold
	}
	return &KnowledgeService{
		db:        db,
		answerer:  knowledge.NewAnswerer(db, gen, opts.Retry, opts.Limit),
		embedder:  emb,
		retry:     opts.Retry,
		limit:     opts.Limit,
		threshold: opts.MatchThreshold,
		embedDim:  opts.EmbedDim,
	}
}

func (s *KnowledgeService) Ask(ctx context.Context, agentID, question string) (*models.Answer, error) {
	return s.answerer.Answer(ctx, question, agentID)
}

// Search returns the chunks closest to query, at most limit of them. Vector
// matches below threshold are dropped; a threshold outside (0, 1] uses the
// configured one. The full-text fallback ranks by ts_rank and ignores it.
func (s *KnowledgeService) Search(ctx context.Context, agentID, query string, limit int, threshold float64) ([]models.ChunkMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", core.ErrInvalidInput)
	}
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	if threshold <= 0 || threshold > 1 {
		threshold = s.threshold
	}
	if s.embedder == nil {
		return s.db.SearchChunksFullText(ctx, agentID, query, limit)
	}

	vecs, err := llm.Retry(ctx, s.retry, func(ctx context.Context) ([][]float32, error) {
		return s.embedder.EmbedTexts(ctx, []string{query})
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	if s.embedDim > 0 && len(vecs[0]) != s.embedDim {
		return nil, fmt.Errorf("embed query: got %d dimensions, want %d", len(vecs[0]), s.embedDim)
	}
	return s.db.SearchChunksByVector(ctx, agentID, vecs[0], threshold, limit)
}

// SearchAdvanced runs a full text search across every agent the user owns,
// optionally narrowed to one agent, a set of categories and a minimum chunk importance.
func (s *KnowledgeService) SearchAdvanced(ctx context.Context, userID, query string, filter models.SearchFilter, limit int) ([]models.ChunkMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", core.ErrInvalidInput)
	}
	if filter.MinImportance > 10 {
		return nil, fmt.Errorf("%w: min_importance must be between 1 and 10", core.ErrInvalidInput)
	}
	filter.MinImportance = max(filter.MinImportance, 1)
	filter.AgentID = strings.TrimSpace(filter.AgentID)

	categories := make([]string, 0, len(filter.Categories))
	for _, c := range filter.Categories {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}
	filter.Categories = categories

	if limit <= 0 {
		limit = defaultAdvancedLimit
	}
	limit = min(limit, maxAdvancedLimit)
	return s.db.SearchChunksAdvanced(ctx, userID, query, filter, limit)
}
