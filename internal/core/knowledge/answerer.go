package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/core/llm"
	"github.com/agentica-ai/knowledgebase/internal/models"
)

// NoRelevantInformation is returned without calling the model when retrieval finds nothing.
const NoRelevantInformation = "I don't have any relevant information in the knowledge base to answer your question. Please upload some documents first or try asking about different topics."

const (
	defaultSearchLimit = 10
	contextSources     = 5
)

// ChunkSearcher is the part of the store the answerer reads from.
type ChunkSearcher interface {
	SearchChunksFullText(ctx context.Context, agentID, query string, limit int) ([]models.ChunkMatch, error)
	SearchChunksPattern(ctx context.Context, agentID, query string, limit int) ([]models.ChunkMatch, error)
}

// Answerer answers questions from an agent's stored chunks.
type Answerer struct {
	store ChunkSearcher
	llm   core.LLMProvider
	retry llm.RetryPolicy
	limit int
	log   *logrus.Entry
}

func NewAnswerer(store ChunkSearcher, provider core.LLMProvider, retry llm.RetryPolicy, limit int) *Answerer {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return &Answerer{
		store: store,
		llm:   provider,
		retry: retry,
		limit: limit,
		log:   logrus.WithField("component", "answerer"),
	}
}

// Retrieve runs the full-text query and falls back to pattern matching when it errors.
func (a *Answerer) Retrieve(ctx context.Context, question, agentID string) ([]models.ChunkMatch, error) {
	matches, err := a.store.SearchChunksFullText(ctx, agentID, question, a.limit)
	if err == nil {
		return matches, nil
	}
	a.log.WithField("agent", agentID).Warnf("full-text search failed, falling back to pattern search: %v", err)

	matches, perr := a.store.SearchChunksPattern(ctx, agentID, question, a.limit)
	if perr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrRetrievalFailed, errors.Join(err, perr))
	}
	return matches, nil
}

// Answer retrieves context for question within agentID's knowledge base and asks
// the model to answer from it. Model failures are returned as core.ErrAnswerFailed.
func (a *Answerer) Answer(ctx context.Context, question, agentID string) (*models.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", core.ErrInvalidInput)
	}

	matches, err := a.Retrieve(ctx, question, agentID)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return &models.Answer{Text: NoRelevantInformation, Sources: []models.Source{}}, nil
	}

	used := matches[:min(len(matches), contextSources)]
	userPrompt := fmt.Sprintf(answerUserPrompt, buildContext(used), question)

	text, err := llm.Retry(ctx, a.retry, func(ctx context.Context) (string, error) {
		return a.llm.Generate(ctx, answerSystemPrompt, userPrompt)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrAnswerFailed, err)
	}
	if text = strings.TrimSpace(text); text == "" {
		return nil, fmt.Errorf("%w: empty response", core.ErrAnswerFailed)
	}

	sources := make([]models.Source, 0, len(used))
	for _, m := range used {
		sources = append(sources, models.Source{
			FileName:   m.FileName,
			ChunkIndex: m.ChunkIndex,
			Relevance:  m.Similarity,
		})
	}
	return &models.Answer{Text: text, Sources: sources}, nil
}

func buildContext(matches []models.ChunkMatch) string {
	var b strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&b, "Source %d (%s):\n%s\n", i+1, m.FileName, m.Content)
		if m.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", m.Summary)
		}
		if len(m.Keywords) > 0 {
			fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(m.Keywords, ", "))
		}
		b.WriteString("---\n")
	}
	return b.String()
}
