package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/core/llm"
	"github.com/agentica-ai/knowledgebase/internal/models"
)

const searchTextExcerpt = 4000

// SearchTextBuilder expands chunk text with related terms before it is indexed.
type SearchTextBuilder struct {
	llm   core.LLMProvider
	retry llm.RetryPolicy
	log   *logrus.Entry
}

func NewSearchTextBuilder(provider core.LLMProvider, retry llm.RetryPolicy) *SearchTextBuilder {
	return &SearchTextBuilder{
		llm:   provider,
		retry: retry,
		log:   logrus.WithField("component", "searchtext"),
	}
}

// Build never fails: errors and empty responses produce FallbackSearchText.
func (b *SearchTextBuilder) Build(ctx context.Context, chunkContent string, analysis models.AnalysisResult) string {
	excerpt, _ := truncate(chunkContent, searchTextExcerpt)
	docContext, err := json.Marshal(analysis)
	if err != nil {
		docContext = []byte("{}")
	}
	prompt := fmt.Sprintf(searchTextPrompt, excerpt, docContext)

	text, err := llm.Retry(ctx, b.retry, func(ctx context.Context) (string, error) {
		return b.llm.Generate(ctx, "", prompt)
	})
	if err != nil {
		b.log.Warnf("search text generation failed, using fallback: %v", err)
		return FallbackSearchText(chunkContent, analysis)
	}
	if text = strings.TrimSpace(text); text == "" {
		return FallbackSearchText(chunkContent, analysis)
	}
	return text
}

// FallbackSearchText appends the document's topics, categories and summary to the chunk.
func FallbackSearchText(chunkContent string, analysis models.AnalysisResult) string {
	return fmt.Sprintf("%s\n\nKeywords: %s\nCategories: %s\nSummary: %s",
		chunkContent,
		strings.Join(analysis.KeyTopics, ", "),
		strings.Join(analysis.Categories, ", "),
		analysis.Summary,
	)
}
