// Package knowledge holds the AI-backed stages of the knowledge base: document
// analysis, chunking, search text expansion and grounded question answering.
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

const (
	analysisExcerpt  = 8000
	questionsExcerpt = 4000

	maxTopics      = 10
	maxEntities    = 10
	maxCategories  = 5
	maxKeyPhrases  = 10
	maxQuestions   = 5
	maxActionItems = 5
	maxGenerated   = 10
)

var errNoJSON = errors.New("response contained no usable JSON")

// Analyzer produces document level metadata.
type Analyzer struct {
	llm   core.LLMProvider
	retry llm.RetryPolicy
	log   *logrus.Entry
}

func NewAnalyzer(provider core.LLMProvider, retry llm.RetryPolicy) *Analyzer {
	return &Analyzer{
		llm:   provider,
		retry: retry,
		log:   logrus.WithField("component", "analyzer"),
	}
}

// Analyze always returns a usable AnalysisResult. A non-nil error means the
// result is models.FallbackAnalysis() and says why.
func (a *Analyzer) Analyze(ctx context.Context, content, filename string) (models.AnalysisResult, error) {
	excerpt, cut := truncate(content, analysisExcerpt)
	if cut {
		excerpt += "...[truncated]"
	}
	prompt := fmt.Sprintf(analysisPrompt, filename, excerpt)

	text, err := llm.Retry(ctx, a.retry, func(ctx context.Context) (string, error) {
		return a.llm.Generate(ctx, "", prompt)
	})
	if err != nil {
		a.log.WithField("file", filename).Warnf("analysis failed, using fallback: %v", err)
		return models.FallbackAnalysis(), fmt.Errorf("analyze %s: %w", filename, err)
	}

	obj, ok := extractObject(text)
	if !ok {
		a.log.WithField("file", filename).Warn("analysis response had no JSON object, using fallback")
		return models.FallbackAnalysis(), fmt.Errorf("analyze %s: %w", filename, errNoJSON)
	}
	return sanitizeAnalysis(obj, content), nil
}

// sanitizeAnalysis coerces every field independently; nothing from the model is trusted.
func sanitizeAnalysis(obj map[string]any, content string) models.AnalysisResult {
	res := models.AnalysisResult{
		Summary:      stringOr(obj["summary"], "No summary available"),
		KeyTopics:    stringList(obj["keyTopics"], maxTopics),
		Entities:     stringList(obj["entities"], maxEntities),
		Categories:   stringList(obj["categories"], maxCategories),
		Sentiment:    oneOf(obj["sentiment"], []string{models.SentimentPositive, models.SentimentNegative, models.SentimentNeutral}, models.SentimentNeutral),
		Language:     stringOr(obj["language"], "unknown"),
		ReadingLevel: oneOf(obj["readingLevel"], []string{models.ReadingBeginner, models.ReadingIntermediate, models.ReadingAdvanced}, models.ReadingIntermediate),
		KeyPhrases:   stringList(obj["keyPhrases"], maxKeyPhrases),
		Questions:    stringList(obj["questions"], maxQuestions),
		ActionItems:  stringList(obj["actionItems"], maxActionItems),
	}
	if n, ok := intValue(obj["wordCount"]); ok && n > 0 {
		res.WordCount = n
	} else {
		res.WordCount = len(strings.Fields(content))
	}
	return res
}

// AnswerableQuestions asks for up to 10 questions the content answers.
func (a *Analyzer) AnswerableQuestions(ctx context.Context, content string) ([]string, error) {
	excerpt, _ := truncate(content, questionsExcerpt)
	prompt := fmt.Sprintf(questionsPrompt, excerpt)

	text, err := llm.Retry(ctx, a.retry, func(ctx context.Context) (string, error) {
		return a.llm.Generate(ctx, "", prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("answerable questions: %w", err)
	}
	arr, ok := extractArray(text)
	if !ok {
		return nil, fmt.Errorf("answerable questions: %w", errNoJSON)
	}
	return stringList(arr, maxGenerated), nil
}
