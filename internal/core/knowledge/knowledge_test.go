package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/core/llm"
	"github.com/agentica-ai/knowledgebase/internal/models"
)

// scriptedLLM replays responses in order; the last one repeats.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []scripted
	calls     int
	prompts   []string
	systems   []string
}

type scripted struct {
	text string
	err  error
}

func (s *scriptedLLM) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, userPrompt)
	s.systems = append(s.systems, systemPrompt)
	if len(s.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	r := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return r.text, r.err
}

func reply(text string) scripted { return scripted{text: text} }
func fail(err error) scripted    { return scripted{err: err} }

func fastRetry() llm.RetryPolicy {
	return llm.DefaultRetryPolicy().WithSleep(func(context.Context, time.Duration) error { return nil })
}

func TestAnalyzeParsesFencedJSON(t *testing.T) {
	provider := &scriptedLLM{responses: []scripted{reply("Here you go:\n```json\n" +
		`{"summary":"Revenue update","keyTopics":["revenue","enterprise"],"sentiment":"positive","readingLevel":"advanced","wordCount":9,"language":"en"}` +
		"\n```")}}

	res, err := NewAnalyzer(provider, fastRetry()).Analyze(context.Background(),
		"Quarterly revenue grew 12% driven by new enterprise contracts.", "q3.txt")

	require.NoError(t, err)
	assert.Equal(t, "Revenue update", res.Summary)
	assert.Equal(t, []string{"revenue", "enterprise"}, res.KeyTopics)
	assert.Equal(t, models.SentimentPositive, res.Sentiment)
	assert.Equal(t, models.ReadingAdvanced, res.ReadingLevel)
	assert.Equal(t, 9, res.WordCount)
	assert.Equal(t, []string{}, res.Entities)
	assert.Contains(t, provider.prompts[0], "q3.txt")
}

func TestAnalyzeSanitizesOutOfRangeValues(t *testing.T) {
	many := make([]string, 50)
	for i := range many {
		many[i] = fmt.Sprintf("%q", fmt.Sprintf("topic-%d", i))
	}
	body := fmt.Sprintf(`{"summary":42,"keyTopics":[%s],"categories":[%s],"entities":"not a list","sentiment":"ecstatic","readingLevel":"expert","wordCount":"lots"}`,
		strings.Join(many, ","), strings.Join(many, ","))
	provider := &scriptedLLM{responses: []scripted{reply(body)}}

	res, err := NewAnalyzer(provider, fastRetry()).Analyze(context.Background(), "one two three", "x.txt")

	require.NoError(t, err)
	assert.Equal(t, "No summary available", res.Summary)
	assert.Len(t, res.KeyTopics, maxTopics)
	assert.Len(t, res.Categories, maxCategories)
	assert.Empty(t, res.Entities)
	assert.Equal(t, models.SentimentNeutral, res.Sentiment)
	assert.Equal(t, models.ReadingIntermediate, res.ReadingLevel)
	assert.Equal(t, 3, res.WordCount)
}

func TestAnalyzeRetriesTransientErrors(t *testing.T) {
	provider := &scriptedLLM{responses: []scripted{
		fail(errors.New("503 Service Unavailable")),
		fail(errors.New("503 Service Unavailable")),
		reply(`{"summary":"ok"}`),
	}}

	res, err := NewAnalyzer(provider, fastRetry()).Analyze(context.Background(), "content", "a.txt")

	require.NoError(t, err)
	assert.Equal(t, "ok", res.Summary)
	assert.Equal(t, 3, provider.calls)
}

func TestAnalyzeDoesNotRetryClientErrors(t *testing.T) {
	provider := &scriptedLLM{responses: []scripted{fail(errors.New("400 invalid argument"))}}

	res, err := NewAnalyzer(provider, fastRetry()).Analyze(context.Background(), "content", "a.txt")

	require.Error(t, err)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, models.FallbackAnalysis(), res)
}

func TestAnalyzeFallsBackWithoutJSON(t *testing.T) {
	provider := &scriptedLLM{responses: []scripted{reply("I cannot help with that.")}}

	res, err := NewAnalyzer(provider, fastRetry()).Analyze(context.Background(), "content", "a.txt")

	require.ErrorIs(t, err, errNoJSON)
	assert.Equal(t, []string{"uncategorized"}, res.Categories)
}

func TestAnalyzeTruncatesLongContent(t *testing.T) {
	provider := &scriptedLLM{responses: []scripted{reply(`{}`)}}
	long := strings.Repeat("a", analysisExcerpt+500)

	_, err := NewAnalyzer(provider, fastRetry()).Analyze(context.Background(), long, "big.txt")

	require.NoError(t, err)
	assert.Contains(t, provider.prompts[0], "...[truncated]")
	assert.NotContains(t, provider.prompts[0], strings.Repeat("a", analysisExcerpt+1))
}

func TestAnswerableQuestions(t *testing.T) {
	provider := &scriptedLLM{responses: []scripted{reply(`["What grew?", "By how much?", 7]`)}}

	qs, err := NewAnalyzer(provider, fastRetry()).AnswerableQuestions(context.Background(), "Revenue grew 12%.")

	require.NoError(t, err)
	assert.Equal(t, []string{"What grew?", "By how much?"}, qs)
}

func TestChunkUsesModelOutput(t *testing.T) {
	provider := &scriptedLLM{responses: []scripted{reply(`[
		{"content":"First part.","summary":"one","keywords":["a","b"],"importance":99},
		{"content":"Second part.","importance":-5},
		{"content":"","summary":"dropped"},
		"garbage",
		{"content":"Third part.","importance":"high"}
	]`)}}

	chunks := NewChunker(provider).Chunk(context.Background(), "First part. Second part. Third part.", 1000)

	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
	}
	assert.Equal(t, 10, chunks[0].Importance)
	assert.Equal(t, 1, chunks[1].Importance)
	assert.Equal(t, defaultImportance, chunks[2].Importance)
	assert.Equal(t, "one", chunks[0].Summary)
	assert.Equal(t, "Second part....", chunks[1].Summary)
	assert.Equal(t, []string{}, chunks[1].Keywords)
}

func TestChunkSplitsOversizedModelChunks(t *testing.T) {
	big := strings.Repeat("word ", 100)
	provider := &scriptedLLM{responses: []scripted{reply(fmt.Sprintf(`[{"content":%q}]`, big))}}

	chunks := NewChunker(provider).Chunk(context.Background(), big, 120)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.LessOrEqual(t, len([]rune(c.Content)), 120)
	}
}

func TestChunkFallsBack(t *testing.T) {
	content := "Alpha paragraph about revenue.\n\nBeta paragraph about revenue growth."
	cases := map[string]scripted{
		"error":       fail(errors.New("503 overloaded")),
		"no array":    reply("sorry"),
		"all invalid": reply(`[{"summary":"no content"}, 3]`),
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			provider := &scriptedLLM{responses: []scripted{r}}
			chunks := NewChunker(provider).Chunk(context.Background(), content, 1000)
			assert.Equal(t, SimpleChunks(content, 1000), chunks)
			assert.Equal(t, 1, provider.calls)
		})
	}
}

func TestChunkBlankContentSkipsModel(t *testing.T) {
	provider := &scriptedLLM{}
	chunks := NewChunker(provider).Chunk(context.Background(), " \n\n\t", 1000)
	assert.Empty(t, chunks)
	assert.Zero(t, provider.calls)
}

func TestSimpleChunksPacksParagraphs(t *testing.T) {
	content := "Quarterly revenue grew.\n\nEnterprise contracts drove revenue.\n\n" + strings.Repeat("x", 50)

	chunks := SimpleChunks(content, 60)

	require.Len(t, chunks, 2)
	assert.Equal(t, "Quarterly revenue grew.\n\nEnterprise contracts drove revenue.", chunks[0].Content)
	assert.Equal(t, 1, chunks[1].ChunkIndex)
	assert.Equal(t, []string{"revenue", "quarterly", "grew", "enterprise", "contracts"}, chunks[0].Keywords)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.Content)), 60)
		assert.Equal(t, defaultImportance, c.Importance)
	}
}

func TestTopKeywordsSplitsOnPunctuation(t *testing.T) {
	got := topKeywords("The non-profit's profit rose; state-funded grants, state budgets.", 5)
	assert.Equal(t, []string{"profit", "state", "rose", "funded", "grants"}, got)
	assert.NotContains(t, got, "nonprofit")
	assert.NotContains(t, got, "statefunded")
}

func TestSimpleChunksIsTotal(t *testing.T) {
	inputs := []string{
		"short",
		strings.Repeat("a", 5000),
		strings.Repeat("Sentence here. ", 300),
		"日本語のテキスト" + strings.Repeat("語", 3000),
	}
	for _, in := range inputs {
		chunks := SimpleChunks(in, 200)
		require.NotEmpty(t, chunks)
		for i, c := range chunks {
			assert.Equal(t, i, c.ChunkIndex)
			assert.NotEmpty(t, c.Content)
			assert.LessOrEqual(t, len([]rune(c.Content)), 200)
		}
	}
	assert.Empty(t, SimpleChunks("   ", 200))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "hi...", summarize("hi"))
	assert.Equal(t, strings.Repeat("b", 100)+"...", summarize(strings.Repeat("b", 150)))
}

func TestSearchTextBuilder(t *testing.T) {
	analysis := models.AnalysisResult{Summary: "Sum", KeyTopics: []string{"revenue", "growth"}, Categories: []string{"finance"}}

	t.Run("model output", func(t *testing.T) {
		provider := &scriptedLLM{responses: []scripted{reply("  revenue growth sales income  ")}}
		out := NewSearchTextBuilder(provider, fastRetry()).Build(context.Background(), "chunk", analysis)
		assert.Equal(t, "revenue growth sales income", out)
	})

	t.Run("fallback on error", func(t *testing.T) {
		provider := &scriptedLLM{responses: []scripted{fail(errors.New("400 bad"))}}
		out := NewSearchTextBuilder(provider, fastRetry()).Build(context.Background(), "chunk", analysis)
		assert.Equal(t, "chunk\n\nKeywords: revenue, growth\nCategories: finance\nSummary: Sum", out)
	})

	t.Run("fallback on empty", func(t *testing.T) {
		provider := &scriptedLLM{responses: []scripted{reply("   ")}}
		out := NewSearchTextBuilder(provider, fastRetry()).Build(context.Background(), "chunk", analysis)
		assert.Equal(t, FallbackSearchText("chunk", analysis), out)
	})
}

type fakeSearcher struct {
	fullText    []models.ChunkMatch
	fullTextErr error
	pattern     []models.ChunkMatch
	patternErr  error
	patternUsed bool
}

func (f *fakeSearcher) SearchChunksFullText(context.Context, string, string, int) ([]models.ChunkMatch, error) {
	return f.fullText, f.fullTextErr
}

func (f *fakeSearcher) SearchChunksPattern(context.Context, string, string, int) ([]models.ChunkMatch, error) {
	f.patternUsed = true
	return f.pattern, f.patternErr
}

func match(file string, idx int, content string, sim float64) models.ChunkMatch {
	return models.ChunkMatch{
		Chunk:      models.Chunk{ChunkIndex: idx, Content: content, Summary: "s", Keywords: []string{"k"}},
		FileName:   file,
		Similarity: sim,
	}
}

func TestAnswerWithoutMatchesSkipsModel(t *testing.T) {
	provider := &scriptedLLM{}
	a := NewAnswerer(&fakeSearcher{}, provider, fastRetry(), 10)

	ans, err := a.Answer(context.Background(), "What is our refund policy?", "agent-1")

	require.NoError(t, err)
	assert.Equal(t, NoRelevantInformation, ans.Text)
	assert.Empty(t, ans.Sources)
	assert.Zero(t, provider.calls)
}

func TestAnswerUsesTopFiveSources(t *testing.T) {
	var matches []models.ChunkMatch
	for i := range 7 {
		matches = append(matches, match(fmt.Sprintf("doc%d.pdf", i), i, fmt.Sprintf("content %d", i), float64(10-i)))
	}
	provider := &scriptedLLM{responses: []scripted{reply("Revenue grew 12%.")}}
	a := NewAnswerer(&fakeSearcher{fullText: matches}, provider, fastRetry(), 10)

	ans, err := a.Answer(context.Background(), "How did revenue change?", "agent-1")

	require.NoError(t, err)
	assert.Equal(t, "Revenue grew 12%.", ans.Text)
	require.Len(t, ans.Sources, 5)
	assert.Equal(t, models.Source{FileName: "doc0.pdf", ChunkIndex: 0, Relevance: 10}, ans.Sources[0])
	assert.Contains(t, provider.prompts[0], "Source 5 (doc4.pdf):\ncontent 4")
	assert.NotContains(t, provider.prompts[0], "doc5.pdf")
	assert.Contains(t, provider.prompts[0], "How did revenue change?")
	assert.Equal(t, answerSystemPrompt, provider.systems[0])
}

func TestAnswerFallsBackToPatternSearch(t *testing.T) {
	searcher := &fakeSearcher{
		fullTextErr: errors.New("syntax error in tsquery"),
		pattern:     []models.ChunkMatch{match("faq.md", 2, "Refunds within 30 days.", 1)},
	}
	provider := &scriptedLLM{responses: []scripted{reply("30 days.")}}

	ans, err := NewAnswerer(searcher, provider, fastRetry(), 10).Answer(context.Background(), "refund?", "agent-1")

	require.NoError(t, err)
	assert.True(t, searcher.patternUsed)
	assert.Equal(t, "faq.md", ans.Sources[0].FileName)
}

func TestAnswerRetrievalFailure(t *testing.T) {
	searcher := &fakeSearcher{fullTextErr: errors.New("fts down"), patternErr: errors.New("db down")}

	_, err := NewAnswerer(searcher, &scriptedLLM{}, fastRetry(), 10).Answer(context.Background(), "q", "agent-1")

	require.ErrorIs(t, err, core.ErrRetrievalFailed)
	assert.Contains(t, err.Error(), "db down")
}

func TestAnswerModelFailure(t *testing.T) {
	searcher := &fakeSearcher{fullText: []models.ChunkMatch{match("a.txt", 0, "x", 1)}}

	t.Run("error", func(t *testing.T) {
		provider := &scriptedLLM{responses: []scripted{fail(errors.New("503 overloaded"))}}
		_, err := NewAnswerer(searcher, provider, fastRetry(), 10).Answer(context.Background(), "q", "agent-1")
		require.ErrorIs(t, err, core.ErrAnswerFailed)
		assert.Equal(t, 3, provider.calls)
	})

	t.Run("empty", func(t *testing.T) {
		provider := &scriptedLLM{responses: []scripted{reply("")}}
		_, err := NewAnswerer(searcher, provider, fastRetry(), 10).Answer(context.Background(), "q", "agent-1")
		require.ErrorIs(t, err, core.ErrAnswerFailed)
	})
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	_, err := NewAnswerer(&fakeSearcher{}, &scriptedLLM{}, fastRetry(), 10).Answer(context.Background(), "  ", "agent-1")
	require.ErrorIs(t, err, core.ErrInvalidInput)
}
