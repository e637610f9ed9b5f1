package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/models"
)

const (
	DefaultMaxChunkSize = 1000

	maxChunkKeywords  = 10
	defaultImportance = 5
	summaryRunes      = 100
	fallbackKeywords  = 5
)

var nonWordPattern = regexp.MustCompile(`[^\w\s]`)

// Chunker splits document text into annotated chunks.
type Chunker struct {
	llm core.LLMProvider
	log *logrus.Entry
}

func NewChunker(provider core.LLMProvider) *Chunker {
	return &Chunker{llm: provider, log: logrus.WithField("component", "chunker")}
}

// Chunk asks the model for chunks and falls back to SimpleChunks when the call
// fails or yields nothing usable. Indices are always 0..N-1 in emission order.
func (c *Chunker) Chunk(ctx context.Context, content string, maxChunkSize int) []models.ChunkData {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if strings.TrimSpace(content) == "" {
		return []models.ChunkData{}
	}

	text, err := c.llm.Generate(ctx, "", fmt.Sprintf(chunkingPrompt, maxChunkSize, content))
	if err != nil {
		c.log.Warnf("AI chunking failed, using paragraph chunking: %v", err)
		return SimpleChunks(content, maxChunkSize)
	}

	arr, ok := extractArray(text)
	if !ok {
		c.log.Warn("AI chunking response had no JSON array, using paragraph chunking")
		return SimpleChunks(content, maxChunkSize)
	}

	chunks := sanitizeChunks(arr, maxChunkSize)
	if len(chunks) == 0 {
		c.log.Warn("AI chunking returned no usable chunks, using paragraph chunking")
		return SimpleChunks(content, maxChunkSize)
	}
	return chunks
}

func sanitizeChunks(arr []any, maxChunkSize int) []models.ChunkData {
	out := make([]models.ChunkData, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content := stringOr(m["content"], "")
		if content == "" {
			continue
		}
		keywords := stringList(m["keywords"], maxChunkKeywords)
		importance := clampImportance(m["importance"])

		for _, piece := range splitBounded(content, maxChunkSize) {
			out = append(out, models.ChunkData{
				Content:    piece,
				Summary:    stringOr(m["summary"], summarize(piece)),
				Keywords:   keywords,
				Importance: importance,
			})
		}
	}
	for i := range out {
		out[i].ChunkIndex = i
	}
	return out
}

// clampImportance maps missing, zero or non-numeric values to 5 and clamps the rest to [1,10].
func clampImportance(v any) int {
	n, ok := intValue(v)
	if !ok || n == 0 {
		return defaultImportance
	}
	return max(1, min(10, n))
}

// SimpleChunks is the deterministic paragraph chunker. It returns no chunks for
// blank content and at least one chunk otherwise.
func SimpleChunks(content string, maxChunkSize int) []models.ChunkData {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}

	var paragraphs []string
	for _, p := range strings.Split(content, "\n\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		paragraphs = append(paragraphs, splitBounded(p, maxChunkSize)...)
	}

	chunks := []models.ChunkData{}
	emit := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		chunks = append(chunks, models.ChunkData{
			Content:    text,
			Summary:    summarize(text),
			Keywords:   topKeywords(text, fallbackKeywords),
			Importance: defaultImportance,
			ChunkIndex: len(chunks),
		})
	}

	var cur strings.Builder
	curLen := 0
	for _, p := range paragraphs {
		pLen := utf8.RuneCountInString(p)
		if curLen > 0 && curLen+2+pLen > maxChunkSize {
			emit(cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(p)
		curLen += pLen
	}
	emit(cur.String())
	return chunks
}

// summarize is the first 100 characters followed by an ellipsis.
func summarize(text string) string {
	s, _ := truncate(text, summaryRunes)
	return s + "..."
}

// topKeywords counts lower-cased words longer than 3 characters and returns the
// n most frequent; ties keep first-occurrence order.
func topKeywords(text string, n int) []string {
	cleaned := nonWordPattern.ReplaceAllString(strings.ToLower(text), " ")

	counts := map[string]int{}
	var order []string
	for _, w := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	if order == nil {
		return []string{}
	}
	return order
}

// splitBounded cuts text into pieces of at most size characters, preferring
// paragraph breaks, then sentence ends, then spaces, over a hard cut.
func splitBounded(text string, size int) []string {
	text = strings.TrimSpace(text)
	var out []string
	for utf8.RuneCountInString(text) > size {
		cut := cutPoint(text, size)
		if piece := strings.TrimSpace(text[:cut]); piece != "" {
			out = append(out, piece)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

var sentenceEnds = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

// cutPoint returns a byte offset within the first size runes of text. Natural
// boundaries are only used when they keep at least half of the window.
func cutPoint(text string, size int) int {
	limit := len(text)
	for i := range text {
		if size == 0 {
			limit = i
			break
		}
		size--
	}
	window := text[:limit]
	minCut := limit / 2

	if i := strings.LastIndex(window, "\n\n"); i > 0 && i >= minCut {
		return i
	}
	best := -1
	for _, end := range sentenceEnds {
		if i := strings.LastIndex(window, end); i >= 0 && i+1 > best {
			best = i + 1
		}
	}
	if best > 0 && best >= minCut {
		return best
	}
	if i := strings.LastIndexAny(window, " \t\n"); i > 0 && i >= minCut {
		return i
	}
	if limit == 0 {
		_, size := utf8.DecodeRuneInString(text)
		return size
	}
	return limit
}
