package ingestion_engine

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/agentica-ai/knowledgebase/internal/core"
)

// Gate admits a bounded number of concurrent AI calls. Waiters are served in
// arrival order.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns a gate with the given number of slots (at least 1).
func NewGate(slots int64) *Gate {
	return &Gate{sem: semaphore.NewWeighted(max(1, slots))}
}

// Do runs fn while holding a slot. The slot is released however fn returns.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn(ctx)
}

// LLM wraps p so every Generate call passes the gate.
func (g *Gate) LLM(p core.LLMProvider) core.LLMProvider {
	return &gatedLLM{gate: g, next: p}
}

// Embedder wraps e so every EmbedTexts call passes the gate. A nil e stays nil.
func (g *Gate) Embedder(e core.EmbeddingProvider) core.EmbeddingProvider {
	if e == nil {
		return nil
	}
	return &gatedEmbedder{gate: g, next: e}
}

type gatedLLM struct {
	gate *Gate
	next core.LLMProvider
}

func (l *gatedLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var out string
	err := l.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = l.next.Generate(ctx, systemPrompt, userPrompt)
		return err
	})
	return out, err
}

type gatedEmbedder struct {
	gate *Gate
	next core.EmbeddingProvider
}

func (e *gatedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.next.EmbedTexts(ctx, texts)
		return err
	})
	return out, err
}
