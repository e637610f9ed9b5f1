package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentica-ai/knowledgebase/internal/config"
	db "github.com/agentica-ai/knowledgebase/internal/core/database"
)

func TestCheckEmbeddingDim(t *testing.T) {
	cfg := &config.Config{AI: config.AIConfig{Embeddings: true, EmbedDim: db.EmbeddingDimensions}}
	assert.NoError(t, checkEmbeddingDim(cfg))

	cfg.AI.EmbedDim = 3072
	err := checkEmbeddingDim(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector(768)")

	cfg.AI.Embeddings = false
	assert.NoError(t, checkEmbeddingDim(cfg))
}

func TestNewAppRejectsMismatchedEmbeddingWidth(t *testing.T) {
	cfg := &config.Config{AI: config.AIConfig{Embeddings: true, EmbedDim: 3072}}

	a, err := NewApp(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "EMBED_DIM")
}
