package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentica-ai/knowledgebase/internal/config"
	"github.com/agentica-ai/knowledgebase/internal/core"
	db "github.com/agentica-ai/knowledgebase/internal/core/database"
	"github.com/agentica-ai/knowledgebase/internal/core/fileparser"
	"github.com/agentica-ai/knowledgebase/internal/core/ingestion_engine"
	"github.com/agentica-ai/knowledgebase/internal/core/llm"
	objectclient "github.com/agentica-ai/knowledgebase/internal/core/object-client"
	"github.com/agentica-ai/knowledgebase/internal/services"
)

// App holds every long lived component. The HTTP server and the CLI share it.
type App struct {
	DB        *db.DatabaseClient
	Storage   core.ObjectClient
	LLM       *llm.GeminiLLM
	Embedder  *llm.GeminiEmbedder
	Ingestor  *ingestion_engine.Orchestrator
	Documents *services.DocumentService
	Knowledge *services.KnowledgeService
	Server    *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := checkEmbeddingDim(cfg); err != nil {
		return nil, err
	}

	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	a.DB, err = db.NewDatabaseClient(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	logrus.Info("database initialized and ready")

	if cfg.Storage.Bucket != "" {
		s3c, err := objectclient.NewS3Client(initCtx, cfg)
		if err != nil {
			return nil, err
		}
		a.Storage = s3c
	} else {
		logrus.Warn("no storage bucket configured; uploads will not be archived")
	}

	a.LLM, err = llm.NewGeminiLLM(initCtx, cfg.AI.APIKey, cfg.AI.GenModel, cfg.AI.Temperature)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the language model: %w", err)
	}

	var embedder core.EmbeddingProvider
	if cfg.AI.Embeddings {
		a.Embedder, err = llm.NewGeminiEmbedder(initCtx, cfg.AI.APIKey, cfg.AI.EmbedModel)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
		}
		embedder = a.Embedder
	}

	retry := llm.DefaultRetryPolicy()
	a.Ingestor = ingestion_engine.NewOrchestrator(a.DB, a.Storage, fileparser.New(), a.LLM, embedder, &ingestion_engine.IngestConfig{
		MaxFileSize:   cfg.Ingest.MaxFileSize,
		MaxChunkSize:  cfg.Ingest.MaxChunkSize,
		EmbedDim:      cfg.AI.EmbedDim,
		Retry:         retry,
		URLProxy:      cfg.Ingest.URLProxy,
		URLRatePerSec: cfg.Ingest.URLRatePerSec,
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
	})
	a.Documents = services.NewDocumentService(a.DB, a.Storage)
	a.Knowledge = services.NewKnowledgeService(a.DB, a.LLM, embedder, services.KnowledgeOptions{
		Retry:          retry,
		Limit:          cfg.Ingest.SearchLimit,
		MatchThreshold: cfg.Ingest.MatchThreshold,
		EmbedDim:       cfg.AI.EmbedDim,
	})
	a.Server = NewServer(cfg, a)

	ok = true
	return a, nil
}

// checkEmbeddingDim refuses an embedding width the chunk table cannot store.
func checkEmbeddingDim(cfg *config.Config) error {
	if cfg.AI.Embeddings && cfg.AI.EmbedDim != db.EmbeddingDimensions {
		return fmt.Errorf("EMBED_DIM is %d but document_chunks.embedding is vector(%d)", cfg.AI.EmbedDim, db.EmbeddingDimensions)
	}
	return nil
}

// Close releases the AI clients and the database pool. It is safe on a partially built App.
func (a *App) Close() {
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.LLM != nil {
		_ = a.LLM.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
