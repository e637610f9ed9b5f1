package ingestion_engine

import (
	"context"

	"github.com/agentica-ai/knowledgebase/internal/core"
)

// Ingestor is what the HTTP layer and the CLI drive.
type Ingestor interface {
	// IngestFiles blocks until every file reached a terminal stage.
	IngestFiles(ctx context.Context, req Request, files []core.File, onStatus StatusFunc) []ItemResult
	// IngestURL blocks until the page is stored or failed.
	IngestURL(ctx context.Context, req Request, rawURL string, onStatus StatusFunc) ItemResult
	// Submit starts a batch in the background and returns its tracker ID.
	Submit(ctx context.Context, req Request, files []core.File) string
	// SubmitURL starts a one-item URL batch in the background.
	SubmitURL(ctx context.Context, req Request, rawURL string) string
	// Batch returns the tracked state of a submitted batch.
	Batch(id string) (Batch, bool)
}

var _ Ingestor = (*Orchestrator)(nil)
