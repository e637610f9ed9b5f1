package ingestion_engine

import (
	"net/http"
	"time"

	"github.com/agentica-ai/knowledgebase/internal/core/knowledge"
	"github.com/agentica-ai/knowledgebase/internal/core/llm"
)

const (
	DefaultMaxFileSize   = 50 * 1024 * 1024
	DefaultURLProxy      = "https://api.allorigins.win/get?url="
	DefaultURLRatePerSec = 2

	// keep at most this many answerable questions on a document
	maxDocumentQuestions = 5
)

// IngestConfig tunes the ingestion pipeline.
//
// MaxFileSize:   uploads above this many bytes are rejected before parsing.
// MaxChunkSize:  upper bound, in characters, of a stored chunk.
// EmbedDim:      required embedding length; 0 accepts any.
// Retry:         policy applied to every AI call except chunking.
// URLProxy:      prefix the target URL is appended to; empty fetches directly.
// URLRatePerSec: outbound page fetches per second.
// HTTPClient:    client used for page fetches.
type IngestConfig struct {
	MaxFileSize   int64
	MaxChunkSize  int
	EmbedDim      int
	Retry         llm.RetryPolicy
	URLProxy      string
	URLRatePerSec int
	HTTPClient    *http.Client
}

// DefaultIngestConfig returns the production defaults.
func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		MaxFileSize:   DefaultMaxFileSize,
		MaxChunkSize:  knowledge.DefaultMaxChunkSize,
		Retry:         llm.DefaultRetryPolicy(),
		URLProxy:      DefaultURLProxy,
		URLRatePerSec: DefaultURLRatePerSec,
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *IngestConfig) withDefaults() *IngestConfig {
	out := *c
	if out.MaxFileSize <= 0 {
		out.MaxFileSize = DefaultMaxFileSize
	}
	if out.MaxChunkSize <= 0 {
		out.MaxChunkSize = knowledge.DefaultMaxChunkSize
	}
	if out.Retry.MaxAttempts <= 0 {
		out.Retry = llm.DefaultRetryPolicy()
	}
	if out.URLRatePerSec <= 0 {
		out.URLRatePerSec = DefaultURLRatePerSec
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &out
}
