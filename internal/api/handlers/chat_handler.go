package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ory/herodot"

	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/models"
)

// KnowledgeQuerier answers questions and runs similarity searches for an agent.
type KnowledgeQuerier interface {
	Ask(ctx context.Context, agentID, question string) (*models.Answer, error)
	Search(ctx context.Context, agentID, query string, limit int, threshold float64) ([]models.ChunkMatch, error)
	SearchAdvanced(ctx context.Context, userID, query string, filter models.SearchFilter, limit int) ([]models.ChunkMatch, error)
}

type ChatHandler struct {
	knowledge KnowledgeQuerier
	writer    *herodot.JSONWriter
}

func NewChatHandler(k KnowledgeQuerier) *ChatHandler {
	return &ChatHandler{knowledge: k, writer: herodot.NewJSONWriter(nil)}
}

type AskRequest struct {
	Question string `json:"question"`
}

type SearchRequest struct {
	Query     string  `json:"query"`
	Limit     int     `json:"limit"`
	Threshold float64 `json:"threshold"`
}

// AdvancedSearchRequest searches across every agent of the caller.
type AdvancedSearchRequest struct {
	Query string `json:"query"`
	models.SearchFilter
	Limit int `json:"limit"`
}

type SearchResponse struct {
	Matches []models.ChunkMatch `json:"matches"`
	Count   int                 `json:"count"`
}

// Ask answers a question from the agent's knowledge base.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r, h.writer); !ok {
		return
	}
	var req AskRequest
	if !decodeJSON(w, r, h.writer, &req) {
		return
	}

	answer, err := h.knowledge.Ask(r.Context(), chi.URLParam(r, "agentID"), req.Question)
	if err != nil {
		reason := "Failed to generate answer"
		if errors.Is(err, core.ErrRetrievalFailed) {
			reason = "Failed to search documents"
		}
		writeError(w, r, h.writer, err, reason)
		return
	}
	h.writer.Write(w, r, answer)
}

// Search returns the chunks most similar to the query.
func (h *ChatHandler) Search(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r, h.writer); !ok {
		return
	}
	var req SearchRequest
	if !decodeJSON(w, r, h.writer, &req) {
		return
	}

	if req.Threshold < 0 || req.Threshold > 1 {
		h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("threshold must be between 0 and 1"))
		return
	}

	matches, err := h.knowledge.Search(r.Context(), chi.URLParam(r, "agentID"), req.Query, req.Limit, req.Threshold)
	if err != nil {
		writeError(w, r, h.writer, err, "Failed to search documents")
		return
	}
	h.writer.Write(w, r, &SearchResponse{Matches: matches, Count: len(matches)})
}

// SearchAdvanced runs a filtered full text search over all of the caller's documents.
func (h *ChatHandler) SearchAdvanced(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.writer)
	if !ok {
		return
	}
	var req AdvancedSearchRequest
	if !decodeJSON(w, r, h.writer, &req) {
		return
	}

	matches, err := h.knowledge.SearchAdvanced(r.Context(), userID, req.Query, req.SearchFilter, req.Limit)
	if err != nil {
		writeError(w, r, h.writer, err, "Failed to search documents")
		return
	}
	h.writer.Write(w, r, &SearchResponse{Matches: matches, Count: len(matches)})
}
