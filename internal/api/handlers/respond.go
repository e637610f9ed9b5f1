package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ory/herodot"
	"github.com/sirupsen/logrus"

	appMiddleware "github.com/agentica-ai/knowledgebase/internal/api/middlewares"
	"github.com/agentica-ai/knowledgebase/internal/core"
)

const (
	msgOverloaded = "AI service is temporarily overloaded. Please try again later."
	maxJSONBody   = 1 << 20
)

// writeError maps core errors onto herodot responses. Unknown errors are
// logged and reported as internal errors with fallback as the reason.
func writeError(w http.ResponseWriter, r *http.Request, writer *herodot.JSONWriter, err error, fallback string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writer.WriteError(w, r, herodot.ErrNotFound.WithReason("resource not found"))
	case errors.Is(err, core.ErrInvalidInput):
		writer.WriteError(w, r, herodot.ErrBadRequest.WithReason(err.Error()))
	case errors.Is(err, core.ErrAIOverloaded):
		writer.WriteError(w, r, &herodot.DefaultError{
			CodeField:   http.StatusServiceUnavailable,
			StatusField: http.StatusText(http.StatusServiceUnavailable),
			ErrorField:  "The AI service is unavailable",
			ReasonField: msgOverloaded,
		})
	default:
		logrus.WithField("path", r.URL.Path).Errorf("%s: %v", fallback, err)
		writer.WriteError(w, r, herodot.ErrInternalServerError.WithReason(fallback))
	}
}

func requireUser(w http.ResponseWriter, r *http.Request, writer *herodot.JSONWriter) (string, bool) {
	id, ok := appMiddleware.UserIDFromContext(r.Context())
	if !ok {
		writer.WriteError(w, r, herodot.ErrUnauthorized.WithReason("user not found in context"))
	}
	return id, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, writer *herodot.JSONWriter, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid request body"))
		return false
	}
	return true
}
