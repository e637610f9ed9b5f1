package handlers

import (
	"net/http"

	"github.com/ory/herodot"
)

type HealthHandler struct {
	writer *herodot.JSONWriter
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{writer: herodot.NewJSONWriter(nil)}
}

type HealthResponse struct {
	Status string `json:"status"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writer.Write(w, r, &HealthResponse{Status: "healthy"})
}
