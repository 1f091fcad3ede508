package api

import (
	"net/http"
)

// ModelsSource lists the candidate models a client may select.
type ModelsSource interface {
	AvailableModels() []string
}

// ModelsHandler handles model catalog requests.
type ModelsHandler struct {
	source ModelsSource
}

// NewModelsHandler creates a new models handler.
func NewModelsHandler(source ModelsSource) *ModelsHandler {
	return &ModelsHandler{source: source}
}

// HandleModels handles GET /models requests.
func (h *ModelsHandler) HandleModels(w http.ResponseWriter, _ *http.Request) {
	models := h.source.AvailableModels()
	if models == nil {
		models = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"models": models})
}
