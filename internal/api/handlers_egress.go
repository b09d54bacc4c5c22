package api

import (
	"net/http"
	"time"

	"github.com/shohag/mediarelay/internal/models"
)

// EgressHandler lists proxy endpoints with their breaker state.
type EgressHandler struct {
	egress Egress
}

func NewEgressHandler(e Egress) *EgressHandler {
	return &EgressHandler{egress: e}
}

type egressView struct {
	models.EgressEndpoint
	Available bool `json:"available"`
}

func (h *EgressHandler) List(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	eps := h.egress.Snapshot()
	out := make([]egressView, 0, len(eps))
	for _, ep := range eps {
		out = append(out, egressView{EgressEndpoint: ep, Available: ep.Available(now)})
	}
	writeJSON(w, http.StatusOK, out)
}
