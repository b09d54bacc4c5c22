package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shohag/mediarelay/internal/models"
)

// QueueHandler exposes the failed request queue.
type QueueHandler struct {
	queue Queue
}

func NewQueueHandler(q Queue) *QueueHandler {
	return &QueueHandler{queue: q}
}

func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *QueueHandler) Pending(w http.ResponseWriter, r *http.Request) {
	status := models.FailedPending
	if s := r.URL.Query().Get("status"); s != "" {
		status = models.FailedRequestStatus(s)
		if !status.Known() {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
	}

	rows, err := h.queue.List(r.Context(), status, queryLimit(r, 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list failed requests")
		return
	}
	if rows == nil {
		rows = []models.FailedRequest{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	fr, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get failed request")
		return
	}
	if fr == nil {
		writeError(w, http.StatusNotFound, "failed request not found")
		return
	}
	writeJSON(w, http.StatusOK, fr)
}
