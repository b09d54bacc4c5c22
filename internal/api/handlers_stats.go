package api

import (
	"net/http"
)

type StatsHandler struct {
	metrics Metrics
}

func NewStatsHandler(m Metrics) *StatsHandler {
	return &StatsHandler{metrics: m}
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "mediarelay",
	})
}

func (h *StatsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

func (h *StatsHandler) Report(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(h.metrics.Report()))
}
