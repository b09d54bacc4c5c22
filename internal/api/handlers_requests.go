package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/shohag/mediarelay/internal/delivery"
	"github.com/shohag/mediarelay/internal/models"
	"github.com/shohag/mediarelay/internal/platform"
)

// RequestHandler accepts media links forwarded by the chat gateway.
type RequestHandler struct {
	dispatcher Dispatcher
	validate   *validatorv10.Validate
}

func NewRequestHandler(dispatcher Dispatcher, validate *validatorv10.Validate) *RequestHandler {
	return &RequestHandler{dispatcher: dispatcher, validate: validate}
}

type createRequestBody struct {
	UserID     int64  `json:"user_id" validate:"required"`
	ChatID     int64  `json:"chat_id" validate:"required"`
	MessageRef string `json:"message_ref" validate:"omitempty,max=128"`
	URL        string `json:"url" validate:"required,url,max=2048"`
}

type acceptedResponse struct {
	JobID    string `json:"job_id"`
	Platform string `json:"platform"`
}

func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if !decodeAndValidate(w, r, h.validate, &body) {
		return
	}
	if _, err := platform.ValidateURL(body.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.dispatcher.Submit(models.MediaRequest{
		UserID:     body.UserID,
		ChatID:     body.ChatID,
		MessageRef: body.MessageRef,
		URL:        body.URL,
		Platform:   platform.Detect(body.URL),
	})
	switch {
	case errors.Is(err, delivery.ErrDuplicate):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "this link is already being processed",
			"job_id": req.JobID,
		})
		return
	case errors.Is(err, delivery.ErrQueueFull), errors.Is(err, delivery.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to accept request")
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: req.JobID, Platform: req.Platform})
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, ok := h.dispatcher.Status(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
