package api

import (
	"errors"
	"net/http"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/shohag/mediarelay/internal/escalation"
	"github.com/shohag/mediarelay/internal/queue"
)

// ActionHandler receives operator button presses from the chat gateway.
type ActionHandler struct {
	actions  Actions
	validate *validatorv10.Validate
}

func NewActionHandler(actions Actions, validate *validatorv10.Validate) *ActionHandler {
	return &ActionHandler{actions: actions, validate: validate}
}

type reprocessBody struct {
	RequestID  string `json:"request_id" validate:"required"`
	OperatorID int64  `json:"operator_id" validate:"required"`
}

func (h *ActionHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	var body reprocessBody
	if !decodeAndValidate(w, r, h.validate, &body) {
		return
	}

	res, err := h.actions.HandleAction(r.Context(), body.RequestID, body.OperatorID)
	if errors.Is(err, escalation.ErrUnauthorized) {
		writeError(w, http.StatusForbidden, "operator not authorized")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to handle action")
		return
	}

	status := http.StatusOK
	switch res.Message {
	case queue.MsgNotFound:
		status = http.StatusNotFound
	case queue.MsgAlreadyHandled:
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}
