package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/shohag/mediarelay/internal/credential"
	"github.com/shohag/mediarelay/internal/models"
)

// CredentialHandler is the operator surface of the credential pool. Raw
// cookie text is accepted on import and never returned.
type CredentialHandler struct {
	creds    Credentials
	validate *validatorv10.Validate
}

func NewCredentialHandler(creds Credentials, validate *validatorv10.Validate) *CredentialHandler {
	return &CredentialHandler{creds: creds, validate: validate}
}

type importCredentialBody struct {
	DisplayName string `json:"display_name" validate:"required,max=100"`
	SourceKind  string `json:"source_kind" validate:"required,oneof=file browser manual"`
	RawText     string `json:"raw_text" validate:"required"`
}

type credentialStatusBody struct {
	Status string `json:"status" validate:"required,oneof=valid invalid unknown disabled"`
}

func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	creds := h.creds.List()
	if creds == nil {
		creds = []models.Credential{}
	}
	writeJSON(w, http.StatusOK, creds)
}

func (h *CredentialHandler) Import(w http.ResponseWriter, r *http.Request) {
	var body importCredentialBody
	if !decodeAndValidate(w, r, h.validate, &body) {
		return
	}

	c, err := h.creds.Import(r.Context(), body.DisplayName, body.SourceKind, body.RawText)
	switch {
	case errors.Is(err, credential.ErrInvalidCookie):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, credential.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to import credential")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CredentialHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var body credentialStatusBody
	if !decodeAndValidate(w, r, h.validate, &body) {
		return
	}

	err := h.creds.SetStatus(r.Context(), chi.URLParam(r, "id"), models.CredentialStatus(body.Status))
	if errors.Is(err, credential.ErrNotFound) {
		writeError(w, http.StatusNotFound, "credential not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update credential")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.creds.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, credential.ErrNotFound) {
		writeError(w, http.StatusNotFound, "credential not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete credential")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
