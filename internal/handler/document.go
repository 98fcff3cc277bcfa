package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"slices"

	"github.com/cradoe/lendflow/internal/context"
	"github.com/cradoe/lendflow/internal/file"
	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/request"
	"github.com/cradoe/lendflow/internal/response"
	"github.com/cradoe/lendflow/internal/validator"
)

const maxDocumentSize = 10 << 20 // 10 MB

var allowedDocumentExtensions = []string{".pdf", ".jpg", ".jpeg", ".png"}

// HandleUploadDocument stores one verification document for the authenticated user.
// The request is multipart with a document_type field and a file part.
func (h *RouteHandler) HandleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentSize+(1<<20))

	err := r.ParseMultipartForm(maxDocumentSize)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, errors.New("invalid request data"))
		return
	}

	documentType := r.FormValue("document_type")

	// Get the uploaded file
	upload, header, err := r.FormFile("file")
	if err != nil {
		h.ErrHandler.BadRequest(w, r, errors.New("error retrieving the file"))
		return
	}
	defer upload.Close()

	var v validator.Validator
	v.Check(validator.In(documentType, append(slices.Clone(models.IdentityDocumentTypes), models.AddressDocumentTypes...)...), "Unknown document type")
	v.Check(validator.In(filepath.Ext(header.Filename), allowedDocumentExtensions...), "File must be a PDF, JPG or PNG")
	v.Check(header.Size <= maxDocumentSize, "File must not be larger than 10 MB")

	if v.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, v.Errors)
		return
	}

	// upload to cloud storage
	fileURL, err := h.FileUploader.Upload(r.Context(), header.Filename, upload)
	if errors.Is(err, file.ErrNotConfigured) {
		h.ErrHandler.UnprocessableEntity(w, r, err)
		return
	}
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	user := context.ContextGetAuthenticatedUser(r)

	doc, err := h.DB.Document().Insert(r.Context(), &models.VerificationDocument{
		UserID:       user.ID,
		DocumentType: documentType,
		FileURL:      fileURL,
	})
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	data := map[string]any{
		"id":            doc.ID,
		"document_type": doc.DocumentType,
		"file_url":      doc.FileURL,
	}
	err = response.JSONCreatedResponse(w, data, "Document uploaded successfully")
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *RouteHandler) HandleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var input struct {
		EmailEnabled *bool               `json:"email_enabled"`
		Validator    validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(input.EmailEnabled != nil, "email_enabled must be true or false")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	user := context.ContextGetAuthenticatedUser(r)

	err = h.DB.Preference().SetEmailEnabled(r.Context(), user.ID, *input.EmailEnabled)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	data := map[string]any{"email_enabled": *input.EmailEnabled}
	err = response.JSONOkResponse(w, data, "Preferences updated", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}
