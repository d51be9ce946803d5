package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/officecollab/internal/platform/errors"
	"github.com/louisbranch/officecollab/internal/platform/httpx"
	"github.com/louisbranch/officecollab/internal/platform/id"
	"github.com/louisbranch/officecollab/internal/platform/requestctx"
	"github.com/louisbranch/officecollab/internal/services/editor/codec"
	"github.com/louisbranch/officecollab/internal/services/editor/document"
	"github.com/louisbranch/officecollab/internal/services/editor/storage"
)

const (
	uploadFormField      = "file"
	multipartMemoryBytes = 8 * 1024 * 1024
	mimeLegacyExcel      = "application/vnd.ms-excel"
)

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	FileID  string `json:"file_id,omitempty"`
}

type filesResponse struct {
	Files []document.Summary `json:"files"`
}

func writeStatusError(w http.ResponseWriter, status int, message string) {
	_ = httpx.WriteJSON(w, status, statusResponse{Status: "error", Message: message})
}

// writeDomainError maps err to its HTTP status. Server-side failures keep
// their detail in the log only.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("editor: %s %s failed: %v", r.Method, r.URL.Path, err)
		writeStatusError(w, status, "internal server error")
		return
	}
	writeStatusError(w, status, err.Error())
}

func (h *editorHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := requestctx.UserIDFromContext(r.Context())
	if userID == "" {
		writeDomainError(w, r, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"))
		return
	}
	if h.uploads == nil {
		writeDomainError(w, r, errors.New("upload storage is not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	err := r.ParseMultipartForm(multipartMemoryBytes)
	var (
		file   multipart.File
		header *multipart.FileHeader
	)
	if err == nil {
		file, header, err = r.FormFile(uploadFormField)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge), strings.Contains(err.Error(), "request body too large"):
			writeDomainError(w, r, apperrors.New(apperrors.CodeResourceExhausted, fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes)))
		case errors.Is(err, http.ErrMissingFile):
			writeDomainError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "no file part"))
		default:
			writeDomainError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid multipart upload", err))
		}
		return
	}
	defer file.Close()

	name := strings.TrimSpace(header.Filename)
	if name == "" {
		writeDomainError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "no selected file"))
		return
	}
	format, err := codec.ParseFormat(name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeDomainError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	content, err := codec.Decode(r.Context(), data, format)
	if err != nil {
		writeDomainError(w, r, apperrors.Wrap(apperrors.CodeOf(err), "failed to parse file", err))
		return
	}

	uploadKey, err := id.NewID()
	if err != nil {
		writeDomainError(w, r, fmt.Errorf("generate upload key: %w", err))
		return
	}
	path, err := h.uploads.PutUpload(r.Context(), storage.Upload{Key: uploadKey, Name: name, Data: data})
	if err != nil {
		writeDomainError(w, r, fmt.Errorf("store upload: %w", err))
		return
	}
	documentID, err := h.docs.Create(name, format, content, path)
	if err != nil {
		writeDomainError(w, r, fmt.Errorf("create document: %w", err))
		return
	}

	log.Printf("editor: user=%q uploaded document=%q name=%q format=%s bytes=%d", userID, documentID, name, format, len(data))
	_ = httpx.WriteJSON(w, http.StatusOK, statusResponse{
		Status:  "success",
		Message: "file uploaded",
		FileID:  documentID,
	})
}

func (h *editorHandler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, filesResponse{Files: h.docs.List()})
}

func (h *editorHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if original, _ := strconv.ParseBool(r.URL.Query().Get("original")); original {
		h.serveOriginal(w, r, doc)
		return
	}

	data, err := codec.Encode(r.Context(), doc.Content, doc.Kind)
	if err != nil {
		writeDomainError(w, r, fmt.Errorf("encode document %s: %w", doc.ID, err))
		return
	}
	writeAttachment(w, codec.DownloadName(doc.Name, doc.Format), codec.MIMEType(doc.Kind), data)
}

func (h *editorHandler) serveOriginal(w http.ResponseWriter, r *http.Request, doc document.Document) {
	if h.uploads == nil {
		writeDomainError(w, r, errors.New("upload storage is not configured"))
		return
	}
	upload, err := h.uploads.GetUpload(r.Context(), doc.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeDomainError(w, r, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("original upload for %q not found", doc.ID)))
			return
		}
		writeDomainError(w, r, fmt.Errorf("load original upload: %w", err))
		return
	}
	contentType := codec.MIMEType(doc.Kind)
	if doc.Format == document.FormatXls {
		contentType = mimeLegacyExcel
	}
	writeAttachment(w, codec.OriginalName(doc.Name), contentType, upload.Data)
}

func writeAttachment(w http.ResponseWriter, filename, contentType string, data []byte) {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
