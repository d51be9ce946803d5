package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/louisbranch/officecollab/internal/services/editor/codec"
	"github.com/louisbranch/officecollab/internal/services/editor/document"
	"github.com/louisbranch/officecollab/internal/services/editor/storage"
	"github.com/louisbranch/officecollab/internal/services/editor/storage/filesystem"
)

type filesTestHandler struct {
	handler http.Handler
	docs    *document.Store
	uploads storage.UploadStore
}

func newFilesTestHandler(t *testing.T, maxUploadBytes int64) *filesTestHandler {
	t.Helper()
	uploads, err := filesystem.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open uploads: %v", err)
	}
	docs := document.NewStore()
	return &filesTestHandler{
		handler: newHandler(handlerConfig{docs: docs, uploads: uploads, maxUploadBytes: maxUploadBytes}),
		docs:    docs,
		uploads: uploads,
	}
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func (h *filesTestHandler) upload(t *testing.T, user, filename string, data []byte) (*httptest.ResponseRecorder, statusResponse) {
	t.Helper()
	body, contentType := multipartBody(t, uploadFormField, filename, data)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	if user != "" {
		req.Header.Set(defaultIdentityHeader, user)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)

	var resp statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload response %q: %v", rr.Body.String(), err)
	}
	return rr, resp
}

func wordFixture(t *testing.T) []byte {
	t.Helper()
	data, err := codec.Encode(context.Background(), document.WordContent([]document.Paragraph{
		{Text: "Quarterly report", Style: "Title"},
		{Text: "Revenue grew.", Style: "Normal"},
	}), document.KindWord)
	if err != nil {
		t.Fatalf("encode word fixture: %v", err)
	}
	return data
}

func spreadsheetFixture(t *testing.T) []byte {
	t.Helper()
	data, err := codec.Encode(context.Background(), document.SpreadsheetContent(document.Table{
		Columns: []string{"item", "qty"},
		Data: [][]document.Cell{
			{document.StringCell("pens"), document.NumberCell(3)},
		},
	}), document.KindSpreadsheet)
	if err != nil {
		t.Fatalf("encode spreadsheet fixture: %v", err)
	}
	return data
}

func TestUploadCreatesDocument(t *testing.T) {
	h := newFilesTestHandler(t, 0)

	rr, resp := h.upload(t, "alice", "report.docx", wordFixture(t))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	if resp.Status != "success" || resp.FileID == "" {
		t.Fatalf("response = %#v, want success with file_id", resp)
	}

	doc, err := h.docs.Get(resp.FileID)
	if err != nil {
		t.Fatalf("get uploaded document: %v", err)
	}
	if doc.Kind != document.KindWord || doc.Format != document.FormatDocx {
		t.Fatalf("document kind/format = %s/%s, want word/docx", doc.Kind, doc.Format)
	}
	paragraphs := doc.Content.Paragraphs()
	if len(paragraphs) != 2 || paragraphs[0].Text != "Quarterly report" || paragraphs[0].Style != "Title" {
		t.Fatalf("paragraphs = %#v", paragraphs)
	}
	if len(doc.Editors) != 0 {
		t.Fatalf("editors = %v, want none", doc.Editors)
	}

	stored, err := h.uploads.GetUpload(context.Background(), doc.Path)
	if err != nil {
		t.Fatalf("get stored upload: %v", err)
	}
	if stored.Name != "report.docx" {
		t.Fatalf("stored name = %q, want report.docx", stored.Name)
	}
}

func TestUploadRejectsBadRequests(t *testing.T) {
	h := newFilesTestHandler(t, 0)

	tests := []struct {
		name     string
		user     string
		filename string
		data     []byte
		status   int
		message  string
	}{
		{name: "no identity", filename: "report.docx", data: wordFixture(t), status: http.StatusUnauthorized, message: "authentication required"},
		{name: "unsupported extension", user: "alice", filename: "slides.pptx", data: []byte("x"), status: http.StatusBadRequest, message: "unsupported"},
		{name: "no extension", user: "alice", filename: "README", data: []byte("x"), status: http.StatusBadRequest, message: "unsupported"},
		{name: "corrupt docx", user: "alice", filename: "broken.docx", data: []byte("not a zip"), status: http.StatusUnprocessableEntity, message: "failed to parse file"},
		{name: "corrupt xls", user: "alice", filename: "broken.xls", data: []byte("not a workbook"), status: http.StatusUnprocessableEntity, message: "failed to parse file"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr, resp := h.upload(t, tc.user, tc.filename, tc.data)
			if rr.Code != tc.status {
				t.Fatalf("status code = %d, want %d (%s)", rr.Code, tc.status, rr.Body.String())
			}
			if resp.Status != "error" {
				t.Fatalf("status = %q, want error", resp.Status)
			}
			if !strings.Contains(strings.ToLower(resp.Message), tc.message) {
				t.Fatalf("message = %q, want to contain %q", resp.Message, tc.message)
			}
		})
	}

	if got := len(h.docs.List()); got != 0 {
		t.Fatalf("documents = %d, want 0 after rejected uploads", got)
	}
}

func TestUploadRequiresFilePart(t *testing.T) {
	h := newFilesTestHandler(t, 0)

	body, contentType := multipartBody(t, "attachment", "report.docx", wordFixture(t))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(defaultIdentityHeader, "alice")
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rr.Body.String(), "no file part") {
		t.Fatalf("body = %q, want no file part", rr.Body.String())
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	h := newFilesTestHandler(t, 512)

	rr, resp := h.upload(t, "alice", "big.docx", bytes.Repeat([]byte("a"), 4096))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status code = %d, want %d (%s)", rr.Code, http.StatusRequestEntityTooLarge, rr.Body.String())
	}
	if resp.Status != "error" {
		t.Fatalf("status = %q, want error", resp.Status)
	}
}

func TestUploadRejectsWrongMethod(t *testing.T) {
	h := newFilesTestHandler(t, 0)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/upload", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestListFiles(t *testing.T) {
	h := newFilesTestHandler(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	if got := strings.TrimSpace(rr.Body.String()); got != `{"files":[]}` {
		t.Fatalf("empty listing = %s, want {\"files\":[]}", got)
	}

	_, first := h.upload(t, "alice", "report.docx", wordFixture(t))
	_, second := h.upload(t, "alice", "budget.xlsx", spreadsheetFixture(t))

	rr = httptest.NewRecorder()
	h.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/files", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	var listing struct {
		Files []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"files"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Files) != 2 {
		t.Fatalf("files = %#v, want 2", listing.Files)
	}
	byID := map[string]string{}
	for _, f := range listing.Files {
		byID[f.ID] = f.Type
	}
	if byID[first.FileID] != string(document.KindWord) {
		t.Fatalf("first type = %q, want word", byID[first.FileID])
	}
	if byID[second.FileID] != string(document.KindSpreadsheet) {
		t.Fatalf("second type = %q, want spreadsheet", byID[second.FileID])
	}
}

func downloadFilename(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	_, params, err := mime.ParseMediaType(rr.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatalf("parse content disposition %q: %v", rr.Header().Get("Content-Disposition"), err)
	}
	return params["filename"]
}

func TestDownloadEncodesCurrentContent(t *testing.T) {
	h := newFilesTestHandler(t, 0)
	_, resp := h.upload(t, "alice", "report.docx", wordFixture(t))

	edited := document.WordContent([]document.Paragraph{{Text: "Edited", Style: "Heading 1"}})
	if _, err := h.docs.ApplyEdit(resp.FileID, "alice", edited, "line 1"); err != nil {
		t.Fatalf("apply edit: %v", err)
	}

	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/download/"+resp.FileID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != codec.MIMEType(document.KindWord) {
		t.Fatalf("content type = %q", got)
	}
	if got := downloadFilename(t, rr); got != "report.docx" {
		t.Fatalf("filename = %q, want report.docx", got)
	}

	content, err := codec.Decode(context.Background(), rr.Body.Bytes(), document.FormatDocx)
	if err != nil {
		t.Fatalf("decode download: %v", err)
	}
	paragraphs := content.Paragraphs()
	if len(paragraphs) != 1 || paragraphs[0].Text != "Edited" || paragraphs[0].Style != "Heading 1" {
		t.Fatalf("downloaded paragraphs = %#v", paragraphs)
	}
}

func TestDownloadLegacySpreadsheetAsXlsx(t *testing.T) {
	h := newFilesTestHandler(t, 0)
	table := document.Table{
		Columns: []string{"a"},
		Data:    [][]document.Cell{{document.NumberCell(7)}},
	}
	docID, err := h.docs.Create("legacy.xls", document.FormatXls, document.SpreadsheetContent(table), "unused")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/download/"+docID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	if got := downloadFilename(t, rr); got != "legacy.xlsx" {
		t.Fatalf("filename = %q, want legacy.xlsx", got)
	}
	if got := rr.Header().Get("Content-Type"); got != codec.MIMEType(document.KindSpreadsheet) {
		t.Fatalf("content type = %q", got)
	}

	content, err := codec.Decode(context.Background(), rr.Body.Bytes(), document.FormatXlsx)
	if err != nil {
		t.Fatalf("decode download: %v", err)
	}
	got := content.Table()
	if len(got.Data) != 1 || got.Data[0][0].Number() != 7 {
		t.Fatalf("downloaded table = %#v", got)
	}
}

func TestUploadLegacySpreadsheetDownloadsAsXlsx(t *testing.T) {
	h := newFilesTestHandler(t, 0)
	original, err := os.ReadFile("testdata/budget.xls")
	if err != nil {
		t.Fatalf("read testdata: %v", err)
	}

	rr, resp := h.upload(t, "alice", "budget.xls", original)
	if rr.Code != http.StatusOK {
		t.Fatalf("upload status code = %d, want %d (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	doc, err := h.docs.Get(resp.FileID)
	if err != nil {
		t.Fatalf("get uploaded document: %v", err)
	}
	if doc.Format != document.FormatXls || doc.Kind != document.KindSpreadsheet {
		t.Fatalf("document kind/format = %s/%s, want spreadsheet/xls", doc.Kind, doc.Format)
	}
	if got := doc.Content.Table().Columns; strings.Join(got, ",") != "item,qty,note" {
		t.Fatalf("columns = %v, want item,qty,note", got)
	}

	rr = httptest.NewRecorder()
	h.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/download/"+resp.FileID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("download status code = %d, want %d (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	if got := downloadFilename(t, rr); got != "budget.xlsx" {
		t.Fatalf("filename = %q, want budget.xlsx", got)
	}
	if got := rr.Header().Get("Content-Type"); got != codec.MIMEType(document.KindSpreadsheet) {
		t.Fatalf("content type = %q", got)
	}
	content, err := codec.Decode(context.Background(), rr.Body.Bytes(), document.FormatXlsx)
	if err != nil {
		t.Fatalf("decode download: %v", err)
	}
	table := content.Table()
	if len(table.Data) != 4 || table.Data[0][0].Text() != "pens" || table.Data[1][1].Number() != 2.5 {
		t.Fatalf("downloaded table = %#v", table)
	}

	rr = httptest.NewRecorder()
	h.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/download/"+resp.FileID+"?original=1", nil))
	if got := rr.Header().Get("Content-Type"); got != mimeLegacyExcel {
		t.Fatalf("original content type = %q, want %q", got, mimeLegacyExcel)
	}
	if got := downloadFilename(t, rr); got != "budget.xls" {
		t.Fatalf("original filename = %q, want budget.xls", got)
	}
	if !bytes.Equal(rr.Body.Bytes(), original) {
		t.Fatal("original download does not match uploaded bytes")
	}
}

func TestDownloadOriginalUpload(t *testing.T) {
	h := newFilesTestHandler(t, 0)
	original := spreadsheetFixture(t)
	_, resp := h.upload(t, "alice", "budget.xlsx", original)

	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/download/"+resp.FileID+"?original=1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	if !bytes.Equal(rr.Body.Bytes(), original) {
		t.Fatal("original download does not match uploaded bytes")
	}
	if got := downloadFilename(t, rr); got != "budget.xlsx" {
		t.Fatalf("filename = %q, want budget.xlsx", got)
	}
}

func TestDownloadOriginalMissingUpload(t *testing.T) {
	h := newFilesTestHandler(t, 0)
	docID, err := h.docs.Create("notes.docx", document.FormatDocx, document.WordContent(nil), "/nowhere/notes.docx")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/download/"+docID+"?original=true", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestDownloadUnknownDocument(t *testing.T) {
	h := newFilesTestHandler(t, 0)

	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/download/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusNotFound)
	}
	var resp statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "error" {
		t.Fatalf("status = %q, want error", resp.Status)
	}
}
