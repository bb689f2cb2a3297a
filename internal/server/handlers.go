package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/receipt-scanner/internal/document"
	"github.com/zombor/receipt-scanner/internal/pipeline"
	"github.com/zombor/receipt-scanner/internal/receipt"
)

// maxUploadSize covers high-resolution phone photos and multi-page PDFs
const maxUploadSize = int64(50 << 20) // 50MB

const fileTooLarge = "File is too large. Maximum size is 50MB. Please compress or resize your image."

// scanResponse is the body of a successful scan
type scanResponse struct {
	Record     receipt.Record `json:"record"`
	RawText    string         `json:"raw_text"`
	Page       int            `json:"page"`
	PageCount  int            `json:"page_count"`
	TotalCents *int64         `json:"total_cents,omitempty"`
}

// errorResponse is the body of a failed request
type errorResponse struct {
	Error string         `json:"error"`
	Kind  pipeline.Kind  `json:"kind,omitempty"`
	State pipeline.State `json:"state"`
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON body with CORS headers set
func writeJSON(w http.ResponseWriter, code int, body any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeBadRequest reports a malformed request that never reached the pipeline
func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": message,
	})
}

// writeFailure reports a failed scan with the state it stopped in
func writeFailure(w http.ResponseWriter, err error) {
	var failed *pipeline.FailedError
	if !errors.As(err, &failed) {
		failed = &pipeline.FailedError{State: pipeline.StateIdle, Kind: pipeline.KindOf(err), Err: err}
	}

	writeJSON(w, statusFor(err, failed.Kind), errorResponse{
		Error: err.Error(),
		Kind:  failed.Kind,
		State: failed.State,
	})
}

// statusFor maps a failure to its HTTP status
func statusFor(err error, kind pipeline.Kind) int {
	if errors.Is(err, pipeline.ErrSuperseded) {
		return http.StatusConflict
	}

	switch kind {
	case pipeline.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case pipeline.KindPageOutOfRange:
		return http.StatusUnprocessableEntity
	case pipeline.KindEngineInitError, pipeline.KindRecognitionError:
		return http.StatusBadGateway
	case pipeline.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// readUpload parses the multipart form and returns the uploaded file with its content type.
// On failure the response has already been written.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeBadRequest(w, fileTooLarge)
			return nil, "", false
		}
		writeBadRequest(w, "Error parsing form")
		return nil, "", false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeBadRequest(w, errorMsg)
		return nil, "", false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Error reading file. Please try again.",
		})
		return nil, "", false
	}

	return data, uploadContentType(header), true
}

// uploadContentType returns the declared content type, falling back to the file extension
func uploadContentType(header *multipart.FileHeader) string {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		switch ext {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		case ".webp":
			contentType = "image/webp"
		default:
			contentType = "application/octet-stream"
		}
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// parsePage reads the optional 1-indexed page field. Zero means the document's default.
func parsePage(r *http.Request) (int, error) {
	value := strings.TrimSpace(r.FormValue("page"))
	if value == "" {
		return 0, nil
	}
	page, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid page %q", value)
	}
	return page, nil
}

// handleScan runs the extraction pipeline on an uploaded receipt
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := readUpload(w, r)
	if !ok {
		return
	}

	page, err := parsePage(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	language := strings.TrimSpace(r.FormValue("language"))
	session := r.FormValue("session")

	in, err := s.classifier.Classify(r.Context(), data, contentType)
	if err != nil {
		slog.Error("Error classifying upload", "content_type", contentType, "error", err)
		writeFailure(w, err)
		return
	}

	result, err := s.scanner.Process(r.Context(), session, in, page, language)
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := scanResponse{
		Record:    result.Record,
		RawText:   result.RawText,
		Page:      result.Page,
		PageCount: result.PageCount,
	}
	if cents, ok := result.Record.TotalCents(); ok {
		resp.TotalCents = &cents
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePages reports how many pages an upload has so a page can be chosen
func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := readUpload(w, r)
	if !ok {
		return
	}

	in, err := s.classifier.Classify(r.Context(), data, contentType)
	if err != nil {
		writeFailure(w, err)
		return
	}

	pages := 1
	if pdf, ok := in.(document.PDF); ok {
		pages = pdf.PageCount
	}
	writeJSON(w, http.StatusOK, map[string]int{"page_count": pages})
}

// handleHealth reports that the server is up
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}
