package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/quill-blog/apiserver/internal/apperror"
)

const (
	maxJSONBytes       = 1 << 20
	maxMultipartMemory = 32 << 20
	maxRequestBytes    = 16 << 20
	// maxFileBytes caps how much of an upload is read. It sits above every
	// per-image limit so oversize files still reach the size checks.
	maxFileBytes = 8 << 20
)

type contextKey string

const contextIdentityKey contextKey = "identity"

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperror.StatusCode(err), ErrorResponse{Message: apperror.Message(err)})
}

// decodeJSON fills dst from the request body. An empty body leaves dst
// zeroed so the service reports the missing fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.PayloadTooLarge("Request body too large.")
		}
		return apperror.Validation("Invalid request body.").Wrap(err)
	}
	return nil
}

// parseForm accepts multipart and urlencoded bodies.
func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(maxMultipartMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.PayloadTooLarge("Request body too large.")
		}
		return apperror.Validation("Invalid form data.").Wrap(err)
	}
	return nil
}

// formFile returns the named upload, or nil when the field is absent.
func formFile(r *http.Request, field string) ([]byte, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	return readUpload(files[0])
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()
	return readFileLimited(file, maxFileBytes)
}

// readFileLimited reads at most maxBytes+1 bytes, enough for callers to
// tell an oversize file apart without buffering all of it.
func readFileLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes+1))
}

// urlID parses a positive integer path parameter.
func urlID(r *http.Request, param string) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(chi.URLParam(r, param)))
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}
