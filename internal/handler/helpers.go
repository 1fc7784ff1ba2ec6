package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fralid/video-search-editor/internal/pipelineerr"
)

// WriteJSON encodes data as JSON and writes it to the response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// ReadJSONBody decodes the request body as JSON into v.
// It validates Content-Type, limits body size to 1MB, and rejects trailing data.
func ReadJSONBody(r *http.Request, v interface{}) error {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("expected Content-Type application/json")
	}
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, 1<<20)
	decoder := json.NewDecoder(limited)
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("unexpected trailing data in request body")
	}
	return nil
}

// writePipelineError maps a pipelineerr.Error's Kind to an HTTP status code,
// the Go-native realization of section 10's "typed errors drive both
// control flow and HTTP status codes" — the reference codebase does the
// same type-switch-to-status mapping for its own ForbiddenError.
func writePipelineError(w http.ResponseWriter, err error) {
	switch pipelineerr.KindOf(err) {
	case pipelineerr.Validation:
		WriteError(w, http.StatusBadRequest, err.Error())
	case pipelineerr.TransientIO:
		WriteError(w, http.StatusServiceUnavailable, err.Error())
	case pipelineerr.DecodingFailure:
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// videoExtensions are the file suffixes HandleVideosScan treats as ingestible.
var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mkv": true, ".mov": true, ".webm": true,
}

// isVideoFile reports whether name has one of videoExtensions' suffixes.
func isVideoFile(name string) bool {
	lower := strings.ToLower(name)
	for ext := range videoExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// videoIDFromFilename derives a stable video_id from a scanned file's name:
// its stem, lowercased, with the extension dropped — matching
// original_source's file-stem id scheme.
func videoIDFromFilename(name string) string {
	lower := strings.ToLower(name)
	if idx := strings.LastIndex(lower, "."); idx > 0 {
		return lower[:idx]
	}
	return lower
}
