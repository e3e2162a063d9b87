package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/org/sharebox/internal/auth"
	"github.com/org/sharebox/internal/files"
	"github.com/org/sharebox/internal/listing"
	"github.com/org/sharebox/internal/permission"
	"github.com/org/sharebox/internal/storage"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"errors":[%q]}`, msg)
}

// writeServiceError maps errors from the domain packages onto HTTP status
// codes. Anything unrecognized is logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, permission.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, "invalid path")
	case errors.Is(err, listing.ErrNotDirectory):
		writeError(w, http.StatusBadRequest, "not a directory")
	case errors.Is(err, files.ErrIsDirectory):
		writeError(w, http.StatusBadRequest, "is a directory")
	case errors.Is(err, files.ErrNotImage):
		writeError(w, http.StatusBadRequest, "not an image")
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrReservedGroup):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, files.ErrAlreadyExists), errors.Is(err, storage.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, context.Canceled):
		log.Debug().Str("request_id", requestIDFromCtx(r.Context())).Msg("request cancelled")
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		log.Error().Err(err).
			Str("request_id", requestIDFromCtx(r.Context())).
			Str("path", r.URL.Path).
			Msg("operation failed")
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}
