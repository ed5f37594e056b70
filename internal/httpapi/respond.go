package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/subtitle-batch-translator/internal/engine"
	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

type errorResponse struct {
	Error  string `json:"error"`
	Type   string `json:"type,omitempty"`
	Advice string `json:"advice,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps engine error types to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var engineErr *engine.Error
	if !errors.As(err, &engineErr) {
		log.Error("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch engineErr.Type {
	case engine.ErrValidation:
		status = http.StatusBadRequest
	case engine.ErrNotFound:
		status = http.StatusNotFound
	case engine.ErrConflict, engine.ErrAborted:
		status = http.StatusConflict
	case engine.ErrTranslation:
		status = http.StatusBadGateway
	}

	msg := engineErr.Message
	if engineErr.Cause != nil {
		msg += ": " + engineErr.Cause.Error()
	}
	writeJSON(w, status, errorResponse{
		Error:  msg,
		Type:   engineErr.Type.String(),
		Advice: service.Advice(err),
	})
}

// decodeJSON decodes an optional JSON body. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeBody(r, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}
