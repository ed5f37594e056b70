package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/subtitle-batch-translator/internal/engine"
	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
)

type createSessionRequest struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

type updateItemRequest struct {
	TranslatedText *string `json:"translated_text"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.ListSessions())
}

// handleCreateSession accepts a multipart upload in field "file" or a JSON
// body with the file name and content.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	req, err := s.readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("subtitle file exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.FileName) == "" {
		writeError(w, http.StatusBadRequest, "file_name is required")
		return
	}

	view, err := s.manager.CreateSession(r.Context(), req.FileName, req.Content)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) readUpload(r *http.Request) (createSessionRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req createSessionRequest
		if err := decodeBody(r, &req); err != nil {
			return createSessionRequest{}, fmt.Errorf("invalid json body: %w", err)
		}
		return req, nil
	}

	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return createSessionRequest{}, err
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		return createSessionRequest{}, fmt.Errorf("file is required")
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return createSessionRequest{}, err
	}
	return createSessionRequest{FileName: header.Filename, Content: string(content)}, nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.manager.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req service.TranslateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Source = "api"

	job, err := s.manager.StartTranslation(r.Context(), chi.URLParam(r, "sessionID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.manager.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.manager.Resume)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.manager.Abort)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "sessionID")
	if err := action(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	view, err := s.manager.Session(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view.SessionInfo)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := intParam(w, r, "itemID")
	if !ok {
		return
	}
	var req updateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TranslatedText == nil {
		writeError(w, http.StatusBadRequest, "translated_text is required")
		return
	}

	item, err := s.manager.UpdateItem(chi.URLParam(r, "sessionID"), itemID, *req.TranslatedText)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleRetryItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := intParam(w, r, "itemID")
	if !ok {
		return
	}
	var req service.RetryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	item, err := s.manager.RetryItem(r.Context(), chi.URLParam(r, "sessionID"), itemID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleFailedBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.manager.FailedBatches(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(batches))
}

func (s *Server) handleRetryBatch(w http.ResponseWriter, r *http.Request) {
	index, ok := intParam(w, r, "index")
	if !ok {
		return
	}
	var req service.RetryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	batches, err := s.manager.RetryBatch(r.Context(), chi.URLParam(r, "sessionID"), index, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(batches))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.manager.Export(chi.URLParam(r, "sessionID"), q.Get("format"), q.Get("mode"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType(out))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": out.FileName,
	}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out.Content)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	est, err := s.manager.Estimate(r.Context(), chi.URLParam(r, "sessionID"), service.EstimateRequest{
		TargetLanguage: q.Get("target"),
		Prompt:         q.Get("prompt"),
		Provider:       q.Get("provider"),
		Model:          q.Get("model"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func contentType(out service.Export) string {
	if out.Format == subtitle.FormatVTT {
		return "text/vtt; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

func nonNil(batches []engine.FailedBatch) []engine.FailedBatch {
	if batches == nil {
		return []engine.FailedBatch{}
	}
	return batches
}
