package httpapi

import (
	"net/http"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Settings())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req config.RuntimeSettings
	if !decodeJSON(w, r, &req) {
		return
	}
	saved, err := s.manager.UpdateSettings(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.manager.Models(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handlePruneSchedule(w http.ResponseWriter, _ *http.Request) {
	info, err := s.manager.PruneSchedule()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.Prune(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
