package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/persistence"
)

type jobDetailResponse struct {
	Job    *jobs.TranslationJob   `json:"job"`
	Events []persistence.JobEvent `json:"events"`
}

// handleListJobs lists all jobs, or those of one session with ?session=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list := s.manager.Jobs()
	if sessionID := r.URL.Query().Get("session"); sessionID != "" {
		filtered := make([]*jobs.TranslationJob, 0, len(list))
		for _, job := range list {
			if job.SessionID == sessionID {
				filtered = append(filtered, job)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := s.manager.Job(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	events, err := s.manager.JobEvents(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobDetailResponse{Job: job, Events: events})
}
