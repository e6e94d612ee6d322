package api

import (
	"errors"
	"net/http"
	"strings"

	"hlscast/internal/storage"
)

// Jobs handles GET /api/jobs: the full job list, newest first.
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	jobs := h.Store.ListJobs()
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// JobByID handles GET and DELETE on /api/jobs/{id}.
func (h *Handler) JobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "job not found", "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, ok := h.Store.GetJob(id)
		if !ok {
			writeError(w, http.StatusNotFound, "job not found", "")
			return
		}
		writeJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		h.deleteJob(w, id)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	}
}

// deleteJob removes the record first, then the files. A job whose record is
// gone can never be served again, so a partial artifact cleanup is safe to
// retry via the retention sweeper.
func (h *Handler) deleteJob(w http.ResponseWriter, id string) {
	job, ok := h.Store.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found", "")
		return
	}
	if err := h.Store.DeleteJob(id); err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete job", err.Error())
		return
	}
	if err := h.Layout.RemoveArtifacts(job.StoredName, job.ID); err != nil {
		h.logger().Error("failed to remove job artifacts", "job_id", id, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Job deleted", "id": id})
}
