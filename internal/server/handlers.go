package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/visekai/tessellate/internal/job"
	"github.com/visekai/tessellate/internal/jobstore"
	"github.com/visekai/tessellate/internal/tiler"
	"github.com/visekai/tessellate/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// jobsHandler dispatches the collection endpoint: submit and list.
func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submitJob(w, r)
	case http.MethodGet:
		s.listJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// submitJob accepts an image upload and creates a job for it. The image
// arrives either as a multipart "file" part or as the raw request body.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	image, mode, resolution, format, err := parseSubmission(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.scheduler.Submit(r.Context(), image, mode, resolution, format)
	if err != nil {
		var badMode *tiler.UnsupportedModeError
		if errors.As(err, &badMode) {
			writeErrorKind(w, http.StatusBadRequest, err, string(job.ErrKindUnsupportedMode))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	jobsSubmittedHTTP.Inc()
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: id.String(), State: job.StatePending})
}

func parseSubmission(r *http.Request) (image []byte, mode, resolution, format string, err error) {
	mode = "document"
	resolution = "base"

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err = r.ParseMultipartForm(32 << 20); err != nil {
			return nil, "", "", "", errors.New("invalid multipart form")
		}
		file, _, ferr := r.FormFile("file")
		if ferr != nil {
			return nil, "", "", "", errors.New("missing file field")
		}
		defer func() { _ = file.Close() }()
		image, err = io.ReadAll(file)
		if err != nil {
			return nil, "", "", "", err
		}
		if v := r.FormValue("mode"); v != "" {
			mode = v
		}
		if v := r.FormValue("resolution"); v != "" {
			resolution = v
		}
		format = r.FormValue("format")
	} else {
		image, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, "", "", "", err
		}
		q := r.URL.Query()
		if v := q.Get("mode"); v != "" {
			mode = v
		}
		if v := q.Get("resolution"); v != "" {
			resolution = v
		}
		format = q.Get("format")
	}
	return image, mode, resolution, format, nil
}

// listJobs returns job snapshots, optionally filtered by state.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var f jobstore.Filter
	if state := r.URL.Query().Get("state"); state != "" {
		f.State = job.State(state)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		f.Limit = n
	}

	jobs, err := s.scheduler.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Jobs: jobs, Count: len(jobs)})
}

// jobByIDHandler dispatches per-job endpoints: status, cancel, watch.
func (s *Server) jobByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	idPart, tail, _ := strings.Cut(rest, "/")
	id, err := uuid.Parse(idPart)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid job id"))
		return
	}

	switch {
	case tail == "watch" && r.Method == http.MethodGet:
		s.watchJob(w, r, id)
	case tail == "" && r.Method == http.MethodGet:
		s.getJob(w, r, id)
	case tail == "" && r.Method == http.MethodDelete:
		s.cancelJob(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	j, err := s.scheduler.Get(r.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	err := s.scheduler.Cancel(r.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CancelResponse{JobID: id.String(), Cancelled: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already flushed; nothing useful left to do.
		return
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeErrorKind(w http.ResponseWriter, status int, err error, kind string) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}
