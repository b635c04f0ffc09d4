package server

import (
	"context"

	"github.com/google/uuid"

	"github.com/visekai/tessellate/internal/job"
	"github.com/visekai/tessellate/internal/jobstore"
)

// schedulerInterface defines the methods the server needs from the
// job scheduler.
type schedulerInterface interface {
	Submit(ctx context.Context, image []byte, mode, resolution, format string) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (job.Job, error)
	List(ctx context.Context, f jobstore.Filter) ([]job.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	scheduler   schedulerInterface
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64
	TimeoutSec      int
	ShutdownTimeout int
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type SubmitResponse struct {
	JobID string    `json:"job_id"`
	State job.State `json:"state"`
}

type CancelResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

type ListResponse struct {
	Jobs  []job.Job `json:"jobs"`
	Count int       `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
