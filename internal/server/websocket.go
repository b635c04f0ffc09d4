package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/visekai/tessellate/internal/job"
	"github.com/visekai/tessellate/internal/jobstore"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS policy is enforced by the surrounding middleware.
		return true
	},
}

const watchPollInterval = 500 * time.Millisecond

// StatusUpdate is one message on the job status stream.
type StatusUpdate struct {
	Job      job.Job `json:"job"`
	Terminal bool    `json:"terminal"`
}

// watchJob streams job snapshots over a websocket until the job reaches
// a terminal state or the client disconnects.
func (s *Server) watchJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if _, err := s.scheduler.Get(r.Context(), id); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	slog.Debug("status stream opened", "job_id", id, "remote_addr", r.RemoteAddr)

	// Drain client messages so close frames are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	var lastState job.State
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
		}

		j, err := s.scheduler.Get(r.Context(), id)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "job lookup failed"),
				time.Now().Add(time.Second))
			return
		}
		if j.State == lastState && !j.State.Terminal() {
			continue
		}
		lastState = j.State

		update := StatusUpdate{Job: j, Terminal: j.State.Terminal()}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(update); err != nil {
			return
		}
		if update.Terminal {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
				time.Now().Add(time.Second))
			return
		}
	}
}
