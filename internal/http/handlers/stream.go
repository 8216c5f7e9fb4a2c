package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"quizgen/internal/events"
)

const streamReadLimit = 512

// GenerationStream upgrades to a websocket and pushes job_update events until
// the job reaches a terminal status or the client goes away.
func (a *App) GenerationStream(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Generations.Get(r.Context(), chi.URLParam(r, "job_id"), userID)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("http: websocket upgrade failed")
		return
	}
	snapshot := events.NewJobEvent(job)
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now().UTC()
	}
	a.Events.Subscribe(job.ID, conn, &snapshot)

	// Clients only send control frames; the read loop surfaces disconnects.
	conn.SetReadLimit(streamReadLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			a.Events.Unsubscribe(conn)
			return
		}
	}
}
