package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/webpilot/webpilot/internal/artifact"
	"github.com/webpilot/webpilot/internal/scheduler"
	"github.com/webpilot/webpilot/internal/session"
	"github.com/webpilot/webpilot/pkg/models"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sessions *session.Manager
	sched    *scheduler.Scheduler
	store    *artifact.Store
	log      *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(sessions *session.Manager, sched *scheduler.Scheduler, store *artifact.Store, log *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		sched:    sched,
		store:    store,
		log:      log,
	}
}

// CreateSession handles POST /v1/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	sess, err := h.sessions.Resolve(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

// GetSession handles GET /v1/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.sessions.Lookup(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListSessions handles GET /v1/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.List()
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// DeleteSession handles DELETE /v1/sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.sessions.Close(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitCommand handles POST /v1/sessions/{id}/commands. The response is
// the stored artifact; its payload is inline (base64 for binary types).
func (h *Handler) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.SubmitCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Action == "" {
		http.Error(w, "action is required", http.StatusBadRequest)
		return
	}

	cmd := models.Command{
		ID:          uuid.NewString(),
		SessionID:   id,
		Action:      req.Action,
		Params:      req.Params,
		SubmittedAt: time.Now(),
		Deadline:    time.Duration(req.DeadlineMs) * time.Millisecond,
	}

	art, err := h.sched.Submit(r.Context(), cmd)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, art)
}

// GetArtifact handles GET /v1/artifacts/{id}. With ?delete=true the fetch
// also releases the artifact.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var (
		art *models.Artifact
		err error
	)
	if r.URL.Query().Get("delete") == "true" {
		art, err = h.store.Take(id)
	} else {
		art, err = h.store.Get(id)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Payload)
}

// GetDebugURL handles GET /v1/sessions/{id}/debug.
func (h *Handler) GetDebugURL(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.sessions.Lookup(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"debuggerUrl": fmt.Sprintf("ws://%s/v1/sessions/%s/ws", r.Host, sess.ID),
		"sessionId":   sess.ID,
		"state":       string(sess.State),
	})
}

// Healthz handles GET /v1/healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := models.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, models.NewErrorResponse(err))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
