package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/jobstate"
	ysync "github.com/fclairamb/yachtsync/internal/sync"
	"github.com/fclairamb/yachtsync/internal/version"
)

const (
	// Maximum allowed age of a signed request.
	maxTimestampAge = 5 * time.Minute

	defaultLogLimit = 50

	headerSignature = "X-Yachtsync-Signature"
	headerTimestamp = "X-Yachtsync-Timestamp"
)

// Handler serves the job API.
type Handler struct {
	engine  Engine
	worker  *Worker
	logger  *slog.Logger
	secret  string
	lockTTL time.Duration
	now     func() time.Time
}

// NewHandler creates a handler. Requests are signed when secret is set.
func NewHandler(engine Engine, worker *Worker, secret string, lockTTL time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		engine:  engine,
		worker:  worker,
		logger:  logger,
		secret:  secret,
		lockTTL: lockTTL,
		now:     time.Now,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type jobResponse struct {
	Job    jobstate.Kind `json:"job"`
	Status string        `json:"status"`
}

// HandleStart queues an explicit start of a job.
func (h *Handler) HandleStart(writer http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	kind, ok := h.jobParam(writer, req)
	if !ok {
		return
	}

	running, err := h.running(req, kind)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read job state", "job", kind, "error", err)
		h.writeJSON(writer, req, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if running {
		h.writeJSON(writer, req, http.StatusConflict, errorResponse{Error: apperrors.ErrLockConflict.Error()})
		return
	}

	h.worker.Notify(kind, ysync.ModeStart)
	h.logger.InfoContext(ctx, "job start requested", "job", kind)
	h.writeJSON(writer, req, http.StatusAccepted, jobResponse{Job: kind, Status: "queued"})
}

// running reports whether a live run holds the lock. The lock an interrupted
// run keeps for its successor does not count.
func (h *Handler) running(req *http.Request, kind jobstate.Kind) (bool, error) {
	state := h.engine.State(kind)

	lock, err := state.Lock(req.Context())
	if err != nil || !lock.Fresh(h.now(), h.lockTTL) {
		return false, err
	}
	ar, err := state.AutoResume(req.Context())
	if err != nil {
		return false, err
	}
	return ar == nil || ar.Owner != lock.Owner, nil
}

// HandleStop raises the stop flag of a job.
func (h *Handler) HandleStop(writer http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	kind, ok := h.jobParam(writer, req)
	if !ok {
		return
	}

	if err := h.engine.State(kind).RequestStop(ctx); err != nil {
		h.logger.ErrorContext(ctx, "failed to request stop", "job", kind, "error", err)
		h.writeJSON(writer, req, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	h.logger.InfoContext(ctx, "job stop requested", "job", kind)
	h.writeJSON(writer, req, http.StatusAccepted, jobResponse{Job: kind, Status: "stop_requested"})
}

// HandleStatus returns the state snapshot of a job.
func (h *Handler) HandleStatus(writer http.ResponseWriter, req *http.Request) {
	kind, ok := h.jobParam(writer, req)
	if !ok {
		return
	}

	snap, err := h.engine.State(kind).Snapshot(req.Context(), h.lockTTL)
	if err != nil {
		h.writeJSON(writer, req, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(writer, req, http.StatusOK, snap)
}

// HandleLogs returns the most recent activity log entries (?limit=N).
func (h *Handler) HandleLogs(writer http.ResponseWriter, req *http.Request) {
	limit := defaultLogLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeJSON(writer, req, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := h.engine.State(jobstate.KindImport).Logs(req.Context(), limit)
	if err != nil {
		h.writeJSON(writer, req, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []jobstate.LogEntry{}
	}
	h.writeJSON(writer, req, http.StatusOK, entries)
}

// HandleHistory returns the daily sync history.
func (h *Handler) HandleHistory(writer http.ResponseWriter, req *http.Request) {
	history, err := h.engine.State(jobstate.KindDailySync).History(req.Context())
	if err != nil {
		h.writeJSON(writer, req, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if history == nil {
		history = []jobstate.HistoryEntry{}
	}
	h.writeJSON(writer, req, http.StatusOK, history)
}

// HandleVersion handles the /api/version endpoint.
func (h *Handler) HandleVersion(writer http.ResponseWriter, req *http.Request) {
	h.writeJSON(writer, req, http.StatusOK, version.Info())
}

// HandleHealth handles the /health endpoint for health checks.
func (h *Handler) HandleHealth(writer http.ResponseWriter, req *http.Request) {
	h.writeJSON(writer, req, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) jobParam(writer http.ResponseWriter, req *http.Request) (jobstate.Kind, bool) {
	kind, err := jobstate.ParseKind(chi.URLParam(req, "job"))
	if err != nil {
		h.writeJSON(writer, req, http.StatusNotFound, errorResponse{Error: err.Error()})
		return "", false
	}
	return kind, true
}

func (h *Handler) writeJSON(writer http.ResponseWriter, req *http.Request, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		h.logger.ErrorContext(req.Context(), "failed to encode response", "error", err)
	}
}

// RequireSignature rejects requests whose HMAC-SHA256 signature over
// timestamp + body does not match. Without a secret every request passes.
func (h *Handler) RequireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, req *http.Request) {
		if !h.verifySignature(req) {
			h.logger.WarnContext(req.Context(), "invalid request signature", "path", req.URL.Path)
			h.writeJSON(writer, req, http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
			return
		}
		next.ServeHTTP(writer, req)
	})
}

// verifySignature verifies the request signature using HMAC-SHA256.
func (h *Handler) verifySignature(req *http.Request) bool {
	if h.secret == "" {
		return true
	}

	signature := req.Header.Get(headerSignature)
	timestamp := req.Header.Get(headerTimestamp)

	if signature == "" || timestamp == "" {
		h.logger.Debug("missing signature or timestamp headers")
		return false
	}

	if !h.validateTimestamp(timestamp) {
		h.logger.Debug("timestamp validation failed", "timestamp", timestamp)
		return false
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		h.logger.Debug("failed to read body", "error", err)
		return false
	}
	req.Body = io.NopCloser(bytes.NewBuffer(body))

	return hmac.Equal([]byte(signature), []byte(Sign(h.secret, timestamp, body)))
}

// validateTimestamp checks if the timestamp is within the allowed window.
func (h *Handler) validateTimestamp(timestamp string) bool {
	timestampValue, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}

	age := h.now().Sub(time.Unix(timestampValue, 0))
	return age < maxTimestampAge && age > -maxTimestampAge
}

// Sign returns the hex HMAC-SHA256 of timestamp + body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
