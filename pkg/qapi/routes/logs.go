package routes

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quatton/qremote/pkg/qapi/schemas"
	"github.com/quatton/qremote/pkg/qapi/services/jobs"
	"github.com/quatton/qremote/pkg/qbus"
	"github.com/quatton/qremote/pkg/qerr"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// LogsHandler streams a job's live output over a websocket. Each frame is a
// qbus.Message; the socket closes after the status frame. Listeners only see
// output published after they connect.
type LogsHandler struct {
	svc    *jobs.Service
	bus    qbus.Broadcaster
	logger *slog.Logger
}

func NewLogsHandler(svc *jobs.Service, bus qbus.Broadcaster, logger *slog.Logger) *LogsHandler {
	return &LogsHandler{svc: svc, bus: bus, logger: logger}
}

// RegisterLogs mounts the websocket at /ws/jobs/{jobId}.
func RegisterLogs(r chi.Router, h *LogsHandler) {
	r.Get("/ws/jobs/{jobId}", h.ServeHTTP)
}

func writeError(w http.ResponseWriter, err error) {
	apiErr := schemas.NewAPIError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(apiErr)
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "jobId")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, qerr.Newf(qerr.CodeNotFound, "job %s does not exist", raw))
		return
	}

	ctx := r.Context()
	// Subscribe before the status check so a job finishing in between still
	// delivers its status frame.
	sub, err := h.bus.Subscribe(ctx, qbus.JobTopic(id.String()))
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	job, err := h.svc.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	logger := h.logger.With("job_id", id, "remote", r.RemoteAddr)
	logger.Debug("log listener connected")

	send := func(msg qbus.Message) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(msg)
	}
	closeNormal := func() {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}

	if job.Status.IsTerminal() {
		if err := send(qbus.Message{Status: string(job.Status)}); err == nil {
			closeNormal()
		}
		return
	}

	// The client never sends anything; reading only surfaces its close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			logger.Debug("log listener disconnected")
			return
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case msg, ok := <-sub.C:
			if !ok {
				closeNormal()
				return
			}
			if err := send(msg); err != nil {
				logger.Debug("failed to write log frame", "error", err)
				return
			}
			if msg.IsFinal() {
				closeNormal()
				return
			}
		}
	}
}
