// Package live serves duplex agent sessions over websockets.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/docker/agentgateway/pkg/agent"
	"github.com/docker/agentgateway/pkg/metrics"
	"github.com/docker/agentgateway/pkg/runner"
	"github.com/docker/agentgateway/pkg/session"
	"github.com/docker/agentgateway/pkg/stream"
)

// Close codes sent to clients.
const (
	CloseSessionNotFound = websocket.CloseProtocolError // 1002
	CloseInternalError   = websocket.CloseInternalServerErr
)

// maxCloseReason is the largest close reason a control frame can carry.
const maxCloseReason = 123

var (
	errClientDisconnected = errors.New("client disconnected")
	errSessionEnded       = errors.New("live session ended")
)

// RunnerSource resolves the runner of an app.
type RunnerSource interface {
	GetOrCreate(ctx context.Context, app string) (*runner.Runner, error)
}

// Handler upgrades requests to websockets and runs one live session per
// connection: agent output is forwarded to the client while client messages
// are validated and queued for the agent.
type Handler struct {
	runners   RunnerSource
	sessions  session.Service
	upgrader  websocket.Upgrader
	validator *Validator
	metrics   *metrics.Metrics
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(check func(*http.Request) bool) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = check
	}
}

func NewHandler(runners RunnerSource, sessions session.Service, opts ...Option) *Handler {
	h := &Handler{
		runners:   runners,
		sessions:  sessions,
		validator: NewValidator(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Params are the query parameters of a live request.
type Params struct {
	AppName    string
	UserID     string
	SessionID  string
	Modalities []agent.Modality
}

// ParseParams reads and validates the query of a live request. Modalities
// default to text and audio.
func ParseParams(r *http.Request) (Params, error) {
	q := r.URL.Query()
	p := Params{
		AppName:   q.Get("app_name"),
		UserID:    q.Get("user_id"),
		SessionID: q.Get("session_id"),
	}
	if p.AppName == "" || p.UserID == "" || p.SessionID == "" {
		return Params{}, errors.New("app_name, user_id and session_id are required")
	}

	for _, raw := range q["modalities"] {
		for value := range strings.SplitSeq(raw, ",") {
			m := agent.Modality(strings.ToUpper(strings.TrimSpace(value)))
			switch m {
			case agent.ModalityText, agent.ModalityAudio:
				p.Modalities = append(p.Modalities, m)
			case "":
			default:
				return Params{}, fmt.Errorf("unsupported modality %q", value)
			}
		}
	}
	if len(p.Modalities) == 0 {
		p.Modalities = []agent.Modality{agent.ModalityText, agent.ModalityAudio}
	}
	return p, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := ParseParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetCloseHandler(func(int, string) error { return nil })

	h.metrics.LiveOpened()
	defer h.metrics.LiveClosed()

	h.serve(r.Context(), conn, params)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, params Params) {
	logger := slog.With("app", params.AppName, "user", params.UserID, "session", params.SessionID)

	if _, err := h.sessions.Get(ctx, session.Key{AppName: params.AppName, UserID: params.UserID, SessionID: params.SessionID}); err != nil {
		logger.Warn("Live session rejected", "error", err)
		closeWith(conn, CloseSessionNotFound, "Session not found")
		return
	}

	r, err := h.runners.GetOrCreate(ctx, params.AppName)
	if err != nil {
		closeWith(conn, CloseInternalError, err.Error())
		return
	}

	queue := agent.NewLiveRequestQueue()
	defer queue.Close()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	g.Go(func() error {
		events := r.RunLive(gctx, runner.LiveRequest{
			UserID:    params.UserID,
			SessionID: params.SessionID,
			RunConfig: agent.RunConfig{ResponseModalities: params.Modalities},
		}, queue)
		if err := stream.Forward(events, conn); err != nil {
			return err
		}
		return errSessionEnded
	})
	g.Go(func() error {
		defer queue.Close()
		return h.receive(gctx, conn, queue, logger)
	})

	err = g.Wait()
	switch {
	case errors.Is(err, errClientDisconnected):
		logger.Info("Client disconnected from live session")
	case errors.Is(err, errSessionEnded):
		closeWith(conn, websocket.CloseNormalClosure, "")
	default:
		logger.Error("Live session failed", "error", err)
		closeWith(conn, CloseInternalError, err.Error())
	}
}

// receive queues validated client messages until the client goes away or ctx
// is done. Invalid messages are logged and skipped.
func (h *Handler) receive(ctx context.Context, conn *websocket.Conn, queue *agent.LiveRequestQueue, logger *slog.Logger) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("%w: %w", errClientDisconnected, err)
			}
			return err
		}
		if msgType != websocket.TextMessage {
			h.metrics.LiveMessage("rejected")
			logger.Warn("Ignoring non-text live message")
			continue
		}

		if err := h.validator.Validate(data); err != nil {
			h.metrics.LiveMessage("rejected")
			logger.Warn("Ignoring invalid live message", "error", err)
			continue
		}
		var req agent.LiveRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.metrics.LiveMessage("rejected")
			logger.Warn("Ignoring undecodable live message", "error", err)
			continue
		}

		h.metrics.LiveMessage("accepted")
		if err := queue.Send(ctx, req); err != nil {
			return err
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, truncateReason(reason))
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		slog.Debug("Failed to send close frame", "code", code, "error", err)
	}
}

// truncateReason cuts reason to the control frame limit without splitting a
// UTF-8 sequence.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
