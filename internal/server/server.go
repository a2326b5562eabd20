package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-playground/validator/v10"

	"github.com/GriffinCanCode/posecoach/platform/internal/clock"
	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
	"github.com/GriffinCanCode/posecoach/platform/internal/livestate"
	"github.com/GriffinCanCode/posecoach/platform/internal/pcm"
	"github.com/GriffinCanCode/posecoach/platform/internal/poses"
	"github.com/GriffinCanCode/posecoach/platform/internal/protocol"
	"github.com/GriffinCanCode/posecoach/platform/internal/trace"
)

// Coach is the session control surface. *orchestrator.Manager implements it.
type Coach interface {
	Connect(ctx context.Context) error
	Disconnect()
	SelectPose(ctx context.Context, id string) error
	SubmitLandmarks(kps []protocol.Keypoint) bool
	SubmitFrame(data []byte) (bool, error)
	SendText(text string) bool
	Catalog() *poses.Catalog
}

// StateMessage pushes a live state snapshot.
type StateMessage struct {
	Type  string             `json:"type"`
	State livestate.Snapshot `json:"state"`
}

// ErrorMessage reports a rejected websocket message.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a renderer-to-platform websocket message.
type ClientMessage struct {
	Type      string              `json:"type" validate:"required,oneof=landmarks frame"`
	Landmarks []protocol.Keypoint `json:"landmarks"`
	Data      string              `json:"data" validate:"omitempty,base64"`
}

// TextRequest is the body of POST /api/text.
type TextRequest struct {
	Text string `json:"text" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	clk        clock.Clock
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Deps are the server's collaborators. Metrics may be nil.
type Deps struct {
	Coach   Coach
	State   *livestate.Store
	Metrics http.Handler
	Clock   clock.Clock
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	coach   Coach
	state   *livestate.Store
	metrics http.Handler
	clk     clock.Clock
}

// New creates a new server.
func New(deps Deps) *Server {
	return &Server{
		coach:   deps.Coach,
		state:   deps.State,
		metrics: deps.Metrics,
		clk:     clock.OrReal(deps.Clock),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/session/connect", s.handleConnect)
	mux.HandleFunc("POST /api/session/disconnect", s.handleDisconnect)
	mux.HandleFunc("GET /api/poses", s.handlePoses)
	mux.HandleFunc("POST /api/poses/{id}/select", s.handleSelectPose)
	mux.HandleFunc("POST /api/text", s.handleText)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigStd.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode error", "error", err)
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx, span := trace.StartSpan(r.Context(), "api_connect")
	defer span.End()

	if err := s.coach.Connect(ctx); err != nil {
		span.Fail(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.coach.Disconnect()
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handlePoses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coach.Catalog().List())
}

func (s *Server) handleSelectPose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.coach.SelectPose(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	p, _ := s.coach.Catalog().Get(id)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxMessageBytes))
	if err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.InvalidArgument, "read body"))
		return
	}
	var req TextRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.InvalidArgument, "invalid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.InvalidArgument, "text is required"))
		return
	}
	if !s.coach.SendText(req.Text) {
		writeError(w, apperrors.New(apperrors.NotConnected, "session not connected"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(MaxMessageBytes)

	// Get trace context from HTTP upgrade request
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	go s.pushState(ctx, conn)

	rl := &rateLimiter{clk: s.clk}
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			s.reply(ctx, conn, ErrorMessage{Type: MsgError, Message: "rate limit exceeded"})
			continue
		}

		var msg ClientMessage
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if err := validate.Struct(msg); err != nil {
			log.Debug("invalid websocket message", "error", err)
			continue
		}
		s.handleClientMessage(ctx, msg)
	}
}

func (s *Server) handleClientMessage(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case MsgLandmarks:
		s.coach.SubmitLandmarks(msg.Landmarks)
	case MsgFrame:
		data, err := pcm.Base64ToBytes(msg.Data)
		if err != nil || len(data) == 0 {
			return
		}
		if _, err := s.coach.SubmitFrame(data); err != nil {
			trace.Logger(ctx).Debug("frame rejected", "error", err)
		}
	}
}

// pushState writes the current snapshot, then one per coalesced change.
func (s *Server) pushState(ctx context.Context, conn *websocket.Conn) {
	changes, unsubscribe := s.state.Subscribe()
	defer unsubscribe()

	for {
		if err := s.reply(ctx, conn, StateMessage{Type: MsgState, State: s.state.Snapshot()}); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-changes:
		}
	}
}

func (s *Server) reply(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
