// Package httpapi serves the provider webhook, the realtime transcript stream
// and the operator admin API.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/kentyler/cogito-sub006/external/recall"
	"github.com/kentyler/cogito-sub006/internal/events"
	"github.com/kentyler/cogito-sub006/internal/lifecycle"
	"github.com/kentyler/cogito-sub006/internal/provider"
	"github.com/kentyler/cogito-sub006/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxWebhookBody   = 1 << 20
	maxStreamMessage = 1 << 20
)

type eventRouter interface {
	HandleDelivery(ctx context.Context, d events.Delivery) error
	HandleTranscript(ctx context.Context, ev events.TranscriptEvent) error
	HandleStreamClosed(providerBotID string)
}

type botAdmin interface {
	CreateBot(ctx context.Context, input lifecycle.CreateBotInput) (*repository.Bot, error)
	GetBot(ctx context.Context, id string) (*repository.Bot, error)
	ListStuck(ctx context.Context, threshold time.Duration) ([]repository.Bot, error)
	RequestLeave(ctx context.Context, id string) (*repository.Bot, error)
	ForceComplete(ctx context.Context, id string) (*repository.Bot, error)
	Now() time.Time
}

type Options struct {
	Addr           string
	AdminToken     string
	StuckThreshold time.Duration
	// ActiveWorkers is reported by /healthz when set.
	ActiveWorkers func() int
}

type Server struct {
	events   eventRouter
	bots     botAdmin
	turns    repository.TurnRepository
	gatherer prometheus.Gatherer
	opts     Options
	upgrader websocket.Upgrader
	router   chi.Router
	http     *http.Server
}

func NewServer(ev eventRouter, bots botAdmin, turns repository.TurnRepository, g prometheus.Gatherer, opts Options) *Server {
	s := &Server{
		events:   ev,
		bots:     bots,
		turns:    turns,
		gatherer: g,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Post("/webhook/recall", s.handleWebhook)
	r.Get("/transcript", s.handleTranscriptStream)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/bots", s.handleCreateBot)
		r.Get("/bots/stuck", s.handleListStuck)
		r.Route("/bots/{botID}", func(r chi.Router) {
			r.Get("/", s.handleGetBot)
			r.Get("/turns", s.handleListTurns)
			r.Post("/leave", s.handleLeave)
			r.Post("/force-complete", s.handleForceComplete)
		})
	})
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.opts.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.opts.ActiveWorkers != nil {
		resp["active_workers"] = s.opts.ActiveWorkers()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWebhook answers 2xx for anything the provider should not retry.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	d, err := recall.DecodeWebhook(r.Header, body, time.Now())
	if err != nil {
		slog.Warn("malformed webhook rejected", "error", err)
		writeError(w, http.StatusBadRequest, "malformed webhook")
		return
	}

	err = s.events.HandleDelivery(r.Context(), d)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, events.ErrDuplicateDelivery):
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
	case errors.Is(err, events.ErrMalformedDelivery):
		slog.Warn("malformed webhook rejected", "error", err, "delivery_id", d.ID, "kind", d.Kind)
		writeError(w, http.StatusBadRequest, "malformed webhook")
	default:
		slog.Error("webhook processing failed", "error", err, "delivery_id", d.ID, "kind", d.Kind, "provider_bot_id", d.ProviderBotID)
		writeError(w, http.StatusInternalServerError, "processing failed")
	}
}

func (s *Server) handleTranscriptStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("transcript stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxStreamMessage)

	ctx := r.Context()
	var providerBotID string
	defer func() {
		if providerBotID != "" {
			s.events.HandleStreamClosed(providerBotID)
		}
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("transcript stream read ended", "error", err, "provider_bot_id", providerBotID)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ev, ok, err := recall.DecodeTranscript(msg, time.Now())
		if err != nil {
			slog.Warn("malformed transcript message skipped", "error", err, "provider_bot_id", providerBotID)
			continue
		}
		if !ok {
			continue
		}
		providerBotID = ev.ProviderBotID
		if err := s.events.HandleTranscript(ctx, ev); err != nil {
			slog.Error("transcript fragment rejected", "error", err, "provider_bot_id", ev.ProviderBotID)
		}
	}
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminToken == "" {
			writeError(w, http.StatusNotFound, "admin api disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req CreateBotRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bot, err := s.bots.CreateBot(r.Context(), lifecycle.CreateBotInput{
		MeetingURL:  req.MeetingURL,
		MeetingName: req.MeetingName,
		ClientID:    req.ClientID,
	})
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBotView(*bot))
}

func (s *Server) handleListStuck(w http.ResponseWriter, r *http.Request) {
	threshold := s.opts.StuckThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "threshold must be a positive duration")
			return
		}
		threshold = d
	}
	bots, err := s.bots.ListStuck(r.Context(), threshold)
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	now := s.bots.Now()
	views := make([]BotView, 0, len(bots))
	for _, b := range bots {
		views = append(views, newStuckView(b, now))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	bot, err := s.bots.GetBot(r.Context(), chi.URLParam(r, "botID"))
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	stats, err := s.turns.TurnStatsByBot(r.Context(), bot.ID)
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	v := newBotView(*bot)
	v.TurnCount = &stats.Count
	v.LastTurnAt = stats.LastTurnAt
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if _, err := s.bots.GetBot(r.Context(), botID); err != nil {
		s.writeAdminError(w, err)
		return
	}
	views := []TurnView{}
	block, err := s.turns.GetBlockByBot(r.Context(), botID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusOK, views)
		return
	case err != nil:
		s.writeAdminError(w, err)
		return
	}
	turns, err := s.turns.ListTurns(r.Context(), block.ID)
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	for _, t := range turns {
		views = append(views, newTurnView(t))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	bot, err := s.bots.RequestLeave(r.Context(), chi.URLParam(r, "botID"))
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBotView(*bot))
}

func (s *Server) handleForceComplete(w http.ResponseWriter, r *http.Request) {
	bot, err := s.bots.ForceComplete(r.Context(), chi.URLParam(r, "botID"))
	if err != nil {
		s.writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBotView(*bot))
}

func (s *Server) writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "bot not found")
	case errors.Is(err, lifecycle.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, provider.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("admin request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
