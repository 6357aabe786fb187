package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aretw0/audiencia/internal/logging"
	"github.com/aretw0/audiencia/pkg/adapters/rest"
	"github.com/aretw0/audiencia/pkg/dedup"
	"github.com/aretw0/audiencia/pkg/dialogue"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/event"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller is the client the bridge drives. *audiencia.Client satisfies it.
type Controller interface {
	Join(ctx context.Context, code string) (*domain.Session, *domain.RoleAssignment, error)
	Confirm(ctx context.Context) (*domain.RoleAssignment, error)
	Reject()
	Leave()
	Select(index int) error
	Submit(ctx context.Context) error
	Advance(ctx context.Context) error
	Status() dialogue.Status
	Presence() (string, dialogue.Presence)
	Session() *domain.Session
	Assignment() *domain.RoleAssignment
	Snapshot() (*domain.Snapshot, error)
	Bus() *event.Bus
}

// Info describes the running client on GET /info.
type Info struct {
	App      string `json:"app"`
	Version  string `json:"version"`
	ClientID string `json:"client_id,omitempty"`
	UserID   int64  `json:"user_id"`
}

// Server exposes a Controller to a local presentation layer.
type Server struct {
	ctl      Controller
	info     Info
	streams  *StreamManager
	guard    *dedup.Guard
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	subs     []string
}

// Option configures a Server.
type Option func(*Server)

// WithInfo sets the /info payload.
func WithInfo(info Info) Option {
	return func(s *Server) {
		s.info = info
	}
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a bridge for ctl and starts forwarding its events to SSE subscribers.
// Call Close to stop forwarding.
func NewServer(ctl Controller, opts ...Option) *Server {
	s := &Server{
		ctl:      ctl,
		info:     Info{App: "audiencia"},
		gatherer: prometheus.DefaultGatherer,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.streams = NewStreamManager(s.logger)
	s.guard = dedup.New(dedup.WithLogger(s.logger))

	bus := ctl.Bus()
	s.subs = append(s.subs,
		bus.Subscribe(domain.EventParticipantsChanged, s.guard.Wrap("bridge:participants", func(ev domain.Event) error {
			s.forward(ev)
			return nil
		})),
		bus.SubscribeAll(func(ev domain.Event) {
			if ev.Type != domain.EventParticipantsChanged {
				s.forward(ev)
			}
		}),
	)
	return s
}

// Close stops forwarding events. Open streams stay connected until their clients leave.
func (s *Server) Close() {
	for _, id := range s.subs {
		s.ctl.Bus().Unsubscribe(id)
	}
	s.subs = nil
}

// Streams exposes the SSE fan-out.
func (s *Server) Streams() *StreamManager { return s.streams }

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.health)
	r.Get("/info", s.getInfo)
	r.Get("/session", s.getSession)
	r.Get("/state", s.getState)
	r.Get("/participants", s.getParticipants)
	r.Get("/turn", s.getTurn)
	r.Get("/events", s.subscribeEvents)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Post("/join", s.join)
	r.Post("/confirm", s.confirm)
	r.Post("/reject", s.reject)
	r.Post("/leave", s.leave)
	r.Post("/select", s.selectOption)
	r.Post("/submit", s.submit)
	r.Post("/advance", s.advance)
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor extends the authority mapping with the errors only the local client raises.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotJoined):
		return http.StatusConflict, "not_joined"
	case errors.Is(err, domain.ErrNotYourTurn),
		errors.Is(err, domain.ErrAwaitingRefresh),
		errors.Is(err, domain.ErrNotSpeakingRole):
		return http.StatusConflict, "not_your_turn"
	case errors.Is(err, domain.ErrNoSelection),
		errors.Is(err, domain.ErrSelectionOutOfRange),
		errors.Is(err, domain.ErrGraphMissingRole):
		return http.StatusUnprocessableEntity, rest.CodeValidation
	}
	return rest.StatusFor(err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Bridge response encode failed", "err", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		s.logger.Error("Bridge request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
	} else {
		s.logger.Debug("Bridge request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	s.writeJSON(w, status, rest.ErrorBody{Code: code, Message: err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.fail(w, r, fmt.Errorf("%w: request body: %v", domain.ErrValidation, err))
		return false
	}
	return true
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.info)
}

// SessionView is the body of GET /session and POST /join.
type SessionView struct {
	Session    *domain.Session        `json:"session"`
	Assignment *domain.RoleAssignment `json:"assignment,omitempty"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess := s.ctl.Session()
	if sess == nil {
		s.fail(w, r, domain.ErrNotJoined)
		return
	}
	s.writeJSON(w, http.StatusOK, SessionView{Session: sess, Assignment: s.ctl.Assignment()})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctl.Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getParticipants(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctl.Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ps := snap.Participants
	if ps == nil {
		ps = []domain.Participant{}
	}
	s.writeJSON(w, http.StatusOK, ps)
}

// TurnView is the body of GET /turn.
type TurnView struct {
	dialogue.Status
	CanAdvance       bool   `json:"can_advance"`
	FallbackRole     string `json:"fallback_role,omitempty"`
	FallbackPresence string `json:"fallback_presence,omitempty"`
}

func (s *Server) turn() TurnView {
	st := s.ctl.Status()
	role, presence := s.ctl.Presence()
	v := TurnView{Status: st, CanAdvance: st.CanAdvance(), FallbackRole: role}
	if role != "" {
		v.FallbackPresence = presence.String()
	}
	return v
}

func (s *Server) getTurn(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.turn())
}

func (s *Server) join(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	sess, as, err := s.ctl.Join(r.Context(), body.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SessionView{Session: sess, Assignment: as})
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	as, err := s.ctl.Confirm(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, as)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	s.ctl.Reject()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) leave(w http.ResponseWriter, r *http.Request) {
	s.ctl.Leave()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) selectOption(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Index int `json:"index"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.ctl.Select(body.Index); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.turn())
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Submit(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.turn())
}

func (s *Server) advance(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Advance(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.turn())
}

// forward serializes ev for the SSE subscribers of its session.
func (s *Server) forward(ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("Bridge event encode failed", "event", ev.Type, "err", err)
		return
	}
	s.streams.Broadcast(Message{Type: string(ev.Type), SessionID: ev.Identity.SessionID, Data: string(payload)})
}

// subscribeEvents handles GET /events (SSE). Optional query parameters: session_id limits
// the stream to one session, types is a comma separated list of event types.
func (s *Server) subscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SSE: streaming not supported")
		return
	}

	var filter Filter
	if v := r.URL.Query().Get("session_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.fail(w, r, fmt.Errorf("%w: session_id must be an integer", domain.ErrValidation))
			return
		}
		filter.SessionID = id
	}
	if v := r.URL.Query().Get("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, t)
			}
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.streams.Subscribe(filter)
	defer cancel()

	s.logger.Info("SSE: client subscribed", "session_id", filter.SessionID, "types", filter.Types)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: client disconnected")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, msg.Data)
			flusher.Flush()
		}
	}
}
