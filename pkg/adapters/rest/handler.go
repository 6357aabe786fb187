package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aretw0/audiencia/internal/logging"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// server exposes a backend AuthorityClient over HTTP.
type server struct {
	backend ports.AuthorityClient
	token   string
	logger  *slog.Logger
}

// HandlerOption configures the handler.
type HandlerOption func(*server)

// WithRequiredToken rejects requests whose bearer token differs from token.
func WithRequiredToken(token string) HandlerOption {
	return func(s *server) {
		s.token = token
	}
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(s *server) {
		s.logger = logger
	}
}

// NewHandler serves backend with the REST contract.
func NewHandler(backend ports.AuthorityClient, opts ...HandlerOption) http.Handler {
	s := &server{backend: backend, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/users/{userID}/active-session", s.activeSession)
		r.Get("/sessions/by-code/{code}", s.sessionByCode)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.session)
			r.Get("/assignments/{userID}", s.roleAssignment)
			r.Post("/assignments/{assignmentID}/confirm", s.confirmRole)
			r.Get("/dialogue", s.dialogue)
			r.Get("/state", s.state)
			r.Get("/participants", s.participants)
			r.Get("/responses/{userID}", s.responses)
			r.Post("/decisions", s.submit)
			r.Post("/heartbeat", s.heartbeat)
		})
	})
	return r
}

func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, ErrorBody{Code: CodeUnauthorized, Message: "invalid bearer token"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	if status >= 500 {
		s.logger.Error("Authority request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
	} else {
		s.logger.Debug("Authority request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, ErrorBody{Code: code, Message: err.Error()})
}

func pathID(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrValidation, name)
	}
	return v, nil
}

// serve resolves the named path ids and writes the result of call.
func (s *server) serve(w http.ResponseWriter, r *http.Request, names []string, call func(ctx context.Context, ids []int64) (any, error)) {
	ids := make([]int64, len(names))
	for i, name := range names {
		v, err := pathID(r, name)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ids[i] = v
	}
	out, err := call(r.Context(), ids)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) activeSession(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, []string{"userID"}, func(ctx context.Context, ids []int64) (any, error) {
		return s.backend.ActiveSession(ctx, ids[0])
	})
}

func (s *server) sessionByCode(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, nil, func(ctx context.Context, _ []int64) (any, error) {
		return s.backend.SessionByCode(ctx, chi.URLParam(r, "code"))
	})
}

func (s *server) session(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, []string{"sessionID"}, func(ctx context.Context, ids []int64) (any, error) {
		return s.backend.Session(ctx, ids[0])
	})
}

func (s *server) roleAssignment(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, []string{"sessionID", "userID"}, func(ctx context.Context, ids []int64) (any, error) {
		return s.backend.RoleAssignment(ctx, ids[0], ids[1])
	})
}

func (s *server) confirmRole(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, []string{"sessionID", "assignmentID"}, func(ctx context.Context, ids []int64) (any, error) {
		return s.backend.ConfirmRole(ctx, ids[0], ids[1])
	})
}

func (s *server) dialogue(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, []string{"sessionID"}, func(ctx context.Context, ids []int64) (any, error) {
		return s.backend.SessionDialogue(ctx, ids[0])
	})
}

func (s *server) state(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, []string{"sessionID"}, func(ctx context.Context, ids []int64) (any, error) {
		return s.backend.DialogueState(ctx, ids[0])
	})
}

func (s *server) participants(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, []string{"sessionID"}, func(ctx context.Context, ids []int64) (any, error) {
		ps, err := s.backend.Participants(ctx, ids[0])
		if ps == nil && err == nil {
			ps = []domain.Participant{}
		}
		return ps, err
	})
}

func (s *server) responses(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, []string{"sessionID", "userID"}, func(ctx context.Context, ids []int64) (any, error) {
		opts, err := s.backend.UserResponses(ctx, ids[0], ids[1])
		if opts == nil && err == nil {
			opts = []domain.ResponseOption{}
		}
		return opts, err
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", domain.ErrValidation, err)
	}
	return nil
}

func (s *server) submit(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, []string{"sessionID"}, func(ctx context.Context, ids []int64) (any, error) {
		var d domain.Decision
		if err := decodeBody(r, &d); err != nil {
			return nil, err
		}
		if d.SessionID != ids[0] {
			return nil, fmt.Errorf("%w: decision for session %d posted to session %d", domain.ErrValidation, d.SessionID, ids[0])
		}
		return nil, s.backend.SubmitDecision(ctx, d)
	})
}

func (s *server) heartbeat(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, []string{"sessionID"}, func(ctx context.Context, ids []int64) (any, error) {
		var meta domain.ClientMeta
		if err := decodeBody(r, &meta); err != nil {
			return nil, err
		}
		if meta.ClientID == "" {
			meta.ClientID = r.Header.Get(HeaderClientID)
		}
		return nil, s.backend.Heartbeat(ctx, ids[0], meta)
	})
}
