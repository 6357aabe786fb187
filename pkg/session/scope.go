package session

import (
	"log/slog"

	"github.com/aretw0/audiencia/internal/logging"
	"github.com/aretw0/audiencia/pkg/dedup"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/event"
	"github.com/aretw0/audiencia/pkg/observability"
	"github.com/aretw0/audiencia/pkg/ports"
	"github.com/google/uuid"
)

// Scope is the explicit context object handed to per-session components.
type Scope struct {
	Authority ports.AuthorityClient
	Client    domain.ClientMeta
	Bus       *event.Bus
	Guard     *dedup.Guard
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// ScopeOption configures a Scope.
type ScopeOption func(*Scope)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ScopeOption {
	return func(s *Scope) {
		s.Logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) ScopeOption {
	return func(s *Scope) {
		s.Metrics = m
	}
}

// WithBus shares an existing bus.
func WithBus(bus *event.Bus) ScopeOption {
	return func(s *Scope) {
		s.Bus = bus
	}
}

// WithClientInfo sets the client name and version sent on heartbeats.
func WithClientInfo(name, version string) ScopeOption {
	return func(s *Scope) {
		s.Client.Name = name
		s.Client.Version = version
	}
}

// WithClientID overrides the generated client id.
func WithClientID(id string) ScopeOption {
	return func(s *Scope) {
		s.Client.ClientID = id
	}
}

// NewScope creates the scope of a user talking to authority.
// The client id defaults to a fresh UUID.
func NewScope(authority ports.AuthorityClient, userID int64, opts ...ScopeOption) *Scope {
	s := &Scope{
		Authority: authority,
		Client: domain.ClientMeta{
			ClientID: uuid.NewString(),
			Name:     "audiencia",
			UserID:   userID,
		},
		Logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Bus == nil {
		s.Bus = event.NewBus(event.WithLogger(s.Logger))
	}
	if s.Guard == nil {
		s.Guard = dedup.New(
			dedup.WithLogger(s.Logger),
			dedup.WithDuplicateHook(s.Metrics.DuplicateAbsorbed),
		)
	}
	return s
}

// UserID is the local user.
func (s *Scope) UserID() int64 {
	return s.Client.UserID
}

// Publish sends ev on the bus and counts it.
func (s *Scope) Publish(ev domain.Event) {
	s.Metrics.EventPublished(string(ev.Type))
	s.Bus.Publish(ev)
}

// Emit builds and publishes an event.
func (s *Scope) Emit(t domain.EventType, id domain.Identity, payload any) {
	s.Publish(domain.NewEvent(t, id, payload))
}
