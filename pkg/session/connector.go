package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/audiencia/pkg/domain"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]{4,12}$`)

// DefaultRequestTimeout bounds every authority call of the connector.
const DefaultRequestTimeout = 5 * time.Second

// Connector drives the join handshake for one user.
// Safe for concurrent use.
type Connector struct {
	scope   *Scope
	timeout time.Duration

	mu         sync.Mutex
	code       string
	session    *domain.Session
	assignment *domain.RoleAssignment
	joinedFor  int64
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithRequestTimeout bounds each authority call.
func WithRequestTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) {
		c.timeout = d
	}
}

// NewConnector creates a connector for the user of scope.
func NewConnector(scope *Scope, opts ...ConnectorOption) *Connector {
	c := &Connector{
		scope:   scope,
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeCode validates the shape of a join code and upper-cases it.
func NormalizeCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if !codePattern.MatchString(code) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidCode, code)
	}
	return strings.ToUpper(code), nil
}

// JoinByCode resolves code to a session. Joining the code already joined returns the cached
// session without calling the authority.
func (c *Connector) JoinByCode(ctx context.Context, code string) (*domain.Session, error) {
	normalized, err := NormalizeCode(code)
	if err != nil {
		c.fail("join", 0, err)
		return nil, err
	}

	c.mu.Lock()
	if c.session != nil {
		defer c.mu.Unlock()
		if c.code == normalized {
			return c.session.Clone(), nil
		}
		return nil, fmt.Errorf("%w: already in session %s, leave it first", domain.ErrValidation, c.code)
	}
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	s, err := c.scope.Authority.SessionByCode(callCtx, normalized)
	if err != nil {
		err = domain.Classify("session by code", err)
		c.fail("join", 0, err)
		return nil, fmt.Errorf("join %s: %w", normalized, err)
	}

	c.mu.Lock()
	c.code = normalized
	c.session = s.Clone()
	c.mu.Unlock()

	c.scope.Logger.Info("Session resolved", "code", normalized, "session_id", s.ID, "state", s.State)
	return s, nil
}

// FetchRoleAssignment fetches the role of the local user in session.
func (c *Connector) FetchRoleAssignment(ctx context.Context, s *domain.Session) (*domain.RoleAssignment, error) {
	if s == nil {
		return nil, domain.ErrNotJoined
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	as, err := c.scope.Authority.RoleAssignment(callCtx, s.ID, c.scope.UserID())
	if err != nil {
		err = domain.Classify("role assignment", err)
		c.fail("role assignment", s.ID, err)
		return nil, fmt.Errorf("fetch role for session %d: %w", s.ID, err)
	}

	c.mu.Lock()
	c.session = s.Clone()
	if c.assignment == nil || !c.assignment.Confirmed {
		c.assignment = cloneAssignment(as)
	}
	c.mu.Unlock()

	c.scope.Emit(domain.EventRoleAssigned, domain.Identity{SessionID: s.ID}, cloneAssignment(as))
	return as, nil
}

// ConfirmRole confirms the assignment with the authority. On success SessionJoined is
// published once per session; confirming again fails with ErrAlreadyConfirmed without any call.
func (c *Connector) ConfirmRole(ctx context.Context, s *domain.Session, as *domain.RoleAssignment) (*domain.RoleAssignment, error) {
	if s == nil || as == nil {
		return nil, domain.ErrNotJoined
	}

	c.mu.Lock()
	already := as.Confirmed || (c.assignment != nil && c.assignment.ID == as.ID && c.assignment.Confirmed)
	c.mu.Unlock()
	if already {
		return nil, fmt.Errorf("%w: assignment %d", domain.ErrAlreadyConfirmed, as.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	confirmed, err := c.scope.Authority.ConfirmRole(callCtx, s.ID, as.ID)
	if err != nil {
		err = domain.Classify("confirm role", err)
		c.fail("confirm role", s.ID, err)
		return nil, fmt.Errorf("confirm role %d: %w", as.ID, err)
	}
	if !confirmed.Confirmed {
		confirmed = confirmed.Confirm()
	}

	c.mu.Lock()
	c.session = s.Clone()
	c.assignment = cloneAssignment(confirmed)
	emit := c.joinedFor != s.ID
	c.joinedFor = s.ID
	c.mu.Unlock()

	c.scope.Logger.Info("Role confirmed", "session_id", s.ID, "role", confirmed.RoleName)
	if emit {
		c.scope.Emit(domain.EventSessionJoined, domain.Identity{SessionID: s.ID}, domain.SessionJoinedPayload{
			Session:    s.Clone(),
			Assignment: cloneAssignment(confirmed),
		})
	}
	return confirmed, nil
}

// Reject declines the assignment locally. The authority is not told; the user simply
// never joins.
func (c *Connector) Reject(as *domain.RoleAssignment) {
	var sessionID int64
	if as != nil {
		sessionID = as.SessionID
	}

	c.mu.Lock()
	if sessionID == 0 && c.session != nil {
		sessionID = c.session.ID
	}
	c.reset()
	c.mu.Unlock()

	c.scope.Logger.Info("Role rejected", "session_id", sessionID)
	c.scope.Emit(domain.EventRoleRejected, domain.Identity{SessionID: sessionID}, domain.SyncErrorPayload{
		Op:    "reject role",
		Error: domain.ErrRoleRejected.Error(),
		Err:   domain.ErrRoleRejected,
	})
}

// ValidateDialogue fetches the dialogue of session and checks it has a flow for the role.
func (c *Connector) ValidateDialogue(ctx context.Context, s *domain.Session, as *domain.RoleAssignment) (*domain.DialogueGraph, error) {
	if s == nil || as == nil {
		return nil, domain.ErrNotJoined
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	g, err := c.scope.Authority.SessionDialogue(callCtx, s.ID)
	if err != nil {
		err = domain.Classify("session dialogue", err)
		c.fail("session dialogue", s.ID, err)
		return nil, fmt.Errorf("fetch dialogue for session %d: %w", s.ID, err)
	}
	if err := g.RequireRole(as.RoleName); err != nil {
		c.fail("validate dialogue", s.ID, err)
		return nil, err
	}
	return g, nil
}

// Resume reattaches to the session the user already belongs to. When the assignment is
// already confirmed it announces SessionJoined, otherwise the caller continues with ConfirmRole.
func (c *Connector) Resume(ctx context.Context) (*domain.Session, *domain.RoleAssignment, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	s, err := c.scope.Authority.ActiveSession(callCtx, c.scope.UserID())
	cancel()
	if err != nil {
		err = domain.Classify("active session", err)
		c.fail("resume", 0, err)
		return nil, nil, fmt.Errorf("resume: %w", err)
	}

	c.mu.Lock()
	c.code = strings.ToUpper(s.Code)
	c.session = s.Clone()
	c.mu.Unlock()

	as, err := c.FetchRoleAssignment(ctx, s)
	if err != nil {
		return s, nil, err
	}
	if !as.Confirmed {
		return s, as, nil
	}

	c.mu.Lock()
	c.assignment = cloneAssignment(as)
	emit := c.joinedFor != s.ID
	c.joinedFor = s.ID
	c.mu.Unlock()

	if emit {
		c.scope.Emit(domain.EventSessionJoined, domain.Identity{SessionID: s.ID}, domain.SessionJoinedPayload{
			Session:    s.Clone(),
			Assignment: cloneAssignment(as),
		})
	}
	return s, as, nil
}

// Leave drops the joined session and assignment and publishes SessionLeft.
// Leaving when not joined is a no-op.
func (c *Connector) Leave() {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}
	sessionID := c.session.ID
	c.reset()
	c.mu.Unlock()

	c.scope.Logger.Info("Session left", "session_id", sessionID)
	c.scope.Emit(domain.EventSessionLeft, domain.Identity{SessionID: sessionID}, nil)
}

// Session returns a copy of the joined session, or nil.
func (c *Connector) Session() *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

// Assignment returns a copy of the current assignment, or nil.
func (c *Connector) Assignment() *domain.RoleAssignment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAssignment(c.assignment)
}

// Joined reports whether the role was confirmed for the current session.
func (c *Connector) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.joinedFor == c.session.ID
}

// reset clears the handshake state. Callers hold c.mu.
func (c *Connector) reset() {
	c.code = ""
	c.session = nil
	c.assignment = nil
	c.joinedFor = 0
}

func (c *Connector) fail(op string, sessionID int64, err error) {
	c.scope.Logger.Warn("Join flow failed", "op", op, "session_id", sessionID, "err", err)
	c.scope.Emit(domain.EventJoinFailed, domain.Identity{SessionID: sessionID}, domain.SyncErrorPayload{
		Op:    op,
		Error: err.Error(),
		Err:   err,
	})
}

func cloneAssignment(as *domain.RoleAssignment) *domain.RoleAssignment {
	if as == nil {
		return nil
	}
	c := *as
	return &c
}
