package audiencia

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/audiencia/internal/logging"
	"github.com/aretw0/audiencia/pkg/dialogue"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/event"
	"github.com/aretw0/audiencia/pkg/observability"
	"github.com/aretw0/audiencia/pkg/ports"
	"github.com/aretw0/audiencia/pkg/session"
	"github.com/aretw0/audiencia/pkg/syncengine"
	"github.com/sourcegraph/conc"
)

// ErrNotStarted is returned by Client calls made before Start.
var ErrNotStarted = errors.New("client not started")

const joinedKey = "client:joined"

// Client is the high-level entry point. It owns the join handshake and, once a role is
// confirmed, runs the sync engine, the dialogue machine and the bot fallback of that session.
type Client struct {
	scope     *session.Scope
	connector *session.Connector
	timeout   time.Duration
	syncCfg   syncengine.Config
	botCfg    dialogue.FallbackConfig
	botLocker ports.DistributedLocker
	snapshots *session.Manager
	presenter func(dialogue.Status)
	logger    *slog.Logger

	scopeOpts []session.ScopeOption

	mu       sync.Mutex
	ctx      context.Context
	subs     []string
	graph    *domain.DialogueGraph
	graphFor int64
	active   *run
}

// run is everything started for one joined session.
type run struct {
	sessionID int64
	engine    *syncengine.Engine
	machine   *dialogue.Machine
	fallback  *dialogue.Fallback
	cancel    context.CancelFunc
	wg        conc.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
		c.scopeOpts = append(c.scopeOpts, session.WithLogger(logger))
	}
}

// WithMetrics records every component into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.scopeOpts = append(c.scopeOpts, session.WithMetrics(m))
	}
}

// WithBus shares an existing event bus.
func WithBus(bus *event.Bus) Option {
	return func(c *Client) {
		c.scopeOpts = append(c.scopeOpts, session.WithBus(bus))
	}
}

// WithClientInfo sets the name and version reported on heartbeats.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.scopeOpts = append(c.scopeOpts, session.WithClientInfo(name, version))
	}
}

// WithClientID overrides the generated client id.
func WithClientID(id string) Option {
	return func(c *Client) {
		c.scopeOpts = append(c.scopeOpts, session.WithClientID(id))
	}
}

// WithSyncConfig tunes the engine loops.
func WithSyncConfig(cfg syncengine.Config) Option {
	return func(c *Client) {
		c.syncCfg = cfg
		c.timeout = cfg.RequestTimeout
	}
}

// WithFallbackConfig tunes the bot fallback.
func WithFallbackConfig(cfg dialogue.FallbackConfig) Option {
	return func(c *Client) {
		c.botCfg = cfg
	}
}

// WithBotLocker elects a single answering client across processes.
func WithBotLocker(locker ports.DistributedLocker) Option {
	return func(c *Client) {
		c.botLocker = locker
	}
}

// WithSnapshots mirrors the engine cache into m.
func WithSnapshots(m *session.Manager) Option {
	return func(c *Client) {
		c.snapshots = m
	}
}

// WithPresenter receives every dialogue status change.
func WithPresenter(fn func(dialogue.Status)) Option {
	return func(c *Client) {
		c.presenter = fn
	}
}

// New creates a client for userID talking to authority.
func New(authority ports.AuthorityClient, userID int64, opts ...Option) *Client {
	c := &Client{
		syncCfg: syncengine.DefaultConfig(),
		botCfg:  dialogue.DefaultFallbackConfig(),
		timeout: session.DefaultRequestTimeout,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.scope = session.NewScope(authority, userID, c.scopeOpts...)
	c.connector = session.NewConnector(c.scope, session.WithRequestTimeout(c.timeout))
	return c
}

// Start subscribes the client to its own lifecycle events. Sessions joined afterwards run
// under ctx until they are left or ctx ends.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return
	}
	c.ctx = ctx
	bus := c.scope.Bus
	c.subs = append(c.subs,
		bus.Subscribe(domain.EventSessionJoined, c.scope.Guard.Wrap(joinedKey, c.onJoined)),
		bus.Subscribe(domain.EventSessionLeft, c.onLeft),
	)
}

// Close stops the running session and drops the subscriptions.
func (c *Client) Close() {
	c.stopRun()
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.ctx = nil
	c.mu.Unlock()
	for _, id := range subs {
		c.scope.Bus.Unsubscribe(id)
	}
	c.scope.Guard.Forget(joinedKey)
}

func (c *Client) onJoined(ev domain.Event) error {
	p, ok := ev.Payload.(domain.SessionJoinedPayload)
	if !ok || p.Session == nil || p.Assignment == nil {
		return fmt.Errorf("%w: session joined without session or assignment", domain.ErrValidation)
	}

	c.mu.Lock()
	parent := c.ctx
	var graph *domain.DialogueGraph
	if c.graphFor == p.Session.ID {
		graph = c.graph
	}
	c.mu.Unlock()
	if parent == nil {
		return ErrNotStarted
	}
	c.stopRun()

	engineOpts := []syncengine.Option{syncengine.WithConfig(c.syncCfg)}
	if graph != nil {
		engineOpts = append(engineOpts, syncengine.WithGraph(graph))
	}
	if c.snapshots != nil {
		engineOpts = append(engineOpts, syncengine.WithSnapshots(c.snapshots))
	}
	r := &run{sessionID: p.Session.ID}
	r.engine = syncengine.New(c.scope, p.Session.ID, engineOpts...)

	machineOpts := []dialogue.MachineOption{dialogue.WithMachineTimeout(c.syncCfg.RequestTimeout)}
	if c.presenter != nil {
		machineOpts = append(machineOpts, dialogue.WithPresenter(c.presenter))
	}
	r.machine = dialogue.NewMachine(c.scope, p.Session.ID, p.Assignment.RoleName, r.engine, machineOpts...)

	fallbackOpts := []dialogue.FallbackOption{dialogue.WithFallbackConfig(c.botCfg)}
	if c.botLocker != nil {
		fallbackOpts = append(fallbackOpts, dialogue.WithBotLocker(c.botLocker))
	}
	r.fallback = dialogue.NewFallback(c.scope, p.Session.ID, r.engine, fallbackOpts...)

	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.machine.Attach(ctx)
	if err := r.engine.Start(ctx); err != nil {
		r.machine.Detach()
		cancel()
		return err
	}
	// Sessions may enable bots even when the local default is off; Check decides per pass.
	r.wg.Go(func() { r.fallback.Run(ctx) })

	c.mu.Lock()
	c.active = r
	c.mu.Unlock()

	c.logger.Info("Session started", "session_id", p.Session.ID, "role", p.Assignment.RoleName)
	return nil
}

func (c *Client) onLeft(ev domain.Event) {
	c.stopRun()
	c.scope.Guard.Forget(joinedKey)
}

func (c *Client) stopRun() {
	c.mu.Lock()
	r := c.active
	c.active = nil
	c.mu.Unlock()
	if r == nil {
		return
	}
	r.machine.Detach()
	r.cancel()
	r.wg.Wait()
	r.engine.Stop()
	c.logger.Info("Session stopped", "session_id", r.sessionID)
}

func (c *Client) current() (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil, domain.ErrNotJoined
	}
	return c.active, nil
}

// Join resolves code and fetches the local user's role. The role still needs Confirm.
func (c *Client) Join(ctx context.Context, code string) (*domain.Session, *domain.RoleAssignment, error) {
	s, err := c.connector.JoinByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	as, err := c.connector.FetchRoleAssignment(ctx, s)
	if err != nil {
		return s, nil, err
	}
	return s, as, nil
}

// Confirm validates the dialogue for the pending role and confirms it. On success the
// session starts running.
func (c *Client) Confirm(ctx context.Context) (*domain.RoleAssignment, error) {
	s, as := c.connector.Session(), c.connector.Assignment()
	if s == nil || as == nil {
		return nil, domain.ErrNotJoined
	}
	g, err := c.connector.ValidateDialogue(ctx, s, as)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.graph = g
	c.graphFor = s.ID
	c.mu.Unlock()
	return c.connector.ConfirmRole(ctx, s, as)
}

// Reject declines the pending role.
func (c *Client) Reject() {
	c.connector.Reject(c.connector.Assignment())
}

// Resume reattaches to the user's active session. A confirmed role starts the session.
func (c *Client) Resume(ctx context.Context) (*domain.Session, *domain.RoleAssignment, error) {
	return c.connector.Resume(ctx)
}

// Leave stops the running session and forgets it.
func (c *Client) Leave() {
	c.connector.Leave()
	c.stopRun()
}

// Select picks an option of the current turn.
func (c *Client) Select(index int) error {
	r, err := c.current()
	if err != nil {
		return err
	}
	return r.machine.Select(index)
}

// Submit sends the selected option.
func (c *Client) Submit(ctx context.Context) error {
	r, err := c.current()
	if err != nil {
		return err
	}
	return r.machine.Submit(ctx)
}

// Advance continues past an automatic or final node.
func (c *Client) Advance(ctx context.Context) error {
	r, err := c.current()
	if err != nil {
		return err
	}
	return r.machine.Advance(ctx)
}

// Refresh requests an immediate poll.
func (c *Client) Refresh() {
	if r, err := c.current(); err == nil {
		r.engine.Refresh()
	}
}

// Status returns the dialogue status, or an inactive one when no session runs.
func (c *Client) Status() dialogue.Status {
	r, err := c.current()
	if err != nil {
		return dialogue.Status{State: dialogue.StateInactive, UserID: c.scope.UserID()}
	}
	return r.machine.Status()
}

// Presence reports the fallback's view of the speaking role.
func (c *Client) Presence() (string, dialogue.Presence) {
	r, err := c.current()
	if err != nil {
		return "", dialogue.PresenceUnknown
	}
	return r.fallback.Presence()
}

// Snapshot returns the cached state of the running session.
func (c *Client) Snapshot() (*domain.Snapshot, error) {
	r, err := c.current()
	if err != nil {
		return nil, err
	}
	return r.engine.Snapshot(), nil
}

// Session returns the joined session, from the engine cache when running.
func (c *Client) Session() *domain.Session {
	if r, err := c.current(); err == nil {
		if s := r.engine.Session(); s != nil {
			return s
		}
	}
	return c.connector.Session()
}

// Assignment returns the current role assignment.
func (c *Client) Assignment() *domain.RoleAssignment {
	return c.connector.Assignment()
}

// Running reports whether a session is being synchronized.
func (c *Client) Running() bool {
	_, err := c.current()
	return err == nil
}

// Bus exposes the event bus.
func (c *Client) Bus() *event.Bus { return c.scope.Bus }

// Scope exposes the session scope shared by the components.
func (c *Client) Scope() *session.Scope { return c.scope }
