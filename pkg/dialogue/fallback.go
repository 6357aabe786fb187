package dialogue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/ports"
	"github.com/aretw0/audiencia/pkg/schedule"
	"github.com/aretw0/audiencia/pkg/session"
)

// FallbackConfig tunes the bot that answers for absent roles.
type FallbackConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
	Delay         time.Duration `mapstructure:"delay"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// DefaultFallbackConfig returns the production timings.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		Enabled:       true,
		GracePeriod:   15 * time.Second,
		Delay:         2 * time.Second,
		CheckInterval: 500 * time.Millisecond,
		LockTTL:       30 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Validate rejects timings the fallback cannot run with.
func (c FallbackConfig) Validate() error {
	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: bot check interval must be positive", domain.ErrValidation)
	}
	if c.GracePeriod < 0 || c.Delay < 0 {
		return fmt.Errorf("%w: bot grace and delay must not be negative", domain.ErrValidation)
	}
	if c.LockTTL <= 0 || c.Timeout <= 0 {
		return fmt.Errorf("%w: bot lock ttl and timeout must be positive", domain.ErrValidation)
	}
	return nil
}

type pendingKey struct {
	DialogueID int64
	NodeID     int64
	Role       string
}

type pendingEntry struct {
	key pendingKey
	// activation numbers the entries of this fallback, so a node visited twice is
	// answered twice.
	activation  uint64
	activatedAt time.Time
	presence    Presence
	absentSince time.Time
	done        bool
	unlock      func(context.Context) error
}

// Fallback submits a decision for the speaking role when no connected human plays it.
type Fallback struct {
	scope     *session.Scope
	sessionID int64
	mirror    Mirror
	cfg       FallbackConfig
	locker    ports.DistributedLocker
	now       func() time.Time
	rng       *rand.Rand
	task      *schedule.Task

	mu          sync.Mutex
	entry       *pendingEntry
	activations uint64
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

// WithFallbackConfig overrides the default timings.
func WithFallbackConfig(cfg FallbackConfig) FallbackOption {
	return func(f *Fallback) {
		f.cfg = cfg
	}
}

// WithBotLocker makes clients sharing the locker elect a single answerer per node.
func WithBotLocker(locker ports.DistributedLocker) FallbackOption {
	return func(f *Fallback) {
		f.locker = locker
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) FallbackOption {
	return func(f *Fallback) {
		f.now = now
	}
}

// WithRand injects the source used to pick options.
func WithRand(r *rand.Rand) FallbackOption {
	return func(f *Fallback) {
		f.rng = r
	}
}

// NewFallback creates the fallback of sessionID.
func NewFallback(scope *session.Scope, sessionID int64, mirror Mirror, opts ...FallbackOption) *Fallback {
	f := &Fallback{
		scope:     scope,
		sessionID: sessionID,
		mirror:    mirror,
		cfg:       DefaultFallbackConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.rng == nil {
		seed := uint64(f.now().UnixNano())
		f.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	f.task = schedule.New("bot", f.cfg.CheckInterval, f.Check,
		schedule.WithLogger(scope.Logger),
		schedule.WithSkipHook(func() { scope.Metrics.TickSkipped("bot") }),
	)
	return f
}

// Run checks every CheckInterval until ctx is cancelled.
func (f *Fallback) Run(ctx context.Context) {
	f.task.Run(ctx)
}

// Presence reports what is known about the role of the pending entry.
func (f *Fallback) Presence() (string, Presence) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entry == nil {
		return "", PresenceUnknown
	}
	return f.entry.key.Role, f.entry.presence
}

type fallbackSettings struct {
	enabled bool
	grace   time.Duration
	delay   time.Duration
}

func (f *Fallback) settings() fallbackSettings {
	s := fallbackSettings{enabled: f.cfg.Enabled, grace: f.cfg.GracePeriod, delay: f.cfg.Delay}
	sess := f.mirror.Session()
	if sess == nil {
		return s
	}
	opts, err := domain.DecodeSessionOptions(sess.Config)
	if err != nil {
		f.scope.Logger.Warn("Ignoring session bot options", "session_id", f.sessionID, "err", err)
		return s
	}
	if opts.BotsEnabled != nil {
		s.enabled = *opts.BotsEnabled
	}
	if g := opts.BotGrace(); g > 0 {
		s.grace = g
	}
	if d := opts.BotDelay(); d > 0 {
		s.delay = d
	}
	return s
}

// Check runs one pass of the presence tracking and answers when a role is due.
func (f *Fallback) Check(ctx context.Context) {
	st := f.mirror.Dialogue()
	if st == nil || !st.Active || st.SpeakingRole == "" {
		f.reset(ctx)
		return
	}
	settings := f.settings()
	if !settings.enabled {
		f.reset(ctx)
		return
	}

	key := pendingKey{DialogueID: st.DialogueID, NodeID: st.CurrentNodeID, Role: st.SpeakingRole}

	f.mu.Lock()
	if f.entry == nil || f.entry.key != key {
		defer f.release(ctx, f.entry)
		f.activations++
		f.entry = &pendingEntry{key: key, activation: f.activations, activatedAt: st.FetchedAt}
		f.scope.Logger.Debug("Tracking speaking role", "session_id", f.sessionID, "node_id", key.NodeID, "role", key.Role)
	}
	e := f.entry
	if e.done || !st.FetchedAt.After(e.activatedAt) {
		f.mu.Unlock()
		return
	}
	if rolePresent(key.Role, st.Participants, f.mirror.Participants()) {
		e.presence = PresencePresent
		e.done = true
		f.mu.Unlock()
		f.scope.Logger.Debug("Role played by a human", "session_id", f.sessionID, "role", key.Role)
		return
	}
	if e.presence != PresenceAbsent {
		e.presence = PresenceAbsent
		e.absentSince = st.FetchedAt
	}
	due := f.now().Sub(e.absentSince) >= settings.grace+settings.delay
	f.mu.Unlock()

	if due {
		f.answer(ctx, e)
	}
}

func (f *Fallback) reset(ctx context.Context) {
	f.mu.Lock()
	prev := f.entry
	f.entry = nil
	f.mu.Unlock()
	f.release(ctx, prev)
}

// release drops the bot lock kept by e once the dialogue has left its node.
func (f *Fallback) release(ctx context.Context, e *pendingEntry) {
	if e == nil {
		return
	}
	f.mu.Lock()
	unlock := e.unlock
	e.unlock = nil
	f.mu.Unlock()
	if unlock == nil {
		return
	}
	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		f.scope.Logger.Warn("Failed to release bot lock (will expire via TTL)",
			"session_id", f.sessionID, "node_id", e.key.NodeID, "err", err)
	}
}

func (f *Fallback) finish(e *pendingEntry, presence Presence) {
	f.mu.Lock()
	e.done = true
	if presence != PresenceUnknown {
		e.presence = presence
	}
	f.mu.Unlock()
}

func (f *Fallback) answer(ctx context.Context, e *pendingEntry) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	logger := f.scope.Logger.With("session_id", f.sessionID, "node_id", e.key.NodeID, "role", e.key.Role)

	fresh, err := f.scope.Authority.DialogueState(reqCtx, f.sessionID)
	if err != nil {
		logger.Warn("Bot presence re-check failed", "err", err)
		return
	}
	if !fresh.Active || fresh.DialogueID != e.key.DialogueID || fresh.CurrentNodeID != e.key.NodeID || fresh.SpeakingRole != e.key.Role {
		f.finish(e, PresenceUnknown)
		f.mirror.Refresh()
		return
	}
	if rolePresent(e.key.Role, fresh.Participants) {
		f.finish(e, PresencePresent)
		logger.Debug("Role claimed before the bot answered")
		return
	}

	var unlock func(context.Context) error
	release := func() {}
	if f.locker != nil {
		var (
			ok   bool
			lerr error
		)
		unlock, ok, lerr = f.locker.TryLock(reqCtx, f.lockKey(e.key), f.cfg.LockTTL)
		if lerr != nil {
			logger.Warn("Bot lock failed", "err", lerr)
			return
		}
		if !ok {
			f.finish(e, PresenceUnknown)
			logger.Debug("Another client answers for the role")
			return
		}
		release = func() {
			if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
				logger.Warn("Failed to release bot lock (will expire via TTL)", "err", uerr)
			}
		}
	}

	opt, err := f.pick(e.key)
	if err != nil {
		release()
		f.finish(e, PresenceUnknown)
		logger.Warn("Bot has nothing to answer", "err", err)
		return
	}

	decision := domain.Decision{
		SessionID:      f.sessionID,
		UserID:         f.scope.UserID(),
		OptionID:       opt.ID,
		Text:           opt.Text,
		ElapsedSeconds: fresh.ElapsedSeconds,
		Role:           e.key.Role,
		Automatic:      true,
	}
	identity := fresh.Identity(f.sessionID)
	attempt := identity
	attempt.Revision = e.activation
	err = f.scope.Guard.Once("fallback:"+strconv.FormatInt(f.sessionID, 10), attempt, func() error {
		return f.scope.Authority.SubmitDecision(reqCtx, decision)
	})
	if err != nil {
		release()
		if errors.Is(err, domain.ErrStaleTurn) {
			f.finish(e, PresenceUnknown)
			f.mirror.Refresh()
		}
		logger.Warn("Bot decision rejected", "err", err)
		return
	}

	// The lock is kept until the dialogue leaves the node, so a client that re-checked
	// before this submit cannot answer too.
	f.finish(e, PresenceAbsent)
	f.mu.Lock()
	e.unlock = unlock
	f.mu.Unlock()
	f.scope.Metrics.DecisionSubmitted(true)
	f.scope.Emit(domain.EventDecisionSubmitted, identity, domain.DecisionSubmittedPayload{Decision: decision})
	logger.Info("Bot answered for absent role", "option_id", opt.ID)
	f.mirror.Refresh()
}

func (f *Fallback) lockKey(k pendingKey) string {
	return fmt.Sprintf("bot:%d:%d:%s", f.sessionID, k.NodeID, k.Role)
}

func (f *Fallback) pick(k pendingKey) (domain.ResponseOption, error) {
	node, ok := f.mirror.Graph().Node(k.NodeID)
	if !ok {
		return domain.ResponseOption{}, fmt.Errorf("%w: node %d not in graph", domain.ErrNotFound, k.NodeID)
	}
	if node.IsContinue() {
		return domain.ContinueOption(), nil
	}
	if len(node.Options) == 0 {
		return domain.ResponseOption{}, fmt.Errorf("%w: node %d has no options", domain.ErrValidation, k.NodeID)
	}
	return node.Options[f.rng.IntN(len(node.Options))], nil
}
