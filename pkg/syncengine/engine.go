package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/schedule"
	"github.com/aretw0/audiencia/pkg/session"
	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/conc"
)

// ErrAlreadyRunning is returned by Start on a running engine.
var ErrAlreadyRunning = errors.New("sync engine already running")

// Engine mirrors one session.
type Engine struct {
	scope     *session.Scope
	sessionID int64
	cfg       Config
	snapshots *session.Manager

	poll      *schedule.Task
	heartbeat *schedule.Task

	// mu guards the caches, epoch and lifecycle fields.
	mu                  sync.RWMutex
	sess                *domain.Session
	dialogue            *domain.DialogueState
	participants        []domain.Participant
	participantsFetched bool
	graph               *domain.DialogueGraph
	epoch               uint64
	revision            uint64
	running             bool
	cancel              context.CancelFunc
	done                chan struct{}

	failMu   sync.Mutex
	failures int
	lastErr  error

	obsMu     sync.Mutex
	observers map[int]func()
	nextObs   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the default timings.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithSnapshots mirrors the cache into a snapshot store on every change.
func WithSnapshots(m *session.Manager) Option {
	return func(e *Engine) {
		e.snapshots = m
	}
}

// WithGraph seeds the graph cache, e.g. with the graph validated during the join handshake.
func WithGraph(g *domain.DialogueGraph) Option {
	return func(e *Engine) {
		e.graph = g
	}
}

// New creates an engine for sessionID. It does nothing until Start.
func New(scope *session.Scope, sessionID int64, opts ...Option) *Engine {
	e := &Engine{
		scope:     scope,
		sessionID: sessionID,
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.poll = schedule.New("poll", e.cfg.PollInterval, e.Cycle,
		schedule.WithImmediateStart(),
		schedule.WithLogger(scope.Logger),
		schedule.WithSkipHook(func() { scope.Metrics.TickSkipped("poll") }),
	)
	e.heartbeat = schedule.New("heartbeat", e.cfg.HeartbeatInterval, e.Heartbeat,
		schedule.WithImmediateStart(),
		schedule.WithLogger(scope.Logger),
		schedule.WithSkipHook(func() { scope.Metrics.TickSkipped("heartbeat") }),
	)
	return e
}

// SessionID returns the mirrored session.
func (e *Engine) SessionID() int64 { return e.sessionID }

// Start launches the loops in the background.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	e.running = true
	e.epoch++
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	e.scope.Logger.Info("Sync engine started", "session_id", e.sessionID,
		"poll", e.cfg.PollInterval, "heartbeat", e.cfg.HeartbeatInterval)

	go func() {
		defer close(done)
		e.run(ctx)
	}()
	return nil
}

func (e *Engine) run(ctx context.Context) {
	var wg conc.WaitGroup
	wg.Go(func() { e.poll.Run(ctx) })
	wg.Go(func() { e.heartbeat.Run(ctx) })
	wg.Wait()
}

// Stop cancels both loops, waits for them, clears the caches and deletes the mirrored
// snapshot. It is safe to call on a stopped engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running || e.cancel == nil {
		e.mu.Unlock()
		return
	}
	// Bump the epoch first so anything still in flight is discarded.
	e.epoch++
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done

	e.mu.Lock()
	e.running = false
	e.cancel = nil
	e.sess = nil
	e.dialogue = nil
	e.participants = nil
	e.participantsFetched = false
	e.graph = nil
	e.mu.Unlock()
	e.resetFailures()

	if e.snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestTimeout)
		defer cancel()
		if err := e.snapshots.Delete(ctx, e.sessionID); err != nil {
			e.scope.Logger.Warn("Failed to delete snapshot", "session_id", e.sessionID, "err", err)
		}
	}
	e.scope.Logger.Info("Sync engine stopped", "session_id", e.sessionID)
}

// Refresh asks for an immediate poll cycle. Requests made while one is pending coalesce.
func (e *Engine) Refresh() {
	e.poll.Trigger()
}

// Running reports whether the loops are active.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Cycle runs one poll cycle. The poll task calls it; tests may call it directly.
func (e *Engine) Cycle(ctx context.Context) {
	if e.Failures() >= e.cfg.MaxRetries {
		if !e.reconnect(ctx) {
			return
		}
	}

	start := time.Now()
	epoch := e.currentEpoch()
	var errs *multierror.Error

	if err := e.syncDialogue(ctx, epoch); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := e.syncParticipants(ctx, epoch); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := e.syncSession(ctx, epoch); err != nil {
		errs = multierror.Append(errs, err)
	}

	e.scope.Metrics.ObserveCycle(time.Since(start))
	if err := errs.ErrorOrNil(); err != nil {
		if ctx.Err() == nil {
			e.scope.Logger.Debug("Poll cycle had failures", "session_id", e.sessionID, "err", err)
		}
	} else if epoch == e.currentEpoch() {
		e.notifyCycle()
	}

	if e.Failures() >= e.cfg.MaxRetries {
		e.reconnect(ctx)
	}
}

// OnCycle registers fn to run after every poll cycle in which all fetches succeeded,
// whether or not anything changed. fn runs on the polling goroutine. The returned func
// removes it.
func (e *Engine) OnCycle(fn func()) (remove func()) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	if e.observers == nil {
		e.observers = make(map[int]func())
	}
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	return func() {
		e.obsMu.Lock()
		delete(e.observers, id)
		e.obsMu.Unlock()
	}
}

func (e *Engine) notifyCycle() {
	e.obsMu.Lock()
	fns := make([]func(), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.obsMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Heartbeat sends one heartbeat. The heartbeat task calls it.
func (e *Engine) Heartbeat(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	err := e.scope.Authority.Heartbeat(callCtx, e.sessionID, e.scope.Client)
	e.scope.Metrics.ObserveRequest("Heartbeat", time.Since(start))
	if err != nil {
		e.scope.Metrics.Heartbeat(false)
		e.recordFailure(ctx, "heartbeat", err)
		return
	}
	e.scope.Metrics.Heartbeat(true)
}

func (e *Engine) syncDialogue(ctx context.Context, epoch uint64) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	start := time.Now()
	st, err := e.scope.Authority.DialogueState(callCtx, e.sessionID)
	cancel()
	e.scope.Metrics.ObserveRequest("DialogueState", time.Since(start))
	if err != nil {
		return e.recordFailure(ctx, "dialogue", err)
	}
	e.resetFailures()

	st.FetchedAt = time.Now()
	if err := st.Validate(); err != nil {
		e.scope.Logger.Warn("Dialogue state violates turn invariant", "session_id", e.sessionID, "err", err)
	}

	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return nil
	}
	old := e.dialogue
	diff := domain.DiffDialogue(old, st)
	e.dialogue = st
	needGraph := st.DialogueID != 0 && (e.graph == nil || e.graph.ID != st.DialogueID)
	e.mu.Unlock()

	// A failed graph fetch is retried next cycle; the state change is still announced.
	var graphErr error
	if needGraph {
		graphErr = e.loadGraph(ctx, epoch, st.DialogueID)
	}

	if diff != nil {
		e.scope.Logger.Info("Dialogue changed", "session_id", e.sessionID,
			"node", st.CurrentNodeID, "active", st.Active, "estado", st.Estado)
		e.publish(epoch, domain.EventDialogueChanged, st, domain.DialogueChangedPayload{State: st.Clone(), Diff: diff})
	}
	if old == nil || old.SpeakingRole != st.SpeakingRole {
		from := ""
		if old != nil {
			from = old.SpeakingRole
		}
		e.publish(epoch, domain.EventTurnChanged, st, domain.TurnChangedPayload{From: from, To: st.SpeakingRole})
	}
	if diff != nil {
		e.mirror(ctx)
	}
	return graphErr
}

func (e *Engine) loadGraph(ctx context.Context, epoch uint64, dialogueID int64) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	start := time.Now()
	g, err := e.scope.Authority.SessionDialogue(callCtx, e.sessionID)
	cancel()
	e.scope.Metrics.ObserveRequest("SessionDialogue", time.Since(start))
	if err != nil {
		return e.recordFailure(ctx, "graph", err)
	}
	if g.ID != dialogueID {
		e.scope.Logger.Warn("Graph id differs from dialogue state", "graph", g.ID, "dialogue", dialogueID)
	}

	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return nil
	}
	e.graph = g
	st := e.dialogue
	e.mu.Unlock()

	e.scope.Logger.Info("Dialogue loaded", "session_id", e.sessionID, "dialogue_id", g.ID, "nodes", len(g.Nodes))
	e.publish(epoch, domain.EventDialogueLoaded, st, domain.DialogueLoadedPayload{Graph: g})
	return nil
}

func (e *Engine) syncParticipants(ctx context.Context, epoch uint64) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	start := time.Now()
	ps, err := e.scope.Authority.Participants(callCtx, e.sessionID)
	cancel()
	e.scope.Metrics.ObserveRequest("Participants", time.Since(start))
	if err != nil {
		return e.recordFailure(ctx, "participants", err)
	}
	e.resetFailures()

	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return nil
	}
	changed := domain.DiffParticipants(e.participants, ps, !e.participantsFetched)
	e.participants = ps
	e.participantsFetched = true
	st := e.dialogue
	e.mu.Unlock()

	if changed {
		e.scope.Logger.Debug("Participants changed", "session_id", e.sessionID, "count", len(ps))
		e.publish(epoch, domain.EventParticipantsChanged, st, domain.ParticipantsChangedPayload{
			Participants: domain.CloneParticipants(ps),
		})
		e.mirror(ctx)
	}
	return nil
}

func (e *Engine) syncSession(ctx context.Context, epoch uint64) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	start := time.Now()
	s, err := e.scope.Authority.Session(callCtx, e.sessionID)
	cancel()
	e.scope.Metrics.ObserveRequest("Session", time.Since(start))
	if err != nil {
		return e.recordFailure(ctx, "session", err)
	}
	e.resetFailures()

	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return nil
	}
	diff := domain.DiffSession(e.sess, s)
	e.sess = s
	st := e.dialogue
	e.mu.Unlock()

	if diff != nil {
		e.scope.Logger.Info("Session changed", "session_id", e.sessionID, "state", s.State, "participants", s.ParticipantCount)
		e.publish(epoch, domain.EventSessionChanged, st, domain.SessionChangedPayload{Session: s.Clone(), Diff: diff})
		e.mirror(ctx)
	}
	return nil
}

// publish stamps a fresh revision and drops the event if the engine was stopped meanwhile.
func (e *Engine) publish(epoch uint64, t domain.EventType, st *domain.DialogueState, payload any) {
	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	e.revision++
	id := st.Identity(e.sessionID)
	id.Revision = e.revision
	e.mu.Unlock()

	e.scope.Emit(t, id, payload)
}

func (e *Engine) mirror(ctx context.Context) {
	if e.snapshots == nil {
		return
	}
	snap := e.Snapshot()
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	if err := e.snapshots.Save(callCtx, e.sessionID, snap); err != nil && ctx.Err() == nil {
		e.scope.Logger.Warn("Failed to mirror snapshot", "session_id", e.sessionID, "err", err)
	}
}

// recordFailure counts a failed call and publishes SyncError. Failures caused by our own
// cancellation are not counted.
func (e *Engine) recordFailure(ctx context.Context, entity string, err error) error {
	err = domain.Classify(entity, err)
	if ctx.Err() != nil {
		return err
	}

	e.failMu.Lock()
	e.failures++
	n := e.failures
	e.lastErr = err
	e.failMu.Unlock()

	e.scope.Metrics.FetchFailed(entity)
	e.scope.Logger.Warn("Sync failure", "session_id", e.sessionID, "entity", entity, "failures", n, "err", err)
	e.scope.Emit(domain.EventSyncError, domain.Identity{SessionID: e.sessionID}, domain.SyncErrorPayload{
		Op:       entity,
		Error:    err.Error(),
		Failures: n,
		Err:      err,
	})
	return fmt.Errorf("sync %s: %w", entity, err)
}

func (e *Engine) resetFailures() {
	e.failMu.Lock()
	e.failures = 0
	e.lastErr = nil
	e.failMu.Unlock()
}

// Failures returns the current consecutive failure count.
func (e *Engine) Failures() int {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	return e.failures
}

// reconnect waits ReconnectDelay and resets the counter. It returns false if ctx ended first.
func (e *Engine) reconnect(ctx context.Context) bool {
	e.failMu.Lock()
	n, last := e.failures, e.lastErr
	e.failMu.Unlock()

	msg := ""
	if last != nil {
		msg = last.Error()
	}
	e.scope.Metrics.Reconnected()
	e.scope.Logger.Warn("Connection lost, reconnecting", "session_id", e.sessionID, "failures", n, "delay", e.cfg.ReconnectDelay)
	e.scope.Emit(domain.EventReconnecting, domain.Identity{SessionID: e.sessionID}, domain.SyncErrorPayload{
		Op:       "reconnect",
		Error:    msg,
		Failures: n,
		Err:      last,
	})

	timer := time.NewTimer(e.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	e.resetFailures()
	e.scope.Logger.Info("Reconnected", "session_id", e.sessionID)
	e.scope.Emit(domain.EventReconnected, domain.Identity{SessionID: e.sessionID}, nil)
	return true
}

func (e *Engine) currentEpoch() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epoch
}

// Session returns a copy of the cached session metadata.
func (e *Engine) Session() *domain.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sess.Clone()
}

// Dialogue returns a copy of the cached dialogue state.
func (e *Engine) Dialogue() *domain.DialogueState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dialogue.Clone()
}

// Participants returns a copy of the cached roster.
func (e *Engine) Participants() []domain.Participant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return domain.CloneParticipants(e.participants)
}

// Graph returns the cached dialogue graph. Graphs are immutable.
func (e *Engine) Graph() *domain.DialogueGraph {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graph
}

// Snapshot bundles the caches.
func (e *Engine) Snapshot() *domain.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &domain.Snapshot{
		SessionID:    e.sessionID,
		Session:      e.sess.Clone(),
		Dialogue:     e.dialogue.Clone(),
		Participants: domain.CloneParticipants(e.participants),
		Graph:        e.graph,
		UpdatedAt:    time.Now().UTC(),
	}
}
