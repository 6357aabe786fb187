package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/session"
)

// Machine tracks the local participant's turn in one session.
type Machine struct {
	scope     *session.Scope
	sessionID int64
	role      string
	mirror    Mirror
	timeout   time.Duration
	presenter func(Status)

	mu              sync.Mutex
	ctx             context.Context
	state           State
	dialogue        *domain.DialogueState
	roster          []domain.Participant
	node            *domain.DialogueNode
	nodeType        domain.NodeType
	options         []domain.ResponseOption
	selected        int
	awaitingRefresh bool
	subs            []string
	unobserve       func()
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithPresenter is called with the new status after every transition.
// It runs on the goroutine that caused the transition and must not block.
func WithPresenter(fn func(Status)) MachineOption {
	return func(m *Machine) {
		m.presenter = fn
	}
}

// WithMachineTimeout bounds each authority request made by the machine.
func WithMachineTimeout(d time.Duration) MachineOption {
	return func(m *Machine) {
		m.timeout = d
	}
}

// NewMachine creates the machine of the local user playing role in sessionID.
func NewMachine(scope *session.Scope, sessionID int64, role string, mirror Mirror, opts ...MachineOption) *Machine {
	m := &Machine{
		scope:     scope,
		sessionID: sessionID,
		role:      role,
		mirror:    mirror,
		timeout:   5 * time.Second,
		ctx:       context.Background(),
		state:     StateInactive,
		selected:  -1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) guardKey(kind string) string {
	return "machine:" + strconv.FormatInt(m.sessionID, 10) + ":" + kind
}

// Attach subscribes the machine to the scope bus. ctx bounds the requests made from handlers.
func (m *Machine) Attach(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subs) > 0 {
		return
	}
	m.ctx = ctx
	bus, guard := m.scope.Bus, m.scope.Guard
	m.subs = append(m.subs,
		bus.Subscribe(domain.EventDialogueChanged, guard.Wrap(m.guardKey("dialogue"), m.HandleDialogue)),
		bus.Subscribe(domain.EventParticipantsChanged, guard.Wrap(m.guardKey("participants"), m.HandleParticipants)),
	)
	if obs, ok := m.mirror.(CycleObserver); ok {
		m.unobserve = obs.OnCycle(m.HandleCycle)
	}
}

// Detach unsubscribes the machine and forgets its dedup state.
func (m *Machine) Detach() {
	m.mu.Lock()
	subs, unobserve := m.subs, m.unobserve
	m.subs, m.unobserve = nil, nil
	m.mu.Unlock()

	if unobserve != nil {
		unobserve()
	}
	for _, id := range subs {
		m.scope.Bus.Unsubscribe(id)
	}
	for _, kind := range []string{"dialogue", "participants", "present"} {
		m.scope.Guard.Forget(m.guardKey(kind))
	}
}

// HandleDialogue consumes a DialogueChanged event.
func (m *Machine) HandleDialogue(ev domain.Event) error {
	p, ok := ev.Payload.(domain.DialogueChangedPayload)
	if !ok || p.State == nil {
		return fmt.Errorf("%w: unexpected payload %T", domain.ErrValidation, ev.Payload)
	}
	m.mu.Lock()
	m.dialogue = p.State.Clone()
	m.roster = domain.CloneParticipants(p.State.Participants)
	m.awaitingRefresh = false
	m.mu.Unlock()
	return m.evaluate()
}

// HandleParticipants consumes a ParticipantsChanged event.
func (m *Machine) HandleParticipants(ev domain.Event) error {
	p, ok := ev.Payload.(domain.ParticipantsChangedPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload %T", domain.ErrValidation, ev.Payload)
	}
	m.mu.Lock()
	m.roster = domain.CloneParticipants(p.Participants)
	if m.dialogue == nil {
		m.dialogue = m.mirror.Dialogue()
	}
	m.awaitingRefresh = false
	m.mu.Unlock()
	return m.evaluate()
}

// HandleCycle runs after a poll cycle completed. A stale-turn block is lifted here from
// the mirrored state, so it does not outlive a poll that observed no change.
func (m *Machine) HandleCycle() {
	m.mu.Lock()
	if !m.awaitingRefresh {
		m.mu.Unlock()
		return
	}
	if st := m.mirror.Dialogue(); st != nil {
		m.dialogue = st
		m.roster = st.Participants
		if ps := m.mirror.Participants(); len(ps) > 0 {
			m.roster = ps
		}
	}
	m.awaitingRefresh = false
	m.mu.Unlock()

	if err := m.evaluate(); err != nil {
		m.scope.Logger.Warn("Re-evaluating turn failed", "session_id", m.sessionID, "err", err)
	}
}

func (m *Machine) evaluate() error {
	m.mu.Lock()
	st := m.dialogue
	if st == nil || !st.Active {
		m.toInactiveLocked()
		m.mu.Unlock()
		m.scope.Guard.Forget(m.guardKey("present"))
		m.notify()
		return nil
	}

	me, found := findParticipant(m.roster, m.scope.UserID())
	if !found || !me.Turn {
		m.toWaitingLocked()
		m.mu.Unlock()
		m.scope.Guard.Forget(m.guardKey("present"))
		m.notify()
		return nil
	}

	if holders := turnHolders(m.roster, me.Role); holders > 1 {
		m.toWaitingLocked()
		m.mu.Unlock()
		m.scope.Logger.Warn("Refusing turn held by several users",
			"session_id", m.sessionID, "role", me.Role, "holders", holders)
		m.notify()
		return nil
	}

	identity := st.Identity(m.sessionID)
	nodeID := st.CurrentNodeID
	ctx := m.ctx
	m.mu.Unlock()

	return m.scope.Guard.Once(m.guardKey("present"), identity, func() error {
		return m.present(ctx, nodeID)
	})
}

func (m *Machine) present(ctx context.Context, nodeID int64) error {
	node, known := m.mirror.Graph().Node(nodeID)

	var options []domain.ResponseOption
	nodeType := domain.NodeDecision
	if known {
		nodeType = node.Type
	}
	if known && node.IsContinue() {
		options = []domain.ResponseOption{domain.ContinueOption()}
	} else {
		reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
		opts, err := m.scope.Authority.UserResponses(reqCtx, m.sessionID, m.scope.UserID())
		cancel()
		if err != nil {
			return domain.Classify("user responses", err)
		}
		options = opts
		if !known && len(options) == 0 {
			nodeType = domain.NodeAutomatic
			options = []domain.ResponseOption{domain.ContinueOption()}
		}
	}

	m.mu.Lock()
	if m.dialogue == nil || m.dialogue.CurrentNodeID != nodeID {
		m.mu.Unlock()
		return nil
	}
	if known {
		n := *node
		n.Options = append([]domain.ResponseOption(nil), node.Options...)
		m.node = &n
	} else {
		m.node = nil
	}
	m.nodeType = nodeType
	m.options = options
	m.selected = -1
	if nodeType != domain.NodeDecision && len(options) == 1 {
		m.selected = 0
	}
	m.state = StateMyTurn
	m.mu.Unlock()

	m.scope.Logger.Info("Turn presented",
		"session_id", m.sessionID, "node_id", nodeID, "node_type", nodeType, "options", len(options))
	m.notify()
	return nil
}

func (m *Machine) toInactiveLocked() {
	m.state = StateInactive
	m.clearTurnLocked()
}

func (m *Machine) toWaitingLocked() {
	if m.state == StateSubmitted {
		return
	}
	m.state = StateWaitingTurn
	m.clearTurnLocked()
}

func (m *Machine) clearTurnLocked() {
	m.node = nil
	m.nodeType = ""
	m.options = nil
	m.selected = -1
}

// Select picks the option at index.
func (m *Machine) Select(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateMyTurn {
		return domain.ErrNotYourTurn
	}
	if index < 0 || index >= len(m.options) {
		return fmt.Errorf("%w: %d of %d", domain.ErrSelectionOutOfRange, index, len(m.options))
	}
	m.selected = index
	return nil
}

// Submit sends the selected option after re-checking the turn with the authority.
// A rejected turn returns domain.ErrStaleTurn, requests a refresh and blocks further
// submissions until the next snapshot.
func (m *Machine) Submit(ctx context.Context) error {
	m.mu.Lock()
	if m.awaitingRefresh {
		m.mu.Unlock()
		return domain.ErrAwaitingRefresh
	}
	if m.state != StateMyTurn {
		m.mu.Unlock()
		return domain.ErrNotYourTurn
	}
	if m.selected < 0 || m.selected >= len(m.options) {
		m.mu.Unlock()
		return domain.ErrNoSelection
	}
	opt := m.options[m.selected]
	nodeID := m.dialogue.CurrentNodeID
	identity := m.dialogue.Identity(m.sessionID)
	m.state = StateSubmitted
	m.mu.Unlock()
	m.notify()

	return m.submit(ctx, opt, nodeID, identity)
}

// Advance sends the continue sentinel on an Automatic or Final node.
// Only the owner of the speaking role may advance.
func (m *Machine) Advance(ctx context.Context) error {
	m.mu.Lock()
	if m.awaitingRefresh {
		m.mu.Unlock()
		return domain.ErrAwaitingRefresh
	}
	if m.state != StateMyTurn {
		m.mu.Unlock()
		return domain.ErrNotYourTurn
	}
	if m.nodeType == domain.NodeDecision {
		m.mu.Unlock()
		return fmt.Errorf("%w: node %d expects a decision", domain.ErrValidation, m.dialogue.CurrentNodeID)
	}
	if m.dialogue.SpeakingRole != m.role {
		m.mu.Unlock()
		return domain.ErrNotSpeakingRole
	}
	nodeID := m.dialogue.CurrentNodeID
	identity := m.dialogue.Identity(m.sessionID)
	m.state = StateSubmitted
	m.mu.Unlock()
	m.notify()

	return m.submit(ctx, domain.ContinueOption(), nodeID, identity)
}

func (m *Machine) submit(ctx context.Context, opt domain.ResponseOption, nodeID int64, identity domain.Identity) error {
	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	fresh, err := m.scope.Authority.DialogueState(reqCtx, m.sessionID)
	if err != nil {
		m.restoreTurn()
		return domain.Classify("turn check", err)
	}
	me, _ := fresh.Participant(m.scope.UserID())
	if !fresh.Active || fresh.CurrentNodeID != nodeID || !me.Turn {
		return m.stale(fmt.Errorf("%w: node %d", domain.ErrStaleTurn, nodeID))
	}

	decision := domain.Decision{
		SessionID:      m.sessionID,
		UserID:         m.scope.UserID(),
		OptionID:       opt.ID,
		Text:           opt.Text,
		ElapsedSeconds: fresh.ElapsedSeconds,
	}
	if err := m.scope.Authority.SubmitDecision(reqCtx, decision); err != nil {
		if errors.Is(err, domain.ErrStaleTurn) {
			return m.stale(err)
		}
		m.restoreTurn()
		return domain.Classify("submit decision", err)
	}

	m.mu.Lock()
	m.state = StateWaitingTurn
	m.clearTurnLocked()
	m.mu.Unlock()

	m.scope.Metrics.DecisionSubmitted(false)
	m.scope.Emit(domain.EventDecisionSubmitted, identity, domain.DecisionSubmittedPayload{Decision: decision})
	m.scope.Logger.Info("Decision submitted",
		"session_id", m.sessionID, "node_id", nodeID, "option_id", opt.ID)
	m.notify()
	m.mirror.Refresh()
	return nil
}

func (m *Machine) stale(err error) error {
	m.mu.Lock()
	m.state = StateWaitingTurn
	m.clearTurnLocked()
	m.awaitingRefresh = true
	m.mu.Unlock()
	// The turn may come back on the same node; it must be presented again.
	m.scope.Guard.Forget(m.guardKey("present"))

	m.scope.Metrics.StaleTurn()
	m.scope.Logger.Warn("Stale turn, waiting for a fresh snapshot", "session_id", m.sessionID, "err", err)
	m.notify()
	m.mirror.Refresh()
	return err
}

func (m *Machine) restoreTurn() {
	m.mu.Lock()
	if m.state == StateSubmitted {
		m.state = StateMyTurn
	}
	m.mu.Unlock()
	m.notify()
}

// Status returns a copy of the current state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Machine) statusLocked() Status {
	s := Status{
		State:           m.state,
		SessionID:       m.sessionID,
		UserID:          m.scope.UserID(),
		Role:            m.role,
		NodeType:        m.nodeType,
		Options:         append([]domain.ResponseOption(nil), m.options...),
		Selected:        m.selected,
		AwaitingRefresh: m.awaitingRefresh,
	}
	if m.node != nil {
		n := *m.node
		n.Options = append([]domain.ResponseOption(nil), m.node.Options...)
		s.Node = &n
	}
	if st := m.dialogue; st != nil {
		s.Identity = st.Identity(m.sessionID)
		s.SpeakingRole = st.SpeakingRole
		s.Estado = st.Estado
		s.Progress = st.Progress
		s.ElapsedSeconds = st.ElapsedSeconds
	} else {
		s.Identity = domain.Identity{SessionID: m.sessionID}
	}
	return s
}

func (m *Machine) notify() {
	if m.presenter == nil {
		return
	}
	m.presenter(m.Status())
}

func findParticipant(ps []domain.Participant, userID int64) (domain.Participant, bool) {
	for _, p := range ps {
		if p.UserID == userID {
			return p, true
		}
	}
	return domain.Participant{}, false
}

func turnHolders(ps []domain.Participant, role string) int {
	n := 0
	for _, p := range ps {
		if p.Role == role && p.Turn {
			n++
		}
	}
	return n
}
