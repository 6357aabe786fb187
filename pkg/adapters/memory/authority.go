package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/audiencia/pkg/domain"
)

// Estado labels used by the in-process authority.
const (
	EstadoEnCurso    = "en_curso"
	EstadoFinalizado = "finalizado"
)

type sessionRecord struct {
	session     *domain.Session
	graph       *domain.DialogueGraph
	state       *domain.DialogueState
	assignments map[int64]*domain.RoleAssignment
	decisions   []domain.Decision
	heartbeats  map[int64]domain.ClientMeta
	startedAt   time.Time
	visited     map[int64]bool
}

// Authority is an in-process ports.AuthorityClient that enforces the server-side turn rules:
// only the turn holder (or a bot speaking for the role) may decide, options must belong to the
// current node, and a node without successor ends the dialogue.
// Safe for concurrent use.
type Authority struct {
	mu       sync.Mutex
	sessions map[int64]*sessionRecord
	calls    map[string]int
	failures map[string][]error
	now      func() time.Time
}

// NewAuthority creates an empty authority.
func NewAuthority() *Authority {
	return &Authority{
		sessions: make(map[int64]*sessionRecord),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
		now:      time.Now,
	}
}

// NewAuthorityFromScenario creates an authority seeded with sc.
func NewAuthorityFromScenario(sc *Scenario) (*Authority, error) {
	a := NewAuthority()
	for _, fx := range sc.Sessions {
		if err := a.AddSession(fx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// AddSession registers a fixture.
func (a *Authority) AddSession(fx SessionFixture) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.sessions[fx.Session.ID]; ok {
		return fmt.Errorf("%w: duplicate session %d", domain.ErrValidation, fx.Session.ID)
	}

	rec := &sessionRecord{
		session:     fx.Session.Clone(),
		graph:       fx.Dialogue,
		assignments: make(map[int64]*domain.RoleAssignment),
		heartbeats:  make(map[int64]domain.ClientMeta),
		visited:     make(map[int64]bool),
		startedAt:   a.now(),
	}
	for i := range fx.Assignments {
		as := fx.Assignments[i]
		as.SessionID = fx.Session.ID
		rec.assignments[as.UserID] = &as
	}

	rec.state = &domain.DialogueState{
		Participants: domain.CloneParticipants(fx.Participants),
	}
	if fx.Dialogue != nil {
		rec.state.DialogueID = fx.Dialogue.ID
	}
	if fx.Active && fx.Dialogue != nil {
		start := fx.StartNodeID
		if start == 0 && len(fx.Dialogue.Nodes) > 0 {
			start = fx.Dialogue.Nodes[0].ID
		}
		rec.state.Active = true
		rec.state.Estado = EstadoEnCurso
		rec.moveTo(start)
	}
	rec.session.ParticipantCount = len(rec.state.Participants)

	a.sessions[fx.Session.ID] = rec
	return nil
}

// FailNext makes the next call of op return err. Ops are the method names, e.g. "DialogueState".
func (a *Authority) FailNext(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[op] = append(a.failures[op], err)
}

// Calls returns how many times op was invoked.
func (a *Authority) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

// Decisions returns the decisions accepted for a session.
func (a *Authority) Decisions(sessionID int64) []domain.Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]domain.Decision, len(rec.decisions))
	copy(out, rec.decisions)
	return out
}

// Heartbeats returns the last heartbeat metadata per user.
func (a *Authority) Heartbeats(sessionID int64) map[int64]domain.ClientMeta {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make(map[int64]domain.ClientMeta, len(rec.heartbeats))
	for k, v := range rec.heartbeats {
		out[k] = v
	}
	return out
}

// SetConnected flips the connected flag of a participant.
func (a *Authority) SetConnected(sessionID, userID int64, connected bool) {
	a.mutate(sessionID, func(rec *sessionRecord) {
		for i := range rec.state.Participants {
			if rec.state.Participants[i].UserID == userID {
				rec.state.Participants[i].Connected = connected
			}
		}
	})
}

// SetTurn sets the turn flag of one participant without moving the dialogue.
func (a *Authority) SetTurn(sessionID, userID int64, turn bool) {
	a.mutate(sessionID, func(rec *sessionRecord) {
		for i := range rec.state.Participants {
			if rec.state.Participants[i].UserID == userID {
				rec.state.Participants[i].Turn = turn
			}
		}
	})
}

// Join adds a participant to the roster.
func (a *Authority) Join(sessionID int64, p domain.Participant) {
	a.mutate(sessionID, func(rec *sessionRecord) {
		rec.state.Participants = append(rec.state.Participants, p)
		rec.session.ParticipantCount = len(rec.state.Participants)
		if rec.state.Active && p.Role == rec.state.SpeakingRole && len(rec.state.TurnHolders(p.Role)) == 0 {
			rec.state.Participants[len(rec.state.Participants)-1].Turn = true
		}
	})
}

// SetActive starts or stops the dialogue without touching the current node.
func (a *Authority) SetActive(sessionID int64, active bool) {
	a.mutate(sessionID, func(rec *sessionRecord) {
		rec.state.Active = active
		if !active {
			rec.clearTurns()
			return
		}
		rec.state.Estado = EstadoEnCurso
		switch {
		case rec.state.CurrentNodeID != 0:
			rec.moveTo(rec.state.CurrentNodeID)
		case rec.graph != nil && len(rec.graph.Nodes) > 0:
			rec.moveTo(rec.graph.Nodes[0].ID)
		}
	})
}

// EndSession marks the session as ended and stops its dialogue.
func (a *Authority) EndSession(sessionID int64) {
	a.mutate(sessionID, func(rec *sessionRecord) {
		rec.session.State = domain.SessionEnded
		rec.state.Active = false
		rec.state.Estado = EstadoFinalizado
		rec.clearTurns()
	})
}

func (a *Authority) mutate(sessionID int64, fn func(rec *sessionRecord)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec, ok := a.sessions[sessionID]; ok {
		fn(rec)
	}
}

// begin records the call and pops an injected failure. Callers hold a.mu.
func (a *Authority) begin(ctx context.Context, op string) error {
	a.calls[op]++
	if err := ctx.Err(); err != nil {
		return domain.Transient(op, err)
	}
	if queue := a.failures[op]; len(queue) > 0 {
		a.failures[op] = queue[1:]
		return queue[0]
	}
	return nil
}

func (a *Authority) record(sessionID int64) (*sessionRecord, error) {
	rec, ok := a.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %d", domain.ErrNotFound, sessionID)
	}
	return rec, nil
}

// ActiveSession returns the first non-ended session the user is assigned to.
func (a *Authority) ActiveSession(ctx context.Context, userID int64) (*domain.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "ActiveSession"); err != nil {
		return nil, err
	}
	var found *domain.Session
	for _, rec := range a.sessions {
		if rec.session.State == domain.SessionEnded {
			continue
		}
		if _, ok := rec.assignments[userID]; !ok {
			continue
		}
		if found == nil || rec.session.ID < found.ID {
			found = rec.session
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no active session for user %d", domain.ErrNotFound, userID)
	}
	return found.Clone(), nil
}

// SessionByCode resolves a join code, case-insensitively.
func (a *Authority) SessionByCode(ctx context.Context, code string) (*domain.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "SessionByCode"); err != nil {
		return nil, err
	}
	for _, rec := range a.sessions {
		if strings.EqualFold(rec.session.Code, code) {
			return rec.session.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: session code %q", domain.ErrNotFound, code)
}

func (a *Authority) Session(ctx context.Context, sessionID int64) (*domain.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "Session"); err != nil {
		return nil, err
	}
	rec, err := a.record(sessionID)
	if err != nil {
		return nil, err
	}
	return rec.session.Clone(), nil
}

func (a *Authority) RoleAssignment(ctx context.Context, sessionID, userID int64) (*domain.RoleAssignment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "RoleAssignment"); err != nil {
		return nil, err
	}
	rec, err := a.record(sessionID)
	if err != nil {
		return nil, err
	}
	as, ok := rec.assignments[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %d in session %d", domain.ErrNoRoleForUser, userID, sessionID)
	}
	c := *as
	return &c, nil
}

func (a *Authority) SessionDialogue(ctx context.Context, sessionID int64) (*domain.DialogueGraph, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "SessionDialogue"); err != nil {
		return nil, err
	}
	rec, err := a.record(sessionID)
	if err != nil {
		return nil, err
	}
	if rec.graph == nil {
		return nil, fmt.Errorf("%w: session %d has no dialogue", domain.ErrNotFound, sessionID)
	}
	return rec.graph, nil
}

func (a *Authority) DialogueState(ctx context.Context, sessionID int64) (*domain.DialogueState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "DialogueState"); err != nil {
		return nil, err
	}
	rec, err := a.record(sessionID)
	if err != nil {
		return nil, err
	}
	st := rec.state.Clone()
	if st.Active {
		st.ElapsedSeconds = int(a.now().Sub(rec.startedAt).Seconds())
	}
	return st, nil
}

func (a *Authority) Participants(ctx context.Context, sessionID int64) ([]domain.Participant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "Participants"); err != nil {
		return nil, err
	}
	rec, err := a.record(sessionID)
	if err != nil {
		return nil, err
	}
	return domain.CloneParticipants(rec.state.Participants), nil
}

// UserResponses returns the options of the current node when it belongs to the user's role.
func (a *Authority) UserResponses(ctx context.Context, sessionID, userID int64) ([]domain.ResponseOption, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "UserResponses"); err != nil {
		return nil, err
	}
	rec, err := a.record(sessionID)
	if err != nil {
		return nil, err
	}
	node, ok := rec.currentNode()
	if !ok || node.Type != domain.NodeDecision {
		return []domain.ResponseOption{}, nil
	}
	if p, ok := rec.state.Participant(userID); !ok || p.Role != node.Role {
		return []domain.ResponseOption{}, nil
	}
	out := make([]domain.ResponseOption, len(node.Options))
	copy(out, node.Options)
	return out, nil
}

// SubmitDecision applies a decision and advances the script.
func (a *Authority) SubmitDecision(ctx context.Context, d domain.Decision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "SubmitDecision"); err != nil {
		return err
	}
	rec, err := a.record(d.SessionID)
	if err != nil {
		return err
	}
	if !rec.state.Active {
		return fmt.Errorf("%w: dialogue is not active", domain.ErrStaleTurn)
	}
	node, ok := rec.currentNode()
	if !ok {
		return fmt.Errorf("%w: no current node", domain.ErrStaleTurn)
	}

	if d.Automatic {
		if d.Role != rec.state.SpeakingRole {
			return fmt.Errorf("%w: role %q is not speaking", domain.ErrStaleTurn, d.Role)
		}
		for _, p := range rec.state.Participants {
			if p.Role == d.Role && p.Connected {
				return fmt.Errorf("%w: role %q is played by user %d", domain.ErrStaleTurn, d.Role, p.UserID)
			}
		}
	} else {
		p, ok := rec.state.Participant(d.UserID)
		if !ok || !p.Turn {
			return fmt.Errorf("%w: user %d", domain.ErrStaleTurn, d.UserID)
		}
	}

	next := node.NextNodeID
	if node.Type == domain.NodeDecision {
		opt, ok := findOption(node.Options, d.OptionID)
		if !ok {
			return fmt.Errorf("%w: option %d not offered on node %d", domain.ErrValidation, d.OptionID, node.ID)
		}
		if opt.NextNodeID != 0 {
			next = opt.NextNodeID
		}
	} else if !d.IsContinue() {
		return fmt.Errorf("%w: node %d only accepts continue", domain.ErrValidation, node.ID)
	}

	rec.decisions = append(rec.decisions, d)
	if next == 0 {
		rec.state.Active = false
		rec.state.Estado = EstadoFinalizado
		rec.state.Progress = 1
		rec.clearTurns()
		return nil
	}
	rec.moveTo(next)
	return nil
}

func (a *Authority) ConfirmRole(ctx context.Context, sessionID, assignmentID int64) (*domain.RoleAssignment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "ConfirmRole"); err != nil {
		return nil, err
	}
	rec, err := a.record(sessionID)
	if err != nil {
		return nil, err
	}
	for _, as := range rec.assignments {
		if as.ID != assignmentID {
			continue
		}
		if as.Confirmed {
			return nil, fmt.Errorf("%w: assignment %d", domain.ErrAlreadyConfirmed, assignmentID)
		}
		as.Confirmed = true
		c := *as
		return &c, nil
	}
	return nil, fmt.Errorf("%w: assignment %d", domain.ErrNotFound, assignmentID)
}

// Heartbeat marks the user as connected.
func (a *Authority) Heartbeat(ctx context.Context, sessionID int64, meta domain.ClientMeta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.begin(ctx, "Heartbeat"); err != nil {
		return err
	}
	rec, err := a.record(sessionID)
	if err != nil {
		return err
	}
	rec.heartbeats[meta.UserID] = meta
	for i := range rec.state.Participants {
		if rec.state.Participants[i].UserID == meta.UserID {
			rec.state.Participants[i].Connected = true
		}
	}
	return nil
}

func (r *sessionRecord) currentNode() (*domain.DialogueNode, bool) {
	return r.graph.Node(r.state.CurrentNodeID)
}

// moveTo makes id the current node and hands the turn to the first participant of its role.
func (r *sessionRecord) moveTo(id int64) {
	r.state.CurrentNodeID = id
	r.visited[id] = true
	r.clearTurns()

	node, ok := r.graph.Node(id)
	if !ok {
		return
	}
	r.state.SpeakingRole = node.Role
	for i := range r.state.Participants {
		if r.state.Participants[i].Role == node.Role {
			r.state.Participants[i].Turn = true
			break
		}
	}
	if n := len(r.graph.Nodes); n > 0 {
		r.state.Progress = float64(len(r.visited)) / float64(n)
	}
}

func (r *sessionRecord) clearTurns() {
	for i := range r.state.Participants {
		r.state.Participants[i].Turn = false
	}
}

func findOption(opts []domain.ResponseOption, id int64) (domain.ResponseOption, bool) {
	for _, o := range opts {
		if o.ID == id {
			return o, true
		}
	}
	return domain.ResponseOption{}, false
}
