package dialogue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/audiencia/pkg/adapters/memory"
	"github.com/aretw0/audiencia/pkg/dialogue"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/session"
	"github.com/aretw0/audiencia/pkg/syncengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func courtroom(t *testing.T) *memory.Authority {
	t.Helper()
	sc, err := memory.DefaultScenario()
	require.NoError(t, err)
	auth, err := memory.NewAuthorityFromScenario(sc)
	require.NoError(t, err)
	return auth
}

type machineFixture struct {
	auth     *memory.Authority
	scope    *session.Scope
	engine   *syncengine.Engine
	machine  *dialogue.Machine
	statuses *statusLog
}

type statusLog struct {
	mu  sync.Mutex
	all []dialogue.Status
}

func (l *statusLog) add(s dialogue.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, s)
}

func (l *statusLog) count(state dialogue.State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.all {
		if s.State == state {
			n++
		}
	}
	return n
}

func newMachine(t *testing.T, auth *memory.Authority, userID int64, role string) *machineFixture {
	t.Helper()
	scope := session.NewScope(auth, userID)
	engine := syncengine.New(scope, 7)
	log := &statusLog{}
	m := dialogue.NewMachine(scope, 7, role, engine, dialogue.WithPresenter(log.add))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		m.Detach()
		cancel()
	})
	m.Attach(ctx)
	return &machineFixture{auth: auth, scope: scope, engine: engine, machine: m, statuses: log}
}

func (f *machineFixture) cycle() {
	f.engine.Cycle(context.Background())
}

func TestMachine_DecisionTurn(t *testing.T) {
	f := newMachine(t, courtroom(t), 3, "Fiscal")
	assert.Equal(t, dialogue.StateInactive, f.machine.Status().State)

	f.cycle()

	st := f.machine.Status()
	require.Equal(t, dialogue.StateMyTurn, st.State)
	assert.Equal(t, domain.NodeDecision, st.NodeType)
	assert.Equal(t, int64(12), st.Identity.NodeID)
	require.Len(t, st.Options, 2)
	assert.Equal(t, int64(1), st.Options[0].ID)
	assert.Equal(t, "Objeción", st.Options[0].Label)
	assert.Equal(t, int64(2), st.Options[1].ID)
	assert.Equal(t, "Continuar", st.Options[1].Label)
	assert.Equal(t, -1, st.Selected)
	assert.False(t, st.CanAdvance())

	ctx := context.Background()
	assert.ErrorIs(t, f.machine.Submit(ctx), domain.ErrNoSelection)
	assert.ErrorIs(t, f.machine.Select(2), domain.ErrSelectionOutOfRange)
	assert.ErrorIs(t, f.machine.Select(-1), domain.ErrSelectionOutOfRange)
	require.NoError(t, f.machine.Select(0))
	require.NoError(t, f.machine.Submit(ctx))

	st = f.machine.Status()
	assert.Equal(t, dialogue.StateWaitingTurn, st.State)
	assert.Empty(t, st.Options)
	assert.Equal(t, -1, st.Selected)

	decisions := f.auth.Decisions(7)
	require.Len(t, decisions, 1)
	assert.Equal(t, int64(7), decisions[0].SessionID)
	assert.Equal(t, int64(3), decisions[0].UserID)
	assert.Equal(t, int64(1), decisions[0].OptionID)
	assert.Equal(t, "Objeción", decisions[0].Text)
	assert.False(t, decisions[0].Automatic)

	f.cycle()
	assert.Equal(t, dialogue.StateWaitingTurn, f.machine.Status().State)
	assert.Equal(t, int64(13), f.machine.Status().Identity.NodeID)
}

func TestMachine_PresentsOncePerNode(t *testing.T) {
	f := newMachine(t, courtroom(t), 3, "Fiscal")
	f.cycle()
	require.Equal(t, 1, f.statuses.count(dialogue.StateMyTurn))

	// A roster change that keeps the turn does not present it again.
	f.auth.Join(7, domain.Participant{UserID: 8, Name: "Carla", Role: "Juez", Connected: true})
	f.cycle()
	assert.Equal(t, 1, f.statuses.count(dialogue.StateMyTurn))
	assert.Equal(t, 1, f.auth.Calls("UserResponses"))

	// Losing and regaining the turn on the same node presents it again.
	f.auth.SetTurn(7, 3, false)
	f.cycle()
	assert.Equal(t, dialogue.StateWaitingTurn, f.machine.Status().State)
	f.auth.SetTurn(7, 3, true)
	f.cycle()
	assert.Equal(t, dialogue.StateMyTurn, f.machine.Status().State)
	assert.Equal(t, 2, f.statuses.count(dialogue.StateMyTurn))
}

func TestMachine_StaleTurnBlocksUntilRefresh(t *testing.T) {
	f := newMachine(t, courtroom(t), 3, "Fiscal")
	f.cycle()
	require.NoError(t, f.machine.Select(1))

	f.auth.SetTurn(7, 3, false)
	err := f.machine.Submit(context.Background())
	require.ErrorIs(t, err, domain.ErrStaleTurn)
	assert.Empty(t, f.auth.Decisions(7))

	st := f.machine.Status()
	assert.Equal(t, dialogue.StateWaitingTurn, st.State)
	assert.True(t, st.AwaitingRefresh)
	assert.ErrorIs(t, f.machine.Submit(context.Background()), domain.ErrAwaitingRefresh)

	f.cycle()
	assert.False(t, f.machine.Status().AwaitingRefresh)
	assert.Equal(t, dialogue.StateWaitingTurn, f.machine.Status().State)
}

func TestMachine_StaleRejectionFromAuthority(t *testing.T) {
	f := newMachine(t, courtroom(t), 3, "Fiscal")
	f.cycle()
	require.NoError(t, f.machine.Select(0))

	f.auth.FailNext("SubmitDecision", domain.ErrStaleTurn)
	require.ErrorIs(t, f.machine.Submit(context.Background()), domain.ErrStaleTurn)
	assert.True(t, f.machine.Status().AwaitingRefresh)

	// The authority still grants the turn, so the next poll sees no change at all.
	f.cycle()
	st := f.machine.Status()
	assert.False(t, st.AwaitingRefresh)
	require.Equal(t, dialogue.StateMyTurn, st.State)
	assert.Equal(t, 2, f.statuses.count(dialogue.StateMyTurn), "turn is presented again on the same node")

	require.NoError(t, f.machine.Select(0))
	require.NoError(t, f.machine.Submit(context.Background()))
	assert.Len(t, f.auth.Decisions(7), 1)
}

func TestMachine_DetachStopsCycleUpdates(t *testing.T) {
	f := newMachine(t, courtroom(t), 3, "Fiscal")
	f.cycle()
	require.NoError(t, f.machine.Select(0))

	f.auth.FailNext("SubmitDecision", domain.ErrStaleTurn)
	require.ErrorIs(t, f.machine.Submit(context.Background()), domain.ErrStaleTurn)

	f.machine.Detach()
	f.cycle()
	assert.True(t, f.machine.Status().AwaitingRefresh)
}

func TestMachine_TransientSubmitKeepsTurn(t *testing.T) {
	f := newMachine(t, courtroom(t), 3, "Fiscal")
	f.cycle()
	require.NoError(t, f.machine.Select(1))

	f.auth.FailNext("SubmitDecision", errors.New("connection reset"))
	err := f.machine.Submit(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	st := f.machine.Status()
	assert.Equal(t, dialogue.StateMyTurn, st.State)
	assert.Equal(t, 1, st.Selected)

	require.NoError(t, f.machine.Submit(context.Background()))
	require.Len(t, f.auth.Decisions(7), 1)
	assert.Equal(t, "Continuar", f.auth.Decisions(7)[0].Text)
}

func TestMachine_AdvanceAutomaticNode(t *testing.T) {
	auth := courtroom(t)
	defensa := newMachine(t, auth, 5, "Defensa")
	defensa.cycle()
	assert.Equal(t, dialogue.StateWaitingTurn, defensa.machine.Status().State)

	require.NoError(t, auth.SubmitDecision(context.Background(), domain.Decision{
		SessionID: 7, UserID: 3, OptionID: 2, Text: "Continuar",
	}))
	defensa.cycle()

	st := defensa.machine.Status()
	require.Equal(t, dialogue.StateMyTurn, st.State)
	assert.Equal(t, domain.NodeAutomatic, st.NodeType)
	assert.Equal(t, []domain.ResponseOption{domain.ContinueOption()}, st.Options)
	assert.True(t, st.CanAdvance())
	require.NotNil(t, st.Node)
	assert.Equal(t, "Alegato de la defensa", st.Node.Title)

	require.NoError(t, defensa.machine.Advance(context.Background()))
	decisions := auth.Decisions(7)
	require.Len(t, decisions, 2)
	assert.True(t, decisions[1].IsContinue())
	assert.Equal(t, domain.ContinueText, decisions[1].Text)
	assert.Equal(t, dialogue.StateWaitingTurn, defensa.machine.Status().State)
}

func TestMachine_AdvanceRequiresSpeakingRole(t *testing.T) {
	auth := courtroom(t)
	fiscal := newMachine(t, auth, 3, "Fiscal")
	fiscal.cycle()
	assert.ErrorIs(t, fiscal.machine.Advance(context.Background()), domain.ErrValidation)

	require.NoError(t, auth.SubmitDecision(context.Background(), domain.Decision{
		SessionID: 7, UserID: 3, OptionID: 2, Text: "Continuar",
	}))
	auth.SetTurn(7, 3, true)
	fiscal.cycle()

	require.Equal(t, dialogue.StateMyTurn, fiscal.machine.Status().State)
	assert.ErrorIs(t, fiscal.machine.Advance(context.Background()), domain.ErrNotSpeakingRole)
}

func TestMachine_InactiveClearsOptions(t *testing.T) {
	f := newMachine(t, courtroom(t), 3, "Fiscal")
	f.cycle()
	require.Equal(t, dialogue.StateMyTurn, f.machine.Status().State)

	f.auth.SetActive(7, false)
	f.cycle()

	st := f.machine.Status()
	assert.Equal(t, dialogue.StateInactive, st.State)
	assert.Empty(t, st.Options)
	assert.ErrorIs(t, f.machine.Select(0), domain.ErrNotYourTurn)
	assert.ErrorIs(t, f.machine.Submit(context.Background()), domain.ErrNotYourTurn)

	f.auth.SetActive(7, true)
	f.cycle()
	assert.Equal(t, dialogue.StateMyTurn, f.machine.Status().State)
}

func TestMachine_RefusesDoubleTurnHolders(t *testing.T) {
	f := newMachine(t, courtroom(t), 3, "Fiscal")
	f.cycle()
	require.Equal(t, dialogue.StateMyTurn, f.machine.Status().State)

	f.auth.Join(7, domain.Participant{UserID: 8, Name: "Carla", Role: "Fiscal", Connected: true})
	f.auth.SetTurn(7, 8, true)
	f.cycle()

	assert.Equal(t, dialogue.StateWaitingTurn, f.machine.Status().State)
}

func TestMachine_EmitsDecisionSubmitted(t *testing.T) {
	f := newMachine(t, courtroom(t), 3, "Fiscal")
	var got []domain.DecisionSubmittedPayload
	f.scope.Bus.Subscribe(domain.EventDecisionSubmitted, func(ev domain.Event) {
		got = append(got, ev.Payload.(domain.DecisionSubmittedPayload))
	})

	f.cycle()
	require.NoError(t, f.machine.Select(0))
	require.NoError(t, f.machine.Submit(context.Background()))

	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Decision.OptionID)
}

func TestMachine_DetachStopsUpdates(t *testing.T) {
	f := newMachine(t, courtroom(t), 3, "Fiscal")
	f.machine.Detach()
	f.cycle()
	assert.Equal(t, dialogue.StateInactive, f.machine.Status().State)
}

func TestMachine_StatusIsACopy(t *testing.T) {
	f := newMachine(t, courtroom(t), 3, "Fiscal")
	f.cycle()

	st := f.machine.Status()
	st.Options[0].Label = "changed"
	assert.Equal(t, "Objeción", f.machine.Status().Options[0].Label)
	assert.Equal(t, "my_turn", f.machine.Status().State.String())
}

func TestMachine_CancelledHandlerContext(t *testing.T) {
	auth := courtroom(t)
	scope := session.NewScope(auth, 3)
	engine := syncengine.New(scope, 7)
	m := dialogue.NewMachine(scope, 7, "Fiscal", engine, dialogue.WithMachineTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	m.Attach(ctx)
	defer m.Detach()
	cancel()

	// Options cannot be fetched with a cancelled handler context; the turn is retried on the next event.
	engine.Cycle(context.Background())
	assert.Equal(t, dialogue.StateInactive, m.Status().State)
}
