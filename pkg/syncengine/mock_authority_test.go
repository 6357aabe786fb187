package syncengine_test

import (
	"context"

	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/ports"
	"github.com/stretchr/testify/mock"
)

type mockAuthority struct {
	mock.Mock
}

var _ ports.AuthorityClient = (*mockAuthority)(nil)

func (m *mockAuthority) ActiveSession(ctx context.Context, userID int64) (*domain.Session, error) {
	args := m.Called(ctx, userID)
	s, _ := args.Get(0).(*domain.Session)
	return s, args.Error(1)
}

func (m *mockAuthority) SessionByCode(ctx context.Context, code string) (*domain.Session, error) {
	args := m.Called(ctx, code)
	s, _ := args.Get(0).(*domain.Session)
	return s, args.Error(1)
}

func (m *mockAuthority) Session(ctx context.Context, sessionID int64) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	s, _ := args.Get(0).(*domain.Session)
	return s, args.Error(1)
}

func (m *mockAuthority) RoleAssignment(ctx context.Context, sessionID, userID int64) (*domain.RoleAssignment, error) {
	args := m.Called(ctx, sessionID, userID)
	as, _ := args.Get(0).(*domain.RoleAssignment)
	return as, args.Error(1)
}

func (m *mockAuthority) SessionDialogue(ctx context.Context, sessionID int64) (*domain.DialogueGraph, error) {
	args := m.Called(ctx, sessionID)
	g, _ := args.Get(0).(*domain.DialogueGraph)
	return g, args.Error(1)
}

func (m *mockAuthority) DialogueState(ctx context.Context, sessionID int64) (*domain.DialogueState, error) {
	args := m.Called(ctx, sessionID)
	st, _ := args.Get(0).(*domain.DialogueState)
	return st, args.Error(1)
}

func (m *mockAuthority) Participants(ctx context.Context, sessionID int64) ([]domain.Participant, error) {
	args := m.Called(ctx, sessionID)
	ps, _ := args.Get(0).([]domain.Participant)
	return ps, args.Error(1)
}

func (m *mockAuthority) UserResponses(ctx context.Context, sessionID, userID int64) ([]domain.ResponseOption, error) {
	args := m.Called(ctx, sessionID, userID)
	opts, _ := args.Get(0).([]domain.ResponseOption)
	return opts, args.Error(1)
}

func (m *mockAuthority) SubmitDecision(ctx context.Context, d domain.Decision) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockAuthority) ConfirmRole(ctx context.Context, sessionID, assignmentID int64) (*domain.RoleAssignment, error) {
	args := m.Called(ctx, sessionID, assignmentID)
	as, _ := args.Get(0).(*domain.RoleAssignment)
	return as, args.Error(1)
}

func (m *mockAuthority) Heartbeat(ctx context.Context, sessionID int64, meta domain.ClientMeta) error {
	return m.Called(ctx, sessionID, meta).Error(0)
}
