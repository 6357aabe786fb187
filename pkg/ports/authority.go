package ports

import (
	"context"

	"github.com/aretw0/audiencia/pkg/domain"
)

// AuthorityClient is the request/response contract with the remote session authority.
// Implementations keep no session state; every call is independent and must honour ctx.
//
// Errors follow the domain taxonomy: domain.ErrNotFound, domain.ErrValidation,
// domain.ErrStaleTurn and domain.ErrAlreadyConfirmed are final; anything wrapped in
// domain.TransientError may be retried.
type AuthorityClient interface {
	// ActiveSession returns the session the user currently belongs to.
	ActiveSession(ctx context.Context, userID int64) (*domain.Session, error)

	// SessionByCode resolves a join code.
	SessionByCode(ctx context.Context, code string) (*domain.Session, error)

	// Session fetches session metadata.
	Session(ctx context.Context, sessionID int64) (*domain.Session, error)

	// RoleAssignment returns the user's role in the session, or domain.ErrNoRoleForUser.
	RoleAssignment(ctx context.Context, sessionID, userID int64) (*domain.RoleAssignment, error)

	// SessionDialogue returns the dialogue graph attached to the session.
	SessionDialogue(ctx context.Context, sessionID int64) (*domain.DialogueGraph, error)

	// DialogueState returns the current dialogue snapshot.
	DialogueState(ctx context.Context, sessionID int64) (*domain.DialogueState, error)

	// Participants returns the session roster.
	Participants(ctx context.Context, sessionID int64) ([]domain.Participant, error)

	// UserResponses returns the ordered options the user may pick on the current node.
	UserResponses(ctx context.Context, sessionID, userID int64) ([]domain.ResponseOption, error)

	// SubmitDecision submits a decision. A decision for a turn the user no longer
	// holds is rejected with domain.ErrStaleTurn.
	SubmitDecision(ctx context.Context, decision domain.Decision) error

	// ConfirmRole confirms the assignment and returns it with Confirmed set.
	ConfirmRole(ctx context.Context, sessionID, assignmentID int64) (*domain.RoleAssignment, error)

	// Heartbeat signals liveness of the client in the session.
	Heartbeat(ctx context.Context, sessionID int64, meta domain.ClientMeta) error
}
