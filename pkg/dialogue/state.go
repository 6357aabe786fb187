package dialogue

import (
	"github.com/aretw0/audiencia/pkg/domain"
)

// Mirror is the read side of the sync engine.
type Mirror interface {
	Session() *domain.Session
	Dialogue() *domain.DialogueState
	Participants() []domain.Participant
	Graph() *domain.DialogueGraph
	Refresh()
}

// CycleObserver is implemented by mirrors that report every completed poll cycle,
// including cycles that observed no change.
type CycleObserver interface {
	OnCycle(fn func()) (remove func())
}

// State is the turn state of the local participant.
type State int

const (
	StateInactive State = iota
	StateWaitingTurn
	StateMyTurn
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateWaitingTurn:
		return "waiting_turn"
	case StateMyTurn:
		return "my_turn"
	case StateSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is an immutable view of the machine for presenters.
type Status struct {
	State           State                   `json:"state"`
	SessionID       int64                   `json:"session_id"`
	UserID          int64                   `json:"user_id"`
	Role            string                  `json:"role"`
	Identity        domain.Identity         `json:"identity"`
	Node            *domain.DialogueNode    `json:"node,omitempty"`
	NodeType        domain.NodeType         `json:"node_type,omitempty"`
	Options         []domain.ResponseOption `json:"options,omitempty"`
	Selected        int                     `json:"selected"`
	SpeakingRole    string                  `json:"speaking_role,omitempty"`
	Estado          string                  `json:"estado,omitempty"`
	Progress        float64                 `json:"progress"`
	ElapsedSeconds  int                     `json:"elapsed_seconds"`
	AwaitingRefresh bool                    `json:"awaiting_refresh,omitempty"`
}

// CanAdvance reports whether the local user may send the continue sentinel.
func (s Status) CanAdvance() bool {
	return s.State == StateMyTurn &&
		(s.NodeType == domain.NodeAutomatic || s.NodeType == domain.NodeFinal) &&
		s.Role == s.SpeakingRole
}

// Presence is what the fallback knows about a role's human player.
type Presence int

const (
	// PresenceUnknown means the roster was not observed since the turn became active.
	PresenceUnknown Presence = iota
	// PresencePresent means a connected human holds the role.
	PresencePresent
	// PresenceAbsent means the roster was observed and nobody connected holds the role.
	PresenceAbsent
)

func (p Presence) String() string {
	switch p {
	case PresencePresent:
		return "present"
	case PresenceAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

func rolePresent(role string, lists ...[]domain.Participant) bool {
	for _, ps := range lists {
		for _, p := range ps {
			if p.Role == role && p.Connected {
				return true
			}
		}
	}
	return false
}
