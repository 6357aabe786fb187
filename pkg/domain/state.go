package domain

import (
	"fmt"
	"time"
)

// Participant is the view of a user inside a session.
// Turn is the sole authority for whether the user may submit a decision.
type Participant struct {
	UserID    int64  `json:"user_id" yaml:"user_id"`
	Name      string `json:"name" yaml:"name"`
	Role      string `json:"role" yaml:"role"`
	Turn      bool   `json:"turn" yaml:"turn"`
	Connected bool   `json:"connected" yaml:"connected"`
}

// DialogueState is the volatile snapshot of a running dialogue.
// It is replaced wholesale on every successful poll.
type DialogueState struct {
	DialogueID     int64         `json:"dialogue_id"`
	Estado         string        `json:"estado"`
	Active         bool          `json:"active"`
	CurrentNodeID  int64         `json:"current_node_id"`
	SpeakingRole   string        `json:"speaking_role"`
	Participants   []Participant `json:"participants"`
	Progress       float64       `json:"progress"`
	ElapsedSeconds int           `json:"elapsed_seconds"`

	// FetchedAt is stamped by the client when the snapshot arrives.
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// Clone returns an independent copy.
func (s *DialogueState) Clone() *DialogueState {
	if s == nil {
		return nil
	}
	c := *s
	c.Participants = CloneParticipants(s.Participants)
	return &c
}

// Participant returns the participant entry for userID.
func (s *DialogueState) Participant(userID int64) (Participant, bool) {
	if s == nil {
		return Participant{}, false
	}
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// TurnHolders returns the participants of role whose turn flag is set.
func (s *DialogueState) TurnHolders(role string) []Participant {
	if s == nil {
		return nil
	}
	var holders []Participant
	for _, p := range s.Participants {
		if p.Role == role && p.Turn {
			holders = append(holders, p)
		}
	}
	return holders
}

// Validate checks the one-turn-holder-per-role invariant.
func (s *DialogueState) Validate() error {
	if s == nil {
		return nil
	}
	seen := make(map[string]int64)
	for _, p := range s.Participants {
		if !p.Turn {
			continue
		}
		if other, ok := seen[p.Role]; ok {
			return fmt.Errorf("%w: role %q has turn on users %d and %d", ErrValidation, p.Role, other, p.UserID)
		}
		seen[p.Role] = p.UserID
	}
	return nil
}

// Identity returns the dedup identity of the snapshot.
func (s *DialogueState) Identity(sessionID int64) Identity {
	if s == nil {
		return Identity{SessionID: sessionID}
	}
	return Identity{SessionID: sessionID, DialogueID: s.DialogueID, NodeID: s.CurrentNodeID}
}

// CloneParticipants copies a participant list.
func CloneParticipants(ps []Participant) []Participant {
	if ps == nil {
		return nil
	}
	out := make([]Participant, len(ps))
	copy(out, ps)
	return out
}

// Decision is the payload submitted for a turn.
type Decision struct {
	SessionID      int64  `json:"session_id"`
	UserID         int64  `json:"user_id"`
	OptionID       int64  `json:"option_id"`
	Text           string `json:"text"`
	ElapsedSeconds int    `json:"elapsed_seconds"`

	// Role is set when the decision is synthesized on behalf of a role.
	Role      string `json:"role,omitempty"`
	Automatic bool   `json:"automatic,omitempty"`
}

// IsContinue reports whether the decision is the continue sentinel.
func (d Decision) IsContinue() bool {
	return d.OptionID == ContinueOptionID
}

// Snapshot bundles the cached entities of one session.
type Snapshot struct {
	SessionID    int64          `json:"session_id"`
	Session      *Session       `json:"session,omitempty"`
	Dialogue     *DialogueState `json:"dialogue,omitempty"`
	Participants []Participant  `json:"participants,omitempty"`
	Graph        *DialogueGraph `json:"graph,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`

	// Sealed carries the encrypted form of the other fields when the snapshot
	// went through an encrypting store.
	Sealed string `json:"sealed,omitempty"`
}
