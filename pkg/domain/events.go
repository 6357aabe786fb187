package domain

import (
	"fmt"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventSessionJoined       EventType = "session_joined"
	EventSessionLeft         EventType = "session_left"
	EventRoleAssigned        EventType = "role_assigned"
	EventRoleRejected        EventType = "role_rejected"
	EventJoinFailed          EventType = "join_failed"
	EventDialogueLoaded      EventType = "dialogue_loaded"
	EventDialogueChanged     EventType = "dialogue_changed"
	EventParticipantsChanged EventType = "participants_changed"
	EventSessionChanged      EventType = "session_changed"
	EventSyncError           EventType = "sync_error"
	EventReconnecting        EventType = "reconnecting"
	EventReconnected         EventType = "reconnected"
	EventTurnChanged         EventType = "turn_changed"
	EventDecisionSubmitted   EventType = "decision_submitted"
)

// Identity is what a subscriber compares to suppress re-delivered events.
// Revision distinguishes successive changes observed on the same node; a re-delivered
// event carries the same revision as the original.
type Identity struct {
	SessionID  int64  `json:"session_id"`
	DialogueID int64  `json:"dialogue_id,omitempty"`
	NodeID     int64  `json:"node_id,omitempty"`
	Revision   uint64 `json:"revision,omitempty"`
}

func (i Identity) String() string {
	if i.Revision == 0 {
		return fmt.Sprintf("%d/%d/%d", i.SessionID, i.DialogueID, i.NodeID)
	}
	return fmt.Sprintf("%d/%d/%d#%d", i.SessionID, i.DialogueID, i.NodeID, i.Revision)
}

// Node drops the revision, leaving the (session, dialogue, node) identity.
func (i Identity) Node() Identity {
	i.Revision = 0
	return i
}

// Event is published on the session bus.
// Payloads are immutable copies; subscribers must not mutate them.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Identity  Identity  `json:"identity"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, id Identity, payload any) Event {
	return Event{Type: t, Timestamp: time.Now(), Identity: id, Payload: payload}
}

// SessionJoinedPayload is carried by EventSessionJoined.
type SessionJoinedPayload struct {
	Session    *Session        `json:"session"`
	Assignment *RoleAssignment `json:"assignment"`
}

// DialogueChangedPayload is carried by EventDialogueChanged.
type DialogueChangedPayload struct {
	State *DialogueState `json:"state"`
	Diff  *DialogueDiff  `json:"diff"`
}

// ParticipantsChangedPayload is carried by EventParticipantsChanged.
type ParticipantsChangedPayload struct {
	Participants []Participant `json:"participants"`
}

// SessionChangedPayload is carried by EventSessionChanged.
type SessionChangedPayload struct {
	Session *Session     `json:"session"`
	Diff    *SessionDiff `json:"diff"`
}

// SyncErrorPayload is carried by EventSyncError and EventJoinFailed.
type SyncErrorPayload struct {
	Op       string `json:"op"`
	Error    string `json:"error"`
	Failures int    `json:"failures"`
	Err      error  `json:"-"`
}

// DialogueLoadedPayload is carried by EventDialogueLoaded.
type DialogueLoadedPayload struct {
	Graph *DialogueGraph `json:"graph"`
}

// DecisionSubmittedPayload is carried by EventDecisionSubmitted.
type DecisionSubmittedPayload struct {
	Decision Decision `json:"decision"`
}

// TurnChangedPayload is carried by EventTurnChanged.
type TurnChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}
