package domain

// DialogueDiff lists the observable fields that changed between two dialogue snapshots.
type DialogueDiff struct {
	Estado           *string `json:"estado,omitempty"`
	Active           *bool   `json:"active,omitempty"`
	CurrentNodeID    *int64  `json:"current_node_id,omitempty"`
	ParticipantCount *int    `json:"participant_count,omitempty"`
}

// DiffDialogue compares two dialogue snapshots.
// It returns nil when nothing observable changed. A nil old snapshot is an initial load.
// Only estado, active, current node and participant count are observable; turn flips
// are reported by DiffParticipants.
func DiffDialogue(old, new *DialogueState) *DialogueDiff {
	if new == nil {
		return nil
	}

	diff := &DialogueDiff{}
	count := len(new.Participants)

	if old == nil {
		diff.Estado = &new.Estado
		diff.Active = &new.Active
		diff.CurrentNodeID = &new.CurrentNodeID
		diff.ParticipantCount = &count
		return diff
	}

	if old.Estado != new.Estado {
		diff.Estado = &new.Estado
	}
	if old.Active != new.Active {
		diff.Active = &new.Active
	}
	if old.CurrentNodeID != new.CurrentNodeID {
		diff.CurrentNodeID = &new.CurrentNodeID
	}
	if len(old.Participants) != count {
		diff.ParticipantCount = &count
	}

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

// IsEmpty checks if the diff contains any change.
func (d *DialogueDiff) IsEmpty() bool {
	return d == nil || (d.Estado == nil && d.Active == nil && d.CurrentNodeID == nil && d.ParticipantCount == nil)
}

// DiffParticipants reports whether the roster changed: a different count, or any
// positional (user id, turn) pair that differs. initial is set on the first fetch of a
// session so an empty roster is still reported once.
func DiffParticipants(old, new []Participant, initial bool) bool {
	if initial {
		return true
	}
	if len(old) != len(new) {
		return true
	}
	for i := range new {
		if old[i].UserID != new[i].UserID || old[i].Turn != new[i].Turn {
			return true
		}
	}
	return false
}

// SessionDiff lists the observable session fields that changed.
type SessionDiff struct {
	State            *SessionState `json:"state,omitempty"`
	ParticipantCount *int          `json:"participant_count,omitempty"`
}

// DiffSession compares two session copies on lifecycle state and participant count.
func DiffSession(old, new *Session) *SessionDiff {
	if new == nil {
		return nil
	}
	diff := &SessionDiff{}
	if old == nil || old.State != new.State {
		diff.State = &new.State
	}
	if old == nil || old.ParticipantCount != new.ParticipantCount {
		diff.ParticipantCount = &new.ParticipantCount
	}
	if diff.State == nil && diff.ParticipantCount == nil {
		return nil
	}
	return diff
}
