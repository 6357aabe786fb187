package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func baseState() *DialogueState {
	return &DialogueState{
		DialogueID:    4,
		Estado:        "en_curso",
		Active:        true,
		CurrentNodeID: 12,
		SpeakingRole:  "Fiscal",
		Participants: []Participant{
			{UserID: 3, Role: "Fiscal", Turn: true, Connected: true},
			{UserID: 5, Role: "Juez", Turn: false, Connected: true},
		},
	}
}

func TestDiffDialogue(t *testing.T) {
	tests := []struct {
		name   string
		old    *DialogueState
		mutate func(s *DialogueState)
		want   func(d *DialogueDiff) bool
	}{
		{
			name:   "Initial Load (Old is Nil)",
			old:    nil,
			mutate: func(s *DialogueState) {},
			want: func(d *DialogueDiff) bool {
				return d != nil && d.Estado != nil && d.Active != nil && d.CurrentNodeID != nil && *d.ParticipantCount == 2
			},
		},
		{
			name:   "No Changes",
			old:    baseState(),
			mutate: func(s *DialogueState) {},
			want:   func(d *DialogueDiff) bool { return d == nil },
		},
		{
			name:   "Estado Only",
			old:    baseState(),
			mutate: func(s *DialogueState) { s.Estado = "pausado" },
			want: func(d *DialogueDiff) bool {
				return d != nil && *d.Estado == "pausado" && d.Active == nil && d.CurrentNodeID == nil && d.ParticipantCount == nil
			},
		},
		{
			name:   "Active Only",
			old:    baseState(),
			mutate: func(s *DialogueState) { s.Active = false },
			want: func(d *DialogueDiff) bool {
				return d != nil && d.Active != nil && !*d.Active && d.Estado == nil
			},
		},
		{
			name:   "Node Only",
			old:    baseState(),
			mutate: func(s *DialogueState) { s.CurrentNodeID = 13 },
			want: func(d *DialogueDiff) bool {
				return d != nil && *d.CurrentNodeID == 13 && d.Estado == nil && d.Active == nil
			},
		},
		{
			name: "Participant Count Only",
			old:  baseState(),
			mutate: func(s *DialogueState) {
				s.Participants = append(s.Participants, Participant{UserID: 9, Role: "Defensa"})
			},
			want: func(d *DialogueDiff) bool {
				return d != nil && *d.ParticipantCount == 3 && d.CurrentNodeID == nil
			},
		},
		{
			name: "Turn Flip Is Not A Dialogue Change",
			old:  baseState(),
			mutate: func(s *DialogueState) {
				s.Participants[0].Turn = false
				s.Participants[1].Turn = true
			},
			want: func(d *DialogueDiff) bool { return d == nil },
		},
		{
			name:   "Progress And Elapsed Are Ignored",
			old:    baseState(),
			mutate: func(s *DialogueState) { s.Progress = 0.5; s.ElapsedSeconds = 99 },
			want:   func(d *DialogueDiff) bool { return d == nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := baseState()
			tt.mutate(next)
			got := DiffDialogue(tt.old, next)
			if !tt.want(got) {
				t.Errorf("DiffDialogue() = %+v, unexpected", got)
			}
		})
	}
}

func TestDiffParticipants(t *testing.T) {
	roster := baseState().Participants

	if !DiffParticipants(nil, nil, true) {
		t.Error("initial fetch must be reported even when empty")
	}
	if DiffParticipants(roster, baseState().Participants, false) {
		t.Error("identical roster reported as changed")
	}

	flipped := baseState().Participants
	flipped[0].Turn = false
	if !DiffParticipants(roster, flipped, false) {
		t.Error("turn flip not detected")
	}

	reordered := []Participant{roster[1], roster[0]}
	if !DiffParticipants(roster, reordered, false) {
		t.Error("positional change not detected")
	}

	renamed := baseState().Participants
	renamed[0].Name = "otro"
	renamed[0].Connected = false
	if DiffParticipants(roster, renamed, false) {
		t.Error("only user id and turn are compared")
	}
}

func TestDiffSession(t *testing.T) {
	s := &Session{ID: 7, State: SessionActive, ParticipantCount: 4}

	if d := DiffSession(nil, s); d == nil || d.State == nil || d.ParticipantCount == nil {
		t.Fatalf("initial load should report both fields, got %+v", d)
	}

	same := *s
	same.Name = "renamed"
	if d := DiffSession(s, &same); d != nil {
		t.Errorf("DiffSession() = %+v, want nil", d)
	}

	ended := *s
	ended.State = SessionEnded
	d := DiffSession(s, &ended)
	if d == nil || d.State == nil || *d.State != SessionEnded || d.ParticipantCount != nil {
		t.Errorf("DiffSession() = %+v, want only state", d)
	}
}

func TestDialogueDiffJSONSerialization(t *testing.T) {
	next := baseState()
	next.CurrentNodeID = 20
	diff := DiffDialogue(baseState(), next)
	if diff == nil {
		t.Fatal("Expected diff, got nil")
	}

	bytes, _ := json.Marshal(diff)
	if strings.Contains(string(bytes), `"estado"`) {
		t.Errorf("JSON should omit unchanged fields, got: %s", string(bytes))
	}
	if !strings.Contains(string(bytes), `"current_node_id":20`) {
		t.Errorf("JSON should contain the new node, got: %s", string(bytes))
	}
}
