package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/audiencia/internal/presentation/graph"
	"github.com/aretw0/audiencia/pkg/domain"
)

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		graph    *domain.DialogueGraph
		overlay  *graph.Overlay
		contains []string
	}{
		{
			name: "Node Shapes",
			graph: &domain.DialogueGraph{Nodes: []domain.DialogueNode{
				{ID: 1, Title: "Apertura", Type: domain.NodeAutomatic, Role: "Juez"},
				{ID: 2, Title: "Alegato", Type: domain.NodeDecision, Role: "Fiscal"},
				{ID: 3, Title: "Sentencia", Type: domain.NodeFinal},
			}},
			contains: []string{
				`n1["1 Apertura<br/>Juez"]`,
				`n2[/"2 Alegato<br/>Fiscal"/]`,
				`n3(("3 Sentencia"))`,
			},
		},
		{
			name: "Edges",
			graph: &domain.DialogueGraph{Nodes: []domain.DialogueNode{
				{ID: 1, Type: domain.NodeAutomatic, NextNodeID: 2},
				{ID: 2, Type: domain.NodeDecision, Options: []domain.ResponseOption{
					{ID: 1, Label: `Di "no"`, NextNodeID: 3},
					{ID: 2, Label: "Sin destino"},
				}},
			}},
			contains: []string{
				"n1 -.-> n2",
				`n2 -- "Di 'no'" --> n3`,
			},
		},
		{
			name: "Overlay",
			graph: &domain.DialogueGraph{
				Nodes: []domain.DialogueNode{{ID: 12}, {ID: 13}},
				Flows: []domain.RoleFlow{{Role: "Fiscal", NodeIDs: []int64{12}}, {Role: "Juez", NodeIDs: []int64{13}}},
			},
			overlay: &graph.Overlay{CurrentNode: 13, Role: "Fiscal"},
			contains: []string{
				"class n12 role;",
				"class n13 current;",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(tt.graph, tt.overlay)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, want)
				}
			}
		})
	}
}

func TestGenerateMermaid_Nil(t *testing.T) {
	if got := graph.GenerateMermaid(nil, nil); got != "graph TD\n" {
		t.Errorf("GenerateMermaid(nil) = %q", got)
	}
}
