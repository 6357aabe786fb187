package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/audiencia/pkg/domain"
)

// Overlay marks live state on the rendered graph.
type Overlay struct {
	CurrentNode int64
	// Role highlights the nodes of one role's flow.
	Role string
}

// GenerateMermaid renders g as a Mermaid flowchart.
// Shapes follow the node type:
// - Decision: [/Parallelogram/]
// - Final: ((Circle))
// - Automatic: [Rectangle]
// Option edges carry the option label; automatic edges are dotted.
func GenerateMermaid(g *domain.DialogueGraph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	if g == nil {
		return sb.String()
	}

	for _, node := range g.Nodes {
		id := nodeID(node.ID)

		opener, closer := "[", "]"
		switch node.Type {
		case domain.NodeDecision:
			opener, closer = "[/", "/]"
		case domain.NodeFinal:
			opener, closer = "((", "))"
		}

		label := fmt.Sprintf("%d %s", node.ID, node.Title)
		if node.Role != "" {
			label += "<br/>" + node.Role
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", id, opener, escape(label), closer)

		for _, opt := range node.Options {
			if opt.NextNodeID == 0 {
				continue
			}
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", id, escape(opt.Label), nodeID(opt.NextNodeID))
		}
		if node.NextNodeID != 0 {
			fmt.Fprintf(&sb, "    %s -.-> %s\n", id, nodeID(node.NextNodeID))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text keeps contrast on both light and dark themes.
		sb.WriteString("    classDef role fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		if overlay.Role != "" {
			for _, flow := range g.Flows {
				if flow.Role != overlay.Role {
					continue
				}
				for _, n := range flow.NodeIDs {
					fmt.Fprintf(&sb, "    class %s role;\n", nodeID(n))
				}
			}
		}
		if overlay.CurrentNode != 0 {
			fmt.Fprintf(&sb, "    class %s current;\n", nodeID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

func nodeID(id int64) string {
	return fmt.Sprintf("n%d", id)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
