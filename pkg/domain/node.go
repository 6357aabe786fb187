package domain

import "fmt"

// NodeType defines how a dialogue node is advanced.
type NodeType string

const (
	// NodeAutomatic has a single continue action owned by the speaking role.
	NodeAutomatic NodeType = "automatic"
	// NodeDecision offers an ordered list of ResponseOptions.
	NodeDecision NodeType = "decision"
	// NodeFinal is terminal in the script; the session only ends when the authority says so.
	NodeFinal NodeType = "final"
)

// ContinueOptionID and ContinueText form the sentinel decision used by Automatic and Final nodes.
const (
	ContinueOptionID int64 = 0
	ContinueText           = "continue"
)

// ResponseOption is one selectable answer of a Decision node.
type ResponseOption struct {
	ID    int64  `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Text  string `json:"text" yaml:"text"`

	// NextNodeID is only used by authorities that resolve the script locally.
	NextNodeID int64 `json:"next_node_id,omitempty" yaml:"next_node_id,omitempty"`
}

// ContinueOption is the synthesized option shown for Automatic and Final nodes.
func ContinueOption() ResponseOption {
	return ResponseOption{ID: ContinueOptionID, Label: ContinueText, Text: ContinueText}
}

// DialogueNode is a point of the script.
type DialogueNode struct {
	ID         int64            `json:"id" yaml:"id"`
	Title      string           `json:"title" yaml:"title"`
	Body       string           `json:"body" yaml:"body"`
	Type       NodeType         `json:"type" yaml:"type"`
	Role       string           `json:"role" yaml:"role"`
	Options    []ResponseOption `json:"options,omitempty" yaml:"options,omitempty"`
	NextNodeID int64            `json:"next_node_id,omitempty" yaml:"next_node_id,omitempty"`
}

// IsContinue reports whether the node is advanced with the continue sentinel.
func (n *DialogueNode) IsContinue() bool {
	return n.Type == NodeAutomatic || n.Type == NodeFinal
}

// RoleFlow is the ordered sequence of nodes a role speaks.
type RoleFlow struct {
	Role    string  `json:"role" yaml:"role"`
	NodeIDs []int64 `json:"node_ids" yaml:"node_ids"`
}

// DialogueGraph is the immutable script fetched for a session.
// ID is used for idempotence checks: the same ID is never fetched twice.
type DialogueGraph struct {
	ID    int64          `json:"id" yaml:"id"`
	Name  string         `json:"name" yaml:"name"`
	Nodes []DialogueNode `json:"nodes" yaml:"nodes"`
	Flows []RoleFlow     `json:"flows" yaml:"flows"`
}

// Node returns the node with the given id.
func (g *DialogueGraph) Node(id int64) (*DialogueNode, bool) {
	if g == nil {
		return nil, false
	}
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// Flow returns the flow for a role.
func (g *DialogueGraph) Flow(role string) (*RoleFlow, bool) {
	if g == nil {
		return nil, false
	}
	for i := range g.Flows {
		if g.Flows[i].Role == role {
			return &g.Flows[i], true
		}
	}
	return nil, false
}

// Roles lists the roles that have a flow, in graph order.
func (g *DialogueGraph) Roles() []string {
	if g == nil {
		return nil
	}
	roles := make([]string, 0, len(g.Flows))
	for _, f := range g.Flows {
		roles = append(roles, f.Role)
	}
	return roles
}

// RequireRole fails with ErrGraphMissingRole when the graph has no flow for role.
func (g *DialogueGraph) RequireRole(role string) error {
	if _, ok := g.Flow(role); !ok {
		return fmt.Errorf("%w: %q in dialogue %d", ErrGraphMissingRole, role, g.ID)
	}
	return nil
}
