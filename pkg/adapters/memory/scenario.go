package memory

import (
	"fmt"
	"io"
	"os"

	"github.com/aretw0/audiencia/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Scenario seeds an Authority.
type Scenario struct {
	Sessions []SessionFixture `yaml:"sessions"`
}

// SessionFixture describes one session, its script and its people.
type SessionFixture struct {
	Session      domain.Session          `yaml:"session"`
	Dialogue     *domain.DialogueGraph   `yaml:"dialogue"`
	StartNodeID  int64                   `yaml:"start_node"`
	Active       bool                    `yaml:"active"`
	Participants []domain.Participant    `yaml:"participants"`
	Assignments  []domain.RoleAssignment `yaml:"assignments"`
}

// ParseScenario decodes a YAML scenario.
func ParseScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario: %w", err)
	}
	defer f.Close()
	return ParseScenario(f)
}

// Validate checks referential integrity of the fixtures.
func (sc *Scenario) Validate() error {
	seen := make(map[int64]bool)
	for i, fx := range sc.Sessions {
		if fx.Session.ID == 0 {
			return fmt.Errorf("%w: session #%d has no id", domain.ErrValidation, i)
		}
		if seen[fx.Session.ID] {
			return fmt.Errorf("%w: duplicate session %d", domain.ErrValidation, fx.Session.ID)
		}
		seen[fx.Session.ID] = true

		if fx.Dialogue == nil {
			continue
		}
		if fx.StartNodeID != 0 {
			if _, ok := fx.Dialogue.Node(fx.StartNodeID); !ok {
				return fmt.Errorf("%w: session %d starts on unknown node %d", domain.ErrValidation, fx.Session.ID, fx.StartNodeID)
			}
		}
		for _, n := range fx.Dialogue.Nodes {
			if n.NextNodeID != 0 {
				if _, ok := fx.Dialogue.Node(n.NextNodeID); !ok {
					return fmt.Errorf("%w: node %d points to unknown node %d", domain.ErrValidation, n.ID, n.NextNodeID)
				}
			}
			for _, o := range n.Options {
				if o.NextNodeID == 0 {
					continue
				}
				if _, ok := fx.Dialogue.Node(o.NextNodeID); !ok {
					return fmt.Errorf("%w: option %d of node %d points to unknown node %d", domain.ErrValidation, o.ID, n.ID, o.NextNodeID)
				}
			}
		}
	}
	return nil
}
