package memory

import (
	"bytes"
	_ "embed"
)

//go:embed scenarios/courtroom.yaml
var courtroomScenario []byte

// DefaultScenario returns the built-in courtroom scenario used by the mock authority.
func DefaultScenario() (*Scenario, error) {
	return ParseScenario(bytes.NewReader(courtroomScenario))
}
