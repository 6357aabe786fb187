package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/ports"
)

const masked = "***"

type piiMiddleware struct {
	next      ports.SnapshotStore
	patterns  []*regexp.Regexp
	maskNames bool
}

// NewPIIMiddleware creates a middleware that masks session config values whose key matches
// one of the patterns. A pattern matching "name" also masks participant names.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	maskNames := false
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
		if patterns[i].MatchString("name") {
			maskNames = true
		}
	}
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &piiMiddleware{next: next, patterns: patterns, maskNames: maskNames}
	}
}

func (m *piiMiddleware) Save(ctx context.Context, sessionID int64, snap *domain.Snapshot) error {
	// Work on a copy; the engine keeps using the original.
	cloned := *snap
	cloned.Session = snap.Session.Clone()
	cloned.Dialogue = snap.Dialogue.Clone()
	cloned.Participants = domain.CloneParticipants(snap.Participants)

	if cloned.Session != nil && cloned.Session.Config != nil {
		cloned.Session.Config = deepCopyMap(cloned.Session.Config)
		maskMap(cloned.Session.Config, m.patterns)
	}
	if m.maskNames {
		maskParticipants(cloned.Participants)
		if cloned.Dialogue != nil {
			maskParticipants(cloned.Dialogue.Participants)
		}
	}

	return m.next.Save(ctx, sessionID, &cloned)
}

func (m *piiMiddleware) Load(ctx context.Context, sessionID int64) (*domain.Snapshot, error) {
	return m.next.Load(ctx, sessionID)
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID int64) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]int64, error) {
	return m.next.List(ctx)
}

// Helpers

func maskParticipants(ps []domain.Participant) {
	for i := range ps {
		if ps[i].Name != "" {
			ps[i].Name = masked
		}
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = masked
				break
			}
		}
		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
