package domain

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// SessionState is the lifecycle label of a Session.
type SessionState string

const (
	SessionDraft  SessionState = "draft"
	SessionActive SessionState = "active"
	SessionEnded  SessionState = "ended"
)

// Session is a scheduled instance of the simulation.
// The client only holds read-only copies, replaced wholesale on every fetch.
type Session struct {
	ID               int64          `json:"id" yaml:"id"`
	Code             string         `json:"code" yaml:"code"`
	Name             string         `json:"name" yaml:"name"`
	Description      string         `json:"description,omitempty" yaml:"description,omitempty"`
	State            SessionState   `json:"state" yaml:"state"`
	InstructorID     int64          `json:"instructor_id" yaml:"instructor_id"`
	Capacity         int            `json:"capacity" yaml:"capacity"`
	ParticipantCount int            `json:"participant_count" yaml:"participant_count"`
	Config           map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Clone returns a deep enough copy for safe hand-off to other components.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Config != nil {
		c.Config = make(map[string]any, len(s.Config))
		for k, v := range s.Config {
			c.Config[k] = v
		}
	}
	return &c
}

// SessionOptions is the typed view of the free-form Session.Config map.
// Zero values mean "use the client configuration".
type SessionOptions struct {
	BotsEnabled      *bool `mapstructure:"bots_enabled"`
	BotGraceSeconds  int   `mapstructure:"bot_grace_seconds"`
	BotDelaySeconds  int   `mapstructure:"bot_delay_seconds"`
	TimeLimitSeconds int   `mapstructure:"time_limit_seconds"`
}

// BotGrace returns the configured grace period, or 0 when unset.
func (o SessionOptions) BotGrace() time.Duration {
	return time.Duration(o.BotGraceSeconds) * time.Second
}

// BotDelay returns the configured extra delay, or 0 when unset.
func (o SessionOptions) BotDelay() time.Duration {
	return time.Duration(o.BotDelaySeconds) * time.Second
}

// DecodeSessionOptions decodes the known keys of Session.Config.
// Unknown keys are ignored; numeric strings coming from loosely typed backends are accepted.
func DecodeSessionOptions(cfg map[string]any) (SessionOptions, error) {
	var opts SessionOptions
	if len(cfg) == 0 {
		return opts, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return opts, err
	}
	if err := decoder.Decode(cfg); err != nil {
		return opts, fmt.Errorf("%w: session config: %v", ErrValidation, err)
	}
	return opts, nil
}

// RoleAssignment binds a user to a role inside a session.
// Confirmed only ever moves from false to true.
type RoleAssignment struct {
	ID        int64  `json:"id" yaml:"id"`
	SessionID int64  `json:"session_id" yaml:"session_id"`
	UserID    int64  `json:"user_id" yaml:"user_id"`
	RoleID    int64  `json:"role_id" yaml:"role_id"`
	RoleName  string `json:"role_name" yaml:"role_name"`
	Confirmed bool   `json:"confirmed" yaml:"confirmed"`
	Notes     string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Confirm returns a confirmed copy of the assignment.
func (a RoleAssignment) Confirm() *RoleAssignment {
	a.Confirmed = true
	return &a
}

// ClientMeta identifies the client instance on heartbeats and requests.
type ClientMeta struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	UserID   int64  `json:"user_id"`
}
