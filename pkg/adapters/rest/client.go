package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/audiencia/internal/logging"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/ports"
	"github.com/google/uuid"
)

// Header names sent on every request.
const (
	HeaderClientID      = "X-Client-ID"
	HeaderClientName    = "X-Client-Name"
	HeaderClientVersion = "X-Client-Version"
	HeaderRequestID     = "X-Request-ID"
)

const maxErrorBody = 64 << 10

// Client is a ports.AuthorityClient over HTTP/JSON.
type Client struct {
	base    *url.URL
	http    *http.Client
	token   string
	meta    domain.ClientMeta
	timeout time.Duration
	logger  *slog.Logger
}

var _ ports.AuthorityClient = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithToken sets the bearer token.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithClientMeta sets the identity headers.
func WithClientMeta(meta domain.ClientMeta) ClientOption {
	return func(c *Client) {
		c.meta = meta
	}
}

// WithTimeout bounds every call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the authority at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: authority url: %v", domain.ErrValidation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: authority url %q must be http or https", domain.ErrValidation, baseURL)
	}
	c := &Client{
		base:    u,
		http:    http.DefaultClient,
		timeout: 5 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) url(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.base.String() + "/v1/" + strings.Join(escaped, "/")
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}

func (c *Client) do(ctx context.Context, op, method, target string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set(HeaderClientID, c.meta.ClientID)
	req.Header.Set(HeaderClientName, c.meta.Name)
	req.Header.Set(HeaderClientVersion, c.meta.Version)
	req.Header.Set(HeaderRequestID, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb ErrorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(raw, &eb) != nil {
			eb.Message = strings.TrimSpace(string(raw))
		}
		err := errorFor(op, resp.StatusCode, eb)
		c.logger.Debug("Authority request failed", "op", op, "status", resp.StatusCode, "err", err)
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Transient(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) ActiveSession(ctx context.Context, userID int64) (*domain.Session, error) {
	var s domain.Session
	if err := c.do(ctx, "active session", http.MethodGet, c.url("users", id(userID), "active-session"), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) SessionByCode(ctx context.Context, code string) (*domain.Session, error) {
	var s domain.Session
	if err := c.do(ctx, "session by code", http.MethodGet, c.url("sessions", "by-code", code), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Session(ctx context.Context, sessionID int64) (*domain.Session, error) {
	var s domain.Session
	if err := c.do(ctx, "session", http.MethodGet, c.url("sessions", id(sessionID)), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) RoleAssignment(ctx context.Context, sessionID, userID int64) (*domain.RoleAssignment, error) {
	var a domain.RoleAssignment
	if err := c.do(ctx, "role assignment", http.MethodGet, c.url("sessions", id(sessionID), "assignments", id(userID)), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) SessionDialogue(ctx context.Context, sessionID int64) (*domain.DialogueGraph, error) {
	var g domain.DialogueGraph
	if err := c.do(ctx, "session dialogue", http.MethodGet, c.url("sessions", id(sessionID), "dialogue"), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) DialogueState(ctx context.Context, sessionID int64) (*domain.DialogueState, error) {
	var st domain.DialogueState
	if err := c.do(ctx, "dialogue state", http.MethodGet, c.url("sessions", id(sessionID), "state"), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Participants(ctx context.Context, sessionID int64) ([]domain.Participant, error) {
	ps := []domain.Participant{}
	if err := c.do(ctx, "participants", http.MethodGet, c.url("sessions", id(sessionID), "participants"), nil, &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

func (c *Client) UserResponses(ctx context.Context, sessionID, userID int64) ([]domain.ResponseOption, error) {
	opts := []domain.ResponseOption{}
	if err := c.do(ctx, "user responses", http.MethodGet, c.url("sessions", id(sessionID), "responses", id(userID)), nil, &opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func (c *Client) SubmitDecision(ctx context.Context, decision domain.Decision) error {
	return c.do(ctx, "submit decision", http.MethodPost, c.url("sessions", id(decision.SessionID), "decisions"), decision, nil)
}

func (c *Client) ConfirmRole(ctx context.Context, sessionID, assignmentID int64) (*domain.RoleAssignment, error) {
	var a domain.RoleAssignment
	target := c.url("sessions", id(sessionID), "assignments", id(assignmentID), "confirm")
	if err := c.do(ctx, "confirm role", http.MethodPost, target, struct{}{}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) Heartbeat(ctx context.Context, sessionID int64, meta domain.ClientMeta) error {
	return c.do(ctx, "heartbeat", http.MethodPost, c.url("sessions", id(sessionID), "heartbeat"), meta, nil)
}
