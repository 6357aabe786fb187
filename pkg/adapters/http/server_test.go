package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/audiencia"
	bridge "github.com/aretw0/audiencia/pkg/adapters/http"
	"github.com/aretw0/audiencia/pkg/adapters/memory"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/observability"
	"github.com/aretw0/audiencia/pkg/syncengine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	auth   *memory.Authority
	client *audiencia.Client
	server *bridge.Server
	url    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sc, err := memory.DefaultScenario()
	require.NoError(t, err)
	auth, err := memory.NewAuthorityFromScenario(sc)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	cfg := syncengine.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	client := audiencia.New(auth, 3,
		audiencia.WithSyncConfig(cfg),
		audiencia.WithMetrics(observability.NewMetrics(reg)),
	)
	client.Start(context.Background())
	t.Cleanup(client.Close)

	server := bridge.NewServer(client,
		bridge.WithInfo(bridge.Info{App: "audiencia", Version: "test", UserID: 3}),
		bridge.WithGatherer(reg),
	)
	t.Cleanup(server.Close)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &fixture{auth: auth, client: client, server: server, url: srv.URL}
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.url+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.url + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestServer_HealthAndInfo(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	_, body = f.get(t, "/info")
	assert.Equal(t, "audiencia", body["app"])
	assert.Equal(t, "test", body["version"])
}

func TestServer_TurnFlow(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/join", `{"code":"ABC123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Fiscal", body["assignment"].(map[string]any)["role_name"])

	resp, _ = f.post(t, "/confirm", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, turn := f.get(t, "/turn")
		return turn["state"] == "my_turn"
	}, 2*time.Second, 10*time.Millisecond)

	_, turn := f.get(t, "/turn")
	opts := turn["options"].([]any)
	require.Len(t, opts, 2)
	assert.Equal(t, "Objeción", opts[0].(map[string]any)["label"])
	assert.Equal(t, false, turn["can_advance"])

	resp, body = f.post(t, "/select", `{"index":5}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "validation", body["code"])

	resp, body = f.post(t, "/select", `{"index":0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["selected"])

	resp, body = f.post(t, "/submit", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "waiting_turn", body["state"])
	require.Len(t, f.auth.Decisions(7), 1)

	resp, body = f.post(t, "/submit", `{}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_your_turn", body["code"])

	resp, _ = f.get(t, "/session")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(f.url + "/participants")
	require.NoError(t, err)
	var ps []domain.Participant
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ps))
	resp.Body.Close()
	assert.Len(t, ps, 2)

	resp, _ = f.post(t, "/leave", ``)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, body = f.get(t, "/state")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_joined", body["code"])
}

func TestServer_Errors(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/join", `{"code":"ZZZ999"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])

	resp, body = f.post(t, "/join", `{"code":"!"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "invalid_code", body["code"])

	resp, _ = f.post(t, "/join", `{"code":"ABC123","extra":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = f.post(t, "/advance", `{}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_joined", body["code"])

	resp, _ = f.get(t, "/session")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)
	_, _ = f.post(t, "/join", `{"code":"ABC123"}`)

	resp, err := http.Get(f.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, _ = bufio.NewReader(resp.Body).WriteTo(buf)
	assert.Contains(t, buf.String(), "audiencia_events_published_total")
}

// readEvents collects SSE event names until n arrive or the deadline passes.
func readEvents(t *testing.T, url string, n int, trigger func()) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var names []string
	scanner := bufio.NewScanner(resp.Body)
	triggered := false
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "event: ") {
			continue
		}
		names = append(names, strings.TrimPrefix(line, "event: "))
		if !triggered {
			triggered = true
			trigger()
		}
		if len(names) >= n {
			break
		}
	}
	return names
}

func TestServer_EventsStream(t *testing.T) {
	f := newFixture(t)

	names := readEvents(t, f.url+"/events?types=role_assigned,join_failed", 3, func() {
		_, _ = f.post(t, "/join", `{"code":"NOPE99"}`)
		_, _ = f.post(t, "/join", `{"code":"ABC123"}`)
	})
	assert.Equal(t, []string{"ping", "join_failed", "role_assigned"}, names)
}

func TestServer_ParticipantsRebroadcastDeduped(t *testing.T) {
	f := newFixture(t)
	ev := domain.NewEvent(domain.EventParticipantsChanged, domain.Identity{SessionID: 7, NodeID: 12, Revision: 4},
		domain.ParticipantsChangedPayload{Participants: []domain.Participant{{UserID: 3, Role: "Fiscal"}}})

	names := readEvents(t, f.url+"/events?session_id=7", 3, func() {
		f.client.Bus().Publish(ev)
		f.client.Bus().Publish(ev)
		f.client.Bus().Publish(domain.NewEvent(domain.EventSessionLeft, domain.Identity{SessionID: 7}, nil))
	})
	assert.Equal(t, []string{"ping", "participants_changed", "session_left"}, names)
}

func TestStreamManager_Filter(t *testing.T) {
	sm := bridge.NewStreamManager(nil)
	ch, cancel := sm.Subscribe(bridge.Filter{SessionID: 7, Types: []string{"turn_changed"}})
	defer cancel()
	assert.Equal(t, 1, sm.Count())

	sm.Broadcast(bridge.Message{Type: "turn_changed", SessionID: 8})
	sm.Broadcast(bridge.Message{Type: "dialogue_changed", SessionID: 7})
	sm.Broadcast(bridge.Message{Type: "turn_changed", SessionID: 7, Data: "x"})

	select {
	case msg := <-ch:
		assert.Equal(t, "x", msg.Data)
	default:
		t.Fatal("expected a message")
	}
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %+v", msg)
	default:
	}

	cancel()
	cancel()
	assert.Equal(t, 0, sm.Count())
}
