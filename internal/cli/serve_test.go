package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServing runs serve in the background and returns the bound address.
func startServing(t *testing.T, serve func(ctx context.Context, ready func(string)) error) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	addrs := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, func(addr string) { addrs <- addr })
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * ShutdownTimeout):
			t.Error("server did not stop")
		}
	})

	select {
	case addr := <-addrs:
		return addr
	case err := <-done:
		t.Fatalf("serve failed: %v", err)
	case <-time.After(waitFor):
		t.Fatal("server did not start")
	}
	return ""
}

func TestServe_BridgeJoinsAtStartup(t *testing.T) {
	app := fiscalApp(t)
	addr := startServing(t, func(ctx context.Context, ready func(string)) error {
		return Serve(ctx, app, ServeOptions{Addr: "127.0.0.1:0", Code: "ABC123", Ready: ready})
	})

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/turn")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var turn struct {
			State string `json:"state"`
		}
		return json.NewDecoder(resp.Body).Decode(&turn) == nil && turn.State == "my_turn"
	}, waitFor, tick)
}

func TestServe_BadJoinCodeFails(t *testing.T) {
	app := fiscalApp(t)
	err := Serve(context.Background(), app, ServeOptions{Addr: "127.0.0.1:0", Code: "NOPE99"})
	assert.ErrorContains(t, err, "join NOPE99")
}

func TestServeMockAuthority_RequiresToken(t *testing.T) {
	app := fiscalApp(t)
	addr := startServing(t, func(ctx context.Context, ready func(string)) error {
		return ServeMockAuthority(ctx, app, MockOptions{Addr: "127.0.0.1:0", Token: "secreto", Ready: ready})
	})
	url := "http://" + addr + "/v1/sessions/by-code/ABC123"

	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secreto")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var s struct {
		ID   int64  `json:"id"`
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, int64(7), s.ID)
	assert.Equal(t, "ABC123", s.Code)
}
