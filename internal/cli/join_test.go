package cli

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/audiencia/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func fiscalApp(t *testing.T) *App {
	return testApp(t, func(c *config.Config) {
		c.Client.UserID = 3
		c.Store.Kind = config.StoreMemory
	})
}

func TestRunJoin_PlaysTurn(t *testing.T) {
	app := fiscalApp(t)
	in, feed := io.Pipe()
	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() {
		done <- RunJoin(context.Background(), app, JoinOptions{Code: "abc123", Plain: true}, in, out)
	}()

	_, err := io.WriteString(feed, "s\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "2) Continuar") }, waitFor, tick)
	assert.Contains(t, out.String(), "Sesión ABC123: Audiencia de juicio oral")
	assert.Contains(t, out.String(), "Rol asignado: Fiscal")

	_, err = io.WriteString(feed, "9\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "out of range") }, waitFor, tick)

	_, err = io.WriteString(feed, "1\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Esperando turno") }, waitFor, tick)

	_, err = io.WriteString(feed, "q\n")
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("RunJoin did not return after q")
	}
	_ = feed.Close()
}

func TestRunJoin_RejectRole(t *testing.T) {
	app := fiscalApp(t)
	out := &syncBuffer{}

	err := RunJoin(context.Background(), app, JoinOptions{Code: "ABC123", Plain: true}, strings.NewReader("n\n"), out)
	assert.ErrorIs(t, err, ErrRoleRejected)
	assert.Contains(t, out.String(), "¿Aceptar el rol?")
}

func TestRunJoin_UnknownCode(t *testing.T) {
	app := fiscalApp(t)
	err := RunJoin(context.Background(), app, JoinOptions{Code: "NOPE99", Plain: true}, strings.NewReader(""), io.Discard)
	assert.Error(t, err)
}

func TestRunJoin_EOFLeaves(t *testing.T) {
	app := fiscalApp(t)
	out := &syncBuffer{}
	err := RunJoin(context.Background(), app, JoinOptions{Code: "ABC123", AutoConfirm: true, Plain: true}, strings.NewReader("?\n"), out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Comandos:")
}
