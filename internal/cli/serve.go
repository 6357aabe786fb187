package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aretw0/audiencia"
	"github.com/aretw0/audiencia/internal/config"
	bridge "github.com/aretw0/audiencia/pkg/adapters/http"
	"github.com/aretw0/audiencia/pkg/adapters/rest"
)

// ShutdownTimeout bounds the graceful stop of the HTTP servers.
const ShutdownTimeout = 5 * time.Second

// ServeOptions configures the local bridge.
type ServeOptions struct {
	Addr string
	// Code, when set, joins and confirms that session at startup.
	Code string
	// Ready is called with the bound address once the listener is up.
	Ready func(addr string)
}

// Serve runs the client behind the local HTTP bridge until ctx ends.
func Serve(ctx context.Context, app *App, opts ServeOptions) error {
	if err := app.Ping(ctx); err != nil {
		return err
	}
	authority, err := app.Authority()
	if err != nil {
		return err
	}
	client, err := app.NewClient(authority)
	if err != nil {
		return err
	}
	client.Start(ctx)
	defer client.Close()

	srv := bridge.NewServer(client,
		bridge.WithInfo(bridge.Info{
			App:      config.AppName,
			Version:  audiencia.Version,
			ClientID: client.Scope().Client.ClientID,
			UserID:   client.Scope().UserID(),
		}),
		bridge.WithGatherer(app.Registry),
		bridge.WithLogger(app.Logger),
	)
	defer srv.Close()

	if opts.Code != "" {
		if _, _, err := client.Join(ctx, opts.Code); err != nil {
			return fmt.Errorf("join %s: %w", opts.Code, err)
		}
		if _, err := client.Confirm(ctx); err != nil {
			return fmt.Errorf("confirm role: %w", err)
		}
	}

	return listenAndServe(ctx, app, opts.Addr, srv.Handler(), opts.Ready)
}

// MockOptions configures the standalone mock authority.
type MockOptions struct {
	Addr  string
	Token string
	Ready func(addr string)
}

// ServeMockAuthority exposes the in-process scenario authority over REST, so that real
// clients can be exercised without the production backend.
func ServeMockAuthority(ctx context.Context, app *App, opts MockOptions) error {
	authority, err := app.MemoryAuthority()
	if err != nil {
		return err
	}
	handler := rest.NewHandler(authority,
		rest.WithRequiredToken(opts.Token),
		rest.WithHandlerLogger(app.Logger),
	)
	return listenAndServe(ctx, app, opts.Addr, handler, opts.Ready)
}

func listenAndServe(ctx context.Context, app *App, addr string, handler http.Handler, ready func(string)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	// Request contexts derive from ctx so open event streams end with it.
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverErrors := make(chan error, 1)
	go func() {
		app.Logger.Info("Listening", "addr", ln.Addr().String())
		serverErrors <- srv.Serve(ln)
	}()
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Warn("Graceful shutdown did not complete", "timeout", ShutdownTimeout, "err", err)
			return srv.Close()
		}
		app.Logger.Info("Server stopped")
		return nil
	}
}
