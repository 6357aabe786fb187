package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/audiencia"
	"github.com/aretw0/audiencia/internal/presentation/tui"
	"github.com/aretw0/audiencia/pkg/domain"
)

// ErrRoleRejected is returned when the user declines the assigned role.
var ErrRoleRejected = errors.New("role rejected")

// JoinOptions configures an interactive session.
type JoinOptions struct {
	// Code joins by session code. Empty resumes the active session of the user.
	Code string
	// AutoConfirm accepts the assigned role without asking.
	AutoConfirm bool
	Plain       bool
	Markdown    bool
	Width       int
}

// RunJoin joins a session and drives it from the lines read from in until the user
// quits, in reaches EOF, or ctx ends.
func RunJoin(ctx context.Context, app *App, opts JoinOptions, in io.Reader, out io.Writer) error {
	if err := app.Ping(ctx); err != nil {
		return err
	}
	authority, err := app.Authority()
	if err != nil {
		return err
	}

	var popts []tui.PresenterOption
	if opts.Plain {
		popts = append(popts, tui.WithPlain())
	}
	if opts.Markdown {
		popts = append(popts, tui.WithMarkdown(tui.NewRenderer(opts.Width)))
	}
	presenter := tui.NewPresenter(out, popts...)

	client, err := app.NewClient(authority, audiencia.WithPresenter(presenter.Show))
	if err != nil {
		return err
	}
	client.Start(ctx)
	defer client.Close()

	var (
		s  *domain.Session
		as *domain.RoleAssignment
	)
	if opts.Code != "" {
		s, as, err = client.Join(ctx, opts.Code)
	} else {
		s, as, err = client.Resume(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sesión %s: %s\n", s.Code, s.Name)
	fmt.Fprintf(out, "Rol asignado: %s\n", as.RoleName)

	lines := readLines(ctx, in)

	if !opts.AutoConfirm {
		fmt.Fprint(out, "¿Aceptar el rol? [s/n] ")
		answer, ok := <-lines
		if !ok || !isYes(answer) {
			client.Reject()
			return ErrRoleRejected
		}
	}
	if _, err := client.Confirm(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, tui.Help)

	for {
		select {
		case <-ctx.Done():
			client.Leave()
			return nil
		case line, ok := <-lines:
			if !ok {
				client.Leave()
				return nil
			}
			quit := dispatch(ctx, client, presenter, out, line)
			if quit {
				client.Leave()
				return nil
			}
		}
	}
}

func dispatch(ctx context.Context, client *audiencia.Client, presenter *tui.Presenter, out io.Writer, line string) bool {
	cmd, err := tui.ParseCommand(line)
	if err != nil {
		presenter.Notice("%v", err)
		return false
	}

	switch cmd.Kind {
	case tui.CommandQuit:
		return true
	case tui.CommandHelp:
		fmt.Fprintln(out, tui.Help)
	case tui.CommandRefresh:
		client.Refresh()
	case tui.CommandStatus:
		st := client.Status()
		node := int64(0)
		if st.Node != nil {
			node = st.Node.ID
		}
		role, presence := client.Presence()
		fmt.Fprintf(out, "estado=%s nodo=%d rol=%s habla=%s presencia=%s/%s\n",
			st.State, node, st.Role, st.SpeakingRole, role, presence)
	case tui.CommandContinue:
		err = client.Advance(ctx)
	case tui.CommandChoose:
		if err = client.Select(cmd.Index); err == nil {
			err = client.Submit(ctx)
		}
	}
	if err != nil {
		presenter.Notice("%v", err)
	}
	return false
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "si", "sí", "y", "yes":
		return true
	}
	return false
}

// readLines feeds in line by line until EOF. The goroutine may outlive ctx while blocked
// on a read; it exits at the next line or at EOF.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
