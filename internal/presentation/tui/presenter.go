package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/audiencia/pkg/dialogue"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// TerminalWidth returns the width of f, or 0 when unknown.
func TerminalWidth(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return w
}

// Presenter prints dialogue statuses for a human at a terminal.
type Presenter struct {
	mu       sync.Mutex
	out      *termenv.Output
	plain    bool
	render   func(string) (string, error)
	lastNode int64
	last     dialogue.State
}

// PresenterOption configures a Presenter.
type PresenterOption func(*Presenter)

// WithMarkdown renders node bodies with render.
func WithMarkdown(render func(string) (string, error)) PresenterOption {
	return func(p *Presenter) {
		p.render = render
	}
}

// WithPlain disables colors.
func WithPlain() PresenterOption {
	return func(p *Presenter) {
		p.plain = true
	}
}

// NewPresenter writes to w, colored according to the environment.
func NewPresenter(w io.Writer, opts ...PresenterOption) *Presenter {
	p := &Presenter{last: -1}
	for _, opt := range opts {
		opt(p)
	}
	if p.plain {
		p.out = termenv.NewOutput(w, termenv.WithProfile(termenv.Ascii))
	} else {
		p.out = termenv.NewOutput(w)
	}
	return p
}

// Show prints st. It is meant for dialogue.WithPresenter and prints only what changed:
// a node header when the node changes, then the state line.
func (p *Presenter) Show(st dialogue.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st.Node != nil && st.Node.ID != p.lastNode {
		p.lastNode = st.Node.ID
		p.printNode(st)
	}
	if st.State == p.last && st.State != dialogue.StateMyTurn {
		return
	}
	p.last = st.State

	switch st.State {
	case dialogue.StateInactive:
		p.lastNode = 0
		fmt.Fprintln(p.out, p.out.String("El diálogo no está activo.").Faint())
	case dialogue.StateWaitingTurn:
		msg := "Esperando turno"
		if st.SpeakingRole != "" {
			msg += " (habla " + st.SpeakingRole + ")"
		}
		if st.AwaitingRefresh {
			msg += ", sincronizando"
		}
		fmt.Fprintln(p.out, p.out.String(msg+"...").Faint())
	case dialogue.StateMyTurn:
		p.printOptions(st)
	case dialogue.StateSubmitted:
		fmt.Fprintln(p.out, p.out.String("Enviando respuesta...").Faint())
	}
}

func (p *Presenter) printNode(st dialogue.Status) {
	n := st.Node
	title := n.Title
	if title == "" {
		title = fmt.Sprintf("Nodo %d", n.ID)
	}
	header := p.out.String(title).Bold()
	if n.Role != "" {
		header = p.out.String(fmt.Sprintf("%s · %s", title, n.Role)).Bold()
	}
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, header)
	if st.Progress > 0 {
		fmt.Fprintln(p.out, p.out.String(fmt.Sprintf("%s  %.0f%%", st.Estado, st.Progress)).Faint())
	}

	body := n.Body
	if p.render != nil && body != "" {
		if rendered, err := p.render(body); err == nil {
			body = rendered
		}
	}
	if body = strings.TrimSpace(body); body != "" {
		fmt.Fprintln(p.out, body)
	}
}

func (p *Presenter) printOptions(st dialogue.Status) {
	if st.CanAdvance() || (len(st.Options) == 1 && st.Options[0].ID == domain.ContinueOptionID) {
		fmt.Fprintln(p.out, p.out.String("Tu turno: escribe c para continuar.").Foreground(p.out.Color("#fbbf24")))
		return
	}
	fmt.Fprintln(p.out, p.out.String("Tu turno:").Foreground(p.out.Color("#fbbf24")))
	for i, opt := range st.Options {
		marker := " "
		if i == st.Selected {
			marker = ">"
		}
		fmt.Fprintf(p.out, " %s %d) %s\n", marker, i+1, opt.Label)
	}
}

// Notice prints an out-of-band message such as a rejected command.
func (p *Presenter) Notice(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.out.String(fmt.Sprintf(format, args...)).Foreground(p.out.Color("#f87171")))
}
