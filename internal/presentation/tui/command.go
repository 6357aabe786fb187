package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxInputSize bounds one line of user input.
const MaxInputSize = 256

var (
	ErrInputTooLarge  = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8    = errors.New("input contains invalid UTF-8 sequences")
	ErrUnknownCommand = errors.New("unknown command")
)

// CommandKind is what the user asked for at the prompt.
type CommandKind int

const (
	CommandNone CommandKind = iota
	// CommandChoose selects and submits the option at Index.
	CommandChoose
	CommandContinue
	CommandRefresh
	CommandStatus
	CommandHelp
	CommandQuit
)

// Command is one parsed prompt line.
type Command struct {
	Kind CommandKind
	// Index is zero based.
	Index int
}

// Help lists the prompt commands.
const Help = `Comandos:
  <n>         elegir y enviar la opción n
  c           continuar (nodos automáticos y finales)
  r           sincronizar ahora
  s           mostrar estado
  ?           ayuda
  q           salir`

// ParseCommand sanitizes line and parses it. Empty lines yield CommandNone.
func ParseCommand(line string) (Command, error) {
	clean, err := SanitizeInput(line)
	if err != nil {
		return Command{}, err
	}
	clean = strings.ToLower(strings.TrimSpace(clean))

	switch clean {
	case "":
		return Command{Kind: CommandNone}, nil
	case "c", "continue", "continuar":
		return Command{Kind: CommandContinue}, nil
	case "r", "refresh":
		return Command{Kind: CommandRefresh}, nil
	case "s", "status", "estado":
		return Command{Kind: CommandStatus}, nil
	case "?", "h", "help", "ayuda":
		return Command{Kind: CommandHelp}, nil
	case "q", "quit", "salir", "exit":
		return Command{Kind: CommandQuit}, nil
	}

	n, err := strconv.Atoi(clean)
	if err != nil || n < 1 {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, clean)
	}
	return Command{Kind: CommandChoose, Index: n - 1}, nil
}

// SanitizeInput rejects oversized or invalid UTF-8 input and strips control characters
// other than tab, so terminal escapes never reach the log or the screen.
func SanitizeInput(input string) (string, error) {
	if len(input) > MaxInputSize {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(input), MaxInputSize)
	}
	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' {
			return -1
		}
		return r
	}, input), nil
}
