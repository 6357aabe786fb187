package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the audiencia banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.EnvColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{`                 _ _                  _       `, "#fbbf24"},
		{`  __ _ _   _  __| (_) ___ _ __   ___(_) __ _ `, "#f59e0b"},
		{` / _' | | | |/ _' | |/ _ \ '_ \ / __| |/ _' |`, "#d97706"},
		{`| (_| | |_| | (_| | |  __/ | | | (__| | (_| |`, "#b45309"},
		{` \__,_|\__,_|\__,_|_|\___|_| |_|\___|_|\__,_|`, "#92400e"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  "+version).Faint())
	fmt.Fprintln(w)
}
