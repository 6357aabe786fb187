package main

import (
	"os"

	"github.com/aretw0/audiencia"
	"github.com/aretw0/audiencia/internal/cli"
	"github.com/aretw0/audiencia/internal/presentation/tui"
	"github.com/spf13/cobra"
)

func newJoinCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join [code]",
		Short: "Join a hearing and play your role interactively",
		Long: `Joins the hearing with the given code, or resumes the session you are already
assigned to when no code is given. Type an option number to answer, c to continue.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.JoinOptions{}
			if len(args) == 1 {
				opts.Code = args[0]
			}
			opts.AutoConfirm, _ = cmd.Flags().GetBool("yes")
			plain, _ := cmd.Flags().GetBool("plain")

			out := cmd.OutOrStdout()
			tty := out == os.Stdout && tui.IsTerminal(os.Stdout)
			opts.Plain = plain || !tty
			opts.Markdown = tty && !plain
			if tty {
				opts.Width = tui.TerminalWidth(os.Stdout)
				tui.PrintBanner(out, audiencia.Version)
			}
			return cli.RunJoin(cmd.Context(), e.app, opts, cmd.InOrStdin(), out)
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "accept the assigned role without asking")
	cmd.Flags().Bool("plain", false, "disable colors and markdown rendering")
	return cmd
}
