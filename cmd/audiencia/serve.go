package main

import (
	"fmt"

	"github.com/aretw0/audiencia/internal/cli"
	"github.com/spf13/cobra"
)

func newServeCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the client behind a local HTTP bridge",
		Long: `Starts the client and exposes it over HTTP for a local UI: JSON endpoints to join,
confirm and answer, a server-sent event stream, and Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = e.app.Config.Server.Addr
			}
			code, _ := cmd.Flags().GetString("join")
			out := cmd.OutOrStdout()
			return cli.Serve(cmd.Context(), e.app, cli.ServeOptions{
				Addr: addr,
				Code: code,
				Ready: func(bound string) {
					fmt.Fprintf(out, "Serving audiencia bridge on http://%s\n", bound)
				},
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from server.addr)")
	cmd.Flags().String("join", "", "join and confirm this session code at startup")
	return cmd
}

func newMockAuthorityCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-authority",
		Short: "Serve the built-in scenario as a REST session authority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			token, _ := cmd.Flags().GetString("token")
			out := cmd.OutOrStdout()
			return cli.ServeMockAuthority(cmd.Context(), e.app, cli.MockOptions{
				Addr:  addr,
				Token: token,
				Ready: func(bound string) {
					fmt.Fprintf(out, "Mock authority on http://%s/v1\n", bound)
				},
			})
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8687", "listen address")
	cmd.Flags().String("token", "", "bearer token clients must present")
	return cmd
}
