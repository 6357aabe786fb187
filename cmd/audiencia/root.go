package main

import (
	"fmt"

	"github.com/aretw0/audiencia/internal/cli"
	"github.com/aretw0/audiencia/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// env carries what the persistent pre-run built for the subcommands.
type env struct {
	v   *viper.Viper
	app *cli.App
}

func newRootCmd() *cobra.Command {
	e := &env{v: viper.New()}

	root := &cobra.Command{
		Use:   "audiencia",
		Short: "Client for role-played courtroom hearings",
		Long: `audiencia joins a hearing by code, keeps its state in sync with the session
authority and walks the dialogue whenever it is your role's turn to speak.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			if err := config.Init(e.v, cfgFile); err != nil {
				return err
			}
			cfg, err := config.Load(e.v)
			if err != nil {
				return err
			}
			app, err := cli.NewApp(cfg)
			if err != nil {
				return err
			}
			e.app = app
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if e.app == nil {
				return nil
			}
			return e.app.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", fmt.Sprintf("config file (default is %s/config.yaml)", config.ConfigDir()))
	pf.Int64P("user", "u", 0, "local user id")
	pf.String("authority", "", "session authority base URL (empty uses the built-in scenario)")
	pf.String("scenario", "", "scenario file for the built-in authority")
	pf.String("store", "", "snapshot store: memory, file or redis")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	_ = e.v.BindPFlag("client.user_id", pf.Lookup("user"))
	_ = e.v.BindPFlag("authority.url", pf.Lookup("authority"))
	_ = e.v.BindPFlag("authority.scenario", pf.Lookup("scenario"))
	_ = e.v.BindPFlag("store.kind", pf.Lookup("store"))
	_ = e.v.BindPFlag("logging.level", pf.Lookup("log-level"))

	root.AddCommand(
		newJoinCmd(e),
		newServeCmd(e),
		newMockAuthorityCmd(e),
		newSnapshotCmd(e),
		newVersionCmd(),
	)
	return root
}
