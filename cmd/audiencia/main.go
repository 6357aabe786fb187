// Command audiencia is the participant client for role-played courtroom hearings.
package main

import (
	"context"
	"os"

	"github.com/aretw0/audiencia/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := cli.NewSignalContext(context.Background())
	defer ctx.Cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
