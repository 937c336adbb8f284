// Package main runs the tsumo CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/tsumo/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "tsumo:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
