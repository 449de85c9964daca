// Command synthflow-run executes a pipeline file once, in process, and
// prints the job result as JSON.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

// Version is set by build flags
var Version = "dev"

func main() {
	cmd := &cli.Command{
		Name:                  "synthflow-run",
		Usage:                 "Run a synthflow pipeline file locally",
		Version:               Version,
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			newRunCommand(),
			newValidateCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
