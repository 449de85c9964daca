package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aescanero/synthflow/internal/application/orchestrator"
	cli "github.com/urfave/cli/v3"
)

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Check a pipeline file without running it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the YAML pipeline file",
				Required: true,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return validatePipeline(command.String("file"), os.Stdout)
		},
	}
}

// validatePipeline builds every phase graph and prints its layers.
func validatePipeline(path string, w io.Writer) error {
	specs, err := loadFile(path)
	if err != nil {
		return err
	}

	tasks := orchestrator.NewTaskRegistry()
	if err := orchestrator.RegisterBuiltins(tasks); err != nil {
		return err
	}

	for _, spec := range specs {
		g, err := spec.BuildGraph(tasks)
		if err != nil {
			return fmt.Errorf("phase %s: %w", spec.Name, err)
		}
		fmt.Fprintf(w, "phase %s: %d nodes\n", g.Name(), g.Len())
		for i, layer := range g.TopologicalLayers() {
			fmt.Fprintf(w, "  layer %d: %v\n", i, layer)
		}
	}
	fmt.Fprintf(w, "%d phases valid\n", len(specs))
	return nil
}
