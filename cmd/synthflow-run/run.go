package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aescanero/synthflow/internal/application/orchestrator"
	"github.com/aescanero/synthflow/internal/application/privacy"
	"github.com/aescanero/synthflow/internal/application/provenance"
	"github.com/aescanero/synthflow/internal/application/review"
	"github.com/aescanero/synthflow/internal/application/workers"
	"github.com/aescanero/synthflow/internal/application/workflow"
	auditmemory "github.com/aescanero/synthflow/pkg/adapters/audit/memory"
	eventsmemory "github.com/aescanero/synthflow/pkg/adapters/events/memory"
	storagememory "github.com/aescanero/synthflow/pkg/adapters/storage/memory"
	"github.com/aescanero/synthflow/pkg/domain"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// runOptions are the resolved flags of the run command.
type runOptions struct {
	File       string
	Input      string
	Capacity   int
	MaxRisk    string
	Timeout    time.Duration
	WithAudit  bool
	Reviewers  []string
	MaxPending int
}

// runOutput is what the run command prints.
type runOutput struct {
	Result *domain.JobResult    `json:"result"`
	Audit  []domain.AuditRecord `json:"audit,omitempty"`
}

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Execute every phase of a pipeline file and print the result",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the YAML pipeline file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "input",
				Usage: "Initial job state as a JSON object",
				Value: "{}",
			},
			&cli.IntFlag{
				Name:    "capacity",
				Usage:   "Number of concurrent execution slots",
				Value:   4,
				Sources: cli.EnvVars("SCHEDULER_CAPACITY"),
			},
			&cli.StringFlag{
				Name:    "max-risk",
				Usage:   "Highest accepted privacy risk (LOW, MEDIUM)",
				Value:   "MEDIUM",
				Sources: cli.EnvVars("PRIVACY_MAX_ACCEPTED_RISK"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Job execution timeout (0 disables it)",
				Value: 0,
			},
			&cli.BoolFlag{
				Name:  "audit",
				Usage: "Include the audit trail in the output",
			},
			&cli.StringSliceFlag{
				Name:  "reviewer",
				Usage: "Reviewer assigned to review requests (repeatable)",
				Value: []string{"local"},
			},
			&cli.IntFlag{
				Name:  "max-pending-reviews",
				Usage: "Pending review cap (0 disables it)",
				Value: 20,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger, err := newLogger(command.String("log-level"))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			result, err := runPipeline(ctx, runOptions{
				File:       command.String("file"),
				Input:      command.String("input"),
				Capacity:   int(command.Int("capacity")),
				MaxRisk:    command.String("max-risk"),
				Timeout:    command.Duration("timeout"),
				WithAudit:  command.Bool("audit"),
				Reviewers:  command.StringSlice("reviewer"),
				MaxPending: int(command.Int("max-pending-reviews")),
			}, logger, os.Stdout)
			if err != nil {
				return err
			}
			if result.Status != domain.JobStatusCompleted {
				return fmt.Errorf("job %s: %s", result.Status, result.Error)
			}
			return nil
		},
	}
}

// runPipeline executes the pipeline file on an in-memory engine and writes
// the result to w.
func runPipeline(ctx context.Context, opts runOptions, logger *zap.Logger, w io.Writer) (*domain.JobResult, error) {
	specs, err := loadFile(opts.File)
	if err != nil {
		return nil, err
	}

	input := map[string]any{}
	if opts.Input != "" {
		if err := json.Unmarshal([]byte(opts.Input), &input); err != nil {
			return nil, fmt.Errorf("invalid input JSON: %w", err)
		}
	}

	maxRisk, err := privacy.ParseRiskLevel(opts.MaxRisk)
	if err != nil {
		return nil, err
	}

	tasks := orchestrator.NewTaskRegistry()
	if err := orchestrator.RegisterBuiltins(tasks); err != nil {
		return nil, err
	}

	bus := eventsmemory.NewEventBus(logger)
	defer func() { _ = bus.Close() }()

	ledger := provenance.NewLedger(auditmemory.NewAuditStore(), logger)
	manager := orchestrator.NewManager(
		workers.NewController(opts.Capacity, nil, logger),
		ledger,
		privacy.NewGate(nil, maxRisk, nil, logger),
		review.NewQueue(opts.MaxPending, 0, opts.Reviewers, review.WithLogger(logger)),
		tasks,
		bus,
		storagememory.NewJobStore(),
		nil,
		logger,
		opts.Timeout,
	)
	defer func() { _ = manager.Shutdown(context.Background()) }()

	jobID, err := manager.Submit(ctx, specs, input)
	if err != nil {
		return nil, err
	}

	result, err := manager.Wait(ctx, jobID)
	if err != nil {
		return nil, err
	}

	out := runOutput{Result: result}
	if opts.WithAudit {
		out.Audit = ledger.Records(jobID)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("failed to write result: %w", err)
	}
	return result, nil
}

func loadFile(path string) ([]workflow.GraphSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pipeline file: %w", err)
	}
	defer f.Close()

	return workflow.LoadSpecs(f)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
