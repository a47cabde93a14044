package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/cli/render"
	"github.com/pithecene-io/taskmanager/iox"
	"github.com/pithecene-io/taskmanager/scheduler"
	"github.com/pithecene-io/taskmanager/store"
	"github.com/pithecene-io/taskmanager/types"
	"github.com/pithecene-io/taskmanager/validation"
)

// Problem is one validation finding reported by the validate command.
type Problem struct {
	Definition string `json:"definition"`
	Task       string `json:"task,omitempty"`
	Kind       string `json:"kind"`
	Param      string `json:"param,omitempty"`
	Value      string `json:"value,omitempty"`
	Message    string `json:"message"`
}

// ValidateCommand returns the validate command.
// It checks configurations and batches without executing anything and
// exits 3 when any problem is found.
func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate configurations and batches without executing them",
		ArgsUsage: "[batch...]",
		Flags:     withConfigFlags(ReadOnlyFlags()...),
		Action:    validateAction,
	}
}

func validateAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for validate command", exitInvalidInput)
	}

	app, err := openApp(c.Context, c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(app)

	problems, err := collectProblems(c.Context, app, c.Args().Slice())
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	if err := r.Render(problems); err != nil {
		return err
	}
	if len(problems) > 0 {
		return cli.Exit("", exitInvalidInput)
	}
	return nil
}

// collectProblems validates the named batches, or every non-template
// configuration and batch when names is empty.
func collectProblems(ctx context.Context, app *App, names []string) ([]Problem, error) {
	problems := []Problem{}

	var batches []*types.Batch
	if len(names) == 0 {
		cfgs, err := app.Store.ListConfigurations(ctx)
		if err != nil {
			return nil, err
		}
		for _, cfg := range cfgs {
			if cfg.Template {
				continue
			}
			for _, e := range validation.ValidateConfiguration(app.Registry, cfg) {
				problems = append(problems, problemOf("configuration "+cfg.Name, e))
			}
		}
		all, err := app.Store.ListBatches(ctx)
		if err != nil {
			return nil, err
		}
		lookup := store.Lookup(ctx, app.Store)
		for _, b := range all {
			if owner, ok := lookup(b.Configuration); ok && owner.Template {
				continue
			}
			batches = append(batches, b)
		}
	} else {
		for _, name := range names {
			b, err := app.Store.GetBatch(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("load batch %s: %w", name, err)
			}
			batches = append(batches, b)
		}
	}

	lookup := validation.ConfigLookup(store.Lookup(ctx, app.Store))
	for _, b := range batches {
		subject := "batch " + b.Name
		if b.Frequency != "" {
			if _, err := scheduler.ParseFrequency(b.Frequency); err != nil {
				problems = append(problems, Problem{
					Definition: subject,
					Kind:       string(types.ValidationInvalidValue),
					Param:      "frequency",
					Value:      b.Frequency,
					Message:    err.Error(),
				})
			}
		}
		for _, e := range validation.ValidateBatch(app.Registry, lookup, b) {
			problems = append(problems, problemOf(subject, e))
		}
	}
	return problems, nil
}

func problemOf(definition string, e types.ValidationError) Problem {
	return Problem{
		Definition: definition,
		Task:       e.Task.String(),
		Kind:       string(e.Kind),
		Param:      e.ParamName,
		Value:      e.ParamValue,
		Message:    e.String(),
	}
}
