// Package postboot performs the one-time management setup of the primary
// once it is ready.
package postboot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/stackup/pkg/events"
	"github.com/cuemby/stackup/pkg/log"
	"github.com/cuemby/stackup/pkg/metrics"
	"github.com/cuemby/stackup/pkg/types"
)

// ProjectSpec is a project to ensure together with its repositories
type ProjectSpec struct {
	Project      Project
	Repositories []Repository
}

// API is the management surface the configurator calls
type API interface {
	CreateProject(ctx context.Context, project Project) error
	CreateRepository(ctx context.Context, projectKey string, repo Repository) error
}

// StepResult is the outcome of one create-or-noop call
type StepResult struct {
	Step    string
	Created bool
	Err     error
}

// Configurator runs a fixed sequence of ensure calls
type Configurator struct {
	api      API
	projects []ProjectSpec
	events   events.Publisher
	logger   zerolog.Logger
}

// NewConfigurator creates a configurator. publisher may be nil.
func NewConfigurator(api API, projects []ProjectSpec, publisher events.Publisher) *Configurator {
	return &Configurator{
		api:      api,
		projects: projects,
		events:   publisher,
		logger:   log.WithComponent("postboot"),
	}
}

// Run ensures every project and repository exists, in declaration order.
// A call answered with "already exists" counts as success. Failures are
// returned as warnings and never stop later steps, except that repositories
// of a project that could not be ensured are skipped.
func (c *Configurator) Run(ctx context.Context) ([]StepResult, []*types.PostBootstrapWarning) {
	var results []StepResult
	var warnings []*types.PostBootstrapWarning

	record := func(r StepResult) {
		results = append(results, r)
		outcome := "created"
		switch {
		case r.Err != nil:
			outcome = "failed"
			warnings = append(warnings, &types.PostBootstrapWarning{Step: r.Step, Cause: r.Err})
			c.logger.Warn().Str("step", r.Step).Err(r.Err).Msg("Post-bootstrap step failed")
		case !r.Created:
			outcome = "exists"
			c.logger.Info().Str("step", r.Step).Msg("Already exists")
		default:
			c.logger.Info().Str("step", r.Step).Msg("Created")
		}
		metrics.PostBootstrapSteps.WithLabelValues(r.Step, outcome).Inc()
		if c.events != nil {
			c.events.Publish(&events.Event{
				Type:     events.EventPostBootstrap,
				Message:  r.Step,
				Metadata: map[string]string{"result": outcome},
			})
		}
	}

	for _, p := range c.projects {
		step := fmt.Sprintf("ensure project %s", p.Project.Key)
		created, err := ensure(c.api.CreateProject(ctx, p.Project))
		record(StepResult{Step: step, Created: created, Err: err})

		for _, repo := range p.Repositories {
			repoStep := fmt.Sprintf("ensure repository %s/%s", p.Project.Key, repo.Name)
			if err != nil {
				record(StepResult{Step: repoStep, Err: fmt.Errorf("project %s not ensured", p.Project.Key)})
				continue
			}
			created, rerr := ensure(c.api.CreateRepository(ctx, p.Project.Key, repo))
			record(StepResult{Step: repoStep, Created: created, Err: rerr})
		}
	}

	return results, warnings
}

// ensure folds an "already exists" error into success
func ensure(err error) (created bool, _ error) {
	if err == nil {
		return true, nil
	}
	if IsAlreadyExists(err) {
		return false, nil
	}
	return false, err
}
