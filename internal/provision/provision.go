// Package provision prepares a cluster before data flows: the ingest
// pipeline, the index template and, when configured, the dashboards.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/telhawk-systems/homehawk/internal/dashboards"
	"github.com/telhawk-systems/homehawk/internal/logging"
	"github.com/telhawk-systems/homehawk/internal/savedobjects"
)

// Step names as reported in Result.
const (
	StepPipeline   = "pipeline"
	StepTemplate   = "template"
	StepDashboards = "dashboards"
)

// IndexManager creates the pipeline and the template.
type IndexManager interface {
	EnsurePipeline(ctx context.Context) error
	EnsureTemplate(ctx context.Context) error
}

// DashboardImporter uploads saved objects.
type DashboardImporter interface {
	Import(ctx context.Context, ndjson []byte, overwrite bool) (*dashboards.ImportResult, error)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string `json:"name"`
	Skipped  bool   `json:"skipped,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Result lists the steps in execution order.
type Result struct {
	Steps []StepResult `json:"steps"`
}

// Step returns the named step, if it ran.
func (r *Result) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Config controls retries and the dashboard template.
type Config struct {
	// Prefix names the deployment; dashboards are rewritten under it.
	Prefix          string
	TemplateFile    string
	MaxRetries      uint64
	InitialInterval time.Duration
}

// Provisioner runs the setup steps. Dashboards may be nil when no endpoint is
// configured.
type Provisioner struct {
	cfg        Config
	indices    IndexManager
	dashboards DashboardImporter
	logger     *slog.Logger
}

func New(cfg Config, indices IndexManager, dash DashboardImporter, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		cfg:        cfg,
		indices:    indices,
		dashboards: dash,
		logger:     logging.OrDefault(logger),
	}
}

// Run executes the three steps. A pipeline or template failure is returned;
// a dashboards failure is only logged and recorded in the result.
func (p *Provisioner) Run(ctx context.Context) (*Result, error) {
	res := &Result{}

	step := p.retry(ctx, StepPipeline, p.indices.EnsurePipeline)
	res.Steps = append(res.Steps, step)
	if step.Error != "" {
		return res, fmt.Errorf("provision %s: %s", StepPipeline, step.Error)
	}

	step = p.retry(ctx, StepTemplate, p.indices.EnsureTemplate)
	res.Steps = append(res.Steps, step)
	if step.Error != "" {
		return res, fmt.Errorf("provision %s: %s", StepTemplate, step.Error)
	}

	step = p.importDashboards(ctx)
	res.Steps = append(res.Steps, step)
	if step.Error != "" {
		p.logger.WarnContext(ctx, "dashboard import failed, continuing", slog.String("error", step.Error))
	}
	return res, nil
}

func (p *Provisioner) importDashboards(ctx context.Context) StepResult {
	if p.dashboards == nil {
		p.logger.InfoContext(ctx, "no dashboards endpoint configured, skipping dashboard import")
		return StepResult{Name: StepDashboards, Skipped: true}
	}

	f, err := os.Open(p.cfg.TemplateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.logger.WarnContext(ctx, "dashboard template not found, skipping dashboard import", logging.File(p.cfg.TemplateFile))
			return StepResult{Name: StepDashboards, Skipped: true}
		}
		return StepResult{Name: StepDashboards, Error: err.Error()}
	}
	defer f.Close()

	graph, err := savedobjects.Decode(f)
	if err != nil {
		return StepResult{Name: StepDashboards, Error: err.Error()}
	}
	rewritten := savedobjects.Rewrite(graph, p.cfg.Prefix)
	if dangling := rewritten.Dangling(); len(dangling) > 0 {
		p.logger.WarnContext(ctx, "dashboard template references objects it does not contain",
			logging.File(p.cfg.TemplateFile), logging.Count(len(dangling)), slog.String("first", dangling[0].Type+"/"+dangling[0].ID))
	}
	payload, err := rewritten.Bytes()
	if err != nil {
		return StepResult{Name: StepDashboards, Error: err.Error()}
	}

	return p.retry(ctx, StepDashboards, func(ctx context.Context) error {
		out, err := p.dashboards.Import(ctx, payload, true)
		if err != nil {
			return err
		}
		if !out.Success {
			// Object-level failures will not go away on retry.
			return backoff.Permanent(fmt.Errorf("%d objects failed to import: %s", len(out.Errors), describe(out.Errors)))
		}
		p.logger.InfoContext(ctx, "dashboards imported", logging.Count(out.SuccessCount), slog.String("prefix", p.cfg.Prefix))
		return nil
	})
}

func (p *Provisioner) retry(ctx context.Context, name string, op func(context.Context) error) StepResult {
	res := StepResult{Name: name}

	b := backoff.NewExponentialBackOff()
	if p.cfg.InitialInterval > 0 {
		b.InitialInterval = p.cfg.InitialInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, p.cfg.MaxRetries), ctx)

	err := backoff.RetryNotify(func() error {
		res.Attempts++
		return op(ctx)
	}, policy, func(err error, wait time.Duration) {
		p.logger.WarnContext(ctx, "provisioning step failed, retrying",
			slog.String("step", name),
			slog.Int("attempt", res.Attempts),
			slog.Duration("wait", wait),
			logging.Error(err))
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}

	p.logger.InfoContext(ctx, "provisioning step done", slog.String("step", name), slog.Int("attempts", res.Attempts))
	return res
}

func describe(errs []dashboards.ImportError) string {
	const maxShown = 3
	s := ""
	for i, e := range errs {
		if i == maxShown {
			s += fmt.Sprintf(", and %d more", len(errs)-maxShown)
			break
		}
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s/%s (%s)", e.Type, e.ID, e.Error.Type)
	}
	return s
}
