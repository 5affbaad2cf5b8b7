// Package rebuild stands a vault back up on a fresh host from one archive.
package rebuild

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/aelpxy/vaultkeep/internal/restore"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/charmbracelet/log"
)

const (
	StepPreflight = "preflight"
	StepProvision = "provision"
	StepRestore   = "restore"
	StepCutover   = "cutover"
	StepDeploy    = "deploy"
	StepHealth    = "health"
)

type RestoreRunner interface {
	Restore(ctx context.Context, archivePath string, target models.RestoreTarget, opts restore.Options) (*models.RestorePlan, error)
}

type Options struct {
	// Yes skips the DNS cutover confirmation.
	Yes bool
}

// Deps are the collaborators of a Coordinator. Provisioner, Ports and
// Versioner may be nil.
type Deps struct {
	Config      *config.Config
	Restorer    RestoreRunner
	Provisioner Provisioner
	Deployer    Deployer
	Ports       PortResolver
	Versioner   Versioner
	// Confirm asks the operator a yes/no question.
	Confirm    func(message string) (bool, error)
	HTTPClient *http.Client
	Logger     *log.Logger
	Progress   func(step string)
	// Facts overrides host measurement.
	Facts func(ctx context.Context) Facts
}

type Coordinator struct {
	Deps
}

func NewCoordinator(d Deps) *Coordinator {
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if d.Progress == nil {
		d.Progress = func(string) {}
	}
	if d.Confirm == nil {
		d.Confirm = func(string) (bool, error) { return false, fmt.Errorf("no confirmation available; pass --yes") }
	}
	if d.Facts == nil {
		d.Facts = func(ctx context.Context) Facts {
			return GatherFacts(ctx, d.Config.Service.DataDir, d.Versioner)
		}
	}
	return &Coordinator{Deps: d}
}

// Rebuild runs preflight, provisioning, restore, cutover, deploy and the
// health probe in order. The outcome is never nil.
func (c *Coordinator) Rebuild(ctx context.Context, archivePath string, opts Options) (*models.RebuildOutcome, error) {
	out := &models.RebuildOutcome{}
	fail := func(err error) (*models.RebuildOutcome, error) {
		out.Error = err.Error()
		return out, err
	}
	cfg := c.Config

	c.Progress(StepPreflight)
	out.Preflight = Preflight(c.Facts(ctx), cfg.Rebuild)
	engine := true
	for _, check := range out.Preflight {
		switch {
		case check.Name == CheckDocker && check.Status == models.CheckFail:
			engine = false
		case check.Status != models.CheckPass:
			c.Logger.Warn("preflight", "check", check.Name, "detail", check.Detail)
		}
	}

	if !engine {
		if c.Provisioner == nil {
			return fail(models.Precondition("no container engine reachable and no provisioner configured"))
		}
		c.Progress(StepProvision)
		if err := c.Provisioner.Provision(ctx); err != nil {
			return fail(fmt.Errorf("provisioning failed: %w", err))
		}
		out.Provisioned = true
	}

	c.Progress(StepRestore)
	plan, err := c.Restorer.Restore(ctx, archivePath, restore.TargetFromConfig(cfg), restore.Options{StopService: true})
	out.Plan = plan
	if err != nil {
		return fail(err)
	}

	c.Progress(StepCutover)
	if !opts.Yes {
		ok, err := c.Confirm("Data is restored. Has DNS been pointed at this host?")
		if err != nil {
			return fail(err)
		}
		if !ok {
			return fail(models.Precondition("cutover not confirmed; the restored data is in place, start the service once DNS is updated"))
		}
	}
	out.CutoverDone = true

	c.Progress(StepDeploy)
	if err := c.Deployer.Deploy(ctx); err != nil {
		return fail(fmt.Errorf("failed to bring services up: %w", err))
	}
	out.ServicesUp = true

	c.Progress(StepHealth)
	url, err := ResolveHealthURL(ctx, cfg.Service.HealthURL, c.Ports, cfg.Service.Container, cfg.Service.HealthPort)
	if err != nil {
		// up but unverified is a degraded outcome, not a failed one
		c.Logger.Warn("health URL unavailable", "err", err)
		out.Error = err.Error()
		return out, nil
	}
	out.HealthURL = url
	if err := Probe(ctx, c.HTTPClient, url, cfg.Rebuild.HealthRetries, cfg.Rebuild.HealthInterval); err != nil {
		c.Logger.Warn("service unhealthy", "url", url, "err", err)
		out.Error = err.Error()
		return out, nil
	}
	out.Healthy = true
	c.Logger.Info("rebuild complete", "health_url", url)
	return out, nil
}
