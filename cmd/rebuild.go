package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/aelpxy/vaultkeep/internal/rebuild"
	"github.com/aelpxy/vaultkeep/internal/runtime"
	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/spf13/cobra"
)

var rebuildYes bool

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <archive>",
	Short: "Rebuild the deployment on a fresh host",
	Long:  "Check the host, provision the container engine if needed, restore the archive, confirm DNS cutover and bring the service up",
	Args:  cobra.ExactArgs(1),
	Run:   runRebuild,
}

func runRebuild(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	e := mustSetup(ctx)
	defer e.close()
	cfg := e.cfg

	d := rebuild.Deps{
		Config:      cfg,
		Restorer:    newRestorer(e),
		Provisioner: provisioner(ctx, cfg.Rebuild.ProvisionCommand),
		Confirm:     confirm,
		Logger:      e.logger,
		Progress:    func(s string) { step(s) },
	}
	if e.docker != nil {
		d.Ports = e.docker
		d.Versioner = e.docker
	}
	switch {
	case len(cfg.Rebuild.DeployCommand) > 0:
		d.Deployer = &rebuild.Command{Argv: cfg.Rebuild.DeployCommand, Dir: cfg.Service.ConfigDir}
	case e.docker != nil:
		d.Deployer = &rebuild.ContainerDeployer{Client: e.docker, Container: cfg.Service.Container}
	default:
		fatal("cannot bring services up", fmt.Errorf("no container engine and no rebuild.deploy_command"))
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("==> rebuilding from %s", args[0])))
	fmt.Println()

	out, err := rebuild.NewCoordinator(d).Rebuild(ctx, args[0], rebuild.Options{Yes: rebuildYes})
	fmt.Println()

	fmt.Println(labelStyle.Render("  preflight:"))
	for _, c := range out.Preflight {
		fmt.Printf("    %s %s %s\n", statusText(c.Status), valueStyle.Render(c.Name), dimStyle.Render(c.Detail))
	}
	fmt.Println()
	if out.Plan != nil {
		printPlan(out.Plan)
	}

	switch out.ExitCode() {
	case models.ExitOK:
		done(fmt.Sprintf("service is up and healthy at %s", out.HealthURL))
	case models.ExitWarning:
		warnLine("service is up but did not pass the health check")
		fmt.Println(dimStyle.Render("    " + out.Error))
	default:
		errLine(fmt.Sprintf("rebuild failed: %v", err))
	}
	fmt.Println()
	os.Exit(out.ExitCode())
}

// provisioner starts an inactive podman socket, or runs the configured
// installer when no engine is present at all.
func provisioner(ctx context.Context, argv []string) rebuild.Provisioner {
	if info, err := runtime.DetectRuntime(ctx); err == nil && !info.ServiceActive && info.Type == runtime.RuntimePodman {
		return &rebuild.DaemonProvisioner{Manager: runtime.NewDaemonManager(info)}
	}
	if len(argv) > 0 {
		return &rebuild.Command{Argv: argv}
	}
	return nil
}

func init() {
	rebuildCmd.Flags().BoolVarP(&rebuildYes, "yes", "y", false, "skip the DNS cutover confirmation")
	rootCmd.AddCommand(rebuildCmd)
}
