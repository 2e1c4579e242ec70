package handlers

import (
	"context"
	"fmt"

	"github.com/skiffcloud/skiff/internal/provisioning"
	"github.com/skiffcloud/skiff/internal/ui"
)

// Destroy handles the destroy command.
//
// Teardown is best-effort: every recorded resource is attempted even when an
// earlier deletion fails, and the failures are aggregated into one warning
// instead of aborting. The command still succeeds in that case; stranded
// resources are surfaced, not hidden.
func Destroy(ctx context.Context, configPath string, yes bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store := newStore(cfg.StatePath())
	resources, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if resources.Empty() {
		fmt.Println("Nothing to destroy.")
		return nil
	}

	if !yes {
		confirmed, err := confirmPrompt(ctx,
			fmt.Sprintf("Destroy environment %q in %s?", cfg.AppName, cfg.Region),
			describeResources(resources))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Aborted.")
			return nil
		}
	}

	clients, err := newAWSClients(ctx, cfg)
	if err != nil {
		return err
	}

	pCtx := provisioning.NewContext(ctx, cfg, resources, store)
	runner := provisioning.NewRunner(buildStages(clients))

	failures := runner.Destroy(pCtx)
	if len(failures) > 0 {
		fmt.Println(ui.WarnStyle.Render(fmt.Sprintf(
			"\nWarning: %d resource(s) could not be removed and may be stranded:", len(failures))))
		for _, failure := range failures {
			fmt.Printf("  %s %s: %v\n", ui.FailStyle.Render("✗"), failure.Stage, failure.Err)
		}
		fmt.Println(ui.DimStyle.Render("Remove these manually in the console, then re-run 'skiff destroy' if needed."))
		return nil
	}

	fmt.Println(ui.ValueStyle.Render("Environment destroyed."))
	return nil
}

// describeResources summarizes what a destroy run will remove.
func describeResources(rs *provisioning.ResourceSet) string {
	summary := fmt.Sprintf("run %s:", rs.RunID)
	if rs.InstanceID != "" {
		summary += fmt.Sprintf(" instance %s,", rs.InstanceID)
	}
	if rs.LoadBalancerARN != "" {
		summary += " load balancer,"
	}
	if rs.VPCID != "" {
		summary += fmt.Sprintf(" VPC %s with %d subnet(s),", rs.VPCID, len(rs.SubnetIDs))
	}
	if len(rs.SecurityGroupIDs) > 0 {
		summary += fmt.Sprintf(" %d security group(s),", len(rs.SecurityGroupIDs))
	}
	if rs.InstanceProfile != "" {
		summary += " instance profile,"
	}
	return summary[:len(summary)-1]
}
