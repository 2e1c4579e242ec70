package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/skiffcloud/skiff/internal/ui"
)

// Status handles the status command. It renders the persisted resource set
// without touching the remote control plane; the state file is a claim about
// what exists, refreshed only by create and destroy runs.
func Status(_ context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store := newStore(cfg.StatePath())
	resources, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	fmt.Println(ui.TitleStyle.Render(fmt.Sprintf("skiff status: %s", cfg.AppName)))

	if resources.Empty() {
		fmt.Println(ui.DimStyle.Render("No provisioned resources."))
		return nil
	}

	row := func(name, value string) {
		if value == "" {
			value = ui.DimStyle.Render("-")
		}
		fmt.Printf("  %s %s\n", ui.NameStyle.Render(fmt.Sprintf("%-18s", name)), value)
	}

	fmt.Println(ui.SectionStyle.Render("Run"))
	row("run id", resources.RunID)
	row("region", resources.Region)

	fmt.Println(ui.SectionStyle.Render("Network"))
	row("vpc", resources.VPCID)
	row("subnets", strings.Join(resources.SubnetIDs, ", "))
	row("route table", resources.RouteTableID)
	row("gateway", resources.InternetGatewayID)
	row("security groups", strings.Join(resources.SecurityGroupIDs, ", "))

	fmt.Println(ui.SectionStyle.Render("Compute"))
	row("instance", resources.InstanceID)
	row("instance profile", resources.InstanceProfile)
	row("key pair", resources.KeyPairName)
	row("private key", resources.PrivateKeyPath)

	fmt.Println(ui.SectionStyle.Render("Load balancer"))
	row("load balancer", resources.LoadBalancerARN)
	row("target group", resources.TargetGroupARN)

	return nil
}
