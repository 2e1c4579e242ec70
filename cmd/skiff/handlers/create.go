package handlers

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/skiffcloud/skiff/internal/config"
	"github.com/skiffcloud/skiff/internal/provisioning"
	"github.com/skiffcloud/skiff/internal/ui"
)

const createNewVPCOption = "Create a new VPC"

// Create handles the create command.
//
// It loads the configuration, resolves the caller's account for the
// confirmation prompt, and drives the full stage sequence. A declined
// confirmation is a normal exit, not an error.
func Create(ctx context.Context, configPath string, yes bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store := newStore(cfg.StatePath())
	existing, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to read existing state: %w", err)
	}
	if !existing.Empty() {
		return fmt.Errorf("environment %s already has provisioned resources (run %s); run 'skiff destroy' first",
			cfg.AppName, existing.RunID)
	}

	clients, err := newAWSClients(ctx, cfg)
	if err != nil {
		return err
	}

	account := "unknown"
	if identity, err := lookupCallerIdentity(ctx, clients.STS); err == nil {
		account = fmt.Sprintf("%s (%s)", identity.Account, identity.ARN)
	} else {
		fmt.Println(ui.WarnStyle.Render(fmt.Sprintf("warning: could not resolve caller identity: %v", err)))
	}

	printPlan(cfg, account)

	if !yes {
		confirmed, err := confirmPrompt(ctx,
			fmt.Sprintf("Provision environment %q in %s?", cfg.AppName, cfg.Region),
			fmt.Sprintf("Account: %s", account))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Aborted.")
			return nil
		}

		if cfg.ExistingVPCID == "" {
			if err := selectExistingVPC(ctx, clients.EC2, cfg); err != nil {
				return err
			}
		}
		if cfg.ExistingVPCID != "" && len(cfg.ExistingSubnetIDs) == 0 {
			if err := selectExistingSubnets(ctx, clients.EC2, cfg); err != nil {
				return err
			}
		}
	}

	runID := newRunID()
	resources := provisioning.NewResourceSet(cfg.AppName, runID, cfg.Region)
	pCtx := provisioning.NewContext(ctx, cfg, resources, store)

	runner := provisioning.NewRunner(buildStages(clients))
	if err := runner.Create(pCtx); err != nil {
		return fmt.Errorf("provisioning failed: %w", err)
	}

	printCreateSuccess(cfg, resources)
	return nil
}

// selectExistingVPC offers the account's VPCs as adoption candidates. The
// read is advisory: a describe failure just means no candidates to offer.
func selectExistingVPC(ctx context.Context, client *ec2.Client, cfg *config.Config) error {
	out, err := client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{})
	if err != nil || len(out.Vpcs) == 0 {
		return nil
	}

	options := []string{createNewVPCOption}
	for _, vpc := range out.Vpcs {
		options = append(options, fmt.Sprintf("%s (%s)", awssdk.ToString(vpc.VpcId), awssdk.ToString(vpc.CidrBlock)))
	}

	selected, err := selectPrompt(ctx, "VPC",
		"Create a new VPC or provision into an existing one", options)
	if err != nil {
		return err
	}
	if selected == createNewVPCOption || selected == "" {
		return nil
	}

	// Option format is "vpc-id (cidr)".
	var vpcID string
	if _, err := fmt.Sscanf(selected, "%s", &vpcID); err != nil {
		return fmt.Errorf("failed to parse VPC selection %q: %w", selected, err)
	}
	cfg.ExistingVPCID = vpcID
	return nil
}

// selectExistingSubnets offers the adopted VPC's subnets for reuse. The read
// is advisory: a describe failure just means no candidates to offer. An empty
// selection means fresh subnets are carved out of the base block.
func selectExistingSubnets(ctx context.Context, client *ec2.Client, cfg *config.Config) error {
	out, err := client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{
			{Name: awssdk.String("vpc-id"), Values: []string{cfg.ExistingVPCID}},
		},
	})
	if err != nil || len(out.Subnets) == 0 {
		return nil
	}

	options := make([]string, 0, len(out.Subnets))
	for _, subnet := range out.Subnets {
		options = append(options, fmt.Sprintf("%s (%s, %s)",
			awssdk.ToString(subnet.SubnetId), awssdk.ToString(subnet.CidrBlock), awssdk.ToString(subnet.AvailabilityZone)))
	}

	selected, err := multiSelectPrompt(ctx, "Subnets",
		"Select subnets to reuse, or none to create fresh ones", options)
	if err != nil {
		return err
	}

	// Option format is "subnet-id (cidr, zone)".
	for _, option := range selected {
		var subnetID string
		if _, err := fmt.Sscanf(option, "%s", &subnetID); err != nil {
			return fmt.Errorf("failed to parse subnet selection %q: %w", option, err)
		}
		cfg.ExistingSubnetIDs = append(cfg.ExistingSubnetIDs, subnetID)
	}
	return nil
}

// printPlan renders the stage sequence that a create run will execute.
func printPlan(cfg *config.Config, account string) {
	fmt.Println(ui.TitleStyle.Render(fmt.Sprintf("skiff create: %s", cfg.AppName)))
	fmt.Printf("%s %s\n", ui.NameStyle.Render("account:"), account)
	fmt.Printf("%s %s\n", ui.NameStyle.Render("region:"), cfg.Region)
	fmt.Printf("%s %v\n", ui.NameStyle.Render("zones:"), cfg.Zones)
	fmt.Println(ui.SectionStyle.Render("Plan:"))
	for i, stage := range []string{
		"network (VPC, gateway, route table)",
		"subnets",
		"security groups (edge, app)",
		"identity profile (role, instance profile)",
		"compute instance (key pair, instance)",
		"load balancer (ALB, target group, listener)",
		"target registration",
		"health check",
	} {
		fmt.Printf("  %d. %s\n", i+1, stage)
	}
	fmt.Println(ui.DimStyle.Render("On failure, everything created so far is rolled back in reverse order."))
}

// printCreateSuccess outputs the provisioned identifiers and next steps.
func printCreateSuccess(cfg *config.Config, resources *provisioning.ResourceSet) {
	fmt.Println(ui.ValueStyle.Render("\nEnvironment provisioned."))
	fmt.Printf("%s %s\n", ui.NameStyle.Render("instance:"), resources.InstanceID)
	fmt.Printf("%s %s\n", ui.NameStyle.Render("load balancer:"), resources.LoadBalancerARN)
	fmt.Printf("%s %s\n", ui.NameStyle.Render("ssh key:"), cfg.PrivateKeyPath())
	fmt.Printf("\nInspect the environment with:\n  skiff status -c <config>\n")
}
