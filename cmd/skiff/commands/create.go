package commands

import (
	"github.com/spf13/cobra"

	"github.com/skiffcloud/skiff/cmd/skiff/handlers"
)

// Create returns the create command.
//
// The create command provisions the full environment topology: VPC, subnets,
// security groups, IAM instance profile, EC2 instance, and an application
// load balancer fronting it. Progress is persisted after every stage, and a
// mid-sequence failure rolls back everything created so far.
func Create() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a disposable environment",
		Long: `Create provisions the environment described by the configuration file.

Resources are created in dependency order:
  1. VPC, internet gateway, route table
  2. Subnets (one per zone)
  3. Security groups (edge-facing and app-facing)
  4. IAM role and instance profile
  5. EC2 instance with a fresh SSH key pair
  6. Application load balancer, target group, and listener

State is checkpointed after every stage. If a stage fails, everything
created so far is deleted again in reverse order and the command fails
with the originating error.

Example:
  skiff create -c skiff.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Create(cmd.Context(), configPath, yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to environment configuration file (required)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip interactive confirmation")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
