package commands

import (
	"github.com/spf13/cobra"

	"github.com/skiffcloud/skiff/cmd/skiff/handlers"
)

// Destroy returns the destroy command.
//
// The destroy command removes every resource recorded in the environment's
// state file, in reverse creation order. Teardown is best-effort: a failed
// deletion does not stop the remaining ones, and anything that could not be
// removed is listed in a final warning.
func Destroy() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Tear down a provisioned environment",
		Long: `Destroy removes all resources recorded for the environment.

Resources are deleted in reverse creation order: load balancer, instance
and key pair, instance profile, security groups, subnets, then the VPC.
Each deletion is attempted even if an earlier one failed; resources that
could not be removed are listed in a warning at the end.

Example:
  skiff destroy -c skiff.yaml

WARNING: This operation is irreversible.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Destroy(cmd.Context(), configPath, yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to environment configuration file (required)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip interactive confirmation")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
