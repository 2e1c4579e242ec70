package commands

import (
	"github.com/spf13/cobra"

	"github.com/skiffcloud/skiff/cmd/skiff/handlers"
)

// Status returns the status command.
func Status() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the environment's provisioned resources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Status(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to environment configuration file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
