// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument
// parsing and flag binding. Command execution is delegated to handler
// functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the skiff CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skiff",
		Short: "Provision disposable development environments on AWS",
	}

	cmd.AddCommand(Create())
	cmd.AddCommand(Destroy())
	cmd.AddCommand(Status())
	cmd.AddCommand(Version())

	return cmd
}
