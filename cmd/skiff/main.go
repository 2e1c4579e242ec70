// Package main is the entry point for the skiff CLI.
//
// skiff provisions and tears down disposable development environments on
// AWS: a VPC with subnets, security groups, an IAM instance profile, one
// EC2 instance, and an application load balancer in front of it. Partial
// progress is persisted after every step so a crashed run can be cleaned
// up by a later destroy.
//
// For detailed usage information, run:
//
//	skiff --help
package main

import (
	"fmt"
	"os"

	"github.com/skiffcloud/skiff/cmd/skiff/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
