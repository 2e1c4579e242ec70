// Package handlers implements command execution for the skiff CLI.
//
// Commands in the commands package parse arguments and delegate here. The
// factory variables below are replaced in tests so handlers can run against
// fakes instead of the real control plane.
package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/skiffcloud/skiff/internal/config"
	platformaws "github.com/skiffcloud/skiff/internal/platform/aws"
	"github.com/skiffcloud/skiff/internal/provisioning"
	"github.com/skiffcloud/skiff/internal/statestore"
	"github.com/skiffcloud/skiff/internal/ui"
)

// Factory function variables - can be replaced in tests.
var (
	// newAWSClients builds the service clients for an environment. Static
	// credentials in the config bypass the default provider chain, for
	// scripted runs with no shared AWS configuration.
	newAWSClients = func(ctx context.Context, cfg *config.Config) (*platformaws.Clients, error) {
		if cfg.AccessKeyID != "" {
			return platformaws.NewClientsWithStaticCredentials(ctx, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey)
		}
		return platformaws.NewClients(ctx, cfg.Region)
	}

	// lookupCallerIdentity resolves the active credentials to an account.
	lookupCallerIdentity = platformaws.LookupCallerIdentity

	// confirmPrompt presents a yes/no decision point.
	confirmPrompt = ui.Confirm

	// selectPrompt presents a single-choice selection.
	selectPrompt = ui.SelectString

	// multiSelectPrompt presents a multiple-choice selection.
	multiSelectPrompt = ui.MultiSelectString

	// newStore opens the resource-set store for a state file path.
	newStore = func(path string) provisioning.Store { return statestore.New(path) }

	// newRunID generates the per-run unique id embedded in every resource
	// tag. Short enough to fit in resource names, random enough that two
	// concurrent runs in the same account do not collide.
	newRunID = func() string { return uuid.NewString()[:8] }
)

// loadConfig loads and validates the environment configuration.
func loadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
