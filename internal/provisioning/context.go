// Package provisioning contains the provisioning/teardown engine: the fixed
// stage sequence, the resource record it maintains, and the two failure
// policies (fail-fast with compensating rollback on create, best-effort
// collect-all on destroy).
package provisioning

import (
	"context"

	"github.com/skiffcloud/skiff/internal/config"
)

// Context wraps all dependencies and state needed by a provisioning stage.
type Context struct {
	context.Context
	Config    *config.Config
	Resources *ResourceSet
	Store     Store
	Observer  Observer
	Timeouts  *config.Timeouts
}

// NewContext creates a provisioning context for one create-or-destroy run.
// The runner owns the resource set for the duration of the run; stages
// receive and return identifiers through it but never retain them.
func NewContext(ctx context.Context, cfg *config.Config, resources *ResourceSet, store Store) *Context {
	return &Context{
		Context:   ctx,
		Config:    cfg,
		Resources: resources,
		Store:     store,
		Observer:  NewConsoleObserver(),
		Timeouts:  config.LoadTimeouts(),
	}
}
