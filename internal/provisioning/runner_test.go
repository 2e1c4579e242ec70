package provisioning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffcloud/skiff/internal/config"
)

type memStore struct {
	saves   int
	last    ResourceSet
	saveErr error
}

func (m *memStore) Save(rs *ResourceSet) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.last = *rs
	return nil
}

func (m *memStore) Load() (*ResourceSet, error) {
	rs := m.last
	return &rs, nil
}

func testContext(store Store) *Context {
	cfg := &config.Config{AppName: "webapp", Region: "us-east-1"}
	return &Context{
		Context:   context.Background(),
		Config:    cfg,
		Resources: NewResourceSet("webapp", "a1b2c3", "us-east-1"),
		Store:     store,
		Observer:  NewConsoleObserver(),
		Timeouts:  config.LoadTimeouts(),
	}
}

// trackedStage builds a stage that appends to log on every create/delete
// call and tracks its own created flag.
func trackedStage(name string, created *bool, log *[]string, provisionErr, destroyErr error) Stage {
	return Stage{
		Name: name,
		Provision: func(ctx *Context) error {
			*log = append(*log, "create:"+name)
			if provisionErr != nil {
				return provisionErr
			}
			*created = true
			return nil
		},
		Destroy: func(ctx *Context) error {
			*log = append(*log, "delete:"+name)
			if destroyErr != nil {
				return destroyErr
			}
			*created = false
			return nil
		},
		Created: func(*ResourceSet) bool { return *created },
	}
}

func TestCreate_AllStagesSucceed(t *testing.T) {
	t.Parallel()

	var log []string
	var a, b, c bool
	runner := NewRunner([]Stage{
		trackedStage("network", &a, &log, nil, nil),
		trackedStage("compute", &b, &log, nil, nil),
		trackedStage("loadbalancer", &c, &log, nil, nil),
	})

	store := &memStore{}
	err := runner.Create(testContext(store))

	require.NoError(t, err)
	assert.Equal(t, []string{"create:network", "create:compute", "create:loadbalancer"}, log)
	// One checkpoint per successful stage.
	assert.Equal(t, 3, store.saves)
}

func TestCreate_FailureRollsBackInReverseOrder(t *testing.T) {
	t.Parallel()

	var log []string
	var a, b, c bool
	boom := errors.New("launch failed")
	runner := NewRunner([]Stage{
		trackedStage("network", &a, &log, nil, nil),
		trackedStage("securitygroups", &b, &log, nil, nil),
		trackedStage("compute", &c, &log, boom, nil),
	})

	store := &memStore{}
	ctx := testContext(store)
	err := runner.Create(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{
		"create:network",
		"create:securitygroups",
		"create:compute",
		"delete:securitygroups",
		"delete:network",
	}, log)
	assert.True(t, ctx.Resources.Empty())
	// The reset state is the last thing persisted.
	assert.True(t, store.last.Empty())
}

func TestCreate_RollbackContinuesPastDeleteFailure(t *testing.T) {
	t.Parallel()

	var log []string
	var a, b, c bool
	runner := NewRunner([]Stage{
		trackedStage("network", &a, &log, nil, nil),
		trackedStage("securitygroups", &b, &log, nil, errors.New("still referenced")),
		trackedStage("compute", &c, &log, errors.New("launch failed"), nil),
	})

	ctx := testContext(&memStore{})
	err := runner.Create(ctx)

	require.Error(t, err)
	// The securitygroups delete failure does not stop the network delete.
	assert.Equal(t, []string{
		"create:network",
		"create:securitygroups",
		"create:compute",
		"delete:securitygroups",
		"delete:network",
	}, log)
	// Resource set ends empty regardless of the rollback failure.
	assert.True(t, ctx.Resources.Empty())
}

func TestCreate_ReturnsOriginatingErrorNotRollbackError(t *testing.T) {
	t.Parallel()

	var log []string
	var a, b bool
	boom := errors.New("original failure")
	runner := NewRunner([]Stage{
		trackedStage("network", &a, &log, nil, errors.New("rollback failure")),
		trackedStage("compute", &b, &log, boom, nil),
	})

	err := runner.Create(testContext(&memStore{}))

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestCreate_PermissionErrorSkipsRollback(t *testing.T) {
	t.Parallel()

	var log []string
	var a, b bool
	denied := NewError(CodeIdentityPermission, "caller lacks iam:CreateRole", nil)
	runner := NewRunner([]Stage{
		trackedStage("network", &a, &log, nil, nil),
		trackedStage("identity", &b, &log, denied, nil),
	})

	ctx := testContext(&memStore{})
	err := runner.Create(ctx)

	require.Error(t, err)
	assert.Equal(t, CodeIdentityPermission, CodeOf(err))
	// No deletes ran: the caller decides what to do next.
	assert.Equal(t, []string{"create:network", "create:identity"}, log)
	assert.True(t, a, "network resources are left in place")
}

func TestCreate_CheckpointFailureAbortsAndRollsBack(t *testing.T) {
	t.Parallel()

	var log []string
	var a bool
	runner := NewRunner([]Stage{
		trackedStage("network", &a, &log, nil, nil),
	})

	store := &memStore{saveErr: errors.New("disk full")}
	err := runner.Create(testContext(store))

	require.Error(t, err)
	assert.Contains(t, log, "delete:network")
}

func TestDestroy_AttemptsEveryCreatedStage(t *testing.T) {
	t.Parallel()

	var log []string
	a, b, c := true, true, true
	runner := NewRunner([]Stage{
		trackedStage("network", &a, &log, nil, nil),
		trackedStage("compute", &b, &log, nil, errors.New("termination failed")),
		trackedStage("loadbalancer", &c, &log, nil, nil),
	})

	store := &memStore{}
	ctx := testContext(store)
	failures := runner.Destroy(ctx)

	// Reverse creation order, no cross-stage abort.
	assert.Equal(t, []string{"delete:loadbalancer", "delete:compute", "delete:network"}, log)
	require.Len(t, failures, 1)
	assert.Equal(t, "compute", failures[0].Stage)
	assert.True(t, ctx.Resources.Empty())
	assert.True(t, store.last.Empty())
}

func TestDestroy_SkipsStagesWithoutResources(t *testing.T) {
	t.Parallel()

	var log []string
	a, b := true, false
	runner := NewRunner([]Stage{
		trackedStage("network", &a, &log, nil, nil),
		trackedStage("compute", &b, &log, nil, nil),
	})

	failures := runner.Destroy(testContext(&memStore{}))

	assert.Empty(t, failures)
	assert.Equal(t, []string{"delete:network"}, log)
}

func TestDestroy_SkipsNilDestroyStages(t *testing.T) {
	t.Parallel()

	var log []string
	a := true
	stages := []Stage{
		trackedStage("loadbalancer", &a, &log, nil, nil),
		{
			Name:    "healthcheck",
			Created: func(*ResourceSet) bool { return true },
			// Destroy folded into the loadbalancer stage.
		},
	}
	runner := NewRunner(stages)

	failures := runner.Destroy(testContext(&memStore{}))

	assert.Empty(t, failures)
	assert.Equal(t, []string{"delete:loadbalancer"}, log)
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	err := NewError(CodeCompute, "launch failed", errors.New("boom"))
	assert.Equal(t, CodeCompute, CodeOf(err))
	assert.Equal(t, Code(""), CodeOf(errors.New("untyped")))
	assert.ErrorIs(t, err, err.Err)
}
