package provisioning

import (
	"fmt"
	"time"
)

// Runner drives the fixed stage sequence with one of two failure policies:
// fail-fast with compensating rollback (create) or best-effort attempt-all
// (destroy). Stages execute strictly sequentially; the remote control plane
// is the only concurrent actor, which is why stages poll it instead of
// being notified.
type Runner struct {
	stages []Stage
}

// NewRunner creates a runner over the given stage sequence.
func NewRunner(stages []Stage) *Runner {
	return &Runner{stages: stages}
}

// Create executes all stages in order. The first failure aborts the
// remaining stages and triggers a reverse-order best-effort rollback of
// everything created so far; the originating error is returned even when
// the rollback fully succeeds. Permission-coded failures skip the rollback
// entirely so the caller can react before anything else is touched.
//
// After every successful stage the full resource set is persisted, so a
// crash mid-sequence leaves on-disk state consistent with exactly what
// exists remotely.
func (r *Runner) Create(ctx *Context) error {
	start := time.Now()
	ctx.Observer.Printf("Starting provisioning with %d stages...", len(r.stages))

	for i, stage := range r.stages {
		stageStart := time.Now()
		ctx.Observer.Event(Event{
			Type:    EventStageStarted,
			Stage:   stage.Name,
			Message: fmt.Sprintf("starting (%d/%d)", i+1, len(r.stages)),
		})

		if err := stage.Provision(ctx); err != nil {
			ctx.Observer.Event(Event{
				Type:    EventStageFailed,
				Stage:   stage.Name,
				Message: fmt.Sprintf("failed: %v", err),
			})

			if IsPermissionError(err) {
				return fmt.Errorf("%s stage failed: %w", stage.Name, err)
			}

			r.rollback(ctx, i)
			return fmt.Errorf("%s stage failed: %w", stage.Name, err)
		}

		if err := ctx.Store.Save(ctx.Resources); err != nil {
			r.rollback(ctx, i)
			return fmt.Errorf("failed to checkpoint state after %s stage: %w", stage.Name, err)
		}

		ctx.Observer.Event(Event{
			Type:    EventStageCompleted,
			Stage:   stage.Name,
			Message: fmt.Sprintf("completed in %v", time.Since(stageStart).Round(time.Millisecond)),
		})
	}

	ctx.Observer.Printf("Provisioning completed in %v", time.Since(start).Round(time.Millisecond))
	return nil
}

// rollback deletes everything stages 0..failedIdx created, in reverse
// creation order. Best-effort: a deletion failure is logged and the rollback
// continues, since aborting on the first cleanup error would strand more
// resources than it saves. The resource set ends empty either way.
func (r *Runner) rollback(ctx *Context, failedIdx int) {
	ctx.Observer.Event(Event{
		Type:    EventRollbackStarted,
		Message: fmt.Sprintf("rolling back stages %d..1 in reverse order", failedIdx+1),
	})

	for i := failedIdx; i >= 0; i-- {
		stage := r.stages[i]
		if stage.Destroy == nil || stage.Created == nil || !stage.Created(ctx.Resources) {
			continue
		}

		if err := stage.Destroy(ctx); err != nil {
			ctx.Observer.Event(Event{
				Type:    EventRollbackSkipped,
				Stage:   stage.Name,
				Message: fmt.Sprintf("rollback delete failed, continuing: %v", err),
			})
			continue
		}

		if err := ctx.Store.Save(ctx.Resources); err != nil {
			ctx.Observer.Printf("warning: failed to checkpoint state during rollback: %v", err)
		}
	}

	ctx.Resources.Reset()
	if err := ctx.Store.Save(ctx.Resources); err != nil {
		ctx.Observer.Printf("warning: failed to persist reset state after rollback: %v", err)
	}
}

// Destroy attempts teardown of every stage whose resources are recorded, in
// reverse creation order. No cross-stage abort: each stage is attempted
// exactly once and failures are collected rather than propagated, because
// aborting on the first error would leave a superset of resources stranded.
// Afterwards the resource set is reset and persisted; the returned failure
// list names exactly the stages whose delete raised an error.
func (r *Runner) Destroy(ctx *Context) []StageFailure {
	start := time.Now()
	ctx.Observer.Printf("Starting teardown...")

	var failures []StageFailure

	for i := len(r.stages) - 1; i >= 0; i-- {
		stage := r.stages[i]
		if stage.Destroy == nil || stage.Created == nil || !stage.Created(ctx.Resources) {
			continue
		}

		stageStart := time.Now()
		ctx.Observer.Event(Event{
			Type:    EventStageStarted,
			Stage:   stage.Name,
			Message: "tearing down",
		})

		if err := stage.Destroy(ctx); err != nil {
			ctx.Observer.Event(Event{
				Type:    EventStageFailed,
				Stage:   stage.Name,
				Message: fmt.Sprintf("teardown failed: %v", err),
			})
			failures = append(failures, StageFailure{Stage: stage.Name, Err: err})
			continue
		}

		if err := ctx.Store.Save(ctx.Resources); err != nil {
			ctx.Observer.Printf("warning: failed to checkpoint state after %s teardown: %v", stage.Name, err)
		}

		ctx.Observer.Event(Event{
			Type:    EventStageCompleted,
			Stage:   stage.Name,
			Message: fmt.Sprintf("torn down in %v", time.Since(stageStart).Round(time.Millisecond)),
		})
	}

	ctx.Resources.Reset()
	if err := ctx.Store.Save(ctx.Resources); err != nil {
		ctx.Observer.Printf("warning: failed to persist reset state: %v", err)
	}

	ctx.Observer.Printf("Teardown finished in %v (%d failures)", time.Since(start).Round(time.Millisecond), len(failures))
	return failures
}
