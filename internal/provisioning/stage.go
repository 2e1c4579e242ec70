package provisioning

// Stage is one named unit of work in the fixed creation sequence. The
// topology is a chain, not a DAG, so stages are held as an ordered list
// rather than a graph.
type Stage struct {
	// Name labels the stage in events and failure reports.
	Name string

	// Provision creates the stage's resources and records their
	// identifiers in the context's ResourceSet.
	Provision func(*Context) error

	// Destroy deletes the stage's resources and clears their identifiers.
	// Nil for stages whose teardown is folded into another stage
	// (target registration and health check).
	Destroy func(*Context) error

	// Created reports whether this stage's resources are recorded in the
	// resource set. Used to decide which stages need teardown.
	Created func(*ResourceSet) bool
}

// StageFailure records one stage whose delete operation raised an error
// during a best-effort destroy run.
type StageFailure struct {
	Stage string
	Err   error
}
