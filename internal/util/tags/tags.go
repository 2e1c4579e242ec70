// Package tags provides consistent tagging for remote resources.
//
// Every resource created for an environment carries the application name and
// the per-run unique id, so list/describe calls can be filtered down to
// exactly the resources one run created even when several environments share
// an account.
package tags

// Standard tag keys, namespaced under the skiff.dev prefix.
const (
	// KeyApp identifies which application environment a resource belongs to.
	KeyApp = "skiff.dev/app"

	// KeyRunID identifies the provisioning run that created a resource.
	KeyRunID = "skiff.dev/run-id"

	// KeyManagedBy identifies the management system.
	KeyManagedBy = "skiff.dev/managed-by"

	// KeyName is the provider's conventional display-name tag.
	KeyName = "Name"
)

// ManagedBySkiff is the value set on KeyManagedBy for CLI-created resources.
const ManagedBySkiff = "skiff"

// Builder provides a fluent interface for building resource tags.
type Builder struct {
	tags map[string]string
}

// NewBuilder creates a builder with the app name, run id, and managed-by
// tags pre-set.
func NewBuilder(app, runID string) *Builder {
	return &Builder{
		tags: map[string]string{
			KeyApp:       app,
			KeyRunID:     runID,
			KeyManagedBy: ManagedBySkiff,
		},
	}
}

// WithName adds the display-name tag.
func (b *Builder) WithName(name string) *Builder {
	b.tags[KeyName] = name
	return b
}

// Merge adds tags from the provided map. Keys already present keep their
// existing values, so user-supplied tags cannot clobber the run tags that
// the list/teardown filters depend on.
func (b *Builder) Merge(extra map[string]string) *Builder {
	for k, v := range extra {
		if _, ok := b.tags[k]; !ok {
			b.tags[k] = v
		}
	}
	return b
}

// Build returns a copy of the tag map.
func (b *Builder) Build() map[string]string {
	result := make(map[string]string, len(b.tags))
	for k, v := range b.tags {
		result[k] = v
	}
	return result
}

// AppFilterName is the EC2 filter name matching the app tag.
func AppFilterName() string {
	return "tag:" + KeyApp
}

// RunIDFilterName is the EC2 filter name matching the run-id tag.
func RunIDFilterName() string {
	return "tag:" + KeyRunID
}
