package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot_HasExpectedSubcommands(t *testing.T) {
	root := Root()

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Contains(t, names, "create")
	assert.Contains(t, names, "destroy")
	assert.Contains(t, names, "status")
	assert.Contains(t, names, "version")
}

func TestCreate_RequiresConfigFlag(t *testing.T) {
	cmd := Create()
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
}

func TestDestroy_RequiresConfigFlag(t *testing.T) {
	cmd := Destroy()
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
}

func TestCreate_HasYesFlag(t *testing.T) {
	flag := Create().Flags().Lookup("yes")
	require.NotNil(t, flag)
	assert.Equal(t, "y", flag.Shorthand)
}

func TestVersion_PrintsInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")
	t.Cleanup(func() { SetVersionInfo("dev", "none", "unknown") })

	cmd := Version()
	assert.NotNil(t, cmd.Run)
	assert.Equal(t, "version", cmd.Name())
}
