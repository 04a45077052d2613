package ramify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const approvalYAML = `
id: doc-approval
name: Document approval
enabled: true
activities:
  - id: start
    type: Start
    start: true
  - id: check
    type: IfElse
    properties:
      condition: amount > 1000.0
  - id: wait
    type: Signal
    properties:
      signal: manager-approved
  - id: done
    type: Log
    properties:
      message: approved
transitions:
  - {from: start, outcome: Done, to: check}
  - {from: check, outcome: "True", to: wait}
  - {from: check, outcome: "False", to: done}
  - {from: wait, outcome: Done, to: done}
`

func TestLoadDefinitionYAML(t *testing.T) {
	t.Parallel()

	def, err := LoadDefinitionYAML([]byte(approvalYAML))
	require.NoError(t, err)

	require.Equal(t, "doc-approval", def.ID)
	require.Equal(t, 1, def.Version) // defaulted
	require.True(t, def.IsEnabled)
	require.Len(t, def.Activities, 4)
	require.Len(t, def.Transitions, 4)

	check, ok := def.ActivityByID("check")
	require.True(t, ok)
	require.Equal(t, "IfElse", check.TypeName)
	require.Equal(t, "amount > 1000.0", check.Properties["condition"])
}

func TestLoadDefinitionYAMLErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadDefinitionYAML([]byte("id: [not: valid"))
	require.Error(t, err)

	// Structurally invalid: no start activity.
	_, err = LoadDefinitionYAML([]byte(`
id: wf
activities:
  - id: a
    type: Log
`))
	require.Error(t, err)
}

func TestLoadDefinitionFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "approval.yaml")
	require.NoError(t, os.WriteFile(path, []byte(approvalYAML), 0o644))

	def, err := LoadDefinitionFile(path)
	require.NoError(t, err)
	require.Equal(t, "doc-approval", def.ID)

	_, err = LoadDefinitionFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestYAMLDefinitionRunsEndToEnd(t *testing.T) {
	t.Parallel()

	eng, err := NewInMemoryEngine()
	require.NoError(t, err)
	ctx := context.Background()

	def, err := LoadDefinitionYAML([]byte(approvalYAML))
	require.NoError(t, err)
	require.NoError(t, eng.RegisterDefinition(ctx, def))

	inst, err := eng.StartWorkflow(ctx, "doc-approval", map[string]any{"amount": 50.0}, "")
	require.NoError(t, err)
	require.Equal(t, StatusFinished, inst.Status)
}
