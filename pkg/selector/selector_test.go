package selector

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/xverify/pkg/toolchain"
	"github.com/ngld/xverify/pkg/workspace"
)

func testWorkspace() *workspace.Workspace {
	ws := workspace.Default("/src/firmware")
	ws.Members = []workspace.Member{
		{Name: "firmware", EligibleForHostTesting: true},
		{Name: "focus", EligibleForHostTesting: false, Reason: "esp-hal"},
		{Name: "hl_driver", EligibleForHostTesting: true, RequiredFeatures: []string{"unit-tests"}},
	}
	return ws
}

func TestSelectCrossIntents(t *testing.T) {
	ws := testWorkspace()

	for _, command := range []string{"build", "run", "lint", "clippy"} {
		sel, err := Select(ws, workspace.JobSpec{Name: command, Command: command}, nil)
		require.NoError(t, err, command)
		assert.Equal(t, workspace.DefaultCrossTarget, sel.Target.Triple)
		assert.True(t, sel.Target.RequiresCross)
		assert.Equal(t, toolchain.KindCross, sel.ToolchainKind)
		assert.Empty(t, sel.Excluded)
		assert.True(t, sel.NeedsToolchain())
	}

	_, err := Select(ws, workspace.JobSpec{Name: "b", Command: "build", Target: workspace.HostNative}, nil)
	assert.Error(t, err)

	_, err = Select(ws, workspace.JobSpec{Name: "b", Command: "build", Target: "thumbv7em-none-eabihf"}, nil)
	assert.Error(t, err)
}

func TestSelectFmtIsTargetIndependent(t *testing.T) {
	ws := testWorkspace()
	overrides := []workspace.Override{{Source: ".cargo/config.toml", Key: "build.target", Value: "x"}}

	sel, err := Select(ws, workspace.JobSpec{Name: "fmt", Command: "fmt-check"}, overrides)
	require.NoError(t, err)
	assert.Equal(t, IntentFmt, sel.Intent)
	assert.Equal(t, toolchain.KindAny, sel.ToolchainKind)
	assert.False(t, sel.NeedsToolchain())
	assert.Empty(t, sel.Excluded)
}

func TestSelectHostTestExcludesIneligibleMembers(t *testing.T) {
	ws := testWorkspace()

	sel, err := Select(ws, workspace.JobSpec{Name: "test", Command: "test", Features: []string{"unit-tests"}}, nil)
	require.NoError(t, err)
	assert.True(t, sel.Target.IsHost())
	assert.Equal(t, toolchain.KindNative, sel.ToolchainKind)
	assert.Equal(t, []string{"focus"}, sel.Excluded)
	assert.Equal(t, []string{"unit-tests"}, sel.Features)
}

func TestSelectHostTestIgnoresExplicitInclude(t *testing.T) {
	ws := testWorkspace()
	spec := workspace.JobSpec{Name: "test", Command: "test", Include: []string{"focus", "hl_driver"}}

	sel, err := Select(ws, spec, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"firmware", "focus"}, sel.Excluded)
	assert.Equal(t, []string{"unit-tests"}, sel.Features)
	assert.Equal(t, []string{"focus"}, Ineligible(ws, spec))

	_, err = Select(ws, workspace.JobSpec{Name: "test", Command: "test", Include: []string{"nope"}}, nil)
	assert.Error(t, err)
}

func TestSelectHostTestConflictingConfig(t *testing.T) {
	ws := testWorkspace()
	overrides := []workspace.Override{{Source: ".cargo/config.toml", Key: "target.xtensa-esp32-none-elf.runner", Value: "espflash"}}

	_, err := Select(ws, workspace.JobSpec{Name: "test", Command: "test", Features: []string{"unit-tests"}}, overrides)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrConflictingTargetConfig))
}

func TestSelectHostTestNeedsFeature(t *testing.T) {
	ws := testWorkspace()
	ws.Members = ws.Members[:2]

	_, err := Select(ws, workspace.JobSpec{Name: "test", Command: "test"}, nil)
	assert.Error(t, err)
}

func TestSelectHostTestChecksManifestFeatures(t *testing.T) {
	ws := testWorkspace()
	ws.Members[2].HasManifest = true

	_, err := Select(ws, workspace.JobSpec{Name: "test", Command: "test"}, nil)
	assert.Error(t, err)

	ws.Members[2].Features = []string{"unit-tests"}
	_, err = Select(ws, workspace.JobSpec{Name: "test", Command: "test"}, nil)
	assert.NoError(t, err)
}

func TestParseIntent(t *testing.T) {
	intent, err := ParseIntent("Host-Test")
	require.NoError(t, err)
	assert.Equal(t, IntentTest, intent)

	_, err = ParseIntent("deploy")
	assert.Error(t, err)
}
