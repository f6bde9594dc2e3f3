package matrix

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/xverify/pkg/selector"
	"github.com/ngld/xverify/pkg/toolchain"
	"github.com/ngld/xverify/pkg/workspace"
)

func TestCargoArgs(t *testing.T) {
	cross := workspace.BuildTarget{Triple: "xtensa-esp32-none-elf", RequiresCross: true}

	tests := []struct {
		name     string
		sel      selector.Selection
		job      Job
		expected []string
	}{
		{
			name:     "build",
			sel:      selector.Selection{Intent: selector.IntentBuild, Target: cross},
			job:      AdHocJob(selector.IntentBuild, "", nil),
			expected: []string{"build", "--release", "--target", "xtensa-esp32-none-elf"},
		},
		{
			name:     "build with profile",
			sel:      selector.Selection{Intent: selector.IntentBuild, Target: cross},
			job:      AdHocJob(selector.IntentBuild, "", []string{"--profile", "size"}),
			expected: []string{"build", "--target", "xtensa-esp32-none-elf", "--profile", "size"},
		},
		{
			name:     "run",
			sel:      selector.Selection{Intent: selector.IntentRun, Target: cross},
			job:      AdHocJob(selector.IntentRun, "", nil),
			expected: []string{"run", "--release", "--target", "xtensa-esp32-none-elf"},
		},
		{
			name:     "lint with exclusions",
			sel:      selector.Selection{Intent: selector.IntentLint, Target: cross, Excluded: []string{"xtask"}},
			job:      AdHocJob(selector.IntentLint, "", []string{"--all-targets"}),
			expected: []string{"clippy", "--target", "xtensa-esp32-none-elf", "--workspace", "--exclude", "xtask", "--all-targets", "--", "-D", "warnings"},
		},
		{
			name:     "fmt",
			sel:      selector.Selection{Intent: selector.IntentFmt},
			job:      AdHocJob(selector.IntentFmt, "", nil),
			expected: []string{"fmt", "--all", "--", "--check"},
		},
		{
			name: "test",
			sel: selector.Selection{
				Intent:   selector.IntentTest,
				Target:   workspace.Host(),
				Excluded: []string{"focus"},
				Features: []string{"std", "unit-tests"},
			},
			job:      AdHocJob(selector.IntentTest, "", []string{"--no-fail-fast"}),
			expected: []string{"test", "--workspace", "--exclude", "focus", "--features", "std,unit-tests", "--no-fail-fast"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CargoArgs(tt.sel, tt.job))
		})
	}
}

func TestFingerprint(t *testing.T) {
	native := toolchain.NewProfile("host", toolchain.KindNative, "/usr/bin/cargo", nil)
	sel := selector.Selection{Intent: selector.IntentTest, Target: workspace.Host(), Excluded: []string{"focus"}, Features: []string{"unit-tests"}}
	args := []string{"test", "--workspace", "--exclude", "focus", "--features", "unit-tests"}

	first := Fingerprint(native, sel, args)
	assert.Equal(t, first, Fingerprint(native, sel, args))
	assert.Len(t, first, 64)

	other := sel
	other.Excluded = nil
	assert.NotEqual(t, first, Fingerprint(native, other, args))

	cross := toolchain.NewProfile("esp", toolchain.KindCross, "/opt/esp/bin/cargo", nil)
	assert.NotEqual(t, first, Fingerprint(cross, sel, args))
	assert.NotEqual(t, first, Fingerprint(nil, sel, args))
}

func TestShellExecutor(t *testing.T) {
	executor := &ShellExecutor{KillTimeout: time.Second}
	ctx := context.Background()
	dir := t.TempDir()

	output := &bytes.Buffer{}
	code, err := executor.Execute(ctx, Invocation{Dir: dir, Argv: []string{"echo", "warning: [unused]", "$HOME"}, Output: output})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "warning: [unused] $HOME\n", output.String())

	code, err = executor.Execute(ctx, Invocation{Dir: dir, Argv: []string{"false"}})
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	_, err = executor.Execute(ctx, Invocation{Dir: dir})
	assert.Error(t, err)
}

func TestShellExecutorCancelled(t *testing.T) {
	executor := NewShellExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executor.Execute(ctx, Invocation{Dir: t.TempDir(), Argv: []string{"echo", "hi"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommandLine(t *testing.T) {
	inv := Invocation{Argv: []string{"/usr/bin/cargo", "test", "--features", "unit-tests"}}
	assert.Equal(t, "'/usr/bin/cargo' 'test' '--features' 'unit-tests'", inv.CommandLine())
}
