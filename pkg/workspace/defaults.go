package workspace

import "github.com/ngld/xverify/pkg/toolchain"

const (
	// DefaultCrossTarget is the ESP32 Xtensa target used when verify.star is absent.
	DefaultCrossTarget = "xtensa-esp32-none-elf"
	// DefaultEnvScript is where espup writes the cross toolchain environment.
	DefaultEnvScript = "~/export-esp.sh"

	TriggerPullRequest = "pull_request"
	TriggerPush        = "push"
)

// FocusReason is why the focus crate is left out of the default host tests.
const FocusReason = "esp-hal only builds for the chip"

// Default returns the stock verification matrix: cross build, format check and lint on
// pull requests, host tests with the unit-tests feature on pushes. The focus crate is
// never tested on the host.
func Default(root string) *Workspace {
	ws := New(root)
	ws.DefaultTarget = DefaultCrossTarget
	ws.Targets[DefaultCrossTarget] = BuildTarget{Triple: DefaultCrossTarget, RequiresCross: true}

	ws.Toolchains["esp"] = toolchain.Definition{
		Name:           "esp",
		Kind:           toolchain.KindCross,
		EnvScript:      DefaultEnvScript,
		VersionCommand: []string{"rustc", "--version"},
	}
	ws.Toolchains["host"] = toolchain.Definition{
		Name:           "host",
		Kind:           toolchain.KindNative,
		VersionCommand: []string{"rustc", "--version"},
	}

	ws.Members = []Member{
		{Name: "focus", EligibleForHostTesting: false, Reason: FocusReason},
	}

	ws.Jobs = []JobSpec{
		{Name: "build", Command: "build", Triggers: []string{TriggerPullRequest}},
		{Name: "fmt", Command: "fmt", Triggers: []string{TriggerPullRequest}},
		{Name: "lint", Command: "lint", Triggers: []string{TriggerPullRequest}},
		{Name: "test", Command: "test", Target: HostNative, Features: []string{"unit-tests"}, Triggers: []string{TriggerPush}},
	}

	return ws
}
