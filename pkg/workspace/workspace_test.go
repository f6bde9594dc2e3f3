package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/xverify/pkg/logging"
	"github.com/ngld/xverify/pkg/toolchain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// firmwareWorkspace mirrors a typical esp-hal project: a firmware crate that only builds
// for the chip and a driver crate that can be tested on the host.
func firmwareWorkspace(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Cargo.toml"), `
[package]
name = "firmware"

[workspace]
members = ["focus", "hl_driver"]
`)
	writeFile(t, filepath.Join(root, "focus", "Cargo.toml"), `
[package]
name = "focus"
`)
	writeFile(t, filepath.Join(root, "hl_driver", "Cargo.toml"), `
[package]
name = "hl_driver"

[features]
unit-tests = []
`)
	return root
}

const verifyStar = `
target_triple = option("target", default = "xtensa-esp32-none-elf", help = "cross target")

def configure():
    toolchain(name = "esp", kind = "cross", env_script = "~/export-esp.sh", version_command = ["rustc", "--version"])
    toolchain(name = "stable", kind = "native", env = {"RUST_BACKTRACE": "1"})
    chip = target(triple = target_triple)
    member(name = "focus", host_tests = False, reason = "esp-hal only builds for the chip")
    member(name = "hl_driver", features = ["unit-tests"])
    job(name = "build", command = "build", target = chip, args = ["--release"], on = ["pull_request"])
    job(name = "fmt", command = "fmt", on = ["pull_request"])
    job(name = "lint", command = "lint", target = chip, on = ["pull_request"])
    job(name = "test", command = "test", target = HOST, features = ["unit-tests"], on = ["push"])
`

func TestLoadWorkspace(t *testing.T) {
	ctx := logging.Nop(context.Background())
	root := firmwareWorkspace(t)
	writeFile(t, filepath.Join(root, DefaultFile), verifyStar)

	ws, err := Load(ctx, filepath.Join(root, DefaultFile), root, LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "xtensa-esp32-none-elf", ws.DefaultTarget)
	assert.Equal(t, toolchain.KindCross, ws.Toolchains["esp"].Kind)
	assert.Equal(t, []string{"rustc", "--version"}, ws.Toolchains["esp"].VersionCommand)
	assert.Equal(t, "1", ws.Toolchains["stable"].Env["RUST_BACKTRACE"])

	focus, ok := ws.Member("focus")
	require.True(t, ok)
	assert.False(t, focus.EligibleForHostTesting)
	assert.Equal(t, "focus", focus.Path)

	driver, ok := ws.Member("hl_driver")
	require.True(t, ok)
	assert.True(t, driver.EligibleForHostTesting)
	assert.NoError(t, driver.CheckFeatures())

	firmware, ok := ws.Member("firmware")
	require.True(t, ok)
	assert.True(t, firmware.EligibleForHostTesting)
	assert.Equal(t, ".", firmware.Path)

	pr := ws.JobsFor(TriggerPullRequest)
	require.Len(t, pr, 3)
	assert.Equal(t, "build", pr[0].Name)
	assert.Equal(t, "xtensa-esp32-none-elf", pr[0].Target)
	assert.Equal(t, []string{"--release"}, pr[0].Args)

	push := ws.JobsFor(TriggerPush)
	require.Len(t, push, 1)
	assert.Equal(t, HostNative, push[0].Target)
}

func TestLoadWorkspaceOptions(t *testing.T) {
	ctx := logging.Nop(context.Background())
	root := firmwareWorkspace(t)
	writeFile(t, filepath.Join(root, DefaultFile), verifyStar)

	ws, err := Load(ctx, filepath.Join(root, DefaultFile), root, LoadOptions{
		Options: map[string]string{"target": "xtensa-esp32s3-none-elf"},
	})
	require.NoError(t, err)
	assert.Equal(t, "xtensa-esp32s3-none-elf", ws.DefaultTarget)
	assert.Contains(t, ws.Options, "target")
}

func TestLoadWorkspaceErrors(t *testing.T) {
	ctx := logging.Nop(context.Background())
	tests := map[string]string{
		"no configure": `x = 1`,
		"unknown toolchain": `
def configure():
    job(name = "build", command = "build", toolchain = "missing")
`,
		"declaration outside configure": `
member(name = "focus")
def configure():
    pass
`,
		"bad kind": `
def configure():
    toolchain(name = "esp", kind = "sideways")
`,
		"duplicate job": `
def configure():
    job(name = "fmt", command = "fmt")
    job(name = "fmt", command = "fmt")
`,
		"script error": `
def configure():
    error("boom")
`,
	}

	for name, script := range tests {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, filepath.Join(root, DefaultFile), script)
			_, err := Load(ctx, filepath.Join(root, DefaultFile), root, LoadOptions{})
			assert.Error(t, err)
		})
	}
}

func TestReadYamlAndGetenv(t *testing.T) {
	ctx := logging.Nop(context.Background())
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "chips.yml"), "chips:\n  - name: esp32\n    triple: xtensa-esp32-none-elf\n")
	writeFile(t, filepath.Join(root, DefaultFile), `
def configure():
    target(triple = read_yaml("chips.yml", "chips.0.triple"))
    target(triple = getenv("EXTRA_TARGET", "riscv32imc-unknown-none-elf"), cross = True)
    if read_yaml("chips.yml", "chips.5.triple", None) != None:
        error("index out of range should fall back to the default")
`)

	ws, err := Load(ctx, filepath.Join(root, DefaultFile), root, LoadOptions{Env: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, "xtensa-esp32-none-elf", ws.DefaultTarget)
	assert.Contains(t, ws.Targets, "riscv32imc-unknown-none-elf")
}

func TestDiscoverFallsBackToDefault(t *testing.T) {
	ctx := logging.Nop(context.Background())
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Cargo.toml"), `
[workspace]
members = ["focus", "hl_driver", "sensor_hub"]
`)
	writeFile(t, filepath.Join(root, "focus", "Cargo.toml"), `
[package]
name = "focus"
`)
	writeFile(t, filepath.Join(root, "hl_driver", "Cargo.toml"), `
[package]
name = "hl_driver"
`)
	writeFile(t, filepath.Join(root, "sensor_hub", "Cargo.toml"), `
[package]
name = "sensor_hub"

[package.metadata.xverify]
host-tests = false
reason = "needs esp-hal"
`)

	ws, err := Discover(ctx, root, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCrossTarget, ws.DefaultTarget)
	assert.Len(t, ws.JobsFor(TriggerPullRequest), 3)
	assert.Len(t, ws.Members, 3)

	focus, ok := ws.Member("focus")
	require.True(t, ok)
	assert.False(t, focus.EligibleForHostTesting)
	assert.Equal(t, FocusReason, focus.Reason)
	assert.Equal(t, "focus", focus.Path)

	hub, ok := ws.Member("sensor_hub")
	require.True(t, ok)
	assert.False(t, hub.EligibleForHostTesting)
	assert.Equal(t, "needs esp-hal", hub.Reason)

	driver, ok := ws.Member("hl_driver")
	require.True(t, ok)
	assert.True(t, driver.EligibleForHostTesting)
}

func TestCheckFeatures(t *testing.T) {
	member := Member{Name: "hl_driver", RequiredFeatures: []string{"unit-tests"}, HasManifest: true}
	assert.Error(t, member.CheckFeatures())

	member.Features = []string{"unit-tests"}
	assert.NoError(t, member.CheckFeatures())

	assert.NoError(t, Member{Name: "x", RequiredFeatures: []string{"a"}}.CheckFeatures())
}

func TestDetectCrossOverrides(t *testing.T) {
	root := t.TempDir()

	overrides, err := DetectCrossOverrides(root, nil)
	require.NoError(t, err)
	assert.Empty(t, overrides)

	writeFile(t, filepath.Join(root, ".cargo", "config.toml"), `
[target.xtensa-esp32-none-elf]
runner = "espflash flash --monitor"

[build]
rustflags = ["-C", "link-arg=-nostartfiles"]
target = "xtensa-esp32-none-elf"

[unstable]
build-std = ["core"]
`)

	overrides, err = DetectCrossOverrides(root, []string{
		"CARGO_TARGET_XTENSA_ESP32_NONE_ELF_LINKER=xtensa-esp32-elf-gcc",
		"CARGO_HOME=/home/ci/.cargo",
		"CARGO_BUILD_TARGET=",
	})
	require.NoError(t, err)

	keys := make([]string, 0, len(overrides))
	for _, item := range overrides {
		keys = append(keys, item.Key)
	}
	assert.ElementsMatch(t, []string{
		"build.target",
		"build.rustflags",
		"target.xtensa-esp32-none-elf.runner",
		"unstable.build-std",
		"CARGO_TARGET_XTENSA_ESP32_NONE_ELF_LINKER",
	}, keys)
	assert.Equal(t, ".cargo/config.toml", overrides[0].Source)
}

func TestCargoConfigFromParentsAndHome(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "firmware")
	home := filepath.Join(base, "home")
	require.NoError(t, os.MkdirAll(root, 0o770))

	writeFile(t, filepath.Join(base, ".cargo", "config.toml"), `
[build]
rustflags = ["-C", "link-arg=-Tlinkall.x"]
`)
	writeFile(t, filepath.Join(home, ".cargo", "config.toml"), `
[build]
target = "xtensa-esp32-none-elf"
`)

	overrides, err := CargoConfigOverrides(root, nil)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, "build.rustflags", overrides[0].Key)
	assert.Equal(t, filepath.ToSlash(filepath.Join(base, ".cargo", "config.toml")), overrides[0].Source)

	overrides, err = CargoConfigOverrides(root, []string{"HOME=" + home})
	require.NoError(t, err)
	require.Len(t, overrides, 2)
	assert.Equal(t, "build.target", overrides[1].Key)

	// CARGO_HOME takes precedence over HOME
	overrides, err = CargoConfigOverrides(root, []string{"HOME=" + home, "CARGO_HOME=" + filepath.Join(base, "nowhere")})
	require.NoError(t, err)
	assert.Len(t, overrides, 1)
}

func TestEnvOverrides(t *testing.T) {
	overrides := EnvOverrides([]string{
		"CARGO_BUILD_RUSTFLAGS=-C link-arg=-nostartfiles",
		"CARGO_TARGET_XTENSA_ESP32_NONE_ELF_RUSTFLAGS=-C force-frame-pointers",
		"CARGO_TARGET_DIR=target",
		"RUSTFLAGS=",
	})

	keys := []string{}
	for _, item := range overrides {
		keys = append(keys, item.Key)
	}
	assert.Equal(t, []string{"CARGO_BUILD_RUSTFLAGS", "CARGO_TARGET_XTENSA_ESP32_NONE_ELF_RUSTFLAGS"}, keys)
}
