package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/xverify/pkg/logging"
)

// captureCmd is run after the env script to snapshot the exported environment. It never
// reaches the OS since the exec handler intercepts it.
const captureCmd = "__xverify_capture_env"

// Resolver turns toolchain definitions into profiles.
type Resolver struct {
	// Home replaces ~ and $HOME in env script paths.
	Home string
	// Dir is the working directory used while sourcing env scripts and looking up the
	// compiler, usually the workspace root.
	Dir string
	// BaseEnv is the environment the profile starts from.
	BaseEnv []string
}

// NewResolver creates a resolver that starts from the current process environment.
func NewResolver(dir string) (*Resolver, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, eris.Wrap(err, "failed to determine home directory")
	}

	dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrap(err, "failed to resolve working directory")
	}

	return &Resolver{
		Home:    home,
		Dir:     dir,
		BaseEnv: os.Environ(),
	}, nil
}

// ScriptPath expands the definition's env script path.
func (r *Resolver) ScriptPath(def Definition) string {
	script := def.EnvScript
	if script == "" {
		return ""
	}

	if script == "~" || strings.HasPrefix(script, "~/") {
		script = filepath.Join(r.Home, script[1:])
	}
	script = strings.ReplaceAll(script, "${HOME}", r.Home)
	script = strings.ReplaceAll(script, "$HOME", r.Home)

	if !filepath.IsAbs(script) {
		script = filepath.Join(r.Dir, script)
	}

	return filepath.Clean(script)
}

// Resolve loads the environment for def. The returned profile is the only place the
// loaded environment lives.
func (r *Resolver) Resolve(ctx context.Context, def Definition) (*Profile, error) {
	logger := logging.From(ctx)
	env := envToMap(r.BaseEnv)
	if _, ok := env["HOME"]; !ok && r.Home != "" {
		env["HOME"] = r.Home
	}

	profile := &Profile{
		Name:   def.Name,
		Kind:   def.Kind,
		Source: "process",
	}

	script := r.ScriptPath(def)
	if def.Kind == KindCross && script == "" {
		return nil, eris.Wrapf(ErrToolchainNotFound, "cross toolchain %s does not declare an env script", def.Name)
	}

	if script != "" {
		info, err := os.Stat(script)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return nil, eris.Wrapf(ErrToolchainNotFound, "env script %s for toolchain %s is missing", script, def.Name)
			}
			return nil, eris.Wrapf(err, "failed to check env script %s", script)
		}

		if info.IsDir() {
			return nil, eris.Wrapf(ErrToolchainNotFound, "env script %s for toolchain %s is a directory", script, def.Name)
		}

		logger.Debug().Str("toolchain", def.Name).Str("path", script).Msg("sourcing env script")
		env, err = r.source(ctx, script, env)
		if err != nil {
			return nil, err
		}
		profile.Source = script
	}

	for name, value := range def.Env {
		env[name] = value
	}

	if len(def.PathPrepend) > 0 {
		dirs := make([]string, 0, len(def.PathPrepend)+1)
		for _, dir := range def.PathPrepend {
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(r.Dir, dir)
			}
			dirs = append(dirs, dir)
		}

		if path := env["PATH"]; path != "" {
			dirs = append(dirs, path)
		}
		env["PATH"] = strings.Join(dirs, string(os.PathListSeparator))
	}

	profile.env = mapToEnv(env)

	compiler, err := interp.LookPathDir(r.Dir, profile.Environ(), def.CompilerName())
	if err != nil {
		return nil, eris.Wrapf(ErrToolchainNotFound, "%s is not on the PATH of toolchain %s", def.CompilerName(), def.Name)
	}
	profile.Compiler = compiler

	if len(def.VersionCommand) > 0 {
		err = r.probeVersion(ctx, profile, def)
		if err != nil {
			return nil, err
		}
	} else {
		profile.Identity = def.Name
	}

	logger.Debug().
		Str("toolchain", def.Name).
		Str("identity", profile.Identity).
		Str("compiler", profile.Compiler).
		Msg("toolchain resolved")

	return profile, nil
}

// source runs script inside the shell interpreter and returns the exported environment
// it leaves behind.
func (r *Resolver) source(ctx context.Context, script string, env map[string]string) (map[string]string, error) {
	handle, err := os.Open(script)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", script)
	}
	defer handle.Close()

	file, err := syntax.NewParser().Parse(handle, script)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse env script %s", script)
	}

	var captured map[string]string
	defaultHandler := interp.DefaultExecHandler(2 * time.Second)
	stderr := strings.Builder{}

	runner, err := interp.New(
		interp.Dir(r.Dir),
		interp.Env(expand.ListEnviron(mapToEnv(env)...)),
		interp.StdIO(nil, &stderr, &stderr),
		interp.ExecHandler(func(ctx context.Context, args []string) error {
			if len(args) > 0 && args[0] == captureCmd {
				captured = make(map[string]string)
				interp.HandlerCtx(ctx).Env.Each(func(name string, vr expand.Variable) bool {
					if !vr.IsSet() {
						delete(captured, name)
					} else if vr.Exported && vr.Kind == expand.String {
						captured[name] = vr.String()
					}
					return true
				})
				return nil
			}

			return defaultHandler(ctx, args)
		}),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize shell")
	}

	err = runner.Run(ctx, file)
	if err != nil {
		return nil, eris.Wrapf(ErrToolchainNotFound, "env script %s failed: %v\n%s", script, err, stderr.String())
	}

	capture, err := syntax.NewParser().Parse(strings.NewReader(captureCmd), "capture")
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse capture command")
	}

	err = runner.Run(ctx, capture)
	if err != nil || captured == nil {
		return nil, eris.Wrapf(ErrToolchainNotFound, "failed to capture the environment exported by %s", script)
	}

	return captured, nil
}
