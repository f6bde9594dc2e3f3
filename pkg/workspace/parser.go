package workspace

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/ngld/xverify/pkg/logging"
	"github.com/ngld/xverify/pkg/toolchain"
)

// DefaultFile is the name of the workspace declaration.
const DefaultFile = "verify.star"

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	env          map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	ws           *Workspace
	initPhase    bool
}

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

func (c *parserCtx) lookupEnv(key string) (string, bool) {
	if c.env != nil {
		value, ok := c.env[key]
		return value, ok
	}

	return os.LookupEnv(key)
}

// * Declaration builtins

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func requireConfigure(thread *starlark.Thread, fn *starlark.Builtin) error {
	if getCtx(thread).initPhase {
		return eris.Errorf("%s() can only be called from configure()", fn.Name())
	}
	return nil
}

func declareToolchain(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, kind, envScript, compiler, version string
	var versionCmd *starlark.List
	var env *starlark.Dict
	var path *starlark.List

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "kind", &kind, "env_script?", &envScript,
		"compiler?", &compiler, "version_command?", &versionCmd, "version?", &version, "env?", &env, "path?", &path)
	if err != nil {
		return nil, err
	}

	if err = requireConfigure(thread, fn); err != nil {
		return nil, err
	}

	def := toolchain.Definition{
		Name:              name,
		EnvScript:         envScript,
		Compiler:          compiler,
		VersionConstraint: version,
	}

	def.Kind, err = toolchain.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	if def.Kind == toolchain.KindAny {
		return nil, eris.Errorf("toolchain %s: kind must be cross or native", name)
	}

	def.VersionCommand, err = starlarkIterable2stringSlice(versionCmd, "version_command")
	if err != nil {
		return nil, err
	}

	if version != "" && len(def.VersionCommand) == 0 {
		warn(thread, "%s: toolchain %s declares a version constraint but no version_command", fn.Name(), name)
	}

	def.Env, err = starlarkDict2stringMap(env, "env")
	if err != nil {
		return nil, err
	}

	def.PathPrepend, err = starlarkIterable2stringSlice(path, "path")
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	for idx, dir := range def.PathPrepend {
		def.PathPrepend[idx] = normalizePath(ctx, dir)
	}

	if _, exists := ctx.ws.Toolchains[name]; exists {
		return nil, eris.Errorf("toolchain %s declared twice", name)
	}
	ctx.ws.Toolchains[name] = def

	return starlark.String(name), nil
}

func declareTarget(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var triple string
	cross := true
	isDefault := false

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "triple", &triple, "cross?", &cross, "default?", &isDefault)
	if err != nil {
		return nil, err
	}

	if err = requireConfigure(thread, fn); err != nil {
		return nil, err
	}

	if triple == HostNative {
		return nil, eris.Errorf("%s is reserved for the host target", HostNative)
	}

	ctx := getCtx(thread)
	target := BuildTarget{Triple: triple, RequiresCross: cross}
	ctx.ws.Targets[triple] = target

	if isDefault || ctx.ws.DefaultTarget == "" {
		ctx.ws.DefaultTarget = triple
	}

	return starlarkTarget{target}, nil
}

func declareMember(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var features *starlark.List
	member := Member{EligibleForHostTesting: true}

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &member.Name, "path?", &member.Path,
		"host_tests?", &member.EligibleForHostTesting, "features?", &features, "reason?", &member.Reason)
	if err != nil {
		return nil, err
	}

	if err = requireConfigure(thread, fn); err != nil {
		return nil, err
	}

	member.RequiredFeatures, err = starlarkIterable2stringSlice(features, "features")
	if err != nil {
		return nil, err
	}

	if !member.EligibleForHostTesting && member.Reason == "" {
		warn(thread, "%s: member %s is excluded from host tests without a reason", fn.Name(), member.Name)
	}

	ctx := getCtx(thread)
	if _, exists := ctx.ws.Member(member.Name); exists {
		return nil, eris.Errorf("member %s declared twice", member.Name)
	}
	ctx.ws.Members = append(ctx.ws.Members, member)

	return starlark.String(member.Name), nil
}

func declareJob(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target starlark.Value = starlark.None
	var jobArgs, features, include, exclude, on *starlark.List
	job := JobSpec{}

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &job.Name, "command", &job.Command, "target?", &target,
		"toolchain?", &job.Toolchain, "args?", &jobArgs, "features?", &features, "include?", &include,
		"exclude?", &exclude, "on?", &on)
	if err != nil {
		return nil, err
	}

	if err = requireConfigure(thread, fn); err != nil {
		return nil, err
	}

	switch value := target.(type) {
	case starlark.NoneType:
	case starlark.String:
		job.Target = value.GoString()
	case starlarkTarget:
		job.Target = value.Triple
	default:
		return nil, eris.Errorf("%s: target must be a string or a target, got %s", fn.Name(), target.Type())
	}

	lists := []struct {
		input  *starlark.List
		output *[]string
		field  string
	}{
		{jobArgs, &job.Args, "args"},
		{features, &job.Features, "features"},
		{include, &job.Include, "include"},
		{exclude, &job.Exclude, "exclude"},
		{on, &job.Triggers, "on"},
	}
	for _, item := range lists {
		*item.output, err = starlarkIterable2stringSlice(item.input, item.field)
		if err != nil {
			return nil, err
		}
	}

	ctx := getCtx(thread)
	if _, exists := ctx.ws.Job(job.Name); exists {
		return nil, eris.Errorf("job %s declared twice", job.Name)
	}
	ctx.ws.Jobs = append(ctx.ws.Jobs, job)

	return starlark.String(job.Name), nil
}

// LoadOptions controls how a workspace file is evaluated.
type LoadOptions struct {
	// Options are values for option() declarations.
	Options map[string]string
	// Env replaces the process environment for getenv(). Nil means os.Getenv.
	Env map[string]string
}

// Load evaluates a verify.star file, calls its configure() function and returns the
// declared workspace merged with the members of the cargo workspace at projectRoot.
func Load(ctx context.Context, filename, projectRoot string, opts LoadOptions) (*Workspace, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	builtins := starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"HOST":         starlark.String(HostNative),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"toolchain":    starlark.NewBuiltin("toolchain", declareToolchain),
		"target":       starlark.NewBuiltin("target", declareTarget),
		"member":       starlark.NewBuiltin("member", declareMember),
		"job":          starlark.NewBuiltin("job", declareJob),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			logging.From(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}

	optionValues := opts.Options
	if optionValues == nil {
		optionValues = make(map[string]string)
	}

	ws := New(projectRoot)
	ws.File = filename
	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      ws.Options,
		optionValues: optionValues,
		env:          opts.Env,
		yamlCache:    make(map[string]interface{}),
		ws:           ws,
		initPhase:    true,
	}
	thread.SetLocal("parserCtx", &threadCtx)

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read file")
	}

	globals, err := starlark.ExecFile(thread, simplifyPath(&threadCtx, filename), script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", simplifyPath(&threadCtx, filename), evalError.Backtrace())
		}
		return nil, eris.Wrap(err, "failed to execute")
	}

	for name := range optionValues {
		if _, ok := ws.Options[name]; !ok {
			logging.From(ctx).Warn().Msgf("option %s was passed but %s does not declare it", name, simplifyPath(&threadCtx, filename))
		}
	}

	configure, ok := globals["configure"]
	if !ok {
		return nil, eris.Errorf("%s did not declare a configure function", simplifyPath(&threadCtx, filename))
	}

	configureFunc, ok := configure.(starlark.Callable)
	if !ok {
		return nil, eris.Errorf("%s did declare a configure value but it's not a function", simplifyPath(&threadCtx, filename))
	}

	threadCtx.initPhase = false
	_, err = starlark.Call(thread, configureFunc, make(starlark.Tuple, 0), make([]starlark.Tuple, 0))
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.New(evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed configure call in %s", simplifyPath(&threadCtx, filename))
	}

	err = ws.MergeCargoMembers(ctx)
	if err != nil {
		return nil, err
	}

	err = ws.Validate()
	if err != nil {
		return nil, eris.Wrapf(err, "invalid workspace declaration in %s", simplifyPath(&threadCtx, filename))
	}

	return ws, nil
}

// Discover loads <root>/verify.star if it exists and falls back to Default otherwise.
func Discover(ctx context.Context, root string, opts LoadOptions) (*Workspace, error) {
	file := filepath.Join(root, DefaultFile)
	_, err := os.Stat(file)
	if err == nil {
		return Load(ctx, file, root, opts)
	}

	if !eris.Is(err, os.ErrNotExist) {
		return nil, eris.Wrapf(err, "failed to check %s", file)
	}

	logging.From(ctx).Debug().Msgf("%s not found, using the default matrix", file)
	ws := Default(root)
	err = ws.MergeCargoMembers(ctx)
	if err != nil {
		return nil, err
	}

	return ws, ws.Validate()
}

// Validate checks cross references between jobs, targets and toolchains.
func (w *Workspace) Validate() error {
	for _, job := range w.Jobs {
		if job.Name == "" || strings.ContainsAny(job.Name, " \t") {
			return eris.Errorf("invalid job name %q", job.Name)
		}

		if job.Toolchain != "" {
			if _, ok := w.Toolchains[job.Toolchain]; !ok {
				return eris.Errorf("job %s references unknown toolchain %s", job.Name, job.Toolchain)
			}
		}

		if job.Target != "" && job.Target != HostNative {
			if _, ok := w.Targets[job.Target]; !ok {
				return eris.Errorf("job %s references unknown target %s", job.Name, job.Target)
			}
		}
	}

	for _, member := range w.Members {
		if member.Name == "" {
			return eris.New("found a member without a name")
		}
	}

	return nil
}
