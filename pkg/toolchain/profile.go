// Package toolchain resolves compiler installations into explicit environment profiles.
//
// A Profile is the result of loading a toolchain's environment definition (for example the
// export-esp.sh script written by espup). Jobs receive the profile as a value and pass its
// environment to every process they spawn; the environment of the xverify process itself
// is never modified.
package toolchain

import (
	"fmt"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/expand"
)

// Kind distinguishes cross-compiling toolchains from native ones.
type Kind int

const (
	KindAny Kind = iota
	KindCross
	KindNative
)

func (k Kind) String() string {
	switch k {
	case KindCross:
		return "cross"
	case KindNative:
		return "native"
	default:
		return "any"
	}
}

// ParseKind converts the textual kind used in verify.star.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(value) {
	case "cross":
		return KindCross, nil
	case "native", "host":
		return KindNative, nil
	case "any", "":
		return KindAny, nil
	}

	return KindAny, fmt.Errorf("unknown toolchain kind %q (must be cross or native)", value)
}

// Definition describes where a toolchain's environment comes from. Definitions are
// declared by the workspace and turned into profiles by a Resolver.
type Definition struct {
	Name string
	Kind Kind
	// EnvScript is a POSIX shell file that exports the toolchain's variables. A leading ~
	// and $HOME are expanded against the resolver's home directory.
	EnvScript string
	// Compiler is the driver that has to be on the resolved PATH (cargo by default).
	Compiler string
	// VersionCommand prints the toolchain version, e.g. ["rustc", "--version"].
	VersionCommand []string
	// VersionConstraint is a semver constraint checked against the probed version.
	VersionConstraint string
	Env               map[string]string
	PathPrepend       []string
}

// CompilerName returns the configured compiler driver or cargo.
func (d Definition) CompilerName() string {
	if d.Compiler == "" {
		return "cargo"
	}
	return d.Compiler
}

// Profile is an activated toolchain.
type Profile struct {
	Name     string
	Kind     Kind
	Identity string
	// Source is the env script the profile was loaded from or "process" if it was
	// derived from the base environment alone.
	Source   string
	Compiler string
	env      []string
}

// NewProfile creates a profile from an already known environment.
func NewProfile(name string, kind Kind, compiler string, env []string) *Profile {
	values := make([]string, len(env))
	copy(values, env)

	return &Profile{
		Name:     name,
		Kind:     kind,
		Identity: name,
		Source:   "process",
		Compiler: compiler,
		env:      values,
	}
}

// Env returns a copy of the profile's environment in KEY=value form.
func (p *Profile) Env() []string {
	result := make([]string, len(p.env))
	copy(result, p.env)
	return result
}

// Environ wraps the environment for the shell interpreter.
func (p *Profile) Environ() expand.Environ {
	return expand.ListEnviron(p.env...)
}

// Getenv looks up a single variable in the profile's environment.
func (p *Profile) Getenv(name string) string {
	prefix := name + "="
	for idx := len(p.env) - 1; idx >= 0; idx-- {
		if strings.HasPrefix(p.env[idx], prefix) {
			return p.env[idx][len(prefix):]
		}
	}

	return ""
}

// Key identifies the profile for fingerprints. Two profiles with the same key are
// interchangeable for caching purposes.
func (p *Profile) Key() string {
	return fmt.Sprintf("%s/%s/%s", p.Kind, p.Name, p.Identity)
}

func (p *Profile) String() string {
	return fmt.Sprintf("<Profile %s (%s) %s from %s>", p.Name, p.Kind, p.Identity, p.Source)
}

func envToMap(env []string) map[string]string {
	result := make(map[string]string, len(env))
	for _, item := range env {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		result[parts[0]] = parts[1]
	}

	return result
}

func mapToEnv(values map[string]string) []string {
	result := make([]string, 0, len(values))
	for name, value := range values {
		result = append(result, name+"="+value)
	}

	sort.Strings(result)
	return result
}
