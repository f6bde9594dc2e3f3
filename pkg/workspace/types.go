package workspace

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"

	"github.com/ngld/xverify/pkg/toolchain"
)

// HostNative is the pseudo triple used for jobs that compile for the machine running them.
const HostNative = "host-native"

// BuildTarget is a target triple the workspace can be compiled for.
type BuildTarget struct {
	Triple        string
	RequiresCross bool
}

// Host returns the host-native target.
func Host() BuildTarget {
	return BuildTarget{Triple: HostNative}
}

// IsHost reports whether t is the host-native target.
func (t BuildTarget) IsHost() bool {
	return t.Triple == HostNative
}

// Member is one crate of the cargo workspace.
type Member struct {
	Name string
	// Path is relative to the workspace root.
	Path string
	// EligibleForHostTesting is false for crates that only build for the cross target.
	// Those crates are always excluded from host tests.
	EligibleForHostTesting bool
	RequiredFeatures       []string
	// Reason documents why a member is not eligible for host testing.
	Reason string
	// Features lists the [features] of the member's Cargo.toml when HasManifest is set.
	Features    []string
	HasManifest bool
}

// JobSpec is a verification job as declared by the workspace.
type JobSpec struct {
	Name    string
	Command string
	// Target is a triple, HostNative or empty for the workspace default.
	Target    string
	Toolchain string
	Args      []string
	Features  []string
	Include   []string
	Exclude   []string
	Triggers  []string
}

// HasTrigger reports whether the job runs for the given CI event.
func (j JobSpec) HasTrigger(trigger string) bool {
	for _, item := range j.Triggers {
		if item == trigger {
			return true
		}
	}

	return false
}

// Workspace is everything verify.star declared.
type Workspace struct {
	Root          string
	File          string
	DefaultTarget string
	Toolchains    map[string]toolchain.Definition
	Targets       map[string]BuildTarget
	Members       []Member
	Jobs          []JobSpec
	Options       map[string]ScriptOption
}

// New returns an empty workspace rooted at root.
func New(root string) *Workspace {
	return &Workspace{
		Root:       root,
		Toolchains: make(map[string]toolchain.Definition),
		Targets:    make(map[string]BuildTarget),
		Options:    make(map[string]ScriptOption),
	}
}

// Member looks up a member by name.
func (w *Workspace) Member(name string) (Member, bool) {
	for _, member := range w.Members {
		if member.Name == name {
			return member, true
		}
	}

	return Member{}, false
}

// Job looks up a declared job by name.
func (w *Workspace) Job(name string) (JobSpec, bool) {
	for _, job := range w.Jobs {
		if job.Name == name {
			return job, true
		}
	}

	return JobSpec{}, false
}

// JobsFor returns the declared jobs that run on trigger, in declaration order.
func (w *Workspace) JobsFor(trigger string) []JobSpec {
	result := make([]JobSpec, 0, len(w.Jobs))
	for _, job := range w.Jobs {
		if job.HasTrigger(trigger) {
			result = append(result, job)
		}
	}

	return result
}

// Target resolves a triple (or "" for the default target) to a declared target.
func (w *Workspace) Target(triple string) (BuildTarget, error) {
	if triple == "" {
		triple = w.DefaultTarget
	}

	if triple == HostNative {
		return Host(), nil
	}

	target, ok := w.Targets[triple]
	if !ok {
		return BuildTarget{}, eris.Errorf("target %s is not declared", triple)
	}

	return target, nil
}

// Toolchain returns the named toolchain definition or, if name is empty, the first
// definition of the given kind in alphabetical order.
func (w *Workspace) Toolchain(name string, kind toolchain.Kind) (toolchain.Definition, error) {
	if name != "" {
		def, ok := w.Toolchains[name]
		if !ok {
			return toolchain.Definition{}, eris.Wrapf(toolchain.ErrToolchainNotFound, "toolchain %s is not declared", name)
		}

		return def, nil
	}

	names := make([]string, 0, len(w.Toolchains))
	for name := range w.Toolchains {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := w.Toolchains[name]
		if kind == toolchain.KindAny || def.Kind == kind {
			return def, nil
		}
	}

	return toolchain.Definition{}, eris.Wrapf(toolchain.ErrToolchainNotFound, "no %s toolchain declared", kind)
}

type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

// StarlarkPath is a normalized path produced by resolve_path().
type StarlarkPath string

func (p StarlarkPath) String() string {
	return starlark.String(p).String()
}

func (p StarlarkPath) Type() string {
	return "path"
}

func (p StarlarkPath) Freeze() {}

func (p StarlarkPath) Truth() starlark.Bool {
	return p != ""
}

func (p StarlarkPath) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

func (p StarlarkPath) CompareSameType(op starsyntax.Token, y_ starlark.Value, depth int) (bool, error) {
	y := y_.(StarlarkPath)

	switch op {
	case starsyntax.EQL:
		return p == y, nil
	case starsyntax.NEQ:
		return p != y, nil
	case starsyntax.LT:
		return p < y, nil
	case starsyntax.LE:
		return p <= y, nil
	case starsyntax.GT:
		return p > y, nil
	case starsyntax.GE:
		return p >= y, nil
	}

	return false, eris.Errorf("unknown operator %v", op)
}

// starlarkTarget is what target() returns so jobs can reference it directly.
type starlarkTarget struct {
	BuildTarget
}

func (t starlarkTarget) String() string {
	return fmt.Sprintf("<Target %s>", t.Triple)
}

func (t starlarkTarget) Type() string {
	return "target"
}

func (t starlarkTarget) Freeze() {}

func (t starlarkTarget) Truth() starlark.Bool {
	return starlark.True
}

func (t starlarkTarget) Hash() (uint32, error) {
	return starlark.String(t.Triple).Hash()
}
