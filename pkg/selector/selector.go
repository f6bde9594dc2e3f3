// Package selector maps a verification intent onto a build target, the kind of toolchain
// it needs and the set of workspace members it may compile.
package selector

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ngld/xverify/pkg/toolchain"
	"github.com/ngld/xverify/pkg/workspace"
)

// ErrConflictingTargetConfig means a host build was requested while configuration meant
// only for the cross target is active.
var ErrConflictingTargetConfig = eris.New("conflicting target configuration")

// Intent is what a job wants to achieve.
type Intent string

const (
	IntentBuild Intent = "build"
	IntentRun   Intent = "run"
	IntentLint  Intent = "lint"
	IntentFmt   Intent = "fmt"
	IntentTest  Intent = "test"
)

var intentAliases = map[string]Intent{
	"build":     IntentBuild,
	"run":       IntentRun,
	"lint":      IntentLint,
	"clippy":    IntentLint,
	"fmt":       IntentFmt,
	"fmt-check": IntentFmt,
	"format":    IntentFmt,
	"test":      IntentTest,
	"host-test": IntentTest,
}

// ParseIntent converts a job command into an intent.
func ParseIntent(command string) (Intent, error) {
	intent, ok := intentAliases[strings.ToLower(command)]
	if !ok {
		return "", eris.Errorf("unknown command %q (expected build, run, lint, fmt or test)", command)
	}

	return intent, nil
}

// Selection is the outcome of Select.
type Selection struct {
	Intent        Intent
	Target        workspace.BuildTarget
	ToolchainKind toolchain.Kind
	// Toolchain is the name of the requested definition; empty if the intent needs none.
	Toolchain string
	// Excluded lists members that must not be compiled, sorted by name.
	Excluded []string
	Features []string
}

// NeedsToolchain reports whether the selection has to resolve a toolchain before running.
func (s Selection) NeedsToolchain() bool {
	return s.ToolchainKind != toolchain.KindAny || s.Toolchain != ""
}

// Select determines target, toolchain kind and member filter for spec.
// overrides are the cross-only settings active in the job's execution context; they are
// only relevant for host tests.
func Select(ws *workspace.Workspace, spec workspace.JobSpec, overrides []workspace.Override) (Selection, error) {
	intent, err := ParseIntent(spec.Command)
	if err != nil {
		return Selection{}, err
	}

	sel := Selection{
		Intent:    intent,
		Toolchain: spec.Toolchain,
		Features:  dedupe(spec.Features),
	}

	switch intent {
	case IntentBuild, IntentRun, IntentLint:
		if spec.Target == workspace.HostNative {
			return Selection{}, eris.Errorf("job %s: %s always runs against the cross target", spec.Name, intent)
		}

		sel.Target, err = ws.Target(spec.Target)
		if err != nil {
			return Selection{}, eris.Wrapf(err, "job %s", spec.Name)
		}

		sel.ToolchainKind = toolchain.KindNative
		if sel.Target.RequiresCross {
			sel.ToolchainKind = toolchain.KindCross
		}
		sel.Excluded = dedupe(spec.Exclude)
	case IntentFmt:
		// formatting doesn't depend on the target
		sel.Target = workspace.BuildTarget{}
		sel.ToolchainKind = toolchain.KindAny
	case IntentTest:
		if spec.Target != "" && spec.Target != workspace.HostNative {
			return Selection{}, eris.Errorf("job %s: tests only run against the host target", spec.Name)
		}

		if len(overrides) > 0 {
			lines := make([]string, len(overrides))
			for idx, item := range overrides {
				lines[idx] = item.String()
			}
			return Selection{}, eris.Wrapf(ErrConflictingTargetConfig, "job %s: cross-only configuration is active:\n  %s",
				spec.Name, strings.Join(lines, "\n  "))
		}

		sel.Target = workspace.Host()
		sel.ToolchainKind = toolchain.KindNative
		sel.Excluded, err = hostExclusions(ws, spec)
		if err != nil {
			return Selection{}, err
		}

		for _, member := range ws.Members {
			if !member.EligibleForHostTesting || isExcluded(sel.Excluded, member.Name) {
				continue
			}

			if err = member.CheckFeatures(); err != nil {
				return Selection{}, eris.Wrapf(err, "job %s", spec.Name)
			}
			sel.Features = dedupe(append(sel.Features, member.RequiredFeatures...))
		}

		if len(sel.Features) == 0 {
			return Selection{}, eris.Errorf("job %s: host tests need a feature flag that enables the test-only code paths", spec.Name)
		}
	}

	return sel, nil
}

// hostExclusions merges the job's explicit exclusions with every member that isn't eligible
// for host tests. An include list narrows the test set but can never bring back an
// ineligible member.
func hostExclusions(ws *workspace.Workspace, spec workspace.JobSpec) ([]string, error) {
	excluded := append([]string{}, spec.Exclude...)
	include := make(map[string]bool, len(spec.Include))
	for _, name := range spec.Include {
		if _, ok := ws.Member(name); !ok {
			return nil, eris.Errorf("job %s includes unknown member %s", spec.Name, name)
		}
		include[name] = true
	}

	for _, member := range ws.Members {
		if !member.EligibleForHostTesting {
			excluded = append(excluded, member.Name)
		} else if len(include) > 0 && !include[member.Name] {
			excluded = append(excluded, member.Name)
		}
	}

	return dedupe(excluded), nil
}

// Ineligible returns the names of members that the selection would have tested if the
// job had asked for them but which are not eligible for host tests.
func Ineligible(ws *workspace.Workspace, spec workspace.JobSpec) []string {
	result := []string{}
	for _, name := range spec.Include {
		member, ok := ws.Member(name)
		if ok && !member.EligibleForHostTesting {
			result = append(result, name)
		}
	}

	return result
}

func isExcluded(excluded []string, name string) bool {
	idx := sort.SearchStrings(excluded, name)
	return idx < len(excluded) && excluded[idx] == name
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		result = append(result, item)
	}

	sort.Strings(result)
	return result
}
