package matrix

import (
	"strings"

	"github.com/ngld/xverify/pkg/selector"
)

// CargoArgs builds the cargo invocation (without the cargo binary itself) for a job and its
// selection. The job's extra arguments go before any arguments meant for the wrapped tool.
func CargoArgs(sel selector.Selection, job Job) []string {
	extra := job.Args()
	args := []string{}

	switch sel.Intent {
	case selector.IntentBuild, selector.IntentRun:
		args = append(args, string(sel.Intent))
		if !hasProfileFlag(extra) {
			args = append(args, "--release")
		}
		args = append(args, "--target", sel.Target.Triple)
		args = appendFilter(args, sel)
		args = append(args, extra...)
	case selector.IntentLint:
		args = append(args, "clippy", "--target", sel.Target.Triple)
		args = appendFilter(args, sel)
		args = append(args, extra...)
		args = append(args, "--", "-D", "warnings")
	case selector.IntentFmt:
		args = append(args, "fmt", "--all")
		args = append(args, extra...)
		args = append(args, "--", "--check")
	case selector.IntentTest:
		args = append(args, "test")
		args = appendFilter(args, sel)
		args = append(args, extra...)
	}

	return args
}

func appendFilter(args []string, sel selector.Selection) []string {
	// --exclude only works together with --workspace
	if len(sel.Excluded) > 0 || sel.Intent == selector.IntentTest {
		args = append(args, "--workspace")
		for _, name := range sel.Excluded {
			args = append(args, "--exclude", name)
		}
	}

	if len(sel.Features) > 0 {
		args = append(args, "--features", strings.Join(sel.Features, ","))
	}

	return args
}

func hasProfileFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--release" || arg == "-r" || arg == "--profile" || strings.HasPrefix(arg, "--profile=") {
			return true
		}
	}

	return false
}
