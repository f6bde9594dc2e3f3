package matrix

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mitchellh/colorstring"
)

// Status is the outcome of a single job.
type Status string

const (
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusError means the job never reached the compiler, e.g. because its
	// declaration is invalid.
	StatusError Status = "error"
	// StatusSkipped is only used for dry runs.
	StatusSkipped Status = "skipped"
)

// FailureKind classifies why a job did not pass.
type FailureKind string

const (
	FailureNone                    FailureKind = ""
	FailureToolchainNotFound       FailureKind = "ToolchainNotFound"
	FailureConflictingTargetConfig FailureKind = "ConflictingTargetConfig"
	FailureCompile                 FailureKind = "CompileFailure"
	FailureLint                    FailureKind = "LintFailure"
	FailureFormat                  FailureKind = "FormatViolation"
	FailureTest                    FailureKind = "TestFailure"
	FailureRun                     FailureKind = "RunFailure"
)

// Result is the outcome of one job in a matrix run.
type Result struct {
	RunID  string
	Job    Job
	Status Status
	Kind   FailureKind
	// Err describes failures that happened before or instead of the compiler run.
	Err      error
	ExitCode int
	// Output is the tool's combined stdout and stderr, unmodified.
	Output      string
	Command     []string
	Target      string
	Profile     string
	Fingerprint string
	Started     time.Time
	Duration    time.Duration
}

// Passed reports whether the job counts towards a successful run.
func (r Result) Passed() bool {
	return r.Status == StatusPassed || r.Status == StatusSkipped
}

// Summary is a one-line description of the result.
func (r Result) Summary() string {
	switch {
	case r.Passed():
		return string(r.Status)
	case r.Err != nil && r.Kind != FailureNone:
		return fmt.Sprintf("%s: %s", r.Kind, firstLine(r.Err.Error()))
	case r.Err != nil:
		return firstLine(r.Err.Error())
	case r.Kind != FailureNone:
		return fmt.Sprintf("%s (exit code %d)", r.Kind, r.ExitCode)
	default:
		return string(r.Status)
	}
}

// Report collects the results of a matrix run in job order.
type Report struct {
	RunID   string
	Results []Result
}

// Success is true if every job passed. An empty report is successful.
func (r *Report) Success() bool {
	for _, result := range r.Results {
		if !result.Passed() {
			return false
		}
	}

	return true
}

// Failed returns the results that did not pass.
func (r *Report) Failed() []Result {
	failed := []Result{}
	for _, result := range r.Results {
		if !result.Passed() {
			failed = append(failed, result)
		}
	}

	return failed
}

// Result looks up the result of the named job.
func (r *Report) Result(job string) (Result, bool) {
	for _, result := range r.Results {
		if result.Job.Name() == job {
			return result, true
		}
	}

	return Result{}, false
}

var statusColors = map[Status]string{
	StatusPassed:    "[green]",
	StatusSkipped:   "[cyan]",
	StatusFailed:    "[red]",
	StatusError:     "[red]",
	StatusCancelled: "[yellow]",
}

// Print writes a colored summary table to w.
func (r *Report) Print(w io.Writer) {
	width := 0
	for _, result := range r.Results {
		if len(result.Job.Name()) > width {
			width = len(result.Job.Name())
		}
	}

	for _, result := range r.Results {
		color := statusColors[result.Status]
		name := result.Job.Name() + strings.Repeat(" ", width-len(result.Job.Name()))
		// the summary is passed as an argument so brackets in it stay untouched
		colorstring.Fprintf(w, color+"[bold]%-9s[reset] %s  %s  "+color+"%s\n",
			result.Status, name, result.Duration.Round(time.Millisecond), result.Summary())
	}

	passed := 0
	for _, result := range r.Results {
		if result.Passed() {
			passed++
		}
	}

	if r.Success() {
		colorstring.Fprintf(w, "[green][bold]%d of %d jobs passed\n", passed, len(r.Results))
	} else {
		colorstring.Fprintf(w, "[red][bold]%d of %d jobs passed\n", passed, len(r.Results))
	}
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx > -1 {
		return text[:idx]
	}
	return text
}
