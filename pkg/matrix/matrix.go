// Package matrix runs verification jobs. Every job resolves its own toolchain profile,
// selects its target and member filter, and invokes cargo once. Jobs share nothing but
// the read-only workspace, so one job's failure never affects another.
package matrix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/ngld/xverify/pkg/logging"
	"github.com/ngld/xverify/pkg/selector"
	"github.com/ngld/xverify/pkg/toolchain"
	"github.com/ngld/xverify/pkg/workspace"
)

// Resolver turns a toolchain definition into a profile. *toolchain.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, def toolchain.Definition) (*toolchain.Profile, error)
}

// Matrix holds everything needed to run jobs against one workspace.
type Matrix struct {
	Workspace *workspace.Workspace
	Resolver  Resolver
	Executor  Executor
	// Parallel limits the number of jobs running at the same time. Values below 1 mean 1.
	Parallel int
	// Output receives the tool output. With Parallel > 1 each job's output is written as
	// one block once the job is done; otherwise it is streamed.
	Output io.Writer
	// DryRun logs the commands without executing them.
	DryRun bool
	// Env is the environment jobs start from. It locates the cargo home before a toolchain
	// is resolved and is used as is by jobs without a toolchain. Nil means os.Environ().
	Env []string
	// OnResult is called once per job as soon as it finishes. Calls are serialized.
	OnResult func(Result)

	outputLock sync.Mutex
	resultLock sync.Mutex
}

// NewRunID generates the identifier shared by all results of a matrix run.
func NewRunID() (string, error) {
	id, err := nanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 12)
	if err != nil {
		return "", eris.Wrap(err, "failed to generate run id")
	}

	return id, nil
}

// Run executes jobs and returns their results in the order given. It only returns once
// every job finished. Cancelling ctx stops running jobs and marks the rest as cancelled.
func (m *Matrix) Run(ctx context.Context, jobs []Job) (*Report, error) {
	runID, err := NewRunID()
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:   runID,
		Results: make([]Result, len(jobs)),
	}

	parallel := m.Parallel
	if parallel < 1 {
		parallel = 1
	}

	logger := logging.From(ctx)
	logger.Debug().Str("run", runID).Int("jobs", len(jobs)).Int("parallel", parallel).Msg("starting verification")

	eg := errgroup.Group{}
	eg.SetLimit(parallel)
	for idx, job := range jobs {
		idx, job := idx, job
		eg.Go(func() error {
			result := m.runJob(ctx, job, parallel > 1)
			result.RunID = runID
			report.Results[idx] = result

			if m.OnResult != nil {
				m.resultLock.Lock()
				m.OnResult(result)
				m.resultLock.Unlock()
			}
			return nil
		})
	}

	// the goroutines never return errors; failures are part of the results
	_ = eg.Wait()
	return report, nil
}

func (m *Matrix) runJob(ctx context.Context, job Job, buffered bool) (result Result) {
	logger := logging.From(ctx).With().Str("job", job.Name()).Logger()
	ctx = logging.WithLogger(ctx, &logger)

	result = Result{
		Job:     job,
		Started: time.Now(),
	}
	defer func() {
		result.Duration = time.Since(result.Started)
	}()

	if ctx.Err() != nil {
		return m.cancel(ctx, result)
	}

	spec := job.Spec()
	sel, err := selector.Select(m.Workspace, spec, nil)
	if err != nil {
		return m.fail(ctx, result, StatusError, FailureNone, err)
	}
	result.Target = sel.Target.Triple

	if sel.Intent == selector.IntentTest {
		// Cargo configuration files are checked before anything is resolved or spawned.
		overrides, err := workspace.CargoConfigOverrides(m.Workspace.Root, m.env())
		if err != nil {
			return m.fail(ctx, result, StatusError, FailureNone, err)
		}

		if sel, err = selector.Select(m.Workspace, spec, overrides); err != nil {
			return m.failSelection(ctx, result, err)
		}
	}

	profile, err := m.resolveProfile(ctx, spec, sel)
	if err != nil {
		if ctx.Err() != nil {
			return m.cancel(ctx, result)
		}
		if toolchain.IsResolutionError(err) {
			return m.fail(ctx, result, StatusFailed, FailureToolchainNotFound, err)
		}
		return m.fail(ctx, result, StatusError, FailureNone, err)
	}

	if profile != nil {
		result.Profile = profile.Key()
	}

	err = toolchain.Require(profile, sel.ToolchainKind, targetName(sel))
	if err != nil {
		return m.fail(ctx, result, StatusFailed, FailureToolchainNotFound, err)
	}

	if sel.Intent == selector.IntentTest {
		// The profile's environment may set cross-only variables or point at another cargo home.
		overrides, err := workspace.DetectCrossOverrides(m.Workspace.Root, m.profileEnv(profile))
		if err != nil {
			return m.fail(ctx, result, StatusError, FailureNone, err)
		}

		if sel, err = selector.Select(m.Workspace, spec, overrides); err != nil {
			return m.failSelection(ctx, result, err)
		}

		for _, name := range selector.Ineligible(m.Workspace, spec) {
			member, _ := m.Workspace.Member(name)
			logger.Warn().Msgf("not testing %s on the host: %s", name, ineligibleReason(member))
		}
	}

	args := CargoArgs(sel, job)
	result.Fingerprint = Fingerprint(profile, sel, args)

	compiler := "cargo"
	if profile != nil {
		compiler = profile.Compiler
	}
	env := m.profileEnv(profile)

	inv := Invocation{
		Job:  job.Name(),
		Dir:  m.Workspace.Root,
		Env:  env,
		Argv: append([]string{compiler}, args...),
	}
	result.Command = inv.Argv
	logger.Info().Bool("command", true).Msg(inv.CommandLine())

	if m.DryRun {
		result.Status = StatusSkipped
		return result
	}

	output := bytes.Buffer{}
	inv.Output = &output
	if !buffered && m.Output != nil {
		inv.Output = io.MultiWriter(&output, m.Output)
	}

	result.ExitCode, err = m.Executor.Execute(ctx, inv)
	result.Output = output.String()
	if buffered {
		m.flushOutput(job, result.Output)
	}

	switch {
	case ctx.Err() != nil:
		return m.cancel(ctx, result)
	case err != nil:
		return m.fail(ctx, result, StatusError, FailureNone, err)
	case result.ExitCode != 0:
		result.Status = StatusFailed
		result.Kind = failureKind(sel.Intent)
		logger.Error().Msgf("%s (exit code %d)", result.Kind, result.ExitCode)
	default:
		result.Status = StatusPassed
		logger.Info().Msg("passed")
	}

	return result
}

// resolveProfile loads the job's toolchain. Formatting can use any toolchain; it prefers a
// native one so it doesn't depend on the cross toolchain being installed.
func (m *Matrix) resolveProfile(ctx context.Context, spec workspace.JobSpec, sel selector.Selection) (*toolchain.Profile, error) {
	kind := sel.ToolchainKind
	if kind == toolchain.KindAny && spec.Toolchain == "" {
		kind = toolchain.KindNative
		if _, err := m.Workspace.Toolchain("", kind); err != nil {
			kind = toolchain.KindAny
		}
	}

	def, err := m.Workspace.Toolchain(spec.Toolchain, kind)
	if err != nil {
		if sel.NeedsToolchain() {
			return nil, err
		}

		// no toolchain declared at all; fmt runs with whatever cargo is on the PATH
		logging.From(ctx).Debug().Msg("no toolchain declared, using the process environment")
		return nil, nil
	}

	return m.Resolver.Resolve(ctx, def)
}

func (m *Matrix) env() []string {
	if m.Env == nil {
		return os.Environ()
	}
	return m.Env
}

func (m *Matrix) profileEnv(profile *toolchain.Profile) []string {
	if profile == nil {
		return m.env()
	}
	return profile.Env()
}

func (m *Matrix) failSelection(ctx context.Context, result Result, err error) Result {
	if eris.Is(err, selector.ErrConflictingTargetConfig) {
		return m.fail(ctx, result, StatusFailed, FailureConflictingTargetConfig, err)
	}
	return m.fail(ctx, result, StatusError, FailureNone, err)
}

func (m *Matrix) cancel(ctx context.Context, result Result) Result {
	result.Status = StatusCancelled
	result.Err = ctx.Err()
	logging.From(ctx).Warn().Msg("cancelled")
	return result
}

func (m *Matrix) fail(ctx context.Context, result Result, status Status, kind FailureKind, err error) Result {
	result.Status = status
	result.Kind = kind
	result.Err = err
	logging.From(ctx).Error().Err(err).Msg(kindOrStatus(result))
	return result
}

func (m *Matrix) flushOutput(job Job, output string) {
	if m.Output == nil || output == "" {
		return
	}

	m.outputLock.Lock()
	defer m.outputLock.Unlock()

	fmt.Fprintf(m.Output, "--- %s\n", job.Name())
	io.WriteString(m.Output, output)
	if output[len(output)-1] != '\n' {
		io.WriteString(m.Output, "\n")
	}
}

func failureKind(intent selector.Intent) FailureKind {
	switch intent {
	case selector.IntentLint:
		return FailureLint
	case selector.IntentFmt:
		return FailureFormat
	case selector.IntentTest:
		return FailureTest
	case selector.IntentRun:
		return FailureRun
	default:
		return FailureCompile
	}
}

func kindOrStatus(result Result) string {
	if result.Kind != FailureNone {
		return string(result.Kind)
	}
	return string(result.Status)
}

func targetName(sel selector.Selection) string {
	if sel.Target.Triple == "" {
		return string(sel.Intent)
	}
	return sel.Target.Triple
}

func ineligibleReason(member workspace.Member) string {
	if member.Reason != "" {
		return member.Reason
	}
	return "it only builds for the cross target"
}
