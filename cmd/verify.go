package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ngld/xverify/pkg"
	"github.com/ngld/xverify/pkg/history"
	"github.com/ngld/xverify/pkg/logging"
	"github.com/ngld/xverify/pkg/matrix"
	"github.com/ngld/xverify/pkg/workspace"
)

var errVerificationFailed = eris.New("verification failed")

var verifyCmd = &cobra.Command{
	Use:   "verify [job...] [option=value...]",
	Short: "Runs the verification matrix",
	Long: `Runs the declared jobs and prints a report. Without job names, every job is run or, with
--trigger, every job that runs on that CI event. Jobs never share state; a failing job does not
stop the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, options := splitArgs(args)
		flags := cmd.Flags()

		trigger, err := flags.GetString("trigger")
		if err != nil {
			return err
		}

		dryRun, err := flags.GetBool("dry")
		if err != nil {
			return err
		}

		if flags.Changed("parallel") {
			current.cfg.Parallel, _ = flags.GetInt("parallel")
			if err = current.cfg.Validate(); err != nil {
				return err
			}
		}

		noHistory, err := flags.GetBool("no-history")
		if err != nil {
			return err
		}

		ws, err := loadWorkspace(current, options)
		if err != nil {
			return err
		}

		jobs, err := matrix.JobsFromWorkspace(ws, trigger, names)
		if err != nil {
			return err
		}

		if len(jobs) == 0 {
			current.logger.Warn().Msg("no jobs selected")
			return nil
		}

		return runJobs(current, ws, jobs, dryRun, !noHistory)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	flags := verifyCmd.Flags()
	flags.StringP("trigger", "t", "", "only run jobs for this CI event (pull_request, push)")
	flags.IntP("parallel", "j", 1, "number of jobs to run at the same time")
	flags.BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	flags.Bool("no-history", false, "don't record the results")
}

func runJobs(s session, ws *workspace.Workspace, jobs []matrix.Job, dryRun, record bool) error {
	ctx := s.ctx
	resolver, err := newResolver(s)
	if err != nil {
		return err
	}

	m := &matrix.Matrix{
		Workspace: ws,
		Resolver:  resolver,
		Executor:  matrix.NewShellExecutor(),
		Parallel:  s.cfg.Parallel,
		Output:    os.Stderr,
		DryRun:    dryRun,
	}

	var store *history.Store
	if record && !dryRun && !s.cfg.History.Disabled {
		store, err = history.Open(ctx, s.cfg.HistoryPath(s.root))
		if err != nil {
			// a broken history must not block verification
			s.logger.Warn().Err(err).Msg("results will not be recorded")
			store = nil
		} else {
			defer store.Close()
		}
	}

	var bar *progressbar.ProgressBar
	if m.Parallel > 1 && !dryRun {
		bar = getProgressBar(len(jobs))
	}

	m.OnResult = func(result matrix.Result) {
		if bar != nil {
			_ = bar.Add(1)
		}

		if store != nil {
			// recording uses its own context so cancelled jobs are still stored
			recordCtx := logging.WithLogger(context.Background(), s.logger)
			previous, err := store.Last(recordCtx, result.Fingerprint)
			if err != nil {
				s.logger.Debug().Err(err).Str("job", result.Job.Name()).Msg("failed to look up the previous result")
			} else if change := describeChange(previous, result); change != "" {
				s.logger.Info().Str("job", result.Job.Name()).Msg(change)
			}

			err = store.Record(recordCtx, result)
			if err != nil {
				s.logger.Warn().Err(err).Str("job", result.Job.Name()).Msg("failed to record result")
			}
		}
	}

	pkg.PrintTask("Verifying " + ws.Root)
	report, err := m.Run(ctx, jobs)
	if err != nil {
		return err
	}

	if bar != nil {
		_ = bar.Finish()
	}

	pkg.PrintTask("Report " + report.RunID)
	report.Print(os.Stderr)
	if store != nil {
		pkg.PrintSubtask("Results recorded in " + s.cfg.HistoryPath(s.root))
	}

	if !report.Success() {
		return errVerificationFailed
	}
	return nil
}

// describeChange compares a result with the previous one for the same command line,
// toolchain and member filter. It returns an empty string if nothing changed.
func describeChange(previous *history.Entry, result matrix.Result) string {
	if previous == nil || result.Fingerprint == "" || previous.Status == result.Status {
		return ""
	}

	if result.Status == matrix.StatusSkipped || result.Status == matrix.StatusCancelled {
		return ""
	}

	return fmt.Sprintf("%s now, was %s in run %s (%s)", result.Status, previous.Status, previous.RunID,
		previous.Started.Format(time.RFC3339))
}

func getProgressBar(length int) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.NewOptions(length,
		progressbar.OptionSetDescription("jobs"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)
}
