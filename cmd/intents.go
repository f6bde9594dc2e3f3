package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ngld/xverify/pkg/matrix"
	"github.com/ngld/xverify/pkg/selector"
	"github.com/ngld/xverify/pkg/workspace"
)

var intentDescriptions = []struct {
	intent selector.Intent
	short  string
}{
	{selector.IntentBuild, "Builds the workspace for the cross target"},
	{selector.IntentRun, "Builds and runs the firmware through the cross target's runner"},
	{selector.IntentLint, "Runs clippy against the cross target and denies warnings"},
	{selector.IntentFmt, "Checks that the workspace is formatted"},
	{selector.IntentTest, "Runs the unit tests of host-compatible members on the host"},
}

func init() {
	for _, item := range intentDescriptions {
		intent := item.intent
		command := &cobra.Command{
			Use:   fmt.Sprintf("%s [option=value...] [-- cargo args...]", intent),
			Short: item.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runIntent(cmd, intent, args)
			},
		}

		command.Flags().StringP("target", "t", "", "target triple to use instead of the workspace default")
		command.Flags().BoolP("dry", "n", false, "dry run; only print the command, don't execute it")
		rootCmd.AddCommand(command)
	}
}

func runIntent(cmd *cobra.Command, intent selector.Intent, args []string) error {
	var cargoArgs []string
	if dash := cmd.ArgsLenAtDash(); dash > -1 {
		cargoArgs = args[dash:]
		args = args[:dash]
	}

	positional, options := splitArgs(args)
	if len(positional) > 0 {
		return fmt.Errorf("unexpected arguments %v; pass cargo arguments after --", positional)
	}

	target, err := cmd.Flags().GetString("target")
	if err != nil {
		return err
	}

	dryRun, err := cmd.Flags().GetBool("dry")
	if err != nil {
		return err
	}

	ws, err := loadWorkspace(current, options)
	if err != nil {
		return err
	}

	job := matrix.NewJob(adHocSpec(ws, intent, target, cargoArgs))
	return runJobs(current, ws, []matrix.Job{job}, dryRun, false)
}

// adHocSpec reuses the first declared job with the same intent so its toolchain, features
// and exclusions apply. Without one, a bare job for the intent is created.
func adHocSpec(ws *workspace.Workspace, intent selector.Intent, target string, args []string) workspace.JobSpec {
	for _, job := range ws.Jobs {
		jobIntent, err := selector.ParseIntent(job.Command)
		if err != nil || jobIntent != intent {
			continue
		}

		job.Name = string(intent)
		job.Triggers = nil
		job.Args = append(append([]string{}, job.Args...), args...)
		if target != "" {
			job.Target = target
		}
		return job
	}

	return matrix.AdHocJob(intent, target, args).Spec()
}
