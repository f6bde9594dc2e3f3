package cmd

import (
	"fmt"
	"strings"

	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/ngld/xverify/pkg/workspace"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [option=value...]",
	Short: "Lists the declared jobs and workspace members",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, options := splitArgs(args)
		ws, err := loadWorkspace(current, options)
		if err != nil {
			return err
		}

		source := ws.File
		if source == "" {
			source = "built-in defaults"
		}
		colorstring.Printf("[bold]Workspace[reset] %s (%s)\n\n", ws.Root, source)

		fmt.Println("Jobs:")
		maxNameLen := 0
		for _, job := range ws.Jobs {
			if len(job.Name) > maxNameLen {
				maxNameLen = len(job.Name)
			}
		}

		lineFmt := fmt.Sprintf(" * %%-%ds %%-6s %%-24s %%s\n", maxNameLen+1)
		for _, job := range ws.Jobs {
			target := job.Target
			if target == "" {
				target = ws.DefaultTarget
			}

			fmt.Printf(lineFmt, job.Name+":", job.Command, target, strings.Join(job.Triggers, ", "))
		}

		fmt.Println("\nMembers:")
		for _, member := range ws.Members {
			printMember(member)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func printMember(member workspace.Member) {
	if member.EligibleForHostTesting {
		colorstring.Printf(" * %s [green]host tests[reset]", member.Name)
		if len(member.RequiredFeatures) > 0 {
			fmt.Printf(" (features: %s)", strings.Join(member.RequiredFeatures, ", "))
		}
	} else {
		colorstring.Printf(" * %s [yellow]cross only[reset]", member.Name)
		if member.Reason != "" {
			fmt.Printf(" (%s)", member.Reason)
		}
	}
	fmt.Println()
}
