package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/ngld/xverify/pkg/toolchain"
)

var envCmd = &cobra.Command{
	Use:   "env [toolchain] [option=value...]",
	Short: "Resolves a toolchain and prints its profile",
	Long: `Loads the toolchain's env script the same way jobs do and prints the resulting profile.
Only variables that differ from the current environment are shown unless --all is passed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, options := splitArgs(args)
		if len(names) > 1 {
			return fmt.Errorf("expected at most one toolchain, got %d", len(names))
		}

		showAll, err := cmd.Flags().GetBool("all")
		if err != nil {
			return err
		}

		ws, err := loadWorkspace(current, options)
		if err != nil {
			return err
		}

		selected := []string{}
		if len(names) == 1 {
			selected = names
		} else {
			for name := range ws.Toolchains {
				selected = append(selected, name)
			}
			sort.Strings(selected)
		}

		resolver, err := newResolver(current)
		if err != nil {
			return err
		}

		failed := false
		for _, name := range selected {
			def, err := ws.Toolchain(name, toolchain.KindAny)
			if err != nil {
				return err
			}

			profile, err := resolver.Resolve(current.ctx, def)
			if err != nil {
				current.logger.Error().Err(err).Str("toolchain", name).Msg("")
				failed = true
				continue
			}

			printProfile(profile, resolver.BaseEnv, showAll)
		}

		if failed {
			return errVerificationFailed
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(envCmd)
	envCmd.Flags().BoolP("all", "a", false, "print the complete environment")
}

func printProfile(profile *toolchain.Profile, base []string, showAll bool) {
	colorstring.Printf("[bold]%s[reset] (%s)\n", profile.Name, profile.Kind)
	fmt.Printf("  identity: %s\n", profile.Identity)
	fmt.Printf("  source:   %s\n", profile.Source)
	fmt.Printf("  compiler: %s\n", profile.Compiler)

	known := make(map[string]bool, len(base))
	if !showAll {
		for _, item := range base {
			known[item] = true
		}
	}

	lines := []string{}
	for _, item := range profile.Env() {
		if !known[item] {
			lines = append(lines, item)
		}
	}

	if len(lines) > 0 {
		fmt.Println("  environment:")
		fmt.Fprintln(os.Stdout, "    "+strings.Join(lines, "\n    "))
	}
}
