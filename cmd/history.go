package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/xverify/pkg/history"
	"github.com/ngld/xverify/pkg/matrix"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Shows the results of previous runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		filter := history.Filter{}
		var err error

		if filter.Job, err = flags.GetString("job"); err != nil {
			return err
		}
		if filter.RunID, err = flags.GetString("run"); err != nil {
			return err
		}
		if filter.Limit, err = flags.GetInt("limit"); err != nil {
			return err
		}

		showOutput, err := flags.GetBool("output")
		if err != nil {
			return err
		}

		export, err := flags.GetString("export")
		if err != nil {
			return err
		}

		listRuns, err := flags.GetBool("runs")
		if err != nil {
			return err
		}

		path := current.cfg.HistoryPath(current.root)
		if _, err = os.Stat(path); err != nil {
			if eris.Is(err, os.ErrNotExist) {
				current.logger.Info().Msg("no runs recorded yet")
				return nil
			}
			return eris.Wrapf(err, "Failed to check %s", path)
		}

		store, err := history.Open(current.ctx, path)
		if err != nil {
			return err
		}
		defer store.Close()

		if export != "" {
			return exportHistory(store, export, filter)
		}

		if listRuns {
			return printRuns(store, filter.Limit)
		}

		entries, err := store.List(current.ctx, filter)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			printEntry(entry)
			if showOutput {
				output, err := entry.OutputText()
				if err != nil {
					return err
				}
				fmt.Print(output)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	flags := historyCmd.Flags()
	flags.String("job", "", "only show results of this job")
	flags.String("run", "", "only show results of this run")
	flags.IntP("limit", "l", 20, "maximum number of results (0 shows all)")
	flags.BoolP("output", "o", false, "print the recorded tool output")
	flags.String("export", "", "write the matching results with their output to this .jsonl.xz file")
	flags.Bool("runs", false, "list the recorded runs instead of individual results")
}

func printRuns(store *history.Store, limit int) error {
	runs, err := store.Runs(current.ctx)
	if err != nil {
		return err
	}

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	for _, id := range runs {
		entries, err := store.List(current.ctx, history.Filter{RunID: id})
		if err != nil {
			return err
		}

		fmt.Println(summarizeRun(id, entries))
	}

	return nil
}

// summarizeRun describes one run; entries are newest first.
func summarizeRun(id string, entries []history.Entry) string {
	if len(entries) == 0 {
		return id
	}

	passed := 0
	for _, entry := range entries {
		if entry.Status == matrix.StatusPassed {
			passed++
		}
	}

	color := "[green]"
	if passed < len(entries) {
		color = "[red]"
	}

	started := entries[len(entries)-1].Started.Format(time.RFC3339)
	return colorstring.Color(fmt.Sprintf("%s  %s  %s%d of %d jobs passed[reset]", id, started, color, passed, len(entries)))
}

func printEntry(entry history.Entry) {
	color := "[green]"
	switch entry.Status {
	case matrix.StatusFailed, matrix.StatusError:
		color = "[red]"
	case matrix.StatusCancelled:
		color = "[yellow]"
	}

	detail := entry.Kind
	if entry.Error != "" {
		detail = strings.SplitN(entry.Error, "\n", 2)[0]
	}

	colorstring.Printf(color+"%-9s[reset] %s  %-8s %s  %s  ", entry.Status, entry.RunID, entry.Job,
		entry.Started.Format(time.RFC3339), entry.Duration.Round(time.Millisecond))
	fmt.Println(detail)
}

func exportHistory(store *history.Store, path string, filter history.Filter) error {
	handle, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", path)
	}
	defer handle.Close()

	count, err := store.Export(current.ctx, handle, filter)
	if err != nil {
		return err
	}

	current.logger.Info().Msgf("exported %d results to %s", count, path)
	return handle.Close()
}
