package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	listLimit  int
	listOffset int
	listFormat string
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := GetClient(cmd)
		if err != nil {
			return err
		}

		page, err := client.ListJobs(cmd.Context(), listLimit, listOffset)
		if err != nil {
			return describeError(err)
		}

		switch listFormat {
		case formatJSON:
			return printJSON(os.Stdout, page)
		case formatTable:
			if len(page.Jobs) == 0 {
				fmt.Println("No jobs.")
				return nil
			}
			printJobTable(os.Stdout, page.Jobs)
			fmt.Fprintf(os.Stderr, "\nShowing %d-%d of %d\n", listOffset+1, listOffset+len(page.Jobs), page.TotalCount)
			return nil
		default:
			return fmt.Errorf("unknown --format %q, expected table or json", listFormat)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of jobs")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Number of jobs to skip")
	listCmd.Flags().StringVarP(&listFormat, "format", "o", formatTable, "Output format (table, json)")
}
