package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	viewFormat string
	viewFollow bool
)

var viewCmd = &cobra.Command{
	Use:   "view <job-id>",
	Short: "Show a job and its captured output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := GetClient(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		job, err := client.GetJob(ctx, args[0])
		if err != nil {
			return describeError(err)
		}

		switch viewFormat {
		case formatJSON:
			if err := printJSON(os.Stdout, job); err != nil {
				return err
			}
		case formatTable:
			printJobDetail(os.Stdout, job)
		default:
			return fmt.Errorf("unknown --format %q, expected table or json", viewFormat)
		}

		if viewFollow && (job.Status == "Queued" || job.Status == "Running") {
			fmt.Fprintln(os.Stderr, "\n📋 Following live output...")
			return followJob(cmd, job.ID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(viewCmd)
	viewCmd.Flags().StringVarP(&viewFormat, "format", "o", formatTable, "Output format (table, json)")
	viewCmd.Flags().BoolVarP(&viewFollow, "follow", "f", false, "Follow live output while the job is running")
}
