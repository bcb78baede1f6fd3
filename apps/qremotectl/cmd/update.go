package cmd

import (
	"errors"
	"os"

	"github.com/quatton/qremote/pkg/qapi/schemas"
	"github.com/spf13/cobra"
)

var (
	updateCommand  string
	updatePriority string
	updateTimeout  int
	updateParams   []string
)

var updateCmd = &cobra.Command{
	Use:   "update <job-id>",
	Short: "Change a job that has not finished",
	Long: `Updates only the fields whose flags are given. The command can only be
changed while the job is Queued; finished jobs cannot be changed at all.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req schemas.UpdateJobRequest
		flags := cmd.Flags()
		if flags.Changed("command") {
			req.Command = &updateCommand
		}
		if flags.Changed("priority") {
			req.Priority = &updatePriority
		}
		if flags.Changed("timeout") {
			req.Timeout = &updateTimeout
		}
		if flags.Changed("param") {
			params, err := parseParams(updateParams)
			if err != nil {
				return err
			}
			req.Parameters = params
		}
		if req.Command == nil && req.Priority == nil && req.Timeout == nil && req.Parameters == nil {
			return errors.New("nothing to update; pass at least one of --command, --priority, --timeout, --param")
		}

		client, err := GetClient(cmd)
		if err != nil {
			return err
		}
		job, err := client.UpdateJob(cmd.Context(), args[0], req)
		if err != nil {
			return describeError(err)
		}
		printJobDetail(os.Stdout, job)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().StringVar(&updateCommand, "command", "", "New command (only while Queued)")
	updateCmd.Flags().StringVarP(&updatePriority, "priority", "p", "", "New priority (Low, Medium, High)")
	updateCmd.Flags().IntVarP(&updateTimeout, "timeout", "t", 0, "New timeout in seconds (1-3600)")
	updateCmd.Flags().StringArrayVar(&updateParams, "param", nil, "Replace parameters with key=value pairs (repeatable)")
}
