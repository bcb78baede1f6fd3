package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cancelForce bool

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Long: `Marks the job Cancelled and asks the server to stop its remote process.
Finished jobs cannot be cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if !cancelForce && !confirm(fmt.Sprintf("Cancel job %s?", id)) {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}

		client, err := GetClient(cmd)
		if err != nil {
			return err
		}
		job, err := client.CancelJob(cmd.Context(), id)
		if err != nil {
			return describeError(err)
		}
		fmt.Printf("✓ Job %s is %s\n", job.ID, colorStatus(job.Status))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
	cancelCmd.Flags().BoolVarP(&cancelForce, "force", "f", false, "Skip the confirmation prompt")
}
