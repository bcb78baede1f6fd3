package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:     "delete <job-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a job record",
	Long:    `Deletes the stored job. A running remote process is not stopped; cancel it first.`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if !deleteForce && !confirm(fmt.Sprintf("Delete job %s?", id)) {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}

		client, err := GetClient(cmd)
		if err != nil {
			return err
		}
		if err := client.DeleteJob(cmd.Context(), id); err != nil {
			return describeError(err)
		}
		fmt.Printf("✓ Deleted job %s\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip the confirmation prompt")
}
