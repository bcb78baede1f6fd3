package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/quatton/qremote/pkg/qbus"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Follow a job's live output",
	Long: `Attaches to the job's log stream and prints stdout and stderr as they
arrive. Only output produced after attaching is shown; for a finished job the
final status is printed. Use 'view' for the stored output.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return followJob(cmd, args[0])
	},
}

var errJobUnsuccessful = errors.New("job did not succeed")

// followJob streams the job's output and exits non-zero unless it succeeded.
func followJob(cmd *cobra.Command, id string) error {
	client, err := GetClient(cmd)
	if err != nil {
		return err
	}

	stderr := color.New(color.FgRed)
	status, err := client.StreamLogs(cmd.Context(), id, func(m qbus.Message) error {
		switch {
		case m.IsFinal():
		case m.Stream == "stderr":
			stderr.Fprint(os.Stderr, m.Log)
		default:
			fmt.Fprint(os.Stdout, m.Log)
		}
		return nil
	})
	if err != nil {
		return describeError(err)
	}
	if status == "" {
		fmt.Fprintln(os.Stderr, "⚠️  stream closed before the job finished")
		return nil
	}

	fmt.Fprintf(os.Stderr, "\nJob %s finished: %s\n", id, colorStatus(status))
	return exitForStatus(status)
}

func exitForStatus(status string) error {
	if status == "Success" {
		return nil
	}
	return fmt.Errorf("%w: %s", errJobUnsuccessful, status)
}

func init() {
	rootCmd.AddCommand(logsCmd)
}
