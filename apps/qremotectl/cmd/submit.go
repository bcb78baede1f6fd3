package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quatton/qremote/pkg/qapi/schemas"
	"github.com/spf13/cobra"
)

var (
	submitPriority string
	submitTimeout  int
	submitStream   bool
	submitWait     bool
	submitParams   []string
)

var submitCmd = &cobra.Command{
	Use:   "submit -- <command>",
	Short: "Submit a shell command to run on the remote host",
	Long: `Submit queues a command and prints the new job. With --stream the output is
followed live until the job finishes; with --wait the command blocks until the
job finishes and then prints it.`,
	Example: `  qremotectl submit -- 'uptime'
  qremotectl submit --timeout 600 --priority High --stream -- ./deploy.sh staging
  qremotectl submit --param env=prod --wait -- make release`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if submitTimeout < 1 || submitTimeout > 3600 {
			return fmt.Errorf("--timeout must be between 1 and 3600 seconds, got %d", submitTimeout)
		}
		params, err := parseParams(submitParams)
		if err != nil {
			return err
		}

		client, err := GetClient(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		job, err := client.CreateJob(ctx, schemas.CreateJobRequest{
			Command:    strings.Join(args, " "),
			Timeout:    submitTimeout,
			Priority:   submitPriority,
			Parameters: params,
			Streaming:  submitStream,
		})
		if err != nil {
			return describeError(err)
		}
		fmt.Fprintf(os.Stderr, "✓ Submitted job %s\n", job.ID)

		switch {
		case submitStream:
			return followJob(cmd, job.ID)
		case submitWait:
			done, err := client.WaitJob(ctx, job.ID, 500*time.Millisecond)
			if err != nil {
				return describeError(err)
			}
			printJobDetail(os.Stdout, done)
			return exitForStatus(done.Status)
		default:
			printJobDetail(os.Stdout, job)
			return nil
		}
	},
}

// parseParams turns key=value pairs into the job's parameters.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", p)
		}
		params[k] = v
	}
	return params, nil
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVarP(&submitPriority, "priority", "p", "Medium", "Job priority (Low, Medium, High)")
	submitCmd.Flags().IntVarP(&submitTimeout, "timeout", "t", 60, "Timeout in seconds (1-3600)")
	submitCmd.Flags().BoolVarP(&submitStream, "stream", "s", false, "Stream output live until the job finishes")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "Block until the job finishes")
	submitCmd.Flags().StringArrayVar(&submitParams, "param", nil, "Job parameter as key=value (repeatable)")
}
