package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/quatton/qremote/pkg/qapi/schemas"
	"github.com/quatton/qremote/pkg/qerr"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func statusColor(status string) *color.Color {
	switch status {
	case "Success":
		return color.New(color.FgGreen)
	case "Failed":
		return color.New(color.FgRed)
	case "Cancelled":
		return color.New(color.FgYellow)
	case "Running":
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

func colorStatus(status string) string {
	return statusColor(status).Sprint(status)
}

func borderlessTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobTable(w io.Writer, jobs []schemas.JobResponse) {
	table := borderlessTable(w)
	table.SetHeader([]string{"ID", "Status", "Priority", "Timeout", "Created", "Command"})
	for _, j := range jobs {
		table.Append([]string{
			j.ID,
			colorStatus(j.Status),
			j.Priority,
			fmt.Sprintf("%ds", j.Timeout),
			formatTime(&j.CreatedAt),
			truncate(j.Command, 48),
		})
	}
	table.Render()
}

func printJobDetail(w io.Writer, j *schemas.JobResponse) {
	table := borderlessTable(w)
	table.AppendBulk([][]string{
		{"ID", j.ID},
		{"Status", colorStatus(j.Status)},
		{"Command", j.Command},
		{"Priority", j.Priority},
		{"Timeout", fmt.Sprintf("%ds", j.Timeout)},
		{"Task", valueOr(j.TaskID, "-")},
		{"Remote PID", valueOr(j.RemoteProcessID, "-")},
		{"Created", formatTime(&j.CreatedAt)},
		{"Started", formatTime(j.StartedAt)},
		{"Completed", formatTime(j.CompletedAt)},
	})
	table.Render()

	if j.Stdout != "" {
		color.New(color.Bold).Fprintln(w, "\nstdout:")
		fmt.Fprint(w, ensureNewline(j.Stdout))
	}
	if j.Stderr != "" {
		color.New(color.Bold, color.FgRed).Fprintln(w, "\nstderr:")
		fmt.Fprint(w, ensureNewline(j.Stderr))
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// confirm asks a yes/no question on stdin, defaulting to no.
func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// describeError turns API errors into short user-facing messages.
func describeError(err error) error {
	if err == nil {
		return nil
	}
	switch qerr.CodeOf(err) {
	case qerr.CodeNotFound:
		return fmt.Errorf("not found: %s", qerr.Message(err))
	case qerr.CodeCannotCancel, qerr.CodeInvalidUpdate, qerr.CodeInvalidArgument:
		return fmt.Errorf("rejected: %s", qerr.Message(err))
	case qerr.CodeConnectionFailure:
		return fmt.Errorf("cannot reach server (check --api-url): %s", qerr.Message(err))
	default:
		return err
	}
}
