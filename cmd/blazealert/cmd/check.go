package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
)

var checkNow string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single evaluation pass",
	Long: `Evaluate every enabled alert once and print the per-alert outcome.
Alerts whose current window was already evaluated are reported as skipped.

Examples:
  blazealert check -c blazealert.yaml
  blazealert check --now 2024-05-01T22:05:00Z -o json`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkNow, "now", "", "evaluation time (RFC3339, default: current time)")
	rootCmd.AddCommand(checkCmd)
}

// outcomeJSON is the JSON shape of one outcome.
type outcomeJSON struct {
	AlertID  string `json:"alert_id"`
	TeamID   string `json:"team_id"`
	Status   string `json:"status"`
	State    string `json:"state,omitempty"`
	Groups   int    `json:"groups"`
	Events   int    `json:"events"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

type reportJSON struct {
	Now       time.Time     `json:"now"`
	Evaluated int           `json:"evaluated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Outcomes  []outcomeJSON `json:"outcomes"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	now := time.Now()
	if checkNow != "" {
		t, err := time.Parse(time.RFC3339, checkNow)
		if err != nil {
			return fmt.Errorf("invalid --now: %w", err)
		}
		now = t
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.Run(ctx, now)
	if err != nil {
		return err
	}

	if err := printReport(os.Stdout, report, GetOutput()); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d alert(s) failed", report.Failed)
	}
	return nil
}

func printReport(w io.Writer, report *alerting.RunReport, format string) error {
	switch format {
	case "json":
		out := reportJSON{
			Now:       report.Now.UTC(),
			Evaluated: report.Evaluated,
			Skipped:   report.Skipped,
			Failed:    report.Failed,
			Outcomes:  make([]outcomeJSON, 0, len(report.Outcomes)),
		}
		for _, o := range report.Outcomes {
			oj := outcomeJSON{
				AlertID:  o.AlertID,
				TeamID:   o.TeamID,
				Status:   string(o.Status),
				State:    string(o.State),
				Groups:   o.Groups,
				Events:   o.Events,
				Duration: o.Duration.Round(time.Millisecond).String(),
			}
			if o.Err != nil {
				oj.Error = o.Err.Error()
			}
			out.Outcomes = append(out.Outcomes, oj)
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))

	case "plain":
		for _, o := range report.Outcomes {
			line := fmt.Sprintf("%s %s %s", o.AlertID, o.Status, o.State)
			if o.Err != nil {
				line += " " + o.Err.Error()
			}
			fmt.Fprintln(w, line)
		}

	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ALERT\tTEAM\tSTATUS\tSTATE\tGROUPS\tEVENTS\tDURATION\tERROR")
		for _, o := range report.Outcomes {
			errMsg := "-"
			if o.Err != nil {
				errMsg = o.Err.Error()
			}
			state := string(o.State)
			if state == "" {
				state = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				o.AlertID, o.TeamID, o.Status, state, o.Groups, o.Events,
				o.Duration.Round(time.Millisecond), errMsg)
		}
		tw.Flush()
		fmt.Fprintf(w, "\n%d evaluated, %d skipped, %d failed\n", report.Evaluated, report.Skipped, report.Failed)
	}
	return nil
}
