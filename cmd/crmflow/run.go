package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tjkivinen/crmflow/internal/workflow"
)

var (
	runDryRun bool
	runJSON   bool
)

// runCmd executes one request end to end
var runCmd = &cobra.Command{
	Use:   "run <request...>",
	Short: "Execute a CRM request end to end",
	Long: `Resolve a free-form request, execute the derived CRM actions against
HubSpot, and send the email summary.

The exit code reflects the outcome: 0 when every action succeeded,
2 when only some did, 1 when none did.

Examples:
  # Create a contact
  crmflow run "Add John Smith john@acme.com from Acme Corp"

  # Create a contact and an associated deal
  crmflow run "Open a \$15,000 deal with sarah@techco.io"

  # Show the plan without executing it
  crmflow run --dry-run "Create a deal for \$4,000"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "resolve and validate only, no CRM calls or notification")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full run record as JSON")
}

// runRun handles the run command
func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	text := strings.Join(args, " ")

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if runDryRun {
		preview, err := app.engine.Preview(ctx, text)
		if err != nil {
			return fmt.Errorf("preview failed: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), preview)
	}

	run, err := app.engine.Run(ctx, text)
	if run == nil {
		return fmt.Errorf("run failed: %w", err)
	}
	if err != nil {
		// Cancellation mid-plan. The run still carries partial results.
		fmt.Fprintf(cmd.ErrOrStderr(), "run interrupted: %v\n", err)
	}

	if runJSON {
		if err := printJSON(cmd.OutOrStdout(), run); err != nil {
			return err
		}
	} else {
		printRun(cmd.OutOrStdout(), run)
	}

	return exitForTerminal(run.Terminal)
}

// exitForTerminal maps a terminal state onto the documented exit codes.
func exitForTerminal(terminal workflow.TerminalState) error {
	switch terminal {
	case workflow.TerminalSucceeded:
		return nil
	case workflow.TerminalPartiallySucceeded:
		return &exitError{code: 2, msg: "run partially succeeded"}
	default:
		return &exitError{code: 1, msg: "run failed"}
	}
}

// printRun writes a human-readable run summary.
func printRun(w io.Writer, run *workflow.Run) {
	fmt.Fprintf(w, "Run ID:  %s\n", run.ID)
	fmt.Fprintf(w, "Intent:  %s\n", run.Intent.Label())
	fmt.Fprintf(w, "Outcome: %s\n", strings.ReplaceAll(string(run.Terminal), "_", " "))

	if run.ResolveErr != nil {
		fmt.Fprintf(w, "Resolution error: %v\n", run.ResolveErr)
	}
	if run.ValidationErr != nil {
		fmt.Fprintf(w, "Validation error: %s\n", run.ValidationErr.Detail())
	}

	if len(run.Results) > 0 {
		fmt.Fprintln(w, "Actions:")
		for _, res := range run.Results {
			fmt.Fprintf(w, "  %-12s %s\n", resultMarker(res), actionLine(res))
		}
	}

	delivered := "not delivered"
	if run.NotificationDelivered {
		delivered = "delivered"
	}
	fmt.Fprintf(w, "Notification: %s\n", delivered)
}

func resultMarker(res workflow.ActionResult) string {
	switch {
	case res.Success:
		return "[ok]"
	case res.Attempts == 0:
		return "[skipped]"
	default:
		return "[failed]"
	}
}

func actionLine(res workflow.ActionResult) string {
	switch {
	case res.Success && res.ExternalID != "":
		return fmt.Sprintf("%s -> %s (attempts: %d)", res.Action, res.ExternalID, res.Attempts)
	case res.Success:
		return fmt.Sprintf("%s (attempts: %d)", res.Action, res.Attempts)
	case res.Err != nil:
		return fmt.Sprintf("%s: %v", res.Action, res.Err)
	default:
		return string(res.Action)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
