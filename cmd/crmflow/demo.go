package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tjkivinen/crmflow/internal/crm"
	"github.com/tjkivinen/crmflow/internal/intent"
	"github.com/tjkivinen/crmflow/internal/notify"
	"github.com/tjkivinen/crmflow/internal/workflow"
)

// demoCmd walks the pipeline offline
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk the workflow pipeline offline",
	Long: `Run a scripted set of requests through the full pipeline without any
credentials: resolution is canned, the CRM backend lives in memory, and
notifications print to stdout. Useful for seeing what each outcome looks
like before configuring real providers.`,
	RunE: runDemo,
}

// demoScenarios covers one request per outcome: a clean success, a
// multi-action plan, a validation abort, and an unresolvable request.
var demoScenarios = []struct {
	text string
	res  intent.Resolution
}{
	{
		text: "Add Jane Porter jane.porter@acme.io from Acme Corp as a contact",
		res: intent.Resolution{
			Intent: intent.CreateContact,
			Fields: intent.Fields{
				intent.FieldName:    "Jane Porter",
				intent.FieldEmail:   "jane.porter@acme.io",
				intent.FieldCompany: "Acme Corp",
			},
		},
	},
	{
		text: "Open a $12,000 deal with Sam Reed sam@reedco.com closing 2026-09-30",
		res: intent.Resolution{
			Intent: intent.CreateContactAndDeal,
			Fields: intent.Fields{
				intent.FieldName:      "Sam Reed",
				intent.FieldEmail:     "sam@reedco.com",
				intent.FieldAmount:    "$12,000",
				intent.FieldCloseDate: "2026-09-30",
			},
		},
	},
	{
		text: "Log a deal for the quarterly renewal",
		res: intent.Resolution{
			Intent: intent.CreateDeal,
			Fields: intent.Fields{},
		},
	},
	{
		text: "What's the weather like in Helsinki?",
		res: intent.Resolution{
			Intent: intent.Unknown,
			Fields: intent.Fields{},
		},
	},
}

// runDemo handles the demo command
func runDemo(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	engine, err := workflow.NewEngine(
		newDemoResolver(),
		crm.NewInMemoryClient(),
		&consoleNotifier{out: out},
		workflow.Options{},
	)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	for i, scenario := range demoScenarios {
		fmt.Fprintf(out, "=== Request %d: %s\n\n", i+1, scenario.text)

		run, err := engine.Run(cmd.Context(), scenario.text)
		if err != nil {
			return fmt.Errorf("demo run interrupted: %w", err)
		}
		printRun(out, run)
		fmt.Fprintln(out)
	}

	return nil
}

// demoResolver serves canned resolutions keyed by request text. Requests
// outside the script resolve to an unknown intent, the same degradation the
// live resolver applies to answers it cannot parse.
type demoResolver struct {
	scripted map[string]intent.Resolution
}

func newDemoResolver() *demoResolver {
	scripted := make(map[string]intent.Resolution, len(demoScenarios))
	for _, scenario := range demoScenarios {
		scripted[scenario.text] = scenario.res
	}
	return &demoResolver{scripted: scripted}
}

func (r *demoResolver) Resolve(ctx context.Context, text string) (intent.Resolution, error) {
	if res, ok := r.scripted[text]; ok {
		return res, nil
	}
	return intent.Resolution{Intent: intent.Unknown, Fields: intent.Fields{}}, nil
}

// consoleNotifier prints the notification instead of mailing it.
type consoleNotifier struct {
	out io.Writer
}

func (n *consoleNotifier) Notify(ctx context.Context, run *workflow.Run) error {
	msg := notify.Compose(run)
	fmt.Fprintf(n.out, "--- notification: %s ---\n%s\n", msg.Subject, msg.Text)
	return nil
}
