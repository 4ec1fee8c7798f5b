// Package notify renders workflow outcomes into email notifications and
// delivers them over SMTP.
package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/tjkivinen/crmflow/internal/workflow"
)

const signature = "CRM Workflow Service"

// Message is a rendered notification with plain text and HTML bodies.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// Compose renders the outcome of a run into a notification message. It is
// pure: every terminal run, including aborted ones, yields a message.
func Compose(run *workflow.Run) Message {
	outcome := terminalLabel(run.Terminal)
	subject := fmt.Sprintf("CRM workflow %s: %s", outcome, run.Intent.Label())

	return Message{
		Subject: subject,
		Text:    composeText(run, outcome),
		HTML:    composeHTML(run, outcome),
	}
}

func composeText(run *workflow.Run, outcome string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Hello,\n\n")
	fmt.Fprintf(&b, "The workflow for your request has %s.\n\n", outcome)
	fmt.Fprintf(&b, "Request: %s\n", run.RawText)
	fmt.Fprintf(&b, "Intent: %s\n", run.Intent.Label())

	if run.ResolveErr != nil {
		fmt.Fprintf(&b, "\nThe request could not be interpreted: %s\n", run.ResolveErr.Error())
	}
	if run.ValidationErr != nil {
		fmt.Fprintf(&b, "\nValidation failed: %s\n", run.ValidationErr.Detail())
	}

	if len(run.Results) > 0 {
		b.WriteString("\nActions:\n")
		for _, result := range run.Results {
			fmt.Fprintf(&b, "- %s: %s\n", result.Action, resultLabel(result))
		}
	}

	fmt.Fprintf(&b, "\nBest regards,\n%s\n", signature)
	return b.String()
}

func composeHTML(run *workflow.Run, outcome string) string {
	var b strings.Builder

	b.WriteString("<html>\n<body>\n")
	fmt.Fprintf(&b, "<h2>CRM workflow %s</h2>\n", html.EscapeString(outcome))
	b.WriteString("<p>Hello,</p>\n")
	fmt.Fprintf(&b, "<p>The workflow for your request has %s.</p>\n", html.EscapeString(outcome))
	b.WriteString("<ul>\n")
	fmt.Fprintf(&b, "<li><strong>Request:</strong> %s</li>\n", html.EscapeString(run.RawText))
	fmt.Fprintf(&b, "<li><strong>Intent:</strong> %s</li>\n", html.EscapeString(run.Intent.Label()))
	b.WriteString("</ul>\n")

	if run.ResolveErr != nil {
		fmt.Fprintf(&b, "<p>The request could not be interpreted: %s</p>\n",
			html.EscapeString(run.ResolveErr.Error()))
	}
	if run.ValidationErr != nil {
		fmt.Fprintf(&b, "<p>Validation failed: %s</p>\n",
			html.EscapeString(run.ValidationErr.Detail()))
	}

	if len(run.Results) > 0 {
		b.WriteString("<h3>Actions</h3>\n<ul>\n")
		for _, result := range run.Results {
			fmt.Fprintf(&b, "<li><strong>%s:</strong> %s</li>\n",
				html.EscapeString(string(result.Action)), html.EscapeString(resultLabel(result)))
		}
		b.WriteString("</ul>\n")
	}

	fmt.Fprintf(&b, "<p>Best regards,<br>\n%s</p>\n", html.EscapeString(signature))
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

// resultLabel describes one action outcome. Attempts of zero mean the
// action was skipped before any provider call.
func resultLabel(result workflow.ActionResult) string {
	if result.Success {
		var detail []string
		if result.ExternalID != "" {
			detail = append(detail, "id "+result.ExternalID)
		}
		if result.Attempts > 1 {
			detail = append(detail, fmt.Sprintf("%d attempts", result.Attempts))
		}
		if len(detail) == 0 {
			return "succeeded"
		}
		return fmt.Sprintf("succeeded (%s)", strings.Join(detail, ", "))
	}

	reason := "unknown error"
	if result.Err != nil {
		reason = result.Err.Error()
	}
	if result.Attempts == 0 {
		return fmt.Sprintf("skipped: %s", reason)
	}
	if result.Attempts > 1 {
		return fmt.Sprintf("failed after %d attempts: %s", result.Attempts, reason)
	}
	return fmt.Sprintf("failed: %s", reason)
}

func terminalLabel(terminal workflow.TerminalState) string {
	if terminal == "" {
		return "completed"
	}
	return strings.ReplaceAll(string(terminal), "_", " ")
}
