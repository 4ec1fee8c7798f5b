package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// replCmd runs the interactive prompt
var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive prompt for CRM requests",
	Long: `Read requests from an interactive prompt and execute each one end to
end. Prefix a request with "plan" to preview it without executing.

Commands:
  plan <request>   Resolve and validate only
  help             Show available commands
  exit, quit       Leave the prompt`,
	RunE: runRepl,
}

// runRepl handles the repl command
func runRepl(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "crmflow interactive prompt. Type a request, or 'help' for commands.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "crmflow> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case line == "help":
			fmt.Fprintln(out, "  plan <request>   resolve and validate only")
			fmt.Fprintln(out, "  exit, quit       leave the prompt")
			continue
		}

		if rest, ok := strings.CutPrefix(line, "plan "); ok {
			preview, err := app.engine.Preview(ctx, strings.TrimSpace(rest))
			if err != nil {
				fmt.Fprintf(out, "preview failed: %v\n", err)
				continue
			}
			if err := printJSON(out, preview); err != nil {
				return err
			}
			continue
		}

		run, err := app.engine.Run(ctx, line)
		if run == nil {
			fmt.Fprintf(out, "run failed: %v\n", err)
			continue
		}
		if err != nil {
			fmt.Fprintf(out, "run interrupted: %v\n", err)
		}
		printRun(out, run)
	}
}
