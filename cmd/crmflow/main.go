// Crmflow turns free-form CRM requests into HubSpot actions.
//
// Each request is resolved to an intent with a hosted language model,
// validated, executed against the HubSpot CRM API, and summarized in an
// email notification.
//
// Usage:
//
//	# Execute a request end to end
//	crmflow run "Add John Smith john@acme.com as a contact"
//
//	# Inspect the plan without touching the CRM
//	crmflow run --dry-run "Create a $5,000 deal for jane@corp.io"
//
//	# Start the HTTP server
//	crmflow serve
//
// Configuration is loaded from ~/.config/crmflow/config.yaml and overridden
// by environment variables. See internal/config for details.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag value; empty means the default location.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "crmflow",
	Short: "Natural-language workflow automation for HubSpot CRM",
	Long: `crmflow resolves free-form requests into CRM actions and executes them
against HubSpot. Every run ends with an email summary of what happened.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/crmflow/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints full build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("crmflow\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// exitError carries a process exit code through cobra's error return. The
// run command uses it to distinguish partial from failed outcomes.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}
