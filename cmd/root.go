package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"routercheck/internal/verify"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeVerificationFailed indicates the harness ran to completion but at
	// least one differential check failed.
	ExitCodeVerificationFailed = 2
)

// rootCmd represents the base command for the routercheck application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "routercheck",
	Short: "Differential end-to-end checks for a chat-completion router",
	Long: `routercheck drives the same chat completion through a router instance and
directly against the reference inference backend, then compares both answers.
It synthesizes the router configuration, manages the router process lifecycle,
provisions an access token, and reports per-check results.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// It initializes and executes the root command, which in turn handles subcommands and flags.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "routercheck version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var vf *verify.FailedError
	if errors.As(err, &vf) {
		return ExitCodeVerificationFailed
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
