package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshsync-dev/meshsync/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌┬┐┌─┐┌─┐┬ ┬┌─┐┬ ┬┌┐┌┌─┐
  │││├┤ └─┐├─┤└─┐└┬┘││││
  ┴ ┴└─┘└─┘┴ ┴└─┘ ┴ ┘└┘└─┘
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "meshsync",
		Short: "Multipeer session synchronization relay",
		Long: `Meshsync keeps any number of clients synchronized against one
authoritative application session.

Clients connect over WebSocket and share a session. The relay:

  • Handshakes each client and replays the session state in stages
  • Elects the longest-connected client as the authority
  • Fans application requests out to every client and relays one answer back
  • Caches replicated state so late joiners catch up without the app's help`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add commands
	rootCmd.AddCommand(
		serveCmd(),
		initCmd(),
		versionCmd(),
	)

	// Execute
	if err := rootCmd.Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

// printBanner prints the meshsync ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
