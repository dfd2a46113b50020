// Command aurora is the operator CLI for a running routing node. Every
// subcommand talks HTTP to the node's ingress; nothing here touches the
// stores directly.
package main

import (
	"fmt"
	"io"
	"os"
)

const version = "0.4.0"

// Exit codes. Scripts branch on these: 0 success, 1 the node or a peer
// failed, 2 the request itself was bad, 3 the treaty refused it.
const (
	exitOK     = 0
	exitFail   = 1
	exitUsage  = 2
	exitPolicy = 3
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return exitUsage
	}

	switch args[1] {
	case "decide":
		return runDecideCmd(args[2:], stdout, stderr)
	case "feedback":
		return runFeedbackCmd(args[2:], stdout, stderr)
	case "status":
		return runStatusCmd(args[2:], stdout, stderr)
	case "configure":
		return runConfigureCmd(args[2:], stdout, stderr)
	case "sync":
		return runSyncCmd(args[2:], stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "aurora %s\n", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return exitUsage
	}
}

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sAurora %s%s\n", ColorBold+ColorBlue, "v"+version, ColorReset)
	fmt.Fprintf(w, "%sAdaptive routing for GPU workloads.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  aurora <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "ROUTING")
	printCommand(w, "decide", "Ask the node for one provider choice (--tenant, --region)")
	printCommand(w, "feedback", "Report an observed outcome (--decision, --success)")

	printSection(w, "OPERATIONS")
	printCommand(w, "status", "Show the node's aggregated counters")
	printCommand(w, "sync", "Run one federation pull round now")

	printSection(w, "CONFIGURATION")
	printCommand(w, "configure", "Resolve and print the effective config (--profile, --list)")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
