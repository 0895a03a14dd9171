package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "create-tm":
		return runCreateTM(args[1:])
	case "show-tm":
		return runShowTM(args[1:])
	case "stats":
		return runStats(args[1:])
	case "import":
		return runImport(args[1:])
	case "purge":
		return runPurge(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "leverage CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  leverage <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health     Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  create-tm  Create a translation memory")
	fmt.Fprintln(os.Stderr, "  show-tm    Show a memory's definition and locales")
	fmt.Fprintln(os.Stderr, "  stats      Show segment and variant counts for a memory")
	fmt.Fprintln(os.Stderr, "  import     Import segments from a TSV file")
	fmt.Fprintln(os.Stderr, "  purge      Delete segments matched by a filter")
	fmt.Fprintln(os.Stderr, "  serve      Start the leverage API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"leverage <command> -h\" for command-specific flags.")
}
