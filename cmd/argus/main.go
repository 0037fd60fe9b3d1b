// Command argus runs the supervision core daemon and its operator tools.
//
//	argus serve     run the service with the ops HTTP listener
//	argus verify    walk the audit hash chain, exit 1 on any broken link
//	argus keygen    generate an Ed25519 signing seed file
//	argus archive   export audit entries past the retention horizon
//	argus token     mint an admin session token for the ops endpoints
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches to a subcommand; exported for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "keygen":
		return runKeygen(args[2:], stdout, stderr)
	case "archive":
		return runArchive(args[2:], stdout, stderr)
	case "token":
		return runToken(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: argus <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve    Run the supervision service (default)")
	fmt.Fprintln(w, "  verify   Verify the audit hash chain")
	fmt.Fprintln(w, "  keygen   Generate an Ed25519 signing seed file")
	fmt.Fprintln(w, "  archive  Export audit entries past the retention horizon")
	fmt.Fprintln(w, "  token    Mint an admin session token for the ops endpoints")
	fmt.Fprintln(w, "  help     Show this help")
}
