// Command mexscan runs the MEXC spread feasibility scanner: a staged
// pipeline that builds a symbol universe, samples spreads and depth,
// scores candidates, and renders a run report.
package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	switch args[0] {
	case "run":
		return runCommand(args[1:])
	case "cleanup":
		return cleanupCommand(args[1:])
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: mexscan <command> [flags]

Commands:
  run      Execute the scan pipeline
  cleanup  Remove old run directories

Run 'mexscan <command> -h' for command flags.
`)
}
