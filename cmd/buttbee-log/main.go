// Command buttbee-log views and analyzes protocol capture files.
//
// Capture files are written by buttbee-connect and buttbee-bridge when run
// with -capture (or logging.capture_file in the config file).
//
// Usage:
//
//	buttbee-log <command> [flags] <file.bblog>
//
// Commands:
//
//	view     View capture in human-readable format
//	export   Export capture to JSON lines or CSV
//	filter   Filter capture and write to new file
//	stats    Show statistics about the capture
//
// Examples:
//
//	# View only inbound wire messages
//	buttbee-log view -layer wire -direction in session.bblog
//
//	# Keep everything concerning device 2
//	buttbee-log filter -device 2 -o device2.bblog session.bblog
//
//	# Count messages per name
//	buttbee-log stats session.bblog
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/buttbee/buttbee-go/cmd/buttbee-log/commands"
)

const usage = `buttbee-log - Buttplug protocol capture analyzer

Usage:
  buttbee-log <command> [flags] <file.bblog>

Commands:
  view     View capture in human-readable format
  export   Export capture to JSON lines or CSV
  filter   Filter capture and write to new file
  stats    Show statistics about the capture

Use "buttbee-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// requirePath returns the single positional argument.
func requirePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func newFlagSet(name, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "buttbee-log %s - %s\n\nUsage:\n  buttbee-log %s [flags] <file.bblog>\n\nFlags:\n",
			name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

func runView(args []string) {
	fs := newFlagSet("view", "View capture in human-readable format")
	layer := fs.String("layer", "", "Filter by layer (transport, wire, client)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	message := fs.String("message", "", "Filter by message name, e.g. ScalarCmd")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	filter, err := commands.BuildFilter(commands.FilterOptions{
		Layer:     *layer,
		Direction: *direction,
		Category:  *category,
		Message:   *message,
	})
	if err != nil {
		fail(err)
	}
	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export capture to JSON lines or CSV")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter capture and write to new file")
	output := fs.String("o", "", "Output file (required)")
	connID := fs.String("conn-id", "", "Filter by connection ID")
	deviceIndex := fs.String("device", "", "Filter by device index")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	layer := fs.String("layer", "", "Filter by layer (transport, wire, client)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	message := fs.String("message", "", "Filter by message name")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	opts := commands.FilterOptions{
		ConnID:    *connID,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Layer:     *layer,
		Direction: *direction,
		Category:  *category,
		Message:   *message,
	}
	if *deviceIndex != "" {
		n, err := strconv.ParseUint(*deviceIndex, 10, 32)
		if err != nil {
			fail(fmt.Errorf("invalid device index %q", *deviceIndex))
		}
		index := uint32(n)
		opts.DeviceIndex = &index
	}

	count, err := commands.RunFilter(path, *output, opts)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", count, *output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the capture")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
