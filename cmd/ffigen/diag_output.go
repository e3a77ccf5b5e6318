package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ffigen/internal/diag"
	"ffigen/internal/diagfmt"
	"ffigen/internal/pipeline"
)

type outputOptions struct {
	useColor       bool
	quiet          bool
	timings        bool
	maxDiagnostics int
}

func readOutputOptions(cmd *cobra.Command) (outputOptions, error) {
	flags := cmd.Root().PersistentFlags()
	colorFlag, err := flags.GetString("color")
	if err != nil {
		return outputOptions{}, fmt.Errorf("failed to get color flag: %w", err)
	}
	quiet, err := flags.GetBool("quiet")
	if err != nil {
		return outputOptions{}, fmt.Errorf("failed to get quiet flag: %w", err)
	}
	timings, err := flags.GetBool("timings")
	if err != nil {
		return outputOptions{}, fmt.Errorf("failed to get timings flag: %w", err)
	}
	maxDiagnostics, err := flags.GetInt("max-diagnostics")
	if err != nil {
		return outputOptions{}, fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}

	var useColor bool
	switch colorFlag {
	case "on":
		useColor = true
	case "off":
		useColor = false
	case "auto":
		useColor = isTerminal(os.Stderr)
	default:
		return outputOptions{}, fmt.Errorf("invalid --color value %q (expected auto|on|off)", colorFlag)
	}
	return outputOptions{
		useColor:       useColor,
		quiet:          quiet,
		timings:        timings,
		maxDiagnostics: maxDiagnostics,
	}, nil
}

// printResults reports the diagnostics and failure of every unit on w.
// Quiet mode keeps errors only.
func printResults(w io.Writer, results []*pipeline.Result, opts outputOptions) {
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Bag != nil && (!opts.quiet || res.Bag.HasErrors()) {
			res.Bag.Sort()
			items := res.Bag.Items()
			if opts.quiet {
				items = errorsOnly(items)
			}
			if len(items) > 0 {
				_ = diagfmt.Pretty(w, items, diagfmt.PrettyOpts{
					Color:     opts.useColor,
					ShowNotes: true,
					Max:       opts.maxDiagnostics,
				})
			}
		}
		if res.Err != nil {
			fmt.Fprintf(w, "%s: %v\n", res.Unit, res.Err)
		}
	}
	if opts.timings {
		printStageTimings(w, results)
	}
}

func errorsOnly(items []diag.Diagnostic) []diag.Diagnostic {
	out := make([]diag.Diagnostic, 0, len(items))
	for _, d := range items {
		if d.Severity == diag.SevError {
			out = append(out, d)
		}
	}
	return out
}
