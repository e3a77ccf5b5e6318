package main

import (
	"fmt"
	"io"
	"time"

	"ffigen/internal/pipeline"
)

// printStageTimings writes one line per unit with the duration of every
// stage that ran, then the totals when more than one unit was processed.
func printStageTimings(out io.Writer, results []*pipeline.Result) {
	if out == nil {
		return
	}
	var total pipeline.Timings
	units := 0
	for _, res := range results {
		if res == nil {
			continue
		}
		units++
		writeTimingLine(out, res.Unit, res.Timings, res.Cached)
		for _, st := range pipeline.Stages {
			if res.Timings.Has(st) {
				total.Set(st, total.Duration(st)+res.Timings.Duration(st))
			}
		}
	}
	if units > 1 {
		writeTimingLine(out, "total", total, false)
	}
}

func writeTimingLine(out io.Writer, label string, timings pipeline.Timings, cached bool) {
	line := label + ":"
	for _, st := range pipeline.Stages {
		if timings.Has(st) {
			line += fmt.Sprintf(" %s %.1f ms", st, toMillis(timings.Duration(st)))
		}
	}
	if cached {
		line += " (cached)"
	}
	if _, err := fmt.Fprintln(out, line); err != nil {
		panic(err)
	}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
