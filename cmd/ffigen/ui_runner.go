package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"ffigen/internal/pipeline"
	"ffigen/internal/ui"
)

type runOutcome struct {
	results []*pipeline.Result
	err     error
}

// startRun runs the pipeline in the background, mirroring progress into
// events until ctx is done. events is closed when the run ends.
func startRun(ctx context.Context, units []pipeline.Unit, req *pipeline.Request, events chan<- pipeline.Event) <-chan runOutcome {
	outcomeCh := make(chan runOutcome, 1)
	go func() {
		reqCopy := *req
		reqCopy.Progress = pipeline.MultiSink{req.Progress, pipeline.ChannelSink{Ch: events, Done: ctx.Done()}}
		results, err := pipeline.RunAll(ctx, units, &reqCopy)
		outcomeCh <- runOutcome{results: results, err: err}
		close(events)
	}()
	return outcomeCh
}

func runWithUI(ctx context.Context, title string, units []pipeline.Unit, req *pipeline.Request) ([]*pipeline.Result, error) {
	if req == nil {
		return nil, fmt.Errorf("missing pipeline request")
	}
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := make(chan pipeline.Event, 256)
	outcomeCh := startRun(ctx, units, req, events)

	model := ui.NewProgressModel(title, names, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr), tea.WithInput(nil))
	_, uiErr := program.Run()
	// The program may quit before the run ends; stop the run so nothing
	// waits on events that will never be read.
	cancel()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.results, uiErr
	}
	return outcome.results, outcome.err
}
