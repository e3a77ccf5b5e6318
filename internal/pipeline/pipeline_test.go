package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ffigen/internal/ast"
	"ffigen/internal/cache"
	"ffigen/internal/config"
	"ffigen/internal/diag"
	"ffigen/internal/emit"
	"ffigen/internal/pipeline"
	"ffigen/internal/trace"
	"ffigen/internal/types"
)

type recordingSink struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (s *recordingSink) OnEvent(ev pipeline.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) statuses(unit string) []pipeline.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pipeline.Status
	for _, ev := range s.events {
		if ev.Unit == unit {
			out = append(out, ev.Status)
		}
	}
	return out
}

func fixture(name string) pipeline.Unit {
	return pipeline.Unit{Path: filepath.Join("testdata", name)}
}

func TestRunFlagsEndToEnd(t *testing.T) {
	sink := &recordingSink{}
	res, err := pipeline.Run(context.Background(), fixture("flags.yaml"), &pipeline.Request{
		Config:   config.Default(),
		Progress: sink,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Output)
	require.NotNil(t, res.Graph)
	require.False(t, res.Cached)

	flags, ok := res.Output.Find("Flags")
	require.True(t, ok)
	require.Equal(t, emit.ItemStruct, flags.Kind)
	require.EqualValues(t, 4, flags.Size)
	require.Contains(t, flags.Text, "pub _bitfield_1: u32,")

	fn, ok := res.Output.Find("flags_get")
	require.True(t, ok)
	require.True(t, fn.Extern)
	require.Contains(t, res.Output.Rust(), "pub fn flags_get(f: *const Flags) -> ::std::os::raw::c_uint;")

	for _, st := range pipeline.Stages {
		require.True(t, res.Timings.Has(st), "missing timing for %s", st)
	}
	statuses := sink.statuses(filepath.Join("testdata", "flags.yaml"))
	require.Equal(t, pipeline.StatusDone, statuses[len(statuses)-1])
}

func TestRunJSONInput(t *testing.T) {
	res, err := pipeline.Run(context.Background(), fixture("color.json"), &pipeline.Request{Config: config.Default()})
	require.NoError(t, err)
	color, ok := res.Output.Find("Color")
	require.True(t, ok)
	require.Equal(t, "i16", color.Repr)
	require.Contains(t, res.Output.Rust(), "pub static mut default_color: Color;")
}

func TestRunStopsEarly(t *testing.T) {
	res, err := pipeline.Run(context.Background(), fixture("flags.yaml"), &pipeline.Request{
		Config: config.Default(),
		Until:  pipeline.StageCapability,
	})
	require.NoError(t, err)
	require.Nil(t, res.Output)
	require.NotNil(t, res.Graph)
	require.False(t, res.Timings.Has(pipeline.StageEmit))

	var found bool
	for _, id := range res.Graph.IDs() {
		n := res.Graph.MustNode(id)
		if n.Name != "Flags" || n.Type.Kind != types.KindRecord {
			continue
		}
		found = true
		_, ok := res.Graph.CapsOf(id)
		require.True(t, ok, "capabilities not attached")
		_, ok = res.Graph.LayoutOf(id)
		require.True(t, ok, "layout not attached")
	}
	require.True(t, found)
}

func TestUnknownTypePolicy(t *testing.T) {
	res, err := pipeline.Run(context.Background(), fixture("unknown.yaml"), &pipeline.Request{Config: config.Default()})
	require.Error(t, err)
	require.Nil(t, res.Output)

	var perr *pipeline.Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, pipeline.StageBuild, perr.Stage)
	require.Equal(t, diag.BldUnresolvedType, perr.Code())
	require.Equal(t, "S", perr.Type())

	cfg := config.Default()
	cfg.UnknownTypes = config.UnknownAllowOpaque
	res, err = pipeline.Run(context.Background(), fixture("unknown.yaml"), &pipeline.Request{Config: cfg})
	require.NoError(t, err)
	foo, ok := res.Output.Find("Foo")
	require.True(t, ok)
	require.Equal(t, emit.ItemOpaque, foo.Kind)
	require.True(t, res.Bag.HasWarnings())
}

func TestDecodeFailure(t *testing.T) {
	_, err := pipeline.Run(context.Background(), pipeline.Unit{
		Name:   "broken",
		Data:   []byte("[{\"kind\": "),
		Format: ast.FormatJSON,
	}, nil)
	var perr *pipeline.Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "broken", perr.Unit)
	require.Contains(t, []pipeline.Stage{pipeline.StageDecode, pipeline.StageBuild}, perr.Stage)
}

func TestCacheHit(t *testing.T) {
	c, err := cache.New(8, "")
	require.NoError(t, err)
	req := &pipeline.Request{Config: config.Default(), Cache: c}

	first, err := pipeline.Run(context.Background(), fixture("flags.yaml"), req)
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := pipeline.Run(context.Background(), fixture("flags.yaml"), req)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Nil(t, second.Graph)
	require.Equal(t, first.Output.Rust(), second.Output.Rust())

	// A different configuration is a different key.
	cfg := config.Default()
	cfg.Emit.LayoutTests = false
	third, err := pipeline.Run(context.Background(), fixture("flags.yaml"), &pipeline.Request{Config: cfg, Cache: c})
	require.NoError(t, err)
	require.False(t, third.Cached)
	require.NotContains(t, third.Output.Rust(), "Size of Flags")
}

func TestRunAll(t *testing.T) {
	units := []pipeline.Unit{fixture("flags.yaml"), fixture("color.json"), fixture("unknown.yaml")}

	results, err := pipeline.RunAll(context.Background(), units, &pipeline.Request{
		Config:    config.Default(),
		Jobs:      2,
		KeepGoing: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Output)
	require.NoError(t, results[1].Err)
	require.Error(t, results[2].Err)
	require.Nil(t, results[2].Output)

	_, err = pipeline.RunAll(context.Background(), units, &pipeline.Request{Config: config.Default()})
	var perr *pipeline.Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, pipeline.StageBuild, perr.Stage)
}

func TestTraceSpans(t *testing.T) {
	ring := trace.NewRingTracer(256, trace.LevelDetail)
	ctx := trace.WithTracer(context.Background(), ring)
	_, err := pipeline.Run(ctx, fixture("flags.yaml"), &pipeline.Request{Config: config.Default()})
	require.NoError(t, err)

	begun := map[string]bool{}
	for _, ev := range ring.Snapshot() {
		if ev.Kind == trace.KindSpanBegin {
			begun[ev.Name] = true
		}
	}
	for _, st := range pipeline.Stages {
		require.True(t, begun[string(st)], "no span for stage %s", st)
	}
}

func TestCounterAndMultiSink(t *testing.T) {
	counter := &pipeline.Counter{}
	rec := &recordingSink{}
	units := []pipeline.Unit{fixture("flags.yaml"), fixture("unknown.yaml")}
	_, err := pipeline.RunAll(context.Background(), units, &pipeline.Request{
		Config:    config.Default(),
		Progress:  pipeline.MultiSink{counter, nil, rec},
		KeepGoing: true,
	})
	require.NoError(t, err)
	done, failed := counter.Finished()
	require.EqualValues(t, 1, done)
	require.EqualValues(t, 1, failed)
	require.Equal(t, "2/2 units, 1 failed", counter.String())
	require.NotEmpty(t, rec.statuses(filepath.Join("testdata", "flags.yaml")))
}

func TestChannelSinkStopsWhenDone(t *testing.T) {
	events := make(chan pipeline.Event) // never read
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	finished := make(chan error, 1)
	go func() {
		_, err := pipeline.RunAll(ctx, []pipeline.Unit{fixture("flags.yaml")}, &pipeline.Request{
			Config:   config.Default(),
			Progress: pipeline.ChannelSink{Ch: events, Done: ctx.Done()},
		})
		finished <- err
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("run blocked on an unread progress channel")
	}

	sink := pipeline.ChannelSink{Ch: events, Done: ctx.Done()}
	sink.OnEvent(pipeline.Event{Unit: "late"})
}
