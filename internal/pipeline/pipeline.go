// Package pipeline runs translation units through decode, build, layout,
// capability analysis and emission.
//
// Each stage sees the whole graph produced by the previous one. A unit owns
// its graph; RunAll processes independent units concurrently.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"ffigen/internal/ast"
	"ffigen/internal/builder"
	"ffigen/internal/cache"
	"ffigen/internal/capability"
	"ffigen/internal/config"
	"ffigen/internal/diag"
	"ffigen/internal/emit"
	"ffigen/internal/layout"
	"ffigen/internal/source"
	"ffigen/internal/trace"
	"ffigen/internal/types"
)

// Unit is one translation unit worth of declaration records.
type Unit struct {
	// Name labels the unit in progress events and errors.
	Name string
	// Path is read when Data is nil.
	Path   string
	Data   []byte
	Format ast.Format
}

// Request configures a run.
type Request struct {
	Config         config.Config
	MaxDiagnostics int
	Progress       ProgressSink
	// Cache is consulted only for runs that reach StageEmit.
	Cache *cache.Cache
	// Until stops after the named stage; zero runs every stage.
	Until Stage
	// Jobs bounds RunAll concurrency; <= 0 means GOMAXPROCS.
	Jobs int
	// KeepGoing lets RunAll finish every unit instead of cancelling the
	// rest on the first failure.
	KeepGoing bool
}

// Result is what a unit produced.
type Result struct {
	Unit    string
	Graph   *types.Graph // nil on a cache hit
	Output  *emit.Output // nil when the run stopped before emission
	Bag     *diag.Bag
	Timings Timings
	Cached  bool
	Err     error
}

func (r *Request) until() Stage {
	if r.Until == "" {
		return StageEmit
	}
	return r.Until
}

func unitName(u Unit) string {
	if u.Name != "" {
		return u.Name
	}
	if u.Path != "" {
		return u.Path
	}
	return "<input>"
}

// Run processes one unit. Any failure aborts the unit with no output; the
// returned error is a *Error.
func Run(ctx context.Context, u Unit, req *Request) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		req = &Request{Config: config.Default()}
	}
	name := unitName(u)
	res := &Result{Unit: name, Bag: diag.NewBag(req.MaxDiagnostics)}
	rep := diag.Dedup(diag.BagReporter{Bag: res.Bag})
	cfg := req.Config
	until := req.until()

	ctx, unitSpan := trace.Start(ctx, trace.ScopeUnit, name)
	detail := "ok"
	defer func() { unitSpan.End(detail) }()

	fail := func(stage Stage, err error) (*Result, error) {
		perr := &Error{Stage: stage, Unit: name, Err: err}
		res.Graph, res.Output, res.Err = nil, nil, perr
		detail = "error"
		emitEvent(req.Progress, Event{Unit: name, Stage: stage, Status: StatusError, Err: perr})
		return res, perr
	}

	var (
		data   []byte
		format ast.Format
		key    cache.Digest
		stream ast.Stream
		graph  *types.Graph
	)

	stages := []struct {
		stage Stage
		run   func(context.Context) error
	}{
		{StageDecode, func(context.Context) error {
			data = u.Data
			if data == nil {
				if u.Path == "" {
					return fmt.Errorf("no input")
				}
				b, err := os.ReadFile(u.Path)
				if err != nil {
					return err
				}
				data = b
			}
			format = u.Format
			if format == ast.FormatAuto {
				format = ast.FormatFromPath(u.Path)
			}
			s, err := ast.NewStream(bytes.NewReader(data), format)
			if err != nil {
				return err
			}
			stream = s
			return nil
		}},
		{StageBuild, func(ctx context.Context) error {
			g, err := builder.Build(ctx, stream, cfg, rep)
			graph = g
			return err
		}},
		{StageLayout, func(ctx context.Context) error {
			return layout.New(cfg, graph).Run(ctx, rep)
		}},
		{StageCapability, func(ctx context.Context) error {
			return capability.New(cfg, graph).Run(ctx, rep)
		}},
		{StageEmit, func(ctx context.Context) error {
			out, err := emit.New(cfg, graph).Emit(ctx, rep)
			res.Output = out
			return err
		}},
	}

	for _, st := range stages {
		if st.stage.index() > until.index() {
			break
		}
		if err := ctx.Err(); err != nil {
			return fail(st.stage, err)
		}
		emitEvent(req.Progress, Event{Unit: name, Stage: st.stage, Status: StatusWorking})
		sctx, span := trace.Start(ctx, trace.ScopeStage, string(st.stage))
		start := time.Now()
		err := st.run(sctx)
		res.Timings.Set(st.stage, time.Since(start))
		if err != nil {
			span.End("error")
			return fail(st.stage, err)
		}
		span.Set("warnings", strconv.Itoa(res.Bag.Count(diag.SevWarning))).End("")

		if st.stage == StageDecode && until == StageEmit && req.Cache != nil {
			key = cache.Key(append([]byte(format.String()+"\n"), data...), cfg.Fingerprint())
			entry, ok, err := req.Cache.Get(key)
			if err != nil {
				diag.ReportWarning(rep, diag.IOCache, source.Loc{}, err.Error()).Emit()
			}
			if ok {
				res.Output = entry.Output
				res.Cached = true
				for _, d := range entry.Diags {
					res.Bag.Add(d)
				}
				detail = "cached"
				emitEvent(req.Progress, Event{Unit: name, Stage: StageEmit, Status: StatusCached, Elapsed: res.Timings.Sum()})
				return res, nil
			}
		}
	}

	res.Graph = graph
	if res.Output != nil && req.Cache != nil {
		entry := &cache.Entry{Output: res.Output, Diags: res.Bag.Items()}
		if err := req.Cache.Put(key, entry); err != nil {
			diag.ReportWarning(rep, diag.IOCache, source.Loc{}, err.Error()).Emit()
		}
	}
	emitEvent(req.Progress, Event{Unit: name, Stage: until, Status: StatusDone, Elapsed: res.Timings.Sum()})
	return res, nil
}

// RunAll processes units concurrently, each with its own graph. Results are
// returned in input order. Unless req.KeepGoing is set, the first failure
// cancels the units still running and is returned.
func RunAll(ctx context.Context, units []Unit, req *Request) ([]*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		req = &Request{Config: config.Default()}
	}
	results := make([]*Result, len(units))
	if len(units) == 0 {
		return results, nil
	}
	for _, u := range units {
		emitEvent(req.Progress, Event{Unit: unitName(u), Stage: StageDecode, Status: StatusQueued})
	}

	jobs := req.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(units)))
	for i, u := range units {
		g.Go(func() error {
			// results[i] is written by this goroutine only
			res, err := Run(gctx, u, req)
			results[i] = res
			if req.KeepGoing {
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	return results, err
}

func emitEvent(sink ProgressSink, ev Event) {
	if sink == nil {
		return
	}
	sink.OnEvent(ev)
}
