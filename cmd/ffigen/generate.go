package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ffigen/internal/ast"
	"ffigen/internal/cache"
	"ffigen/internal/emit"
	"ffigen/internal/pipeline"
)

var generateCmd = &cobra.Command{
	Use:   "generate [flags] <records...>",
	Short: "Generate Rust declarations from declaration records",
	Long: `Read declaration records (JSON, msgpack or YAML) and write one Rust
file per input. A single input goes to stdout or -o; several inputs need
--out-dir. Use - to read records from stdin.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringP("output", "o", "", "output file for a single input")
	generateCmd.Flags().String("out-dir", "", "output directory for several inputs")
	generateCmd.Flags().String("format", "rust", "output format (rust|json)")
	generateCmd.Flags().String("input-format", "auto", "record encoding (auto|json|msgpack|yaml)")
	generateCmd.Flags().Int("jobs", 0, "max parallel units (0=auto)")
	generateCmd.Flags().String("ui", "auto", "progress view (auto|on|off)")
	generateCmd.Flags().Bool("cache", false, "reuse results from the on-disk cache")
	generateCmd.Flags().Bool("keep-going", false, "process every input even after a failure")
	addPolicyFlags(generateCmd)
}

type generateOptions struct {
	output      string
	outDir      string
	format      string
	inputFormat ast.Format
	jobs        int
	ui          uiMode
	useCache    bool
	keepGoing   bool
}

func readGenerateOptions(cmd *cobra.Command, inputs int) (generateOptions, error) {
	var opts generateOptions
	var err error
	f := cmd.Flags()
	if opts.output, err = f.GetString("output"); err != nil {
		return opts, fmt.Errorf("failed to get output flag: %w", err)
	}
	if opts.outDir, err = f.GetString("out-dir"); err != nil {
		return opts, fmt.Errorf("failed to get out-dir flag: %w", err)
	}
	if opts.format, err = f.GetString("format"); err != nil {
		return opts, fmt.Errorf("failed to get format flag: %w", err)
	}
	inputFormat, err := f.GetString("input-format")
	if err != nil {
		return opts, fmt.Errorf("failed to get input-format flag: %w", err)
	}
	if opts.jobs, err = f.GetInt("jobs"); err != nil {
		return opts, fmt.Errorf("failed to get jobs flag: %w", err)
	}
	uiValue, err := f.GetString("ui")
	if err != nil {
		return opts, fmt.Errorf("failed to get ui flag: %w", err)
	}
	if opts.useCache, err = f.GetBool("cache"); err != nil {
		return opts, fmt.Errorf("failed to get cache flag: %w", err)
	}
	if opts.keepGoing, err = f.GetBool("keep-going"); err != nil {
		return opts, fmt.Errorf("failed to get keep-going flag: %w", err)
	}

	opts.format = strings.ToLower(opts.format)
	if opts.format != "rust" && opts.format != "json" {
		return opts, fmt.Errorf("unsupported format %q (must be rust or json)", opts.format)
	}
	if opts.inputFormat, err = ast.ParseFormat(inputFormat); err != nil {
		return opts, err
	}
	if opts.ui, err = readUIMode(uiValue); err != nil {
		return opts, err
	}
	switch {
	case opts.output != "" && opts.outDir != "":
		return opts, errors.New("-o and --out-dir are mutually exclusive")
	case opts.output != "" && inputs > 1:
		return opts, errors.New("-o takes a single input; use --out-dir for several")
	case opts.output == "" && opts.outDir == "" && inputs > 1:
		return opts, errors.New("several inputs need --out-dir")
	}
	return opts, nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	counter := &pipeline.Counter{}
	cleanup, err := setupTracing(cmd, counter.String)
	if err != nil {
		return err
	}
	defer cleanup()
	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	out, err := readOutputOptions(cmd)
	if err != nil {
		return err
	}
	opts, err := readGenerateOptions(cmd, len(args))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	units, err := collectUnits(args, opts.inputFormat, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if err := checkOutputPaths(units, opts); err != nil {
		return err
	}

	req := &pipeline.Request{
		Config:         cfg,
		MaxDiagnostics: out.maxDiagnostics,
		Progress:       counter,
		Jobs:           opts.jobs,
		KeepGoing:      opts.keepGoing,
	}
	if opts.useCache {
		dir, err := cache.DefaultDir()
		if err != nil {
			return err
		}
		if req.Cache, err = cache.New(256, dir); err != nil {
			return err
		}
	}

	toStdout := opts.output == "" && opts.outDir == ""
	var results []*pipeline.Result
	var runErr error
	if !out.quiet && shouldUseTUI(opts.ui, toStdout) {
		results, runErr = runWithUI(cmd.Context(), "generating", units, req)
	} else {
		results, runErr = pipeline.RunAll(cmd.Context(), units, req)
	}

	printResults(cmd.ErrOrStderr(), results, out)

	failed := 0
	for _, res := range results {
		if res == nil || res.Output == nil {
			failed++
			continue
		}
		if err := writeOutput(cmd.OutOrStdout(), res, opts); err != nil {
			return err
		}
	}
	if failed > 0 {
		dumpTraceRing(cmd)
	}
	var perr *pipeline.Error
	if runErr != nil && !errors.As(runErr, &perr) {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(units))
	}
	return nil
}

func collectUnits(args []string, format ast.Format, stdin io.Reader) ([]pipeline.Unit, error) {
	units := make([]pipeline.Unit, 0, len(args))
	for _, arg := range args {
		if arg == "-" {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return nil, fmt.Errorf("failed to read stdin: %w", err)
			}
			units = append(units, pipeline.Unit{Name: "<stdin>", Data: data, Format: format})
			continue
		}
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", arg)
		}
		units = append(units, pipeline.Unit{Name: arg, Path: arg, Format: format})
	}
	return units, nil
}

// outputPath names the file written for unit: the output flag for a single
// input, otherwise the record file's base name under outDir.
func outputPath(unit string, opts generateOptions) string {
	if opts.output != "" {
		return opts.output
	}
	if opts.outDir == "" {
		return ""
	}
	base := filepath.Base(unit)
	if unit == "<stdin>" {
		base = "stdin"
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	ext := ".rs"
	if opts.format == "json" {
		ext = ".json"
	}
	return filepath.Join(opts.outDir, base+ext)
}

// checkOutputPaths rejects inputs that would write the same file under
// --out-dir, such as a/zlib.json and b/zlib.json.
func checkOutputPaths(units []pipeline.Unit, opts generateOptions) error {
	if opts.outDir == "" {
		return nil
	}
	seen := make(map[string]string, len(units))
	for _, u := range units {
		path := outputPath(u.Name, opts)
		if prev, ok := seen[path]; ok {
			return fmt.Errorf("inputs %s and %s would both write %s", prev, u.Name, path)
		}
		seen[path] = u.Name
	}
	return nil
}

func writeOutput(stdout io.Writer, res *pipeline.Result, opts generateOptions) error {
	render := emit.RenderRust
	if opts.format == "json" {
		render = emit.RenderJSON
	}
	path := outputPath(res.Unit, opts)
	if path == "" {
		return render(stdout, res.Output)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := render(f, res.Output); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
