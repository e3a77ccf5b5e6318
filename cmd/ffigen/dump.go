package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ffigen/internal/ast"
	"ffigen/internal/pipeline"
	"ffigen/internal/types"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [flags] <records...>",
	Short: "Print the type graph after layout and capability analysis",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().String("input-format", "auto", "record encoding (auto|json|msgpack|yaml)")
	dumpCmd.Flags().Bool("structural", false, "include primitive, pointer, array and function nodes")
	dumpCmd.Flags().String("until", string(pipeline.StageCapability), "last stage to run (build|layout|capability)")
	addPolicyFlags(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	cleanup, err := setupTracing(cmd, nil)
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
	inputFormat, err := cmd.Flags().GetString("input-format")
	if err != nil {
		return fmt.Errorf("failed to get input-format flag: %w", err)
	}
	format, err := ast.ParseFormat(inputFormat)
	if err != nil {
		return err
	}
	structural, err := cmd.Flags().GetBool("structural")
	if err != nil {
		return fmt.Errorf("failed to get structural flag: %w", err)
	}
	untilValue, err := cmd.Flags().GetString("until")
	if err != nil {
		return fmt.Errorf("failed to get until flag: %w", err)
	}
	until := pipeline.Stage(untilValue)
	switch until {
	case pipeline.StageBuild, pipeline.StageLayout, pipeline.StageCapability:
	default:
		return fmt.Errorf("invalid --until value %q (expected build|layout|capability)", untilValue)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	units, err := collectUnits(args, format, cmd.InOrStdin())
	if err != nil {
		return err
	}

	results, runErr := pipeline.RunAll(cmd.Context(), units, &pipeline.Request{
		Config:         cfg,
		MaxDiagnostics: out.maxDiagnostics,
		Until:          until,
		KeepGoing:      true,
	})
	if runErr != nil {
		return runErr
	}
	printResults(cmd.ErrOrStderr(), results, out)

	failed := 0
	w := cmd.OutOrStdout()
	for _, res := range results {
		if res.Graph == nil {
			failed++
			continue
		}
		if len(results) > 1 {
			fmt.Fprintf(w, "== %s ==\n", res.Unit)
		}
		if err := types.Dump(w, res.Graph, types.DumpOptions{Structural: structural}); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(units))
	}
	return nil
}
