// Command perfreport aggregates profiler captures into a single report
// document. It accepts native JSON captures, pprof profiles and JFR
// recordings, merges them, and writes the aggregated report as JSON.
//
// Source and disassembly annotation requires external resolvers and is
// available to embedders through report.Resolvers; without them the
// corresponding annotations are omitted.
package main

import (
	"fmt"
	"os"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/perfreport/perfreport/internal/capture"
	"github.com/perfreport/perfreport/internal/eventstream"
	"github.com/perfreport/perfreport/internal/report"
	"github.com/perfreport/perfreport/internal/samplefilter"
	"github.com/perfreport/perfreport/internal/speedscope"
)

type reportFlags struct {
	inputs []string
	output string

	includePids []int
	excludePids []int
	includeTids []int
	excludeTids []int

	includeProcessNames []string
	excludeProcessNames []string
	includeThreadNames  []string
	excludeThreadNames  []string
	filterFile          string

	traceOffCPU           string
	aggregateByThreadName bool
	aggregateThreads      []string
	showRuntimeFrames     bool
	minPercent            float64

	addSourceCode       bool
	sourceDirs          []string
	addDisassembly      bool
	proguardMappingFile string

	speedscopeOutput string
}

func newRootCommand() *cobra.Command {
	var flags reportFlags

	cmd := cobra.Command{
		Use:           "perfreport",
		Short:         "Aggregate profiler captures into a report document",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, &flags)
		},
	}

	fs := cmd.Flags()
	fs.StringSliceVarP(&flags.inputs, "input", "i", nil, "capture file, repeatable (.json, .jfr or pprof)")
	fs.StringVarP(&flags.output, "output", "o", "report.json", "output report path")

	fs.IntSliceVar(&flags.includePids, "include-pid", nil, "only keep samples of these pids")
	fs.IntSliceVar(&flags.excludePids, "exclude-pid", nil, "drop samples of these pids")
	fs.IntSliceVar(&flags.includeTids, "include-tid", nil, "only keep samples of these tids")
	fs.IntSliceVar(&flags.excludeTids, "exclude-tid", nil, "drop samples of these tids")
	fs.StringSliceVar(&flags.includeProcessNames, "include-process-name", nil, "only keep samples whose process name matches a pattern")
	fs.StringSliceVar(&flags.excludeProcessNames, "exclude-process-name", nil, "drop samples whose process name matches a pattern")
	fs.StringSliceVar(&flags.includeThreadNames, "include-thread-name", nil, "only keep samples whose thread name matches a pattern")
	fs.StringSliceVar(&flags.excludeThreadNames, "exclude-thread-name", nil, "drop samples whose thread name matches a pattern")
	fs.StringVar(&flags.filterFile, "filter-file", "", "file declaring a GLOBAL_BEGIN/GLOBAL_END time window")

	fs.StringVar(&flags.traceOffCPU, "trace-offcpu", "on-cpu", "how to handle off-cpu samples: on-cpu, off-cpu, on-off-cpu or mixed-on-off-cpu")
	fs.BoolVar(&flags.aggregateByThreadName, "aggregate-by-thread-name", false, "merge threads sharing a name within each process")
	fs.StringSliceVar(&flags.aggregateThreads, "aggregate-threads", nil, "merge threads whose name matches a pattern, first match wins")
	fs.BoolVar(&flags.showRuntimeFrames, "show-runtime-frames", false, "keep interpreter/runtime-internal frames in call chains")
	fs.Float64Var(&flags.minPercent, "min-percent", report.DefaultMinPercent, "hide threads below this share of their event's total")

	fs.BoolVar(&flags.addSourceCode, "add-source-code", false, "annotate functions with source lines")
	fs.StringSliceVar(&flags.sourceDirs, "source-dirs", nil, "directories searched for source files")
	fs.BoolVar(&flags.addDisassembly, "add-disassembly", false, "annotate functions with disassembly")
	fs.StringVar(&flags.proguardMappingFile, "proguard-mapping-file", "", "proguard mapping restoring original symbol names")

	fs.StringVar(&flags.speedscopeOutput, "export-speedscope", "", "also write the merged capture as a speedscope document to this path")

	_ = cmd.MarkFlagRequired("input")
	return &cmd
}

func run(cmd *cobra.Command, flags *reportFlags) error {
	mode, err := eventstream.ParseMode(flags.traceOffCPU)
	if err != nil {
		return err
	}
	opts := report.Options{
		Filter: samplefilter.Options{
			IncludePids:         flags.includePids,
			ExcludePids:         flags.excludePids,
			IncludeTids:         flags.includeTids,
			ExcludeTids:         flags.excludeTids,
			IncludeProcessNames: flags.includeProcessNames,
			ExcludeProcessNames: flags.excludeProcessNames,
			IncludeThreadNames:  flags.includeThreadNames,
			ExcludeThreadNames:  flags.excludeThreadNames,
			FilterFile:          flags.filterFile,
		},
		TraceMode:               mode,
		AggregateByThreadName:   flags.aggregateByThreadName,
		AggregateThreadPatterns: flags.aggregateThreads,
		ShowRuntimeFrames:       flags.showRuntimeFrames,
		MinPercent:              flags.minPercent,
		AddSourceCode:           flags.addSourceCode,
		SourceDirs:              flags.sourceDirs,
		AddDisassembly:          flags.addDisassembly,
		ProguardMappingFile:     flags.proguardMappingFile,
	}

	c, err := report.LoadCaptures(cmd.Context(), flags.inputs)
	if err != nil {
		return err
	}
	log.Info().
		Int("captures", len(flags.inputs)).
		Int("samples", len(c.Samples)).
		Msg("captures loaded")

	doc, err := report.Generate(c, opts, report.Resolvers{})
	if err != nil {
		return err
	}

	if flags.speedscopeOutput != "" {
		if err := writeSpeedscope(flags.speedscopeOutput, c, flags.inputs); err != nil {
			return err
		}
	}

	out, err := os.Create(flags.output)
	if err != nil {
		return err
	}
	defer out.Close()
	encoder := gojson.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	log.Info().
		Str("output", flags.output).
		Uint64("total_samples", doc.TotalSamples).
		Int("events", len(doc.SampleInfo)).
		Msg("report written")
	return nil
}

func writeSpeedscope(path string, c *capture.Capture, inputs []string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := gojson.NewEncoder(out).Encode(speedscope.FromCapture(c, strings.Join(inputs, ", "))); err != nil {
		return fmt.Errorf("encoding speedscope document: %w", err)
	}
	log.Info().Str("output", path).Msg("speedscope document written")
	return nil
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := newRootCommand().Execute(); err != nil {
		log.Fatal().Err(err).Msg("report generation failed")
	}
}
