package report

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/perfreport/perfreport/internal/aggregate"
	"github.com/perfreport/perfreport/internal/annotate"
	"github.com/perfreport/perfreport/internal/calltree"
	"github.com/perfreport/perfreport/internal/capture"
	"github.com/perfreport/perfreport/internal/errorutil"
	"github.com/perfreport/perfreport/internal/eventstream"
	"github.com/perfreport/perfreport/internal/samplefilter"
)

// DefaultMinPercent is the default threshold below which a thread's share
// of its event's total hides the thread from the report.
const DefaultMinPercent = 0.01

type (
	// Options is the full configuration surface of a report run. Invalid
	// options surface as configuration errors before any sample is
	// processed.
	Options struct {
		Filter samplefilter.Options

		TraceMode eventstream.Mode

		AggregateByThreadName   bool
		AggregateThreadPatterns []string

		ShowRuntimeFrames bool
		MinPercent        float64

		AddSourceCode  bool
		SourceDirs     []string
		AddDisassembly bool

		ProguardMappingFile string
	}

	// Resolvers are the external annotation collaborators of a run. Nil
	// fields disable the corresponding annotation kind.
	Resolvers struct {
		Lines       annotate.LineResolver
		Disassembly annotate.Disassembler
	}
)

// Generate runs the whole pipeline over an already-merged capture and
// assembles the report document. The run is a deterministic pure transform
// of the capture: it either fails on a configuration error before
// processing or completes; annotation misses only cause omissions.
func Generate(c *capture.Capture, opts Options, resolvers Resolvers) (*Document, error) {
	filter, err := samplefilter.New(opts.Filter)
	if err != nil {
		return nil, err
	}
	policy, err := threadPolicy(opts)
	if err != nil {
		return nil, err
	}
	var deob *annotate.Deobfuscation
	if opts.ProguardMappingFile != "" {
		deob, err = annotate.ReadProguardMapping(opts.ProguardMappingFile)
		if err != nil {
			return nil, err
		}
	}
	minPercent := opts.MinPercent
	if minPercent == 0 {
		minPercent = DefaultMinPercent
	}

	tables := &c.Tables
	assigner := eventstream.NewAssigner(opts.TraceMode)
	aggregator := aggregate.New(tables, policy, assigner.StreamCount(), opts.ShowRuntimeFrames)

	for i := range c.Samples {
		s := &c.Samples[i]
		if !filter.Admit(s, tables.ProcessName(s.Pid), tables.ThreadName(s.Tid)) {
			continue
		}
		streamIdx, ok := assigner.Assign(s, tables)
		if !ok {
			continue
		}
		aggregator.Add(streamIdx, s)
	}

	var lines annotate.LineResolver
	if opts.AddSourceCode {
		lines = resolvers.Lines
	}
	var disasm annotate.Disassembler
	if opts.AddDisassembly {
		disasm = resolvers.Disassembly
	}
	annotator := annotate.New(lines, disasm, deob, opts.SourceDirs)

	recordTime := c.RecordTime.Time()
	if c.RecordTime.IsZero() {
		recordTime = time.Now()
	}
	asm := assembler{
		tables:    tables,
		annotator: annotator,
		doc: &Document{
			RecordTime:  recordTime.UTC().Format(time.RFC3339),
			SampleInfo:  make([]*Event, 0),
			ThreadNames: make(map[string]string),
			LibList:     append([]string(nil), tables.LibNames...),
			FunctionMap: make(map[string]*FunctionEntry),
			SourceFiles: make([]*SourceFileEntry, 0),
		},
	}

	for i, stream := range aggregator.Streams() {
		stream.Elide(minPercent)
		if len(stream.Processes) == 0 {
			continue
		}
		asm.doc.SampleInfo = append(asm.doc.SampleInfo, asm.event(assigner.StreamName(i), stream))
		asm.doc.TotalSamples += stream.SampleCount
	}
	for _, file := range annotator.SourceFiles() {
		asm.doc.SourceFiles = append(asm.doc.SourceFiles, &SourceFileEntry{
			Path: file.Path,
			Code: file.Code,
		})
	}
	return asm.doc, nil
}

func threadPolicy(opts Options) (aggregate.ThreadPolicy, error) {
	if opts.AggregateByThreadName && len(opts.AggregateThreadPatterns) > 0 {
		return nil, fmt.Errorf("report: %w: aggregate-by-thread-name conflicts with aggregate-threads patterns", errorutil.ErrConfiguration)
	}
	if opts.AggregateByThreadName {
		return aggregate.ByName(), nil
	}
	if len(opts.AggregateThreadPatterns) > 0 {
		return aggregate.ByPatternList(opts.AggregateThreadPatterns)
	}
	return aggregate.Identity(), nil
}

// assembler builds the nested document from aggregation buckets while
// registering every referenced function in the function table.
type assembler struct {
	tables    *capture.Tables
	annotator *annotate.Annotator
	doc       *Document
}

func (a *assembler) event(name string, stream *aggregate.Stream) *Event {
	event := Event{
		EventName:   name,
		EventCount:  stream.EventCount,
		SampleCount: stream.SampleCount,
		Processes:   make([]*Process, 0, len(stream.Processes)),
	}
	for _, p := range stream.OrderedProcesses() {
		event.Processes = append(event.Processes, a.process(p))
	}
	return &event
}

func (a *assembler) process(p *aggregate.Process) *Process {
	process := Process{
		Pid:         p.Pid,
		EventCount:  p.EventCount,
		SampleCount: p.SampleCount,
		Threads:     make([]*Thread, 0, len(p.Threads)),
	}
	for _, t := range p.OrderedThreads() {
		process.Threads = append(process.Threads, a.thread(t))
	}
	return &process
}

func (a *assembler) thread(t *aggregate.Thread) *Thread {
	a.doc.ThreadNames[strconv.Itoa(t.Tid)] = t.Name

	thread := Thread{
		Tid:         t.Tid,
		EventCount:  t.EventCount,
		SampleCount: t.SampleCount,
		Libs:        make([]*Library, 0),
	}

	libs := make(map[int]*Library)
	for _, stats := range t.OrderedFunctions() {
		libID := a.tables.Functions[stats.FuncID].LibID
		entry := a.function(stats.FuncID)

		lib, ok := libs[libID]
		if !ok {
			lib = &Library{LibID: libID}
			libs[libID] = lib
			thread.Libs = append(thread.Libs, lib)
		}
		usage := FunctionUsage{
			FuncID:            stats.FuncID,
			EventCount:        stats.Self,
			SubtreeEventCount: stats.Subtree,
		}
		for _, ann := range a.annotator.SourceAnnotations(libID, stats) {
			usage.SourceCode = append(usage.SourceCode, SourceCodeItem{
				FileID:            ann.FileID,
				Line:              ann.Line,
				EventCount:        ann.Self,
				SubtreeEventCount: ann.Subtree,
			})
		}
		if len(entry.Disassembly) > 0 {
			usage.Addrs = a.addrItems(stats)
		}
		lib.Functions = append(lib.Functions, &usage)
	}

	t.Tree.SortRoots(a.displayName)
	thread.CallGraph = a.callNode(t.Tree.Root)
	return &thread
}

func (a *assembler) addrItems(stats *aggregate.FuncStats) []AddrItem {
	items := make([]AddrItem, 0, len(stats.Addrs))
	for addr, counts := range stats.Addrs {
		items = append(items, AddrItem{
			Addr:              addr,
			EventCount:        counts.Self,
			SubtreeEventCount: counts.Subtree,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Addr < items[j].Addr })
	return items
}

// function registers a function in the function table on first use and
// returns its entry.
func (a *assembler) function(funcID int) *FunctionEntry {
	key := strconv.Itoa(funcID)
	if entry, ok := a.doc.FunctionMap[key]; ok {
		return entry
	}
	f := a.tables.Functions[funcID]
	entry := FunctionEntry{
		LibID: f.LibID,
		Name:  a.annotator.DisplayName(f.Name),
	}
	if instructions, ok := a.annotator.Disassembly(f.LibID, funcID); ok {
		for _, ins := range instructions {
			entry.Disassembly = append(entry.Disassembly, DisassemblyLine{
				Text: ins.Text,
				Addr: ins.Addr,
			})
		}
	}
	a.doc.FunctionMap[key] = &entry
	return &entry
}

func (a *assembler) displayName(funcID int) string {
	if funcID < 0 {
		return ""
	}
	return a.function(funcID).Name
}

func (a *assembler) callNode(n *calltree.Node) *CallNode {
	if n.FuncID >= 0 {
		// keep the function table covering every node of the graph
		a.function(n.FuncID)
	}
	node := CallNode{
		FuncID:            n.FuncID,
		EventCount:        n.Self,
		SubtreeEventCount: n.Subtree,
		Children:          make([]*CallNode, 0, len(n.Children)),
	}
	for _, c := range n.Children {
		node.Children = append(node.Children, a.callNode(c))
	}
	return &node
}
