package report

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/perfreport/perfreport/internal/capture"
	"github.com/perfreport/perfreport/internal/errorutil"
	"github.com/perfreport/perfreport/internal/eventstream"
	"github.com/perfreport/perfreport/internal/samplefilter"
	"github.com/perfreport/perfreport/internal/testutil"
	"github.com/perfreport/perfreport/internal/timeutil"
)

// testCapture builds a capture with two processes and both on-cpu and
// off-cpu samples:
//
//	pid 10 "app": tid 11 "Worker" (6), tid 12 "Worker" (13), off-cpu tid 11 (40)
//	pid 20 "daemon": tid 20 "daemon" (1)
func testCapture() *capture.Capture {
	return &capture.Capture{
		Tables: capture.Tables{
			EventTypes: []string{"cpu-clock:u", "sched:sched_switch"},
			LibNames:   []string{"libapp.so", "libc.so"},
			Functions: []capture.Function{
				{Name: "main", LibID: 0},
				{Name: "work", LibID: 0},
				{Name: "memcpy", LibID: 1},
			},
			ThreadNames: map[int]string{
				10: "app",
				11: "Worker",
				12: "Worker",
				20: "daemon",
			},
		},
		Samples: []capture.Sample{
			{EventTypeID: 0, Pid: 10, Tid: 11, Time: 100, EventCount: 6,
				CallChain: []capture.Frame{{FuncID: 0, Addr: 0x10}, {FuncID: 1, Addr: 0x20}}},
			{EventTypeID: 0, Pid: 10, Tid: 12, Time: 200, EventCount: 13,
				CallChain: []capture.Frame{{FuncID: 0, Addr: 0x10}, {LibID: 1, FuncID: 2, Addr: 0x30}}},
			{EventTypeID: 1, Pid: 10, Tid: 11, Time: 300, EventCount: 40, OffCPU: true,
				CallChain: []capture.Frame{{FuncID: 0, Addr: 0x10}}},
			{EventTypeID: 0, Pid: 20, Tid: 20, Time: 400, EventCount: 1,
				CallChain: []capture.Frame{{LibID: 1, FuncID: 2, Addr: 0x40}}},
		},
	}
}

func generate(t *testing.T, opts Options) *Document {
	t.Helper()
	doc, err := Generate(testCapture(), opts, Resolvers{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return doc
}

func eventCounts(doc *Document) map[string]uint64 {
	counts := make(map[string]uint64)
	for _, e := range doc.SampleInfo {
		counts[e.EventName] = e.EventCount
	}
	return counts
}

func TestGenerateDefault(t *testing.T) {
	doc := generate(t, Options{})

	if len(doc.SampleInfo) != 1 {
		t.Fatalf("events: got %d, want 1", len(doc.SampleInfo))
	}
	event := doc.SampleInfo[0]
	if event.EventName != "cpu-clock:u" {
		t.Fatalf("event name: got %q", event.EventName)
	}
	if got, want := event.EventCount, uint64(6+13+1); got != want {
		t.Fatalf("event count: got %d, want %d", got, want)
	}
	if len(event.Processes) != 2 {
		t.Fatalf("processes: got %d, want 2", len(event.Processes))
	}

	// process totals are the sums over their threads
	for _, p := range event.Processes {
		var sum uint64
		for _, th := range p.Threads {
			sum += th.EventCount
		}
		if p.EventCount != sum {
			t.Fatalf("pid %d: event count %d != thread sum %d", p.Pid, p.EventCount, sum)
		}
	}
}

func TestGenerateTraceModeAdditivity(t *testing.T) {
	onOnly := eventCounts(generate(t, Options{TraceMode: eventstream.OnCPU}))
	offOnly := eventCounts(generate(t, Options{TraceMode: eventstream.OffCPU}))
	both := eventCounts(generate(t, Options{TraceMode: eventstream.OnOffCPU}))
	mixed := eventCounts(generate(t, Options{TraceMode: eventstream.MixedOnOffCPU}))

	if both["cpu-clock:u"] != onOnly["cpu-clock:u"] {
		t.Fatalf("on stream: got %d, want %d", both["cpu-clock:u"], onOnly["cpu-clock:u"])
	}
	if both["sched:sched_switch"] != offOnly["sched:sched_switch"] {
		t.Fatalf("off stream: got %d, want %d", both["sched:sched_switch"], offOnly["sched:sched_switch"])
	}
	if got, want := mixed["cpu-clock:u"], onOnly["cpu-clock:u"]+offOnly["sched:sched_switch"]; got != want {
		t.Fatalf("mixed: got %d, want %d", got, want)
	}
}

func TestGenerateThreadNameAggregation(t *testing.T) {
	doc := generate(t, Options{AggregateByThreadName: true})

	event := doc.SampleInfo[0]
	var worker *Thread
	for _, p := range event.Processes {
		for _, th := range p.Threads {
			if doc.ThreadNames[strconv.Itoa(th.Tid)] == "Worker" {
				worker = th
			}
		}
	}
	if worker == nil {
		t.Fatal("no Worker bucket in the report")
	}
	if got, want := worker.EventCount, uint64(19); got != want {
		t.Fatalf("Worker event count: got %d, want %d", got, want)
	}
}

func TestGenerateThreadPatternAggregation(t *testing.T) {
	doc := generate(t, Options{AggregateThreadPatterns: []string{"Worker.*"}})

	names := make(map[string]uint64)
	for _, p := range doc.SampleInfo[0].Processes {
		for _, th := range p.Threads {
			names[doc.ThreadNames[strconv.Itoa(th.Tid)]] += th.EventCount
		}
	}
	if got, want := names["Worker.*"], uint64(19); got != want {
		t.Fatalf("pattern bucket: got %d, want %d", got, want)
	}
	if _, ok := names["Worker"]; ok {
		t.Fatal("constituent thread names must not appear in the output")
	}
}

func TestGenerateMinPercentElision(t *testing.T) {
	// pid 20 holds 1 of 20 events = 5%; a 20% threshold removes its only
	// thread and then the process itself
	doc := generate(t, Options{MinPercent: 20})

	event := doc.SampleInfo[0]
	if len(event.Processes) != 1 {
		t.Fatalf("processes: got %d, want 1", len(event.Processes))
	}
	if event.Processes[0].Pid != 10 {
		t.Fatalf("surviving pid: got %d, want 10", event.Processes[0].Pid)
	}
	if got, want := event.EventCount, uint64(19); got != want {
		t.Fatalf("event count after elision: got %d, want %d", got, want)
	}
}

func TestGenerateEmptyResult(t *testing.T) {
	doc := generate(t, Options{
		Filter: samplefilter.Options{IncludePids: []int{9999}},
	})
	if len(doc.SampleInfo) != 0 {
		t.Fatalf("events: got %d, want 0", len(doc.SampleInfo))
	}
	if doc.SampleInfo == nil {
		t.Fatal("sampleInfo must be an empty list, not nil")
	}
	if doc.TotalSamples != 0 {
		t.Fatalf("total samples: got %d, want 0", doc.TotalSamples)
	}
}

func TestGenerateFilterPrecedence(t *testing.T) {
	doc := generate(t, Options{
		Filter: samplefilter.Options{
			IncludePids: []int{10, 20},
			ExcludePids: []int{20},
		},
	})
	for _, p := range doc.SampleInfo[0].Processes {
		if p.Pid == 20 {
			t.Fatal("excluded pid survived the filter")
		}
	}
}

func TestGenerateConflictingAggregation(t *testing.T) {
	_, err := Generate(testCapture(), Options{
		AggregateByThreadName:   true,
		AggregateThreadPatterns: []string{".*"},
	}, Resolvers{})
	if !errors.Is(err, errorutil.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestGenerateSortedCallGraphRoots(t *testing.T) {
	doc := generate(t, Options{AggregateThreadPatterns: []string{".*"}})

	event := doc.SampleInfo[0]
	if len(event.Processes[0].Threads) != 1 {
		t.Fatalf("threads: got %d, want 1", len(event.Processes[0].Threads))
	}
	roots := event.Processes[0].Threads[0].CallGraph.Children
	var names []string
	for _, n := range roots {
		names = append(names, doc.FunctionMap[strconv.Itoa(n.FuncID)].Name)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("root functions not sorted: %v", names)
		}
	}
}

func TestGenerateReferentialIntegrity(t *testing.T) {
	doc := generate(t, Options{TraceMode: eventstream.OnOffCPU})

	var checkNode func(t *testing.T, n *CallNode)
	checkNode = func(t *testing.T, n *CallNode) {
		if n.FuncID >= 0 {
			if _, ok := doc.FunctionMap[strconv.Itoa(n.FuncID)]; !ok {
				t.Fatalf("call node references unknown function %d", n.FuncID)
			}
		}
		var children uint64
		for _, c := range n.Children {
			children += c.SubtreeEventCount
			checkNode(t, c)
		}
		if n.SubtreeEventCount != n.EventCount+children {
			t.Fatalf("node %d: subtree %d != self %d + children %d", n.FuncID, n.SubtreeEventCount, n.EventCount, children)
		}
	}

	for _, event := range doc.SampleInfo {
		for _, p := range event.Processes {
			for _, th := range p.Threads {
				if _, ok := doc.ThreadNames[strconv.Itoa(th.Tid)]; !ok {
					t.Fatalf("thread %d missing from threadNames", th.Tid)
				}
				for _, lib := range th.Libs {
					if lib.LibID < 0 || lib.LibID >= len(doc.LibList) {
						t.Fatalf("lib id %d outside libList", lib.LibID)
					}
					for _, fn := range lib.Functions {
						if _, ok := doc.FunctionMap[strconv.Itoa(fn.FuncID)]; !ok {
							t.Fatalf("function %d missing from functionMap", fn.FuncID)
						}
					}
				}
				checkNode(t, th.CallGraph)
				if th.CallGraph.SubtreeEventCount != th.EventCount {
					t.Fatalf("thread %d: call graph total %d != event count %d", th.Tid, th.CallGraph.SubtreeEventCount, th.EventCount)
				}
			}
		}
	}
	for key, entry := range doc.FunctionMap {
		if entry.LibID < 0 || entry.LibID >= len(doc.LibList) {
			t.Fatalf("function %s references lib %d outside libList", key, entry.LibID)
		}
	}
}

func TestGenerateRecordTime(t *testing.T) {
	c := testCapture()
	c.RecordTime = timeutil.Time(time.Date(2023, 4, 11, 9, 21, 53, 0, time.UTC))
	doc, err := Generate(c, Options{}, Resolvers{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := doc.RecordTime, "2023-04-11T09:21:53Z"; got != want {
		t.Fatalf("record time: got %q, want %q", got, want)
	}
}

func TestGenerateDeobfuscation(t *testing.T) {
	mapping := "com.example.Original -> main:\n    void run() -> work\n"
	path := filepath.Join(t.TempDir(), "mapping.txt")
	if err := os.WriteFile(path, []byte(mapping), 0o644); err != nil {
		t.Fatal(err)
	}

	c := testCapture()
	// make function names look like obfuscated java symbols
	c.Tables.Functions[0].Name = "main"
	c.Tables.Functions[1].Name = "main.work"

	doc, err := Generate(c, Options{ProguardMappingFile: path}, Resolvers{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{
		"0": "com.example.Original",
		"1": "com.example.Original.run",
		"2": "memcpy",
	}
	got := make(map[string]string)
	for key, entry := range doc.FunctionMap {
		got[key] = entry.Name
	}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}
