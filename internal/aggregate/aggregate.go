package aggregate

import (
	"github.com/perfreport/perfreport/internal/calltree"
	"github.com/perfreport/perfreport/internal/capture"
)

type (
	// AddrStats accumulates event counts at one instruction address
	// within a function.
	AddrStats struct {
		Self    uint64
		Subtree uint64
	}

	// FuncStats accumulates per-function event counts within a thread
	// bucket. Subtree counts weigh each sample at most once per function
	// and per address, so recursion does not double count.
	FuncStats struct {
		FuncID  int
		Self    uint64
		Subtree uint64
		Addrs   map[uint64]*AddrStats
	}

	// Thread is one aggregated thread bucket. Tid is the representative
	// tid, the first one routed into the bucket.
	Thread struct {
		Tid         int
		Name        string
		EventCount  uint64
		SampleCount uint64
		Tree        *calltree.Tree
		Functions   map[int]*FuncStats
		funcOrder   []int
	}

	Process struct {
		Pid         int
		EventCount  uint64
		SampleCount uint64
		Threads     map[string]*Thread
		threadOrder []string
	}

	// Stream holds the aggregation of one event stream.
	Stream struct {
		EventCount  uint64
		SampleCount uint64
		Processes   map[int]*Process
		pidOrder    []int
	}

	// Aggregator routes admitted samples into (process, thread) buckets
	// and accumulates their call trees and function statistics. It is the
	// only mutable state of a report run besides the trees it owns.
	Aggregator struct {
		tables            *capture.Tables
		policy            ThreadPolicy
		showRuntimeFrames bool
		streams           []*Stream
	}
)

func New(tables *capture.Tables, policy ThreadPolicy, streamCount int, showRuntimeFrames bool) *Aggregator {
	a := Aggregator{
		tables:            tables,
		policy:            policy,
		showRuntimeFrames: showRuntimeFrames,
		streams:           make([]*Stream, streamCount),
	}
	for i := range a.streams {
		a.streams[i] = &Stream{Processes: make(map[int]*Process)}
	}
	return &a
}

// Add accumulates one admitted sample into its stream's buckets.
func (a *Aggregator) Add(streamIdx int, s *capture.Sample) {
	chain := a.visibleChain(s.CallChain)
	weight := s.EventCount

	stream := a.streams[streamIdx]
	stream.EventCount += weight
	stream.SampleCount++

	process, ok := stream.Processes[s.Pid]
	if !ok {
		process = &Process{Pid: s.Pid, Threads: make(map[string]*Thread)}
		stream.Processes[s.Pid] = process
		stream.pidOrder = append(stream.pidOrder, s.Pid)
	}
	process.EventCount += weight
	process.SampleCount++

	key, display := a.policy.BucketKey(s.Tid, a.tables.ThreadName(s.Tid))
	thread, ok := process.Threads[key]
	if !ok {
		thread = &Thread{
			Tid:       s.Tid,
			Name:      display,
			Tree:      calltree.New(),
			Functions: make(map[int]*FuncStats),
		}
		process.Threads[key] = thread
		process.threadOrder = append(process.threadOrder, key)
	}
	thread.EventCount += weight
	thread.SampleCount++
	thread.Tree.AddChain(chain, weight)
	thread.addFuncStats(chain, weight)
}

// visibleChain elides runtime-internal frames from a chain when they are
// hidden. The sample itself always keeps its weight; only frames
// disappear.
func (a *Aggregator) visibleChain(chain []capture.Frame) []capture.Frame {
	if a.showRuntimeFrames {
		return chain
	}
	keep := true
	for _, f := range chain {
		if a.tables.Functions[f.FuncID].Runtime {
			keep = false
			break
		}
	}
	if keep {
		return chain
	}
	visible := make([]capture.Frame, 0, len(chain))
	for _, f := range chain {
		if !a.tables.Functions[f.FuncID].Runtime {
			visible = append(visible, f)
		}
	}
	return visible
}

func (t *Thread) addFuncStats(chain []capture.Frame, weight uint64) {
	if len(chain) == 0 {
		return
	}
	seenFuncs := make(map[int]struct{}, len(chain))
	type addrKey struct {
		funcID int
		addr   uint64
	}
	seenAddrs := make(map[addrKey]struct{}, len(chain))
	for i := range chain {
		f := chain[i]
		stats := t.funcStats(f.FuncID)
		if _, ok := seenFuncs[f.FuncID]; !ok {
			seenFuncs[f.FuncID] = struct{}{}
			stats.Subtree += weight
		}
		addr := stats.addrStats(f.Addr)
		if _, ok := seenAddrs[addrKey{f.FuncID, f.Addr}]; !ok {
			seenAddrs[addrKey{f.FuncID, f.Addr}] = struct{}{}
			addr.Subtree += weight
		}
		if i == len(chain)-1 {
			stats.Self += weight
			addr.Self += weight
		}
	}
}

func (t *Thread) funcStats(funcID int) *FuncStats {
	stats, ok := t.Functions[funcID]
	if !ok {
		stats = &FuncStats{FuncID: funcID, Addrs: make(map[uint64]*AddrStats)}
		t.Functions[funcID] = stats
		t.funcOrder = append(t.funcOrder, funcID)
	}
	return stats
}

func (f *FuncStats) addrStats(addr uint64) *AddrStats {
	stats, ok := f.Addrs[addr]
	if !ok {
		stats = &AddrStats{}
		f.Addrs[addr] = stats
	}
	return stats
}

// Streams returns the aggregated streams, indexed like the assigner's
// stream indexes.
func (a *Aggregator) Streams() []*Stream {
	return a.streams
}

// OrderedProcesses returns the stream's processes in encounter order.
func (s *Stream) OrderedProcesses() []*Process {
	processes := make([]*Process, 0, len(s.pidOrder))
	for _, pid := range s.pidOrder {
		if p, ok := s.Processes[pid]; ok {
			processes = append(processes, p)
		}
	}
	return processes
}

// OrderedThreads returns the process's thread buckets in encounter order.
func (p *Process) OrderedThreads() []*Thread {
	threads := make([]*Thread, 0, len(p.threadOrder))
	for _, key := range p.threadOrder {
		if t, ok := p.Threads[key]; ok {
			threads = append(threads, t)
		}
	}
	return threads
}

// OrderedFunctions returns the thread's function statistics in encounter
// order.
func (t *Thread) OrderedFunctions() []*FuncStats {
	functions := make([]*FuncStats, 0, len(t.funcOrder))
	for _, id := range t.funcOrder {
		functions = append(functions, t.Functions[id])
	}
	return functions
}

// Elide drops thread buckets whose event count falls below minPercent of
// the stream total, then drops processes left without threads, and
// finally recomputes process and stream totals over the survivors. The
// threshold is evaluated against the pre-elision stream total.
func (s *Stream) Elide(minPercent float64) {
	total := float64(s.EventCount)
	s.EventCount = 0
	s.SampleCount = 0
	pidOrder := s.pidOrder[:0]
	for _, pid := range s.pidOrder {
		p := s.Processes[pid]
		p.EventCount = 0
		p.SampleCount = 0
		threadOrder := p.threadOrder[:0]
		for _, key := range p.threadOrder {
			t := p.Threads[key]
			if total > 0 && float64(t.EventCount)*100 < minPercent*total {
				delete(p.Threads, key)
				continue
			}
			threadOrder = append(threadOrder, key)
			p.EventCount += t.EventCount
			p.SampleCount += t.SampleCount
		}
		p.threadOrder = threadOrder
		if len(p.Threads) == 0 {
			delete(s.Processes, pid)
			continue
		}
		pidOrder = append(pidOrder, pid)
		s.EventCount += p.EventCount
		s.SampleCount += p.SampleCount
	}
	s.pidOrder = pidOrder
}
