// Package jfrcapture adapts JDK Flight Recorder recordings into captures.
// Execution samples become on-cpu samples and monitor-enter events become
// off-cpu samples, so JFR recordings work with every trace-offcpu mode.
package jfrcapture

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/grafana/jfr-parser/parser"
	"github.com/grafana/jfr-parser/parser/types"

	"github.com/perfreport/perfreport/internal/capture"
)

const (
	execEventType = iota
	monitorEventType
)

func FromFile(path string) (*capture.Capture, error) {
	buf, err := readRecording(path)
	if err != nil {
		return nil, err
	}
	return Convert(buf)
}

func readRecording(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("jfrcapture: gzip: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	}
	return io.ReadAll(f)
}

func Convert(buf []byte) (*capture.Capture, error) {
	p := parser.NewParser(buf, parser.Options{})
	b := builder{
		c: &capture.Capture{
			Tables: capture.Tables{
				EventTypes:  []string{"jdk.ExecutionSample", "jdk.JavaMonitorEnter"},
				ThreadNames: make(map[int]string),
			},
		},
		libIDs:  make(map[string]int),
		funcIDs: make(map[string]int),
	}

	for {
		typ, err := p.ParseEvent()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("jfrcapture: parse event: %w", err)
		}

		var stRef types.StackTraceRef
		var thRef types.ThreadRef
		eventType := -1
		switch typ {
		case p.TypeMap.T_EXECUTION_SAMPLE:
			stRef = p.ExecutionSample.StackTrace
			thRef = p.ExecutionSample.SampledThread
			eventType = execEventType
		case p.TypeMap.T_MONITOR_ENTER:
			stRef = p.JavaMonitorEnter.StackTrace
			thRef = p.JavaMonitorEnter.EventThread
			eventType = monitorEventType
		}
		if eventType < 0 {
			continue
		}

		st := p.GetStacktrace(stRef)
		if st == nil || len(st.Frames) == 0 {
			continue
		}

		tid := int(thRef)
		if name := threadName(p, thRef); name != "" {
			b.c.Tables.ThreadNames[tid] = name
		}

		// JFR frames are leaf first; chains are root first.
		n := len(st.Frames)
		chain := make([]capture.Frame, n)
		for i, f := range st.Frames {
			libID, funcID := b.frame(p, f)
			chain[n-1-i] = capture.Frame{LibID: libID, FuncID: funcID}
		}

		b.c.Samples = append(b.c.Samples, capture.Sample{
			EventTypeID: eventType,
			Pid:         1,
			Tid:         tid,
			EventCount:  1,
			OffCPU:      eventType == monitorEventType,
			CallChain:   chain,
		})
	}
	b.c.Tables.ThreadNames[1] = "java"
	return b.c, nil
}

type builder struct {
	c       *capture.Capture
	libIDs  map[string]int
	funcIDs map[string]int
}

// frame resolves a JFR stack frame to (library, function) table entries.
// The declaring class stands in for the library since JFR has no mapping
// information.
func (b *builder) frame(p *parser.Parser, f types.StackFrame) (int, int) {
	className := ""
	methodName := "<unknown>"
	if method := p.GetMethod(f.Method); method != nil {
		if class := p.GetClass(method.Type); class != nil {
			className = p.GetSymbolString(class.Name)
		}
		methodName = p.GetSymbolString(method.Name)
	}
	lib := className
	if lib == "" {
		lib = "[unknown]"
	}
	full := methodName
	if className != "" {
		full = className + "." + methodName
	}

	libID, ok := b.libIDs[lib]
	if !ok {
		libID = len(b.c.Tables.LibNames)
		b.libIDs[lib] = libID
		b.c.Tables.LibNames = append(b.c.Tables.LibNames, lib)
	}
	funcID, ok := b.funcIDs[full]
	if !ok {
		funcID = len(b.c.Tables.Functions)
		b.funcIDs[full] = funcID
		b.c.Tables.Functions = append(b.c.Tables.Functions, capture.Function{
			Name:  full,
			LibID: libID,
		})
	}
	return libID, funcID
}

func threadName(p *parser.Parser, ref types.ThreadRef) string {
	idx, ok := p.Threads.IDMap[ref]
	if !ok {
		return ""
	}
	t := &p.Threads.Thread[idx]
	if t.JavaName != "" {
		return t.JavaName
	}
	return t.OsName
}
