package capture

import (
	"fmt"

	"github.com/perfreport/perfreport/internal/errorutil"
	"github.com/perfreport/perfreport/internal/timeutil"
)

type (
	// Frame is one call chain position, root side first in a chain.
	Frame struct {
		LibID  int    `json:"lib"`
		FuncID int    `json:"func"`
		Addr   uint64 `json:"addr"`
	}

	// Sample is one decoded stack observation. Samples are never mutated
	// after decoding.
	Sample struct {
		EventTypeID int     `json:"event_type"`
		Pid         int     `json:"pid"`
		Tid         int     `json:"tid"`
		Time        uint64  `json:"time"`
		EventCount  uint64  `json:"event_count"`
		OffCPU      bool    `json:"off_cpu,omitempty"`
		CallChain   []Frame `json:"callchain"`
	}

	// Function is a function table entry. Runtime marks synthetic
	// interpreter/runtime-internal frames that reports hide by default.
	Function struct {
		Name    string `json:"name"`
		LibID   int    `json:"lib"`
		Runtime bool   `json:"runtime,omitempty"`
	}

	// Tables holds the integer-keyed side tables shared by all samples of
	// a capture. Captures being merged must agree on them.
	Tables struct {
		EventTypes  []string       `json:"event_types"`
		LibNames    []string       `json:"libs"`
		Functions   []Function     `json:"functions"`
		ThreadNames map[int]string `json:"thread_names"`
	}

	Capture struct {
		RecordTime timeutil.Time `json:"record_time,omitempty"`
		Tables     Tables        `json:"tables"`
		Samples    []Sample      `json:"samples"`
	}
)

// ThreadName returns the recorded name of a thread, or the empty string.
func (t *Tables) ThreadName(tid int) string {
	return t.ThreadNames[tid]
}

// ProcessName returns the name of a process, which is the name of its main
// thread (the thread whose tid equals the pid).
func (t *Tables) ProcessName(pid int) string {
	return t.ThreadNames[pid]
}

func (t *Tables) EventTypeName(id int) string {
	if id < 0 || id >= len(t.EventTypes) {
		return ""
	}
	return t.EventTypes[id]
}

func (t *Tables) LibName(id int) string {
	if id < 0 || id >= len(t.LibNames) {
		return ""
	}
	return t.LibNames[id]
}

func (t *Tables) FunctionName(id int) string {
	if id < 0 || id >= len(t.Functions) {
		return ""
	}
	return t.Functions[id].Name
}

// Validate checks that every index referenced by a sample resolves within
// the capture's tables.
func (c *Capture) Validate() error {
	for i := range c.Samples {
		s := &c.Samples[i]
		if s.EventTypeID < 0 || s.EventTypeID >= len(c.Tables.EventTypes) {
			return fmt.Errorf("capture: %w: sample %d references unknown event type %d", errorutil.ErrDataIntegrity, i, s.EventTypeID)
		}
		for _, f := range s.CallChain {
			if f.LibID < 0 || f.LibID >= len(c.Tables.LibNames) {
				return fmt.Errorf("capture: %w: sample %d references unknown library %d", errorutil.ErrDataIntegrity, i, f.LibID)
			}
			if f.FuncID < 0 || f.FuncID >= len(c.Tables.Functions) {
				return fmt.Errorf("capture: %w: sample %d references unknown function %d", errorutil.ErrDataIntegrity, i, f.FuncID)
			}
		}
	}
	return nil
}

// Merge combines several captures into one. The captures must agree on the
// meaning of every shared table index; a longer table extending a shorter
// one is fine, a disagreement on a shared index is a configuration error.
func Merge(captures []*Capture) (*Capture, error) {
	if len(captures) == 0 {
		return &Capture{Tables: Tables{ThreadNames: make(map[int]string)}}, nil
	}
	merged := &Capture{
		Tables: Tables{ThreadNames: make(map[int]string)},
	}
	for i, c := range captures {
		if merged.RecordTime.IsZero() {
			merged.RecordTime = c.RecordTime
		}
		var err error
		merged.Tables.EventTypes, err = mergeTable(merged.Tables.EventTypes, c.Tables.EventTypes, "event type")
		if err != nil {
			return nil, fmt.Errorf("capture %d: %w", i, err)
		}
		merged.Tables.LibNames, err = mergeTable(merged.Tables.LibNames, c.Tables.LibNames, "library")
		if err != nil {
			return nil, fmt.Errorf("capture %d: %w", i, err)
		}
		merged.Tables.Functions, err = mergeFunctions(merged.Tables.Functions, c.Tables.Functions)
		if err != nil {
			return nil, fmt.Errorf("capture %d: %w", i, err)
		}
		for tid, name := range c.Tables.ThreadNames {
			merged.Tables.ThreadNames[tid] = name
		}
		merged.Samples = append(merged.Samples, c.Samples...)
	}
	return merged, nil
}

func mergeTable(base, next []string, kind string) ([]string, error) {
	n := len(base)
	if len(next) < n {
		n = len(next)
	}
	for i := 0; i < n; i++ {
		if base[i] != next[i] {
			return nil, fmt.Errorf("capture: %w: %s table mismatch at index %d: %q != %q", errorutil.ErrConfiguration, kind, i, base[i], next[i])
		}
	}
	if len(next) > len(base) {
		base = append(base, next[len(base):]...)
	}
	return base, nil
}

func mergeFunctions(base, next []Function) ([]Function, error) {
	n := len(base)
	if len(next) < n {
		n = len(next)
	}
	for i := 0; i < n; i++ {
		if base[i] != next[i] {
			return nil, fmt.Errorf("capture: %w: function table mismatch at index %d: %q != %q", errorutil.ErrConfiguration, i, base[i].Name, next[i].Name)
		}
	}
	if len(next) > len(base) {
		base = append(base, next[len(base):]...)
	}
	return base, nil
}
