package eventstream

import (
	"fmt"

	"github.com/perfreport/perfreport/internal/capture"
	"github.com/perfreport/perfreport/internal/errorutil"
)

// Mode selects how on-cpu and off-cpu samples map to event streams.
type Mode int

const (
	// OnCPU keeps on-cpu samples only.
	OnCPU Mode = iota
	// OffCPU keeps off-cpu samples only.
	OffCPU
	// OnOffCPU keeps both kinds in two separate streams, on-cpu first.
	OnOffCPU
	// MixedOnOffCPU merges both kinds of time into a single stream named
	// after the on-cpu event.
	MixedOnOffCPU
)

var modeNames = map[string]Mode{
	"on-cpu":           OnCPU,
	"off-cpu":          OffCPU,
	"on-off-cpu":       OnOffCPU,
	"mixed-on-off-cpu": MixedOnOffCPU,
}

func ParseMode(s string) (Mode, error) {
	m, ok := modeNames[s]
	if !ok {
		return 0, fmt.Errorf("eventstream: %w: unknown trace-offcpu mode %q", errorutil.ErrConfiguration, s)
	}
	return m, nil
}

func (m Mode) String() string {
	for name, mode := range modeNames {
		if mode == m {
			return name
		}
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Assigner routes samples to event streams for one mode. It remembers the
// event type name of the first sample routed to each stream so the streams
// can be published under their recorded event names.
type Assigner struct {
	mode  Mode
	names [2]string
}

func NewAssigner(mode Mode) *Assigner {
	return &Assigner{mode: mode}
}

// Assign returns the stream index for a sample, or ok=false when the mode
// drops the sample entirely.
func (a *Assigner) Assign(s *capture.Sample, tables *capture.Tables) (int, bool) {
	var idx int
	switch a.mode {
	case OnCPU:
		if s.OffCPU {
			return 0, false
		}
	case OffCPU:
		if !s.OffCPU {
			return 0, false
		}
	case OnOffCPU:
		if s.OffCPU {
			idx = 1
		}
	case MixedOnOffCPU:
		// The merged stream is named after the on-cpu event, so only
		// on-cpu samples may claim the name.
		if a.names[0] == "" && !s.OffCPU {
			a.names[0] = tables.EventTypeName(s.EventTypeID)
		}
		return 0, true
	}
	if a.names[idx] == "" {
		a.names[idx] = tables.EventTypeName(s.EventTypeID)
	}
	return idx, true
}

// StreamCount returns the number of streams the mode can produce.
func (a *Assigner) StreamCount() int {
	if a.mode == OnOffCPU {
		return 2
	}
	return 1
}

// StreamName returns the recorded event name for a stream. Streams that
// never received a sample have an empty name and are elided from reports.
func (a *Assigner) StreamName(idx int) string {
	return a.names[idx]
}
