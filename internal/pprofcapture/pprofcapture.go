// Package pprofcapture adapts pprof protobuf profiles into captures. Thread
// and process identity is recovered from the conventional "thread id",
// "thread name", "process id" and "process name" sample labels when
// present; unlabeled samples fall back to a single synthetic thread.
package pprofcapture

import (
	"fmt"
	"os"

	"github.com/google/pprof/profile"

	"github.com/perfreport/perfreport/internal/capture"
)

func FromFile(path string) (*capture.Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := profile.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("pprofcapture: parsing %s: %w", path, err)
	}
	return Convert(p)
}

// Convert builds a capture from a parsed pprof profile. The last sample
// value is used as the event weight, matching pprof's own convention for
// the default sample type.
func Convert(p *profile.Profile) (*capture.Capture, error) {
	b := builder{
		c: &capture.Capture{
			Tables: capture.Tables{ThreadNames: make(map[int]string)},
		},
		libIDs:  make(map[string]int),
		funcIDs: make(map[string]int),
	}
	eventType := "samples"
	if n := len(p.SampleType); n > 0 {
		st := p.SampleType[n-1]
		eventType = st.Type + ":" + st.Unit
	}
	b.c.Tables.EventTypes = []string{eventType}

	for _, s := range p.Sample {
		pid, tid := sampleIdentity(s)
		if name := labelValue(s, "thread name"); name != "" {
			b.c.Tables.ThreadNames[tid] = name
		}
		if name := labelValue(s, "process name"); name != "" {
			b.c.Tables.ThreadNames[pid] = name
		}

		weight := uint64(1)
		if n := len(s.Value); n > 0 && s.Value[n-1] > 0 {
			weight = uint64(s.Value[n-1])
		}

		// pprof locations are leaf first; chains are root first.
		var chain []capture.Frame
		for i := len(s.Location) - 1; i >= 0; i-- {
			loc := s.Location[i]
			libID := b.lib(locationLib(loc))
			if len(loc.Line) == 0 {
				chain = append(chain, capture.Frame{
					LibID:  libID,
					FuncID: b.function(libID, fmt.Sprintf("%#x", loc.Address)),
					Addr:   loc.Address,
				})
				continue
			}
			// lines are leaf first within a location too
			for j := len(loc.Line) - 1; j >= 0; j-- {
				name := "??"
				if fn := loc.Line[j].Function; fn != nil && fn.Name != "" {
					name = fn.Name
				}
				chain = append(chain, capture.Frame{
					LibID:  libID,
					FuncID: b.function(libID, name),
					Addr:   loc.Address,
				})
			}
		}

		b.c.Samples = append(b.c.Samples, capture.Sample{
			EventTypeID: 0,
			Pid:         pid,
			Tid:         tid,
			Time:        uint64(numLabelValue(s, "timestamp_ns")),
			EventCount:  weight,
			CallChain:   chain,
		})
	}
	return b.c, nil
}

type builder struct {
	c       *capture.Capture
	libIDs  map[string]int
	funcIDs map[string]int
}

func (b *builder) lib(name string) int {
	if id, ok := b.libIDs[name]; ok {
		return id
	}
	id := len(b.c.Tables.LibNames)
	b.libIDs[name] = id
	b.c.Tables.LibNames = append(b.c.Tables.LibNames, name)
	return id
}

func (b *builder) function(libID int, name string) int {
	key := fmt.Sprintf("%d:%s", libID, name)
	if id, ok := b.funcIDs[key]; ok {
		return id
	}
	id := len(b.c.Tables.Functions)
	b.funcIDs[key] = id
	b.c.Tables.Functions = append(b.c.Tables.Functions, capture.Function{
		Name:  name,
		LibID: libID,
	})
	return id
}

func locationLib(loc *profile.Location) string {
	if loc.Mapping != nil && loc.Mapping.File != "" {
		return loc.Mapping.File
	}
	return "[unknown]"
}

func sampleIdentity(s *profile.Sample) (pid, tid int) {
	pid = int(numLabelValue(s, "process id"))
	if pid == 0 {
		pid = int(numLabelValue(s, "pid"))
	}
	tid = int(numLabelValue(s, "thread id"))
	if tid == 0 {
		tid = int(numLabelValue(s, "tid"))
	}
	if pid == 0 {
		pid = 1
	}
	if tid == 0 {
		tid = pid
	}
	return pid, tid
}

func numLabelValue(s *profile.Sample, key string) int64 {
	if vs := s.NumLabel[key]; len(vs) > 0 {
		return vs[0]
	}
	return 0
}

func labelValue(s *profile.Sample, key string) string {
	if vs := s.Label[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
