// Package speedscope converts captures into the speedscope file format so
// recordings can be inspected interactively at https://www.speedscope.app.
package speedscope

import (
	"fmt"
	"sort"

	"github.com/perfreport/perfreport/internal/capture"
)

const (
	schemaURL = "https://www.speedscope.app/file-format-schema.json"

	ProfileTypeSampled ProfileType = "sampled"

	ValueUnitNone ValueUnit = "none"
)

type (
	ProfileType string
	ValueUnit   string

	Frame struct {
		Name  string `json:"name"`
		Image string `json:"image,omitempty"`
	}

	SharedData struct {
		Frames []Frame `json:"frames"`
	}

	// SampledProfile is one thread's samples. Each sample is a stack of
	// frame indices, root first, weighted by its event count.
	SampledProfile struct {
		Type       ProfileType `json:"type"`
		Name       string      `json:"name"`
		Unit       ValueUnit   `json:"unit"`
		StartValue uint64      `json:"startValue"`
		EndValue   uint64      `json:"endValue"`
		Samples    [][]int     `json:"samples"`
		Weights    []uint64    `json:"weights"`
	}

	Output struct {
		Schema             string            `json:"$schema"`
		Shared             SharedData        `json:"shared"`
		Profiles           []*SampledProfile `json:"profiles"`
		Name               string            `json:"name,omitempty"`
		ActiveProfileIndex int               `json:"activeProfileIndex"`
		Exporter           string            `json:"exporter,omitempty"`
	}
)

// FromCapture builds a speedscope document with one sampled profile per
// thread. Threads are ordered by total weight, heaviest first, and the
// heaviest is the active profile.
func FromCapture(c *capture.Capture, name string) *Output {
	b := converter{
		tables:   &c.Tables,
		frameIDs: make(map[int]int),
		threads:  make(map[int]*SampledProfile),
	}
	for i := range c.Samples {
		b.add(&c.Samples[i])
	}

	out := Output{
		Schema:   schemaURL,
		Shared:   SharedData{Frames: b.frames},
		Profiles: make([]*SampledProfile, 0, len(b.threads)),
		Name:     name,
		Exporter: "perfreport",
	}
	for _, p := range b.threads {
		out.Profiles = append(out.Profiles, p)
	}
	sort.SliceStable(out.Profiles, func(i, j int) bool {
		return out.Profiles[i].EndValue > out.Profiles[j].EndValue
	})
	return &out
}

type converter struct {
	tables   *capture.Tables
	frames   []Frame
	frameIDs map[int]int
	threads  map[int]*SampledProfile
}

func (b *converter) add(s *capture.Sample) {
	p, ok := b.threads[s.Tid]
	if !ok {
		name := b.tables.ThreadName(s.Tid)
		if name == "" {
			name = fmt.Sprintf("thread %d", s.Tid)
		} else {
			name = fmt.Sprintf("%s (%d)", name, s.Tid)
		}
		p = &SampledProfile{
			Type: ProfileTypeSampled,
			Name: name,
			Unit: ValueUnitNone,
		}
		b.threads[s.Tid] = p
	}

	stack := make([]int, 0, len(s.CallChain))
	for _, f := range s.CallChain {
		stack = append(stack, b.frame(f.FuncID))
	}
	p.Samples = append(p.Samples, stack)
	p.Weights = append(p.Weights, s.EventCount)
	p.EndValue += s.EventCount
}

func (b *converter) frame(funcID int) int {
	if id, ok := b.frameIDs[funcID]; ok {
		return id
	}
	id := len(b.frames)
	b.frameIDs[funcID] = id
	b.frames = append(b.frames, Frame{
		Name:  b.tables.FunctionName(funcID),
		Image: b.tables.LibName(b.tables.Functions[funcID].LibID),
	})
	return id
}
