package samplefilter

import (
	"fmt"
	"regexp"

	"github.com/perfreport/perfreport/internal/capture"
	"github.com/perfreport/perfreport/internal/errorutil"
)

type (
	// Options is the user-facing filter configuration. Patterns are
	// uncompiled regular expressions.
	Options struct {
		IncludePids []int
		ExcludePids []int
		IncludeTids []int
		ExcludeTids []int

		IncludeProcessNames []string
		ExcludeProcessNames []string
		IncludeThreadNames  []string
		ExcludeThreadNames  []string

		// FilterFile optionally points at a file naming a global time
		// window, see ReadFilterFile.
		FilterFile string

		// Window optionally restricts samples to a timestamp window
		// directly. Setting both Window and FilterFile is a
		// configuration error.
		Window *TimeWindow
	}

	// TimeWindow is a closed timestamp interval.
	TimeWindow struct {
		Begin uint64
		End   uint64
	}

	// Filter is a compiled, stateless sample predicate.
	Filter struct {
		includePids map[int]struct{}
		excludePids map[int]struct{}
		includeTids map[int]struct{}
		excludeTids map[int]struct{}

		includeProcessNames []*regexp.Regexp
		excludeProcessNames []*regexp.Regexp
		includeThreadNames  []*regexp.Regexp
		excludeThreadNames  []*regexp.Regexp

		window *TimeWindow
	}
)

// New compiles filter options. A pattern that does not compile is a
// configuration error, reported here and never per sample.
func New(o Options) (*Filter, error) {
	f := Filter{
		includePids: toSet(o.IncludePids),
		excludePids: toSet(o.ExcludePids),
		includeTids: toSet(o.IncludeTids),
		excludeTids: toSet(o.ExcludeTids),
	}
	var err error
	if f.includeProcessNames, err = compileAll(o.IncludeProcessNames); err != nil {
		return nil, err
	}
	if f.excludeProcessNames, err = compileAll(o.ExcludeProcessNames); err != nil {
		return nil, err
	}
	if f.includeThreadNames, err = compileAll(o.IncludeThreadNames); err != nil {
		return nil, err
	}
	if f.excludeThreadNames, err = compileAll(o.ExcludeThreadNames); err != nil {
		return nil, err
	}
	if o.FilterFile != "" && o.Window != nil {
		return nil, fmt.Errorf("samplefilter: %w: both a filter file and an explicit time window are set", errorutil.ErrConfiguration)
	}
	if o.FilterFile != "" {
		f.window, err = ReadFilterFile(o.FilterFile)
		if err != nil {
			return nil, err
		}
	} else if o.Window != nil {
		w := *o.Window
		f.window = &w
	}
	return &f, nil
}

// Admit reports whether a sample passes the filter. Exclusion rules win
// over inclusion rules; an include rule set of a given kind restricts
// samples to those matching at least one rule of that kind; a kind with no
// include rules imposes no restriction.
func (f *Filter) Admit(s *capture.Sample, processName, threadName string) bool {
	if _, ok := f.excludePids[s.Pid]; ok {
		return false
	}
	if _, ok := f.excludeTids[s.Tid]; ok {
		return false
	}
	if matchAny(f.excludeProcessNames, processName) {
		return false
	}
	if matchAny(f.excludeThreadNames, threadName) {
		return false
	}
	if len(f.includePids) > 0 {
		if _, ok := f.includePids[s.Pid]; !ok {
			return false
		}
	}
	if len(f.includeTids) > 0 {
		if _, ok := f.includeTids[s.Tid]; !ok {
			return false
		}
	}
	if len(f.includeProcessNames) > 0 && !matchAny(f.includeProcessNames, processName) {
		return false
	}
	if len(f.includeThreadNames) > 0 && !matchAny(f.includeThreadNames, threadName) {
		return false
	}
	if f.window != nil && (s.Time < f.window.Begin || s.Time > f.window.End) {
		return false
	}
	return true
}

func toSet(ids []int) map[int]struct{} {
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("samplefilter: %w: bad name pattern %q: %v", errorutil.ErrConfiguration, p, err)
		}
		res = append(res, re)
	}
	return res, nil
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
