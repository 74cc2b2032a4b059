package samplefilter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/perfreport/perfreport/internal/errorutil"
)

// ReadFilterFile parses a filter file declaring a global time window. The
// format is line oriented:
//
//	GLOBAL_BEGIN <timestamp>
//	GLOBAL_END <timestamp>
//
// Unknown directives, missing timestamps and unparsable values are
// configuration errors.
func ReadFilterFile(path string) (*TimeWindow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("samplefilter: %w: %v", errorutil.ErrConfiguration, err)
	}
	defer f.Close()
	w, err := ParseFilterFile(f)
	if err != nil {
		return nil, fmt.Errorf("samplefilter: %s: %w", path, err)
	}
	return w, nil
}

func ParseFilterFile(r io.Reader) (*TimeWindow, error) {
	var w TimeWindow
	var haveBegin, haveEnd bool
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: malformed filter line %q", errorutil.ErrConfiguration, line)
		}
		ts, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp in filter line %q", errorutil.ErrConfiguration, line)
		}
		switch fields[0] {
		case "GLOBAL_BEGIN":
			w.Begin = ts
			haveBegin = true
		case "GLOBAL_END":
			w.End = ts
			haveEnd = true
		default:
			return nil, fmt.Errorf("%w: unknown filter directive %q", errorutil.ErrConfiguration, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !haveBegin || !haveEnd {
		return nil, fmt.Errorf("%w: filter file must declare GLOBAL_BEGIN and GLOBAL_END", errorutil.ErrConfiguration)
	}
	if w.End < w.Begin {
		return nil, fmt.Errorf("%w: filter window ends before it begins", errorutil.ErrConfiguration)
	}
	return &w, nil
}
