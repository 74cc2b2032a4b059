package aggregate

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/perfreport/perfreport/internal/errorutil"
)

// ThreadPolicy decides which bucket a physical thread lands in. Buckets
// are always scoped to a process; the policy only controls the thread key
// within it.
type ThreadPolicy interface {
	// BucketKey returns the thread bucket key and its display name. For
	// the identity policy the display name is the thread's own name; for
	// merging policies it is the merged bucket's label.
	BucketKey(tid int, name string) (key, display string)
}

type identityPolicy struct{}

func (identityPolicy) BucketKey(tid int, name string) (string, string) {
	return "t" + strconv.Itoa(tid), name
}

// Identity buckets every physical thread separately, keyed by tid.
func Identity() ThreadPolicy {
	return identityPolicy{}
}

type byNamePolicy struct{}

func (byNamePolicy) BucketKey(tid int, name string) (string, string) {
	if name == "" {
		// Unnamed threads keep their own buckets.
		return "t" + strconv.Itoa(tid), name
	}
	return "n" + name, name
}

// ByName merges threads sharing a display name into one bucket per
// process.
func ByName() ThreadPolicy {
	return byNamePolicy{}
}

type patternListPolicy struct {
	patterns []*regexp.Regexp
	raw      []string
}

func (p *patternListPolicy) BucketKey(tid int, name string) (string, string) {
	for i, re := range p.patterns {
		if re.MatchString(name) {
			return "p" + p.raw[i], p.raw[i]
		}
	}
	return "t" + strconv.Itoa(tid), name
}

// ByPatternList merges threads whose display name matches one of the
// patterns; patterns are tried in order and the first match wins. The
// merged bucket is labeled with the pattern string itself. Threads
// matching no pattern fall back to per-tid buckets.
func ByPatternList(patterns []string) (ThreadPolicy, error) {
	p := patternListPolicy{raw: patterns}
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("aggregate: %w: bad thread pattern %q: %v", errorutil.ErrConfiguration, pattern, err)
		}
		p.patterns = append(p.patterns, re)
	}
	return &p, nil
}
