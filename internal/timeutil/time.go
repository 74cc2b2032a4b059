package timeutil

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Time is a capture timestamp. Capture producers disagree on the wire
// shape: some write RFC3339 strings, others unix seconds. It decodes
// both and always encodes RFC3339.
type Time time.Time

func (t *Time) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == "0" {
		return nil
	}
	if s[0] == '"' {
		tt, err := time.Parse(`"`+time.RFC3339+`"`, s)
		if err != nil {
			return err
		}
		*t = Time(tt)
		return nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*t = Time(time.Unix(i, 0).UTC())
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339))
}

func (t Time) Time() time.Time {
	return time.Time(t)
}

// IsZero reports whether no timestamp was recorded.
func (t Time) IsZero() bool {
	return time.Time(t).IsZero()
}
