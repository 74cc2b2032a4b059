package capture

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/perfreport/perfreport/internal/errorutil"
	"github.com/perfreport/perfreport/internal/testutil"
)

func TestMerge(t *testing.T) {
	a := &Capture{
		Tables: Tables{
			EventTypes:  []string{"cpu-clock:u"},
			LibNames:    []string{"libc.so"},
			Functions:   []Function{{Name: "main", LibID: 0}},
			ThreadNames: map[int]string{1: "app"},
		},
		Samples: []Sample{{Pid: 1, Tid: 1, EventCount: 6}},
	}
	b := &Capture{
		Tables: Tables{
			EventTypes:  []string{"cpu-clock:u"},
			LibNames:    []string{"libc.so", "libapp.so"},
			Functions:   []Function{{Name: "main", LibID: 0}, {Name: "work", LibID: 1}},
			ThreadNames: map[int]string{1: "app", 2: "Worker"},
		},
		Samples: []Sample{{Pid: 1, Tid: 2, EventCount: 13}},
	}

	merged, err := Merge([]*Capture{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(merged.Samples) != 2 {
		t.Fatalf("samples: got %d, want 2", len(merged.Samples))
	}
	wantTables := Tables{
		EventTypes:  []string{"cpu-clock:u"},
		LibNames:    []string{"libc.so", "libapp.so"},
		Functions:   []Function{{Name: "main", LibID: 0}, {Name: "work", LibID: 1}},
		ThreadNames: map[int]string{1: "app", 2: "Worker"},
	}
	if diff := testutil.Diff(merged.Tables, wantTables); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestMergeInconsistentTables(t *testing.T) {
	a := &Capture{Tables: Tables{LibNames: []string{"libc.so"}}}
	b := &Capture{Tables: Tables{LibNames: []string{"libm.so"}}}
	_, err := Merge([]*Capture{a, b})
	if !errors.Is(err, errorutil.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	c := Capture{
		Tables: Tables{
			EventTypes: []string{"cpu-clock:u"},
			LibNames:   []string{"libc.so"},
			Functions:  []Function{{Name: "main"}},
		},
		Samples: []Sample{
			{EventTypeID: 0, CallChain: []Frame{{LibID: 0, FuncID: 5}}},
		},
	}
	if err := c.Validate(); !errors.Is(err, errorutil.ErrDataIntegrity) {
		t.Fatalf("expected data integrity error, got %v", err)
	}
}

func TestReadJSON(t *testing.T) {
	data := `{
		"tables": {
			"event_types": ["cpu-clock:u"],
			"libs": ["libc.so"],
			"functions": [{"name": "main", "lib": 0}],
			"thread_names": {"1": "app"}
		},
		"samples": [
			{"event_type": 0, "pid": 1, "tid": 1, "event_count": 3, "callchain": [{"lib": 0, "func": 0, "addr": 16}]}
		]
	}`
	c, err := ReadJSON(strings.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := c.Tables.ThreadName(1), "app"; got != want {
		t.Fatalf("thread name: got %q, want %q", got, want)
	}
	if got, want := c.Samples[0].CallChain[0].Addr, uint64(16); got != want {
		t.Fatalf("addr: got %d, want %d", got, want)
	}
}

func TestReadJSONMalformed(t *testing.T) {
	if _, err := ReadJSON(strings.NewReader("{")); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestLoadAll(t *testing.T) {
	load := func(path string) (*Capture, error) {
		return &Capture{
			Tables: Tables{
				EventTypes:  []string{"cpu-clock:u"},
				ThreadNames: map[int]string{},
			},
			Samples: []Sample{{Pid: 1, Tid: 1, EventCount: 1}},
		}, nil
	}
	merged, err := LoadAll(context.Background(), []string{"a", "b", "c"}, load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(merged.Samples) != 3 {
		t.Fatalf("samples: got %d, want 3", len(merged.Samples))
	}
}

func TestLoadAllPropagatesErrors(t *testing.T) {
	wantErr := errors.New("corrupt capture")
	load := func(path string) (*Capture, error) {
		if path == "bad" {
			return nil, wantErr
		}
		return &Capture{Tables: Tables{ThreadNames: map[int]string{}}}, nil
	}
	if _, err := LoadAll(context.Background(), []string{"ok", "bad"}, load); !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}
