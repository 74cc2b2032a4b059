package capture

import (
	"context"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"
)

// Loader decodes a single capture file.
type Loader func(path string) (*Capture, error)

// ReadJSON decodes a capture in the native JSON format.
func ReadJSON(r io.Reader) (*Capture, error) {
	var c Capture
	if err := jsoniter.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("capture: decoding JSON capture: %w", err)
	}
	if c.Tables.ThreadNames == nil {
		c.Tables.ThreadNames = make(map[int]string)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ReadJSONFile decodes a capture file in the native JSON format.
func ReadJSONFile(path string) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSON(f)
}

// LoadAll loads every capture concurrently and merges them. Loading is
// side-effect free so captures can be decoded in parallel; only the final
// merge touches shared state.
func LoadAll(ctx context.Context, paths []string, load Loader) (*Capture, error) {
	captures := make([]*Capture, len(paths))
	g, _ := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			c, err := load(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			captures[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Merge(captures)
}
