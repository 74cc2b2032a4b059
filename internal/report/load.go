package report

import (
	"context"
	"strings"

	"github.com/perfreport/perfreport/internal/capture"
	"github.com/perfreport/perfreport/internal/jfrcapture"
	"github.com/perfreport/perfreport/internal/pprofcapture"
)

// LoadCaptures loads and merges every input capture, dispatching on the
// file extension: .json is the native capture format, .jfr (optionally
// gzipped) is a JFR recording, anything else is treated as a pprof
// profile. Files are decoded concurrently.
func LoadCaptures(ctx context.Context, paths []string) (*capture.Capture, error) {
	return capture.LoadAll(ctx, paths, loadCapture)
}

func loadCapture(path string) (*capture.Capture, error) {
	switch {
	case strings.HasSuffix(path, ".json"):
		return capture.ReadJSONFile(path)
	case strings.HasSuffix(path, ".jfr"), strings.HasSuffix(path, ".jfr.gz"):
		return jfrcapture.FromFile(path)
	default:
		return pprofcapture.FromFile(path)
	}
}
