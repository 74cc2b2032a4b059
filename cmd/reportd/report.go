package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/perfreport/perfreport/internal/capture"
	"github.com/perfreport/perfreport/internal/errorutil"
	"github.com/perfreport/perfreport/internal/eventstream"
	"github.com/perfreport/perfreport/internal/report"
	"github.com/perfreport/perfreport/internal/samplefilter"
)

type postReportResponse struct {
	ReportID string           `json:"report_id"`
	Report   *report.Document `json:"report"`
}

// postReport accepts a capture in the native JSON format and responds with
// the assembled report. The report configuration is carried in query
// parameters; a bad configuration is a 400, a bad capture payload too,
// anything else a 500.
func (env *environment) postReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)

	c, err := capture.ReadJSON(http.MaxBytesReader(w, r.Body, env.config.MaxCaptureSize))
	if err != nil {
		log.Err(err).Msg("capture can't be decoded")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	opts, err := reportOptions(r)
	if err != nil {
		log.Err(err).Msg("bad report options")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	opts.SourceDirs = env.config.SourceDirs

	doc, err := report.Generate(c, opts, report.Resolvers{})
	if err != nil {
		if errors.Is(err, errorutil.ErrConfiguration) {
			log.Err(err).Msg("bad report configuration")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	err = gojson.NewEncoder(w).Encode(postReportResponse{
		ReportID: uuid.New().String(),
		Report:   doc,
	})
	if err != nil {
		if hub != nil {
			hub.CaptureException(err)
		}
	}
}

func reportOptions(r *http.Request) (report.Options, error) {
	q := r.URL.Query()
	var opts report.Options
	var err error

	if v := q.Get("trace_offcpu"); v != "" {
		opts.TraceMode, err = eventstream.ParseMode(v)
		if err != nil {
			return opts, err
		}
	}
	opts.AggregateByThreadName = q.Get("aggregate_by_thread_name") == "true"
	if v := q.Get("aggregate_threads"); v != "" {
		opts.AggregateThreadPatterns = strings.Split(v, ",")
	}
	opts.ShowRuntimeFrames = q.Get("show_runtime_frames") == "true"
	if v := q.Get("min_percent"); v != "" {
		opts.MinPercent, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, err
		}
	}

	opts.Filter, err = filterOptions(q.Get("filter"))
	if err != nil {
		return opts, err
	}
	if begin, end := q.Get("time_begin"), q.Get("time_end"); begin != "" || end != "" {
		window, err := parseWindow(begin, end)
		if err != nil {
			return opts, err
		}
		opts.Filter.Window = window
	}
	return opts, nil
}

// filterOptions parses the compact filter query syntax, a semicolon
// separated list of rules like "pid:1,2;^tid:3;pname:com\.example\..*".
// A leading ^ excludes, the kind is one of pid, tid, pname, tname.
func filterOptions(spec string) (samplefilter.Options, error) {
	var opts samplefilter.Options
	if spec == "" {
		return opts, nil
	}
	for _, rule := range strings.Split(spec, ";") {
		exclude := strings.HasPrefix(rule, "^")
		rule = strings.TrimPrefix(rule, "^")
		kind, values, ok := strings.Cut(rule, ":")
		if !ok {
			return opts, fmt.Errorf("reportd: %w: bad filter rule %q", errorutil.ErrConfiguration, rule)
		}
		parts := strings.Split(values, ",")
		switch kind {
		case "pid", "tid":
			ids := make([]int, 0, len(parts))
			for _, p := range parts {
				id, err := strconv.Atoi(p)
				if err != nil {
					return opts, fmt.Errorf("reportd: %w: bad %s %q", errorutil.ErrConfiguration, kind, p)
				}
				ids = append(ids, id)
			}
			switch {
			case kind == "pid" && exclude:
				opts.ExcludePids = append(opts.ExcludePids, ids...)
			case kind == "pid":
				opts.IncludePids = append(opts.IncludePids, ids...)
			case exclude:
				opts.ExcludeTids = append(opts.ExcludeTids, ids...)
			default:
				opts.IncludeTids = append(opts.IncludeTids, ids...)
			}
		case "pname":
			if exclude {
				opts.ExcludeProcessNames = append(opts.ExcludeProcessNames, parts...)
			} else {
				opts.IncludeProcessNames = append(opts.IncludeProcessNames, parts...)
			}
		case "tname":
			if exclude {
				opts.ExcludeThreadNames = append(opts.ExcludeThreadNames, parts...)
			} else {
				opts.IncludeThreadNames = append(opts.IncludeThreadNames, parts...)
			}
		default:
			return opts, fmt.Errorf("reportd: %w: unknown filter kind %q", errorutil.ErrConfiguration, kind)
		}
	}
	return opts, nil
}

func parseWindow(begin, end string) (*samplefilter.TimeWindow, error) {
	if begin == "" || end == "" {
		return nil, fmt.Errorf("reportd: %w: time_begin and time_end must be set together", errorutil.ErrConfiguration)
	}
	var w samplefilter.TimeWindow
	var err error
	if w.Begin, err = strconv.ParseUint(begin, 10, 64); err != nil {
		return nil, fmt.Errorf("reportd: %w: bad time_begin %q", errorutil.ErrConfiguration, begin)
	}
	if w.End, err = strconv.ParseUint(end, 10, 64); err != nil {
		return nil, fmt.Errorf("reportd: %w: bad time_end %q", errorutil.ErrConfiguration, end)
	}
	return &w, nil
}
