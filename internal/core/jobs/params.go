package jobs

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// paramReader reads typed values from a block and collects every problem
// instead of stopping at the first
type paramReader struct {
	job    string
	params Params
	errs   []ConfigError
}

func newParamReader(job string, params Params) *paramReader {
	if params == nil {
		params = Params{}
	}
	return &paramReader{job: job, params: params}
}

func (r *paramReader) fail(field, format string, args ...any) {
	r.errs = append(r.errs, ConfigError{Job: r.job, Field: field, Message: fmt.Sprintf(format, args...)})
}

// only rejects keys not in allowed
func (r *paramReader) only(allowed ...string) {
	known := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		known[k] = true
	}
	var unknown []string
	for k := range r.params {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		r.fail(k, "unknown parameter")
	}
}

func (r *paramReader) number(key string, def float64) float64 {
	v, ok := r.params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case float64:
		return n
	}
	r.fail(key, "must be a number, got %T", v)
	return def
}

func (r *paramReader) integer(key string, def int) int {
	f := r.number(key, float64(def))
	if f != math.Trunc(f) {
		r.fail(key, "must be a whole number")
		return def
	}
	return int(f)
}

func (r *paramReader) seconds(key string, def time.Duration) time.Duration {
	f := r.number(key, def.Seconds())
	if f < 0 {
		r.fail(key, "must not be negative")
		return def
	}
	return time.Duration(f * float64(time.Second))
}

func (r *paramReader) str(key, def string) string {
	v, ok := r.params[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		r.fail(key, "must be a string, got %T", v)
		return def
	}
	return s
}

func (r *paramReader) strList(key string, def []string) []string {
	v, ok := r.params[key]
	if !ok {
		return def
	}
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []string:
		return list
	default:
		r.fail(key, "must be a list of strings, got %T", v)
		return def
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			r.fail(fmt.Sprintf("%s[%d]", key, i), "must be a string, got %T", item)
			continue
		}
		out = append(out, s)
	}
	return out
}
