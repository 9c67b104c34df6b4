package esi

import "context"

// Category classifies diagnostic events.
type Category string

const (
	// CategoryRequest is reported before each fragment fetch.
	CategoryRequest Category = "request"

	// CategoryFallback is reported when an include retries with its alt URL.
	CategoryFallback Category = "fallback"

	// CategoryError is reported when a fragment could not be resolved.
	CategoryError Category = "error"
)

// Event is a diagnostic event emitted while resolving fragments.
type Event struct {
	Category Category
	URL      string
	// Status is the HTTP status of a failed fetch, 0 when unknown.
	Status int
	Err    error
}

// Reporter observes fragment resolution. It must not block for long; it
// cannot influence the processing result.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, ev Event)

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiReporter fans events out to several reporters. Nil entries are skipped.
func MultiReporter(reporters ...Reporter) Reporter {
	var rs []Reporter
	for _, r := range reporters {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return ReporterFunc(func(ctx context.Context, ev Event) {
		for _, r := range rs {
			r.Report(ctx, ev)
		}
	})
}
