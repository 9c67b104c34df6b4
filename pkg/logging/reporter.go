package logging

import (
	"context"

	"github.com/Sternrassler/esi-assembler/pkg/esi"
	"github.com/rs/zerolog"
)

// NewReporter returns an esi.Reporter that logs fragment events to logger.
// Requests are logged at debug, fallbacks at info and failures at warn.
func NewReporter(logger zerolog.Logger) esi.Reporter {
	return esi.ReporterFunc(func(_ context.Context, ev esi.Event) {
		l := Fragment(logger, ev.URL)

		var e *zerolog.Event
		switch ev.Category {
		case esi.CategoryRequest:
			e = l.Debug()
		case esi.CategoryFallback:
			e = l.Info()
		case esi.CategoryError:
			e = l.Warn()
		default:
			e = l.Debug()
		}

		e = e.Str(FieldCategory, string(ev.Category))
		if ev.Status != 0 {
			e = e.Int(FieldStatus, ev.Status)
		}
		if ev.Err != nil {
			e = e.Err(ev.Err)
		}
		e.Msg(message(ev.Category))
	})
}

func message(c esi.Category) string {
	switch c {
	case esi.CategoryRequest:
		return "Fetching fragment"
	case esi.CategoryFallback:
		return "Falling back to alt fragment"
	case esi.CategoryError:
		return "Fragment could not be resolved"
	default:
		return "Fragment event"
	}
}
