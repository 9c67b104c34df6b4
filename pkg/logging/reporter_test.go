package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/Sternrassler/esi-assembler/pkg/esi"
	"github.com/rs/zerolog"
)

func TestNewReporter(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	tests := []struct {
		name       string
		event      esi.Event
		wantLevel  string
		wantMsg    string
		wantOrigin string
	}{
		{
			name:      "request",
			event:     esi.Event{Category: esi.CategoryRequest, URL: "/a"},
			wantLevel: "debug",
			wantMsg:   "Fetching fragment",
		},
		{
			name:      "fallback",
			event:     esi.Event{Category: esi.CategoryFallback, URL: "/b"},
			wantLevel: "info",
			wantMsg:   "Falling back to alt fragment",
		},
		{
			name:      "error",
			event:     esi.Event{Category: esi.CategoryError, URL: "/a", Status: 503, Err: errors.New("unavailable")},
			wantLevel: "warn",
			wantMsg:   "Fragment could not be resolved",
		},
		{
			name:       "absolute url carries origin",
			event:      esi.Event{Category: esi.CategoryError, URL: "https://shop.example/cart", Status: 502},
			wantLevel:  "warn",
			wantMsg:    "Fragment could not be resolved",
			wantOrigin: "shop.example",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			r := NewReporter(zerolog.New(buf))

			r.Report(context.Background(), tt.event)

			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("invalid log line %q: %v", buf.String(), err)
			}
			if line["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", line["level"], tt.wantLevel)
			}
			if line["message"] != tt.wantMsg {
				t.Errorf("message = %v, want %s", line["message"], tt.wantMsg)
			}
			if line["url"] != tt.event.URL {
				t.Errorf("url = %v, want %s", line["url"], tt.event.URL)
			}
			if origin, _ := line[FieldOrigin].(string); origin != tt.wantOrigin {
				t.Errorf("origin = %q, want %q", origin, tt.wantOrigin)
			}
			if line["category"] != string(tt.event.Category) {
				t.Errorf("category = %v, want %s", line["category"], tt.event.Category)
			}
			if tt.event.Status != 0 && line["status"] != float64(tt.event.Status) {
				t.Errorf("status = %v, want %d", line["status"], tt.event.Status)
			}
			if tt.event.Err != nil && line["error"] != tt.event.Err.Error() {
				t.Errorf("error = %v, want %v", line["error"], tt.event.Err)
			}
		})
	}
}

func TestNewReporter_WithProcessor(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	buf := &bytes.Buffer{}
	fetcher := esi.FetcherFunc(func(_ context.Context, url string) (string, error) {
		if url == "/b" {
			return "b", nil
		}
		return "", errors.New("down")
	})
	p := esi.New(fetcher, esi.WithReporter(NewReporter(zerolog.New(buf))))

	out, err := p.Process(context.Background(), `<esi:include src="/a" alt="/b"/>`, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out != "b" {
		t.Errorf("Process() = %q, want b", out)
	}

	logged := buf.String()
	if strings.Contains(logged, "Fetching fragment") {
		t.Error("debug events should be filtered at info level")
	}
	if !strings.Contains(logged, "Falling back to alt fragment") {
		t.Errorf("fallback not logged: %q", logged)
	}
	if !strings.Contains(logged, "Fragment could not be resolved") {
		t.Errorf("error not logged: %q", logged)
	}
}
