package warmup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/esi-assembler/pkg/esi"
)

func TestNew_Defaults(t *testing.T) {
	w := New(nil, Config{})

	if w.config.MaxConcurrency != 10 {
		t.Errorf("MaxConcurrency = %d, want 10", w.config.MaxConcurrency)
	}
	if w.config.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", w.config.Timeout)
	}
}

func TestWarm(t *testing.T) {
	fetcher := esi.FetcherFunc(func(_ context.Context, url string) (string, error) {
		if url == "/broken" {
			return "", errors.New("origin down")
		}
		return "<p>" + url + "</p>", nil
	})

	w := New(fetcher, Config{MaxConcurrency: 2})
	urls := []string{"/a", "/broken", "/abc"}

	results, err := w.Warm(context.Background(), urls)
	if err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if len(results) != len(urls) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(urls))
	}

	for i, res := range results {
		if res.URL != urls[i] {
			t.Errorf("results[%d].URL = %q, want %q", i, res.URL, urls[i])
		}
	}
	if results[0].Err != nil || results[0].Bytes != len("<p>/a</p>") {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Err == nil {
		t.Error("results[1] should carry the fetch error")
	}
	if results[2].Err != nil || results[2].Bytes != len("<p>/abc</p>") {
		t.Errorf("results[2] = %+v", results[2])
	}
}

func TestWarm_Empty(t *testing.T) {
	w := New(esi.FetcherFunc(func(context.Context, string) (string, error) {
		t.Error("fetcher should not be called")
		return "", nil
	}), DefaultConfig())

	results, err := w.Warm(context.Background(), nil)
	if err != nil || len(results) != 0 {
		t.Errorf("Warm(nil) = %v, %v", results, err)
	}
}

func TestWarm_BoundedConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	fetcher := esi.FetcherFunc(func(context.Context, string) (string, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return "ok", nil
	})

	w := New(fetcher, Config{MaxConcurrency: 3})
	urls := make([]string, 12)
	for i := range urls {
		urls[i] = "/f"
	}

	if _, err := w.Warm(context.Background(), urls); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
	}
}

func TestWarm_PerURLTimeout(t *testing.T) {
	fetcher := esi.FetcherFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	w := New(fetcher, Config{MaxConcurrency: 1, Timeout: 10 * time.Millisecond})
	results, err := w.Warm(context.Background(), []string{"/slow"})
	if err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if !errors.Is(results[0].Err, context.DeadlineExceeded) {
		t.Errorf("results[0].Err = %v, want deadline exceeded", results[0].Err)
	}
}

func TestWarm_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	fetcher := esi.FetcherFunc(func(context.Context, string) (string, error) {
		if calls.Add(1) == 1 {
			cancel()
		}
		return "ok", nil
	})

	w := New(fetcher, Config{MaxConcurrency: 1})
	results, err := w.Warm(ctx, []string{"/a", "/b", "/c", "/d"})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Warm() error = %v, want context.Canceled", err)
	}
	if len(results) != 4 {
		t.Fatalf("len(results) = %d, want 4", len(results))
	}
	if results[3].Err == nil {
		t.Error("unattempted fragments should carry the context error")
	}
}
