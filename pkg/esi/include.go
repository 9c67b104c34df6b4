package esi

import (
	"context"
	"errors"
	"fmt"
)

// fragment is a pending esi:include.
type fragment struct {
	src    string
	alt    string
	hasAlt bool
	// onErrorContinue drops the tag instead of passing it through on failure.
	onErrorContinue bool
	raw             string
	scope           *Scope

	out string
}

func (f *fragment) fail() {
	if f.onErrorContinue {
		f.out = ""
		return
	}
	f.out = f.raw
}

// resolve fetches f from src, then alt, and processes the body in a child
// of the scope the include appeared in. Only capability failures and
// context errors from nested processing are returned.
func (p *Processor) resolve(ctx context.Context, f *fragment, depth int) error {
	if depth >= p.maxDepth {
		p.report(ctx, Event{Category: CategoryError, URL: f.src, Err: ErrMaxDepth})
		f.fail()
		return nil
	}

	body, err := p.fetch(ctx, f.src)
	if err != nil && f.hasAlt && !errors.Is(err, ErrCapability) {
		p.report(ctx, Event{Category: CategoryFallback, URL: f.alt})
		body, err = p.fetch(ctx, f.alt)
	}
	if err != nil {
		if errors.Is(err, ErrCapability) {
			return err
		}
		f.fail()
		return nil
	}

	out, err := p.run(ctx, body, f.scope, depth+1)
	if err != nil {
		return err
	}
	f.out = out
	return nil
}

// fetch calls the Fetcher, turning a panic into a CapabilityError.
func (p *Processor) fetch(ctx context.Context, url string) (body string, err error) {
	if p.fetcher == nil {
		return "", &CapabilityError{URL: url, Err: ErrNoFetcher}
	}

	p.report(ctx, Event{Category: CategoryRequest, URL: url})
	defer func() {
		if r := recover(); r != nil {
			err = &CapabilityError{URL: url, Err: fmt.Errorf("fetcher panicked: %v", r)}
		}
		if err != nil {
			p.report(ctx, Event{Category: CategoryError, URL: url, Status: statusOf(err), Err: err})
		}
	}()

	return p.fetcher.Fetch(ctx, url)
}

func (p *Processor) report(ctx context.Context, ev Event) {
	if p.reporter == nil {
		return
	}
	defer func() { _ = recover() }()
	p.reporter.Report(ctx, ev)
}
