package esi

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxDepth is the default limit for nested includes.
const DefaultMaxDepth = 8

// Fetcher retrieves fragment bodies. Fetch must fail for client/server error
// statuses and transport failures.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (string, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// Processor interprets ESI documents. It holds no per-document state and is
// safe for concurrent use.
type Processor struct {
	fetcher  Fetcher
	reporter Reporter
	maxDepth int
}

// Option configures a Processor.
type Option func(*Processor)

// WithReporter sets the diagnostic reporter.
func WithReporter(r Reporter) Option {
	return func(p *Processor) { p.reporter = r }
}

// WithMaxDepth limits how deep includes may nest. Includes beyond the limit
// degrade like failed fetches.
func WithMaxDepth(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxDepth = n
		}
	}
}

// New creates a Processor fetching fragments with fetcher.
func New(fetcher Fetcher, opts ...Option) *Processor {
	p := &Processor{
		fetcher:  fetcher,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process interprets document with vars as the outermost scope and returns
// the assembled text once every include has settled.
//
// Failed includes degrade to their original tag text; the returned error is
// non-nil only for capability failures (see ErrCapability) or when ctx is
// done.
func (p *Processor) Process(ctx context.Context, document string, vars map[string]any) (string, error) {
	return p.run(ctx, document, NewScope(vars), 0)
}

// ProcessBytes is Process for a byte slice; nil is processed as empty text.
func (p *Processor) ProcessBytes(ctx context.Context, document []byte, vars map[string]any) (string, error) {
	return p.Process(ctx, string(document), vars)
}

// ProcessReader reads the whole document from r and processes it. A nil
// reader is processed as empty text.
func (p *Processor) ProcessReader(ctx context.Context, r io.Reader, vars map[string]any) (string, error) {
	if r == nil {
		return p.Process(ctx, "", vars)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return p.Process(ctx, string(data), vars)
}

// run is one pipeline invocation: a synchronous evaluation of doc and all
// nested bodies, then the concurrent resolution of the includes it found,
// then assembly in document order.
func (p *Processor) run(ctx context.Context, doc string, scope *Scope, depth int) (string, error) {
	ps := &pass{p: p, depth: depth}
	out := ps.evaluate(doc, scope)

	if err := ps.settle(ctx); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, pc := range out {
		b.WriteString(pc.String())
	}
	return b.String(), nil
}

// pass holds the includes discovered by one synchronous evaluation.
// Fetches only start once evaluation is complete, so every scope the pass
// wrote to is no longer written when fragments read through it.
type pass struct {
	p       *Processor
	depth   int
	pending []*fragment
}

// piece is one slot of output: literal text or a fragment filled in by settle.
type piece struct {
	text string
	frag *fragment
}

func (pc piece) String() string {
	if pc.frag != nil {
		return pc.frag.out
	}
	return pc.text
}

// evaluate processes doc in a new child scope of parent.
func (ps *pass) evaluate(doc string, parent *Scope) []piece {
	scope := parent.Fork()

	var out []piece
	for _, part := range Scan(rewriteComments(doc)) {
		if part.Tag == nil {
			out = append(out, piece{text: Substitute(part.Text, scope)})
			continue
		}
		out = append(out, ps.dispatch(part.Tag, scope)...)
	}
	return out
}

// settle resolves all pending fragments concurrently.
func (ps *pass) settle(ctx context.Context) error {
	if len(ps.pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range ps.pending {
		f := f
		g.Go(func() error {
			return ps.p.resolve(gctx, f, ps.depth)
		})
	}
	return g.Wait()
}
