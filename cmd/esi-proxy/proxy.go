package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/esi-assembler/pkg/client"
	"github.com/Sternrassler/esi-assembler/pkg/esi"
	"github.com/Sternrassler/esi-assembler/pkg/metrics"
	"github.com/rs/zerolog"
)

// surrogateCapability is advertised to the origin on every page request.
const surrogateCapability = `esi="ESI/1.0"`

type varsKey struct{}

// proxyConfig configures the ESI processing reverse proxy.
type proxyConfig struct {
	Origin       *url.URL
	Processor    *esi.Processor
	ContentTypes []string
	Variables    map[string]string
	Logger       zerolog.Logger
}

// esiProxy forwards requests to the origin and runs marked responses
// through the ESI processor.
type esiProxy struct {
	reverse      *httputil.ReverseProxy
	processor    *esi.Processor
	contentTypes map[string]bool
	variables    map[string]string
	logger       zerolog.Logger
}

func newESIProxy(cfg proxyConfig) *esiProxy {
	p := &esiProxy{
		processor:    cfg.Processor,
		contentTypes: make(map[string]bool, len(cfg.ContentTypes)),
		variables:    cfg.Variables,
		logger:       cfg.Logger,
	}
	for _, ct := range cfg.ContentTypes {
		p.contentTypes[strings.ToLower(strings.TrimSpace(ct))] = true
	}

	p.reverse = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			vars := p.seed(pr.In)
			pr.SetURL(cfg.Origin)
			pr.SetXForwarded()
			pr.Out.Header.Set("Surrogate-Capability", surrogateCapability)
			// let the transport negotiate and decode compression
			pr.Out.Header.Del("Accept-Encoding")
			pr.Out = pr.Out.WithContext(context.WithValue(pr.Out.Context(), varsKey{}, vars))
		},
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.errorHandler,
	}
	return p
}

func (p *esiProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.reverse.ServeHTTP(w, r)
}

// seed builds the variables for a document requested by r. Request
// variables take precedence over configured ones.
func (p *esiProxy) seed(r *http.Request) map[string]any {
	vars := make(map[string]any, len(p.variables)+12)
	for k, v := range p.variables {
		vars[k] = v
	}
	for k, v := range esi.RequestVariables(r) {
		vars[k] = v
	}
	return vars
}

// shouldProcess reports whether resp carries an ESI document.
func (p *esiProxy) shouldProcess(resp *http.Response) bool {
	if resp.Request != nil && resp.Request.Method == http.MethodHead {
		return false
	}
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified {
		return false
	}
	if resp.Header.Get("Content-Encoding") != "" {
		return false
	}

	if hasESIControl(resp.Header.Values("Surrogate-Control")) {
		return true
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return p.contentTypes[mediaType]
}

// hasESIControl reports whether a Surrogate-Control header delegates ESI
// processing, e.g. `max-age=60, content="ESI/1.0"`.
func hasESIControl(values []string) bool {
	for _, v := range values {
		for _, directive := range strings.Split(v, ",") {
			name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(name), "content") {
				continue
			}
			for _, c := range strings.Fields(strings.Trim(strings.TrimSpace(value), `"`)) {
				if strings.EqualFold(c, "ESI/1.0") {
					return true
				}
			}
		}
	}
	return false
}

func (p *esiProxy) modifyResponse(resp *http.Response) error {
	if !p.shouldProcess(resp) {
		return nil
	}

	ctx := resp.Request.Context()
	vars, _ := ctx.Value(varsKey{}).(map[string]any)
	ctx = client.WithForwardedHeaders(ctx, resp.Request.Header)

	start := time.Now()
	out, err := p.processor.ProcessReader(ctx, resp.Body, vars)
	resp.Body.Close()
	metrics.ObserveDocument(start, err)
	if err != nil {
		return fmt.Errorf("process %s: %w", resp.Request.URL.Path, err)
	}

	p.logger.Debug().
		Str("url", resp.Request.URL.String()).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Processed ESI document")

	resp.Body = io.NopCloser(bytes.NewBufferString(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Del("Content-Length")
	resp.Header.Del("Surrogate-Control")
	// the assembled document no longer matches the origin's validators
	resp.Header.Del("ETag")
	resp.Header.Del("Last-Modified")
	return nil
}

func (p *esiProxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		p.logger.Debug().Err(err).Str("url", r.URL.String()).Msg("Viewer went away")
		w.WriteHeader(499)
		return
	}

	var capErr *esi.CapabilityError
	event := p.logger.Error().Err(err).Str("url", r.URL.String())
	if errors.As(err, &capErr) {
		event = event.Str("fragment", capErr.URL)
	}
	event.Msg("Proxy request failed")

	http.Error(w, "bad gateway", http.StatusBadGateway)
}
