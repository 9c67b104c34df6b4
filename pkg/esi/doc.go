// Package esi interprets Edge Side Includes markup.
//
// A document is split into literal text and esi:* tags. Literal text has its
// variables substituted, tags are dispatched to their handlers, and every
// esi:include is resolved through a pluggable Fetcher. All fragment fetches of
// one pass run concurrently and the output keeps the original part order.
//
// # Basic Usage
//
//	p := esi.New(esi.FetcherFunc(func(ctx context.Context, url string) (string, error) {
//		return fetchSomehow(ctx, url)
//	}))
//
//	out, err := p.Process(ctx, `<esi:include src="/header" alt="/header-fallback"/>`, nil)
//	if err != nil {
//		// Only capability failures (nil or panicking fetcher) and ctx errors end up here.
//	}
//
// # Supported Tags
//
//   - esi:include src="..." [alt="..."] [onerror="continue"]
//   - esi:vars (block, or self-closed with name="...")
//   - esi:choose / esi:when test="..." [matchname="..."] / esi:otherwise
//   - esi:assign name="..." value="..."
//   - esi:comment, esi:remove
//   - <!--esi ... --> (treated as an esi:vars block)
//
// Any other esi:* tag is passed through unchanged.
//
// # Variables
//
// $(NAME) and $(NAME{key}) are replaced from a Scope. Scopes form a chain:
// reads walk up to the enclosing scopes, writes (esi:assign, esi:when
// matches) only touch the current one. RequestVariables builds the usual
// ESI request variables (HTTP_COOKIE, QUERY_STRING, ...) from an
// *http.Request.
//
// # Errors
//
// Content problems never fail a document: a malformed tag or a fragment that
// cannot be fetched from src or alt is emitted as its original tag text.
// Process only returns an error for capability failures (see ErrCapability)
// or when the caller's context is done.
//
// # Tag Structure
//
// A tag head ends at the first '>' outside a quoted attribute value, so tests
// such as test="$(a) >= 1" work. A closing tag is balanced against the tags
// of the same name inside its body:
//
//	<esi:vars>a<esi:vars>b</esi:vars>c</esi:vars>
//
// is one vars block with the body "a<esi:vars>b</esi:vars>c". An open tag
// without a matching close tag is literal text.
package esi
