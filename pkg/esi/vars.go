package esi

import (
	"net"
	"net/http"
	"strings"
)

// RequestVariables returns the ESI request variables for r, ready to seed
// Process.
func RequestVariables(r *http.Request) map[string]any {
	vars := map[string]any{
		"HTTP_HOST":       r.Host,
		"HTTP_REFERER":    r.Referer(),
		"HTTP_USER_AGENT": r.UserAgent(),
		"REQUEST_METHOD":  r.Method,
		"REMOTE_ADDR":     remoteAddr(r.RemoteAddr),
	}

	if r.URL != nil {
		vars["REQUEST_PATH"] = r.URL.Path

		query := Dict{Raw: r.URL.RawQuery, Values: map[string]string{}}
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				query.Values[key] = values[0]
			}
		}
		vars["QUERY_STRING"] = query
	}

	cookies := Dict{Raw: r.Header.Get("Cookie"), Values: map[string]string{}}
	for _, c := range r.Cookies() {
		if _, seen := cookies.Values[c.Name]; !seen {
			cookies.Values[c.Name] = c.Value
		}
	}
	vars["HTTP_COOKIE"] = cookies

	raw := r.Header.Get("Accept-Language")
	vars["HTTP_ACCEPT_LANGUAGE"] = List{Raw: raw, Items: parseLanguages(raw)}

	return vars
}

// parseLanguages extracts language tags from an Accept-Language header,
// dropping quality parameters. "en-GB" also adds "en".
func parseLanguages(header string) []string {
	var langs []string
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(part)
		if i := strings.IndexByte(tag, ';'); i >= 0 {
			tag = strings.TrimSpace(tag[:i])
		}
		if tag == "" || tag == "*" {
			continue
		}
		langs = append(langs, tag)
		if i := strings.IndexByte(tag, '-'); i > 0 {
			langs = append(langs, tag[:i])
		}
	}
	return langs
}

func remoteAddr(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
