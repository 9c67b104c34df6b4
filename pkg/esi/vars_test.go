package esi

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestVariables(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/products/42?lang=de&page=2&page=3", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	r.Header.Set("User-Agent", "Mozilla/5.0")
	r.Header.Set("Referer", "http://example.com/")
	r.Header.Set("Cookie", "session=abc; theme=dark; session=second")
	r.Header.Set("Accept-Language", "en-GB,de;q=0.8,*;q=0.1")

	vars := RequestVariables(r)

	assert.Equal(t, "example.com", vars["HTTP_HOST"])
	assert.Equal(t, "http://example.com/", vars["HTTP_REFERER"])
	assert.Equal(t, "Mozilla/5.0", vars["HTTP_USER_AGENT"])
	assert.Equal(t, "GET", vars["REQUEST_METHOD"])
	assert.Equal(t, "10.0.0.7", vars["REMOTE_ADDR"])
	assert.Equal(t, "/products/42", vars["REQUEST_PATH"])

	query, ok := vars["QUERY_STRING"].(Dict)
	require.True(t, ok)
	assert.Equal(t, "lang=de&page=2&page=3", query.Raw)
	assert.Equal(t, map[string]string{"lang": "de", "page": "2"}, query.Values)

	cookies, ok := vars["HTTP_COOKIE"].(Dict)
	require.True(t, ok)
	assert.Equal(t, "abc", cookies.Values["session"])
	assert.Equal(t, "dark", cookies.Values["theme"])

	langs, ok := vars["HTTP_ACCEPT_LANGUAGE"].(List)
	require.True(t, ok)
	assert.Equal(t, []string{"en-GB", "en", "de"}, langs.Items)
}

func TestRequestVariables_Substitution(t *testing.T) {
	r := httptest.NewRequest("GET", "/?id=7", nil)
	r.Header.Set("Cookie", "user=ann")
	r.Header.Set("Accept-Language", "fr")

	scope := NewScope(RequestVariables(r))

	assert.Equal(t, "7", Substitute("$(QUERY_STRING{id})", scope))
	assert.Equal(t, "id=7", Substitute("$(QUERY_STRING)", scope))
	assert.Equal(t, "ann", Substitute("$(HTTP_COOKIE{user})", scope))
	assert.Equal(t, "true", Substitute("$(HTTP_ACCEPT_LANGUAGE{FR})", scope))
	assert.Equal(t, "false", Substitute("$(HTTP_ACCEPT_LANGUAGE{de})", scope))
	assert.Equal(t, "", Substitute("$(HTTP_COOKIE{missing})", scope))
}

func TestParseLanguages(t *testing.T) {
	tests := []struct {
		header string
		want   []string
	}{
		{"", nil},
		{"*", nil},
		{"de", []string{"de"}},
		{" en-US ; q=0.9 , fr", []string{"en-US", "en", "fr"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLanguages(tt.header), tt.header)
	}
}
