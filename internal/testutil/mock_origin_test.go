package testutil

import (
	"io"
	"net/http"
	"testing"
)

func TestMockOrigin(t *testing.T) {
	origin := NewMockOrigin()
	defer origin.Close()

	origin.SetFragment("/header", "<header/>")
	origin.SetHandler("/v", NewConditionalHandler(`"v1"`, "body"))

	resp, err := http.Get(origin.URL() + "/header")
	if err != nil {
		t.Fatalf("GET /header: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "<header/>" {
		t.Errorf("body = %q, want <header/>", body)
	}
	if resp.Header.Get("Cache-Control") != "max-age=300" {
		t.Errorf("Cache-Control = %q", resp.Header.Get("Cache-Control"))
	}

	req, _ := http.NewRequest("GET", origin.URL()+"/v", nil)
	req.Header.Set("If-None-Match", `"v1"`)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("status = %d, want 304", resp.StatusCode)
	}

	resp, err = http.Get(origin.URL() + "/unknown")
	if err != nil {
		t.Fatalf("GET /unknown: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	if origin.RequestCount() != 3 {
		t.Errorf("RequestCount() = %d, want 3", origin.RequestCount())
	}
	if origin.ConditionalCount() != 1 {
		t.Errorf("ConditionalCount() = %d, want 1", origin.ConditionalCount())
	}
	if origin.PathCount("/header") != 1 {
		t.Errorf("PathCount(/header) = %d, want 1", origin.PathCount("/header"))
	}

	origin.Reset()
	if origin.RequestCount() != 0 || origin.LastRequestHeader() != nil {
		t.Error("Reset() should clear tracking")
	}
}
