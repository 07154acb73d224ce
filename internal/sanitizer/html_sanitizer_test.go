package sanitizer

import (
	"regexp"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// Hostile senders control the HTML bodies this service returns to clients,
// so the sanitizer has to strip active content no matter how it is framed.

func TestSanitizeRemovesScriptTags(t *testing.T) {
	s := New()

	rapid.Check(t, func(t *rapid.T) {
		scriptContent := rapid.StringMatching(`[a-zA-Z0-9\s\(\)\{\};='"]+`).Draw(t, "scriptContent")
		before := rapid.StringMatching(`[a-zA-Z0-9\s]+`).Draw(t, "before")
		after := rapid.StringMatching(`[a-zA-Z0-9\s]+`).Draw(t, "after")

		html := before + "<script>" + scriptContent + "</script>" + after
		result := s.Sanitize(html)

		if regexp.MustCompile(`(?i)<script`).MatchString(result) {
			t.Fatalf("script tag survived sanitization: %s", result)
		}
		if len(scriptContent) > 5 && strings.Contains(result, scriptContent) {
			t.Fatalf("script body %q survived sanitization: %s", scriptContent, result)
		}
	})
}

func TestSanitizeRemovesEventHandlers(t *testing.T) {
	s := New()

	handlers := []string{
		"onclick", "onload", "onerror", "onmouseover", "onfocus",
		"onblur", "onsubmit", "onchange", "onkeydown",
	}

	rapid.Check(t, func(t *rapid.T) {
		handler := rapid.SampledFrom(handlers).Draw(t, "handler")
		payload := rapid.StringMatching(`[a-zA-Z0-9\(\)]+`).Draw(t, "payload")

		html := `<div ` + handler + `="` + payload + `">click me</div>`
		result := s.Sanitize(html)

		if strings.Contains(strings.ToLower(result), handler+"=") {
			t.Fatalf("event handler %s survived sanitization: %s", handler, result)
		}
	})
}

func TestSanitizeKeepsMailFormatting(t *testing.T) {
	s := New()

	html := `<table border="1"><tr><td align="center"><strong>Invoice</strong></td></tr></table>` +
		`<p style="color:red">Due <em>soon</em></p>`
	result := s.Sanitize(html)

	for _, keep := range []string{"<table", "<td", "<strong>Invoice</strong>", "<em>soon</em>"} {
		if !strings.Contains(result, keep) {
			t.Errorf("formatting %q was stripped: %s", keep, result)
		}
	}
}

func TestSanitizeLinks(t *testing.T) {
	s := New()

	result := s.Sanitize(`<a href="https://example.com/invoice">open</a>`)
	if !strings.Contains(result, `href="https://example.com/invoice"`) {
		t.Errorf("https link was stripped: %s", result)
	}
	if !strings.Contains(result, "nofollow") {
		t.Errorf("links must carry rel=nofollow: %s", result)
	}

	result = s.Sanitize(`<a href="javascript:alert(1)">x</a>`)
	if strings.Contains(strings.ToLower(result), "javascript:") {
		t.Errorf("javascript URL survived: %s", result)
	}
}

func TestSanitizeDataURIs(t *testing.T) {
	s := New()

	inline := `<img src="data:image/png;base64,iVBORw0KGgo=">`
	if result := s.Sanitize(inline); !strings.Contains(result, "data:image/png;base64") {
		t.Errorf("inline base64 image was stripped: %s", result)
	}

	hostile := `<img src="data:text/html;base64,PHNjcmlwdD4=">`
	if result := s.Sanitize(hostile); strings.Contains(result, "data:text/html") {
		t.Errorf("non-image data URI survived: %s", result)
	}
}

func TestSanitizeEmptyInput(t *testing.T) {
	s := New()
	if got := s.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q", got)
	}
}
