package ingestion

import (
	"strings"
	"testing"
)

func TestInferURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		url        string
		title      string
		sourceType string
	}{
		{
			name:       "help center article",
			url:        "https://help.example.com/billing/refund-policy",
			title:      "refund policy",
			sourceType: "html",
		},
		{
			name:       "markdown file",
			url:        "https://raw.example.com/docs/shipping_faq.md",
			title:      "shipping faq",
			sourceType: "md",
		},
		{
			name:       "html extension is dropped",
			url:        "https://example.com/about/contacts.html",
			title:      "contacts",
			sourceType: "html",
		},
		{
			name:       "host only",
			url:        "https://example.com/",
			title:      "example.com",
			sourceType: "html",
		},
		{
			name:       "trailing slash",
			url:        "https://example.com/delivery/terms/",
			title:      "terms",
			sourceType: "html",
		},
		{
			name:       "not a url",
			url:        "::nope",
			title:      "::nope",
			sourceType: "html",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := InferURL(tc.url)
			if got.Title != tc.title {
				t.Errorf("Title = %q, want %q", got.Title, tc.title)
			}
			if got.SourceType != tc.sourceType {
				t.Errorf("SourceType = %q, want %q", got.SourceType, tc.sourceType)
			}
		})
	}
}

func TestInferFile(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path, title, sourceType string
	}{
		{"/srv/kb/Returns.MD", "Returns.MD", "md"},
		{"notes.txt", "notes.txt", "txt"},
		{"README", "README", "text"},
	}
	for _, tc := range tests {
		got := InferFile(tc.path)
		if got.Title != tc.title || got.SourceType != tc.sourceType {
			t.Errorf("InferFile(%q) = %+v", tc.path, got)
		}
	}
}

func TestStripHTML(t *testing.T) {
	t.Parallel()
	in := `<html><head><style>p{color:red}</style><script>alert(1)</script></head>
<body><h1>Refunds</h1><p>Within&nbsp;14 days &amp; with receipt.</p></body></html>`
	got := stripHTML(in)
	for _, banned := range []string{"<", "alert", "color:red"} {
		if strings.Contains(got, banned) {
			t.Errorf("stripped text still contains %q: %q", banned, got)
		}
	}
	if !strings.Contains(got, "Within 14 days & with receipt.") {
		t.Errorf("visible text lost: %q", got)
	}
}
