package ingestion

import (
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// SourceInfo is the title and source type inferred from where a document
// came from. Explicit values from the caller take precedence.
type SourceInfo struct {
	// Title is a human-readable name for the document.
	Title string
	// SourceType is a short kind label: md, txt, html, pdf, ...
	SourceType string
}

// Source types that are not file extensions.
const (
	SourceTypeText = "text"
	SourceTypeHTML = "html"
)

// InferURL derives a title and source type from a URL. The last path
// segment becomes the title (extension dropped, dashes and underscores
// turned into spaces); a URL without a path is titled by its host. Pages
// without an extension are assumed to be HTML.
//
//	https://help.example.com/billing/refund-policy     -> "refund policy", html
//	https://example.com/docs/faq.md                    -> "faq", md
//	https://example.com/                               -> "example.com", html
func InferURL(rawURL string) SourceInfo {
	info := SourceInfo{Title: rawURL, SourceType: SourceTypeHTML}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return info
	}
	info.Title = parsed.Hostname()

	segments := trimSegments(parsed.Path)
	if len(segments) == 0 {
		return info
	}
	last := segments[len(segments)-1]
	if ext := strings.ToLower(strings.TrimPrefix(path.Ext(last), ".")); ext != "" && ext != "html" && ext != "htm" {
		info.SourceType = ext
	}
	if t := humanize(strings.TrimSuffix(last, path.Ext(last))); t != "" {
		info.Title = t
	}
	return info
}

// InferFile derives a title and source type from a local file path: the
// base name is the title and the extension is the type.
func InferFile(p string) SourceInfo {
	base := filepath.Base(p)
	info := SourceInfo{Title: base, SourceType: SourceTypeText}
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), ".")); ext != "" {
		info.SourceType = ext
	}
	return info
}

func humanize(s string) string {
	s = strings.NewReplacer("-", " ", "_", " ", "+", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// trimSegments splits a URL path into non-empty segments.
func trimSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

var (
	scriptOrStyle = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTag       = regexp.MustCompile(`(?s)<[^>]+>`)
	htmlEntities  = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'")
)

// stripHTML reduces an HTML page to its visible text. It is a best-effort
// cleanup for chunking, not an HTML parser.
func stripHTML(s string) string {
	s = scriptOrStyle.ReplaceAllString(s, " ")
	s = htmlTag.ReplaceAllString(s, " ")
	return htmlEntities.Replace(s)
}
