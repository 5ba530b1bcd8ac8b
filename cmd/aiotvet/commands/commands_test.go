package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// setupEnv points the CLI at a throwaway sqlite database and the offline
// mock provider.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("AIOTVET_CONFIG", "")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("DATABASE_URL", filepath.Join(dir, "aiotvet.db"))
	t.Setenv("MODEL_PROVIDER", "mock")
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("VECTOR_INDEX", "memory")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("aiotvet %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestVersion(t *testing.T) {
	setupEnv(t)
	if out := mustRun(t, "version"); !strings.HasPrefix(out, "aiotvet dev") {
		t.Errorf("version output = %q", out)
	}
}

func TestOperatorAddAndList(t *testing.T) {
	setupEnv(t)

	out := mustRun(t, "operator", "add", "anna@example.com", "--role", "lead")
	if !strings.Contains(out, "anna@example.com (lead)") {
		t.Errorf("add output = %q", out)
	}
	if _, err := run(t, "operator", "add", "anna@example.com"); err == nil {
		t.Error("duplicate operator was accepted")
	}
	if _, err := run(t, "operator", "add", "not-an-email"); err == nil {
		t.Error("invalid email was accepted")
	}
	if _, err := run(t, "operator", "add", "bob@example.com", "--role", "root"); err == nil {
		t.Error("unknown role was accepted")
	}

	out = mustRun(t, "operator", "list")
	if !strings.Contains(out, "anna@example.com") || strings.Contains(out, "bob@example.com") {
		t.Errorf("list output = %q", out)
	}
}

func TestKnowledgeBaseLifecycle(t *testing.T) {
	dir := setupEnv(t)
	doc := filepath.Join(dir, "shipping.md")
	if err := os.WriteFile(doc, []byte("Orders ship within two business days. Shipping to Almaty takes a week."), 0o600); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "ingest", "--file", doc, "--tags", "shipping")
	if !strings.Contains(out, "#1") || !strings.Contains(out, "shipping.md") {
		t.Errorf("ingest output = %q", out)
	}

	if out = mustRun(t, "kb", "list"); !strings.Contains(out, "shipping.md") {
		t.Errorf("kb list output = %q", out)
	}

	// The memory index is rebuilt from stored embeddings on every run.
	if out = mustRun(t, "kb", "search", "shipping", "days"); !strings.Contains(out, "doc #1") {
		t.Errorf("kb search output = %q", out)
	}

	out = mustRun(t, "ask", "how", "long", "is", "shipping")
	for _, want := range []string{"Echo:how long is shipping", "provider: mock", "[chunk "} {
		if !strings.Contains(out, want) {
			t.Errorf("ask output missing %q:\n%s", want, out)
		}
	}

	if out = mustRun(t, "kb", "reindex", "1"); !strings.Contains(out, "document #1") {
		t.Errorf("kb reindex output = %q", out)
	}
	if out = mustRun(t, "kb", "reindex"); !strings.Contains(out, "reindexed 1 documents") {
		t.Errorf("kb reindex all output = %q", out)
	}

	mustRun(t, "kb", "delete", "1")
	if out = mustRun(t, "kb", "search", "shipping"); !strings.Contains(out, "no matching chunks") {
		t.Errorf("search after delete = %q", out)
	}
	if _, err := run(t, "kb", "delete", "1"); err == nil {
		t.Error("deleting a missing document succeeded")
	}
}

func TestIngestRequiresSource(t *testing.T) {
	setupEnv(t)
	if _, err := run(t, "ingest"); err == nil || !strings.Contains(err.Error(), "--file or --url") {
		t.Errorf("err = %v", err)
	}
}

func TestOrigins(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"https://a.example.com", []string{"https://a.example.com"}},
		{" https://a.example.com , ,https://b.example.com ", []string{"https://a.example.com", "https://b.example.com"}},
	}
	for _, tc := range tests {
		if got := origins(tc.in); !slices.Equal(got, tc.want) {
			t.Errorf("origins(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range tests {
		got, err := parseID(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("parseID(%q) = %d, %v", tc.in, got, err)
		}
	}
}

func TestSnippet(t *testing.T) {
	t.Parallel()
	if got := snippet("a  b\n c", 10); got != "a b c" {
		t.Errorf("snippet = %q", got)
	}
	if got := snippet("привет мир", 6); got != "привет…" {
		t.Errorf("snippet = %q", got)
	}
}
