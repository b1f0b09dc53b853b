package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adda-Baaj/khobor-scrapers/pkg/providers"
)

func TestRunOnceWritesRecords(t *testing.T) {
	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("/rss", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>T</title>
<item><title>Hello</title><link>%s/story/1</link><pubDate>Tue, 02 Jan 2024 10:00:00 +0000</pubDate></item>
</channel></rss>`, base)
	})
	mux.HandleFunc("/story/1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>t</title></head><body><h1>Hello world</h1><div class="body"><p>Text.</p></div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	base = srv.URL

	dir := t.TempDir()
	providersFile := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(providersFile, []byte(`
providers:
  - id: local
    name: Local News
    discovery:
      strategy: rss
      feeds: ["${TEST_SITE}/rss"]
    profile:
      title: [h1]
      body: [.body p]
    request_delay_ms: 0
    retry_count: 0
`), 0o600))
	t.Setenv("TEST_SITE", srv.URL)

	out := filepath.Join(dir, "out", "records.jsonl")
	publishersFile := filepath.Join(dir, "publishers.json")
	require.NoError(t, os.WriteFile(publishersFile, []byte(`{"publishers":[{"id":"file","type":"file","file":{"path":"`+out+`"}}]}`), 0o600))

	var report bytes.Buffer
	err := run([]string{
		"--env-file", "",
		"--providers", providersFile,
		"--publishers", publishersFile,
		"--state", filepath.Join(dir, "state.db"),
		"--obey-robots=false",
		"--log-level", "error",
	}, &report)
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"title":"Hello world"`)
	assert.Contains(t, lines[0], `"spider_name":"local"`)
	assert.Contains(t, report.String(), "1 emitted")
}

func TestRunRejectsUnknownProvider(t *testing.T) {
	err := run([]string{"--env-file", "", "--only", "nope", "--state", ""}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown provider")
}

func TestWithLookback(t *testing.T) {
	provs := []providers.Provider{
		{ID: "a", Discovery: providers.Discovery{Archive: &providers.ArchiveConfig{Template: "x/{yyyy}", LookbackDays: 2}}},
		{ID: "b"},
	}
	got := withLookback(provs, 5)
	assert.Equal(t, 5, got[0].Discovery.Archive.LookbackDays)
	assert.Equal(t, 2, provs[0].Discovery.Archive.LookbackDays)
	assert.Nil(t, got[1].Discovery.Archive)
	assert.Equal(t, provs, withLookback(provs, 0))
}
