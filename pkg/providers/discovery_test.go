package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adda-Baaj/khobor-scrapers/pkg/httpclient"
)

func testClient() HTTPClient {
	return httpclient.NewRestyClient(5*time.Second, httpclient.WithRetryCount(0))
}

func noDelay() *int {
	v := 0
	return &v
}

type memMarkers struct {
	mu sync.Mutex
	m  map[string]Marker
}

func (s *memMarkers) Marker(key string) (Marker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.m[key]
	return m, ok
}

func (s *memMarkers) SaveMarker(key string, m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]Marker)
	}
	s.m[key] = m
	return nil
}

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Example</title>
<item>
  <title>First story</title>
  <link>https://news.example.com/2024/01/02/first</link>
  <guid>A123</guid>
  <description>Short summary</description>
  <author>desk@example.com (News Desk)</author>
  <category>Politics</category>
  <pubDate>Tue, 02 Jan 2024 10:00:00 +0545</pubDate>
</item>
<item>
  <title>No link here</title>
</item>
<item>
  <title>Relative</title>
  <link>/2024/01/03/second</link>
</item>
</channel></rss>`

func TestExpandGeneratesOneURLPerDayInclusive(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	urls := Expand("https://news.example.com/{yyyy}/{mm}/{dd}/", start, end)
	assert.Equal(t, []string{
		"https://news.example.com/2024/01/01/",
		"https://news.example.com/2024/01/02/",
		"https://news.example.com/2024/01/03/",
	}, urls)
}

func TestExpandEdgeCases(t *testing.T) {
	day := time.Date(2024, 2, 28, 18, 0, 0, 0, time.UTC)

	assert.Nil(t, Expand("x/{yyyy}/{mm}/{dd}", day, day.AddDate(0, 0, -1)))
	assert.Equal(t, []string{"x/2024/02/28"}, Expand("x/{yyyy}/{mm}/{dd}", day, day))
	assert.Equal(t, []string{"x/2024/02", "x/2024/03"}, Expand("x/{yyyy}/{mm}", day, day.AddDate(0, 0, 3)))
	assert.Len(t, Expand("x/{yyyy}/{mm}/{dd}", day, day.AddDate(0, 0, 2)), 3)
}

func TestArchiveDiscoverArticleTemplate(t *testing.T) {
	p := Provider{ID: "arch", Discovery: Discovery{Strategy: StrategyArchive, Archive: &ArchiveConfig{
		Template: "https://news.example.com/{yyyy}/{mm}/{dd}/daily", Kind: ArchiveKindArticle,
	}}}
	d := NewArchiveDiscoverer(testClient(), nil)

	got, err := d.Discover(context.Background(), Request{Provider: p, Window: Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "https://news.example.com/2024/01/02/daily", got[1].URL)
	assert.Equal(t, StrategyArchive, got[1].Via)
}

func TestArchiveDiscoverListingPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2024/01/01/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><article><h2><a href="/a1">A1</a></h2></article><article><h2><a href="/shared">S</a></h2></article></body></html>`)
	})
	mux.HandleFunc("/2024/01/02/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/2024/01/03/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><article><h2><a href="/shared">S</a></h2></article></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := Provider{ID: "listing", RequestDelayMS: noDelay(), Discovery: Discovery{Strategy: StrategyArchive, Archive: &ArchiveConfig{
		Template: srv.URL + "/{yyyy}/{mm}/{dd}/",
		Kind:     ArchiveKindListing,
		Links:    []Locator{{CSS: "article h2 a", Attr: "href"}},
	}}}

	got, err := NewArchiveDiscoverer(testClient(), nil).Discover(context.Background(), Request{Provider: p, Window: Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, srv.URL+"/a1", got[0].URL)
	assert.Equal(t, srv.URL+"/shared", got[1].URL)
}

func TestArchiveDiscoverAllListingsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	p := Provider{ID: "listing", RequestDelayMS: noDelay(), Discovery: Discovery{Archive: &ArchiveConfig{
		Template: srv.URL + "/{yyyy}/{mm}/{dd}/", Kind: ArchiveKindListing, Links: []Locator{{CSS: "a", Attr: "href"}},
	}}}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := NewArchiveDiscoverer(testClient(), nil).Discover(context.Background(), Request{Provider: p, Window: Window{Start: day, End: day}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoDiscovery)
}

func TestRSSDiscoverParsesEntriesAndSkipsMissingLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, sampleRSS)
	}))
	defer srv.Close()

	p := Provider{ID: "rss", Discovery: Discovery{Strategy: StrategyRSS, Feeds: []string{srv.URL + "/rss"}}}
	got, err := NewRSSDiscoverer(testClient(), nil, nil).Discover(context.Background(), Request{Provider: p})
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "https://news.example.com/2024/01/02/first", first.URL)
	assert.Equal(t, "A123", first.GUID)
	assert.Equal(t, "First story", first.Title)
	assert.Equal(t, "Short summary", first.Summary)
	assert.Equal(t, "News Desk", first.Author)
	assert.Equal(t, []string{"Politics"}, first.Tags)
	require.NotNil(t, first.PublishedAt)
	assert.Equal(t, time.Date(2024, 1, 2, 4, 15, 0, 0, time.UTC), first.PublishedAt.UTC())

	assert.Equal(t, srv.URL+"/2024/01/03/second", got[1].URL)
	assert.Nil(t, got[1].PublishedAt)
}

func TestRSSDiscoverConditionalRefetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Tue, 02 Jan 2024 10:00:00 GMT")
		fmt.Fprint(w, sampleRSS)
	}))
	defer srv.Close()

	markers := &memMarkers{}
	feedURL := srv.URL + "/rss"
	p := Provider{ID: "rss", Discovery: Discovery{Strategy: StrategyRSS, Feeds: []string{feedURL}}}
	d := NewRSSDiscoverer(testClient(), markers, nil)

	first, err := d.Discover(context.Background(), Request{Provider: p})
	require.NoError(t, err)
	assert.Len(t, first, 2)

	m, ok := markers.Marker(feedURL)
	require.True(t, ok)
	assert.Equal(t, `"v1"`, m.ETag)
	assert.Equal(t, "Tue, 02 Jan 2024 10:00:00 GMT", m.LastModified)

	second, err := d.Discover(context.Background(), Request{Provider: p})
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.EqualValues(t, 2, hits.Load())
}

func TestRSSDiscoverDefersMarkersToCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		fmt.Fprint(w, sampleRSS)
	}))
	defer srv.Close()

	markers := &memMarkers{}
	feedURL := srv.URL + "/rss"
	p := Provider{ID: "rss", Discovery: Discovery{Strategy: StrategyRSS, Feeds: []string{feedURL}}}
	d := NewRSSDiscoverer(testClient(), markers, nil)

	got := map[string]Marker{}
	_, err := d.Discover(context.Background(), Request{
		Provider: p,
		OnMarker: func(key string, m Marker) { got[key] = m },
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]Marker{feedURL: {ETag: `"v2"`}}, got)

	_, ok := markers.Marker(feedURL)
	assert.False(t, ok)
}

func TestRSSDiscoverFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken":
			fmt.Fprint(w, "this is not a feed")
		case "/ok":
			fmt.Fprint(w, sampleRSS)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := NewRSSDiscoverer(testClient(), nil, nil)

	allBad := Provider{ID: "bad", Discovery: Discovery{Feeds: []string{srv.URL + "/missing", srv.URL + "/broken"}}}
	_, err := d.Discover(context.Background(), Request{Provider: allBad})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoDiscovery)

	partial := Provider{ID: "partial", Discovery: Discovery{Feeds: []string{srv.URL + "/missing", srv.URL + "/ok"}}}
	got, err := d.Discover(context.Background(), Request{Provider: partial})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSitemapDiscoverFollowsIndex(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprintf(w, `<?xml version="1.0"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<sitemap><loc>%s/news.xml</loc></sitemap><sitemap><loc>%s/sitemap.xml</loc></sitemap></sitemapindex>`, srv.URL, srv.URL)
		case "/news.xml":
			fmt.Fprint(w, `<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9" xmlns:news="http://www.google.com/schemas/sitemap-news/0.9">
<url><loc>https://news.example.com/a</loc><news:news><news:publication_date>2024-01-02T10:00:00+05:45</news:publication_date><news:title>A</news:title><news:keywords>x, y</news:keywords></news:news></url>
<url><loc>https://news.example.com/b</loc><lastmod>2024-01-01</lastmod></url>
<url><loc>https://news.example.com/a</loc></url>
</urlset>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := Provider{ID: "sm", RequestDelayMS: noDelay(), Discovery: Discovery{Strategy: StrategySitemap, Sitemaps: []string{srv.URL + "/sitemap.xml"}}}
	got, err := NewSitemapDiscoverer(testClient(), nil).Discover(context.Background(), Request{Provider: p})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "https://news.example.com/a", got[0].URL)
	assert.Equal(t, "A", got[0].Title)
	assert.Equal(t, []string{"x", "y"}, got[0].Tags)
	require.NotNil(t, got[0].PublishedAt)
	assert.Equal(t, "2024-01-02T10:00:00+05:45", got[0].PublishedAt.Format(time.RFC3339))

	require.NotNil(t, got[1].PublishedAt)
	assert.Equal(t, "2024-01-01", got[1].PublishedAt.Format("2006-01-02"))
}

func TestDiscovererRegistry(t *testing.T) {
	reg := DefaultDiscovererRegistry(testClient(), nil, nil)

	for _, s := range []string{StrategyRSS, StrategyArchive, "SITEMAP"} {
		d, err := reg.DiscovererFor(s)
		require.NoError(t, err, s)
		assert.NotNil(t, d)
	}

	_, err := reg.DiscovererFor("")
	assert.Error(t, err)
	_, err = reg.DiscovererFor("gopher")
	assert.ErrorContains(t, err, "no discoverer registered")
}
