package dates

import (
	"testing"
	"time"

	"github.com/goodsign/monday"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kathmandu(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kathmandu")
	require.NoError(t, err)
	return loc
}

func newNormalizer(t *testing.T, opts Options) *Normalizer {
	t.Helper()
	n, err := New(opts)
	require.NoError(t, err)
	return n
}

func TestNormalizeStructuredWinsOverEverything(t *testing.T) {
	n := newNormalizer(t, Options{})
	res, err := n.Normalize(Input{
		Structured: []string{"2024-03-10T08:15:00+05:45"},
		Attributes: []string{"2024-03-09T00:00:00Z"},
		Text:       []string{"March 8, 2024"},
		URL:        "https://example.com/2024/03/07/story",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceStructured, res.Source)
	assert.Equal(t, "2024-03-10T08:15:00+05:45", res.ISO())
	assert.False(t, res.LowPrecision)
}

func TestNormalizeFallsThroughUnparseableTiers(t *testing.T) {
	n := newNormalizer(t, Options{})
	res, err := n.Normalize(Input{
		Structured: []string{"not a date"},
		Attributes: []string{"2024-03-09T06:00:00Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, SourceAttribute, res.Source)
	assert.Equal(t, time.Date(2024, 3, 9, 6, 0, 0, 0, time.UTC), res.Time.UTC())
}

func TestNormalizeTextUsesProviderLocation(t *testing.T) {
	loc := kathmandu(t)
	n := newNormalizer(t, Options{Location: loc})

	res, err := n.Normalize(Input{Text: []string{"Published at : July 3, 2025"}})
	require.NoError(t, err)
	assert.Equal(t, SourceText, res.Source)
	assert.Equal(t, "2025-07-03T00:00:00+05:45", res.ISO())
}

func TestNormalizeTextCustomLayout(t *testing.T) {
	n := newNormalizer(t, Options{Layouts: []string{"Jan 02 2006, 15:04"}})
	res, err := n.Normalize(Input{Text: []string{"Feb 14 2024, 09:30"}})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 14, 9, 30, 0, 0, time.UTC), res.Time)
}

func TestNormalizeDevanagariText(t *testing.T) {
	loc := kathmandu(t)
	n := newNormalizer(t, Options{Location: loc})

	cases := map[string]string{
		"जनवरी ५, २०२४":              "2024-01-05T00:00:00+05:45",
		"शुक्रबार, १२ डिसेम्बर २०२५": "2025-12-12T00:00:00+05:45",
		"२०२४ मार्च १८":              "2024-03-18T00:00:00+05:45",
	}
	for raw, want := range cases {
		res, err := n.Normalize(Input{Text: []string{raw}})
		require.NoError(t, err, raw)
		assert.Equal(t, want, res.ISO(), raw)
		assert.Equal(t, SourceText, res.Source)
	}
}

func TestNormalizeHonorsConfiguredLocale(t *testing.T) {
	n := newNormalizer(t, Options{Locale: "fr_FR"})
	res, err := n.Normalize(Input{Text: []string{"5 janvier 2024"}})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05T00:00:00Z", res.ISO())

	res, err = n.Normalize(Input{Text: []string{"January 5, 2024"}})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05T00:00:00Z", res.ISO())

	def := newNormalizer(t, Options{})
	assert.Equal(t, monday.Locale(monday.LocaleEnUS), def.locale)
}

func TestNormalizeConvertsBikramSambat(t *testing.T) {
	n := newNormalizer(t, Options{Location: kathmandu(t)})

	res, err := n.Normalize(Input{Text: []string{"२०८१ बैशाख १ गते, शनिबार"}})
	require.NoError(t, err)
	assert.Equal(t, SourceText, res.Source)
	assert.True(t, res.LowPrecision)
	assert.Equal(t, "2024-04-13T00:00:00+05:45", res.ISO())

	res, err = n.Normalize(Input{Text: []string{"२०८१ साउन १५ गते"}})
	require.NoError(t, err)
	assert.Equal(t, "2024-07-30T00:00:00+05:45", res.ISO())
}

func TestBikramSambatNewYearMatchesGregorian(t *testing.T) {
	newYears := map[int]string{
		2070: "2013-04-14", 2071: "2014-04-14", 2072: "2015-04-14",
		2073: "2016-04-13", 2074: "2017-04-14", 2075: "2018-04-14",
		2076: "2019-04-14", 2077: "2020-04-13", 2078: "2021-04-14",
		2079: "2022-04-14", 2080: "2023-04-14", 2081: "2024-04-13",
		2082: "2025-04-14", 2083: "2026-04-14",
	}
	for year, want := range newYears {
		got, ok := BikramSambatToGregorian(year, 1, 1, time.UTC)
		require.True(t, ok, year)
		assert.Equal(t, want, got.Format("2006-01-02"), year)
	}

	got, ok := BikramSambatToGregorian(2083, 12, 30, time.UTC)
	require.True(t, ok)
	assert.Equal(t, "2027-04-13", got.Format("2006-01-02"))
}

func TestBikramSambatRejectsImpossibleDays(t *testing.T) {
	_, ok := BikramSambatToGregorian(2081, 9, 30, time.UTC)
	assert.False(t, ok, "Poush 2081 has 29 days")

	_, ok = BikramSambatToGregorian(2081, 13, 1, time.UTC)
	assert.False(t, ok)

	_, ok = BikramSambatToGregorian(2050, 1, 1, time.UTC)
	assert.False(t, ok)
}

func TestNormalizeBikramSambatOutsideTableIsUnparseable(t *testing.T) {
	n := newNormalizer(t, Options{})
	_, err := n.Normalize(Input{Text: []string{"२०५० साउन १५ गते"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnparseable)
	assert.Contains(t, err.Error(), "bikram sambat")
}

func TestNormalizeBikramSambatFallsThroughToURL(t *testing.T) {
	n := newNormalizer(t, Options{})
	res, err := n.Normalize(Input{
		Text: []string{"२०५० साउन १५ गते"},
		URL:  "https://example.com/2024/01/05/x",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceURL, res.Source)
}

func TestNormalizeFeedBeforeURL(t *testing.T) {
	n := newNormalizer(t, Options{})
	feed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	res, err := n.Normalize(Input{Feed: &feed, URL: "https://example.com/2023/12/25/x"})
	require.NoError(t, err)
	assert.Equal(t, SourceFeed, res.Source)
	assert.Equal(t, feed, res.Time)
}

func TestNormalizeURLFallbackIsLowPrecisionMidnightUTC(t *testing.T) {
	n := newNormalizer(t, Options{Location: kathmandu(t)})
	res, err := n.Normalize(Input{URL: "https://www.nayapatrikadaily.com/2023/12/25/test-article"})
	require.NoError(t, err)
	assert.Equal(t, SourceURL, res.Source)
	assert.True(t, res.LowPrecision)
	assert.Equal(t, "2023-12-25T00:00:00Z", res.ISO())
}

func TestNormalizeURLDashedAndInvalidDates(t *testing.T) {
	n := newNormalizer(t, Options{})

	got, ok := n.FromURL("https://example.com/news/2024-02-29-leap-story")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), got)

	_, ok = n.FromURL("https://example.com/2023/02/30/impossible")
	assert.False(t, ok)

	_, ok = n.FromURL("https://www.nayapatrikadaily.com/category/politics/test-article")
	assert.False(t, ok)
}

func TestNormalizeCustomURLPattern(t *testing.T) {
	n := newNormalizer(t, Options{URLPattern: `/news/(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})/`})
	got, ok := n.FromURL("https://example.com/news/20240105/abc")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), got)
}

func TestNewRejectsPatternWithoutGroups(t *testing.T) {
	_, err := New(Options{URLPattern: `(\d{4})/(\d{2})/(\d{2})`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lacks named group")
}

func TestNormalizeNoCandidatesVersusUnparseable(t *testing.T) {
	n := newNormalizer(t, Options{})

	_, err := n.Normalize(Input{})
	assert.ErrorIs(t, err, ErrNoCandidates)

	_, err = n.Normalize(Input{Text: []string{"yesterday-ish"}})
	assert.ErrorIs(t, err, ErrUnparseable)
	assert.NotErrorIs(t, err, ErrNoCandidates)
}

func TestTransliterateLeavesLatinUntouched(t *testing.T) {
	assert.Equal(t, "March 8, 2024", Transliterate("March 8, 2024"))
	assert.Equal(t, "2024", Transliterate("२०२४"))
	assert.Equal(t, "January 5,", Transliterate("जनवरी ५,"))
}
