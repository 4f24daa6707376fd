package buyee

import (
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercari-watcher/models"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func readFixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return string(b)
}

func TestParseListings(t *testing.T) {
	base := mustURL(t, "https://buyee.jp")

	got, err := ParseListings(strings.NewReader(readFixture(t, "results.html")), "ゲーム", base)
	require.NoError(t, err)

	want := []models.ListingRecord{
		{
			Title:    "任天堂 ゲームボーイ 本体",
			RawPrice: "9,800 yen",
			URL:      "https://buyee.jp/mercari/item/m88812345678",
			ImageURL: "https://static.mercdn.net/thumb/item/webp/m88812345678_1.jpg",
			Keyword:  "ゲーム",
		},
		{
			Title:    "ファミコン カセット",
			RawPrice: "US$ 12",
			URL:      "https://buyee.jp/mercari/item/m77712345678?conversionType=Mercari",
			ImageURL: "https://static.mercdn.net/thumb/item/webp/m77712345678_1.jpg",
			Keyword:  "ゲーム",
		},
		{
			Title:    "No title",
			RawPrice: "No price",
			URL:      "https://buyee.jp/mercari/item/m66612345678",
			ImageURL: "https://buyee.jp/img/m666.jpg",
			Keyword:  "ゲーム",
		},
	}
	assert.Equal(t, want, got)
}

func TestParseListingsEmptyPage(t *testing.T) {
	got, err := ParseListings(strings.NewReader("<html><body><p>該当する商品はありません</p></body></html>"), "kw", mustURL(t, "https://buyee.jp"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtractIframeURL(t *testing.T) {
	base := mustURL(t, "https://buyee.jp")

	t.Run("from script", func(t *testing.T) {
		page := strings.Replace(readFixture(t, "search.html"), "{{IFRAME}}", "/mercari/search/iframe?keyword=x", 1)
		got, err := ExtractIframeURL(strings.NewReader(page), base)
		require.NoError(t, err)
		assert.Equal(t, "https://buyee.jp/mercari/search/iframe?keyword=x", got)
	})

	t.Run("from src attribute", func(t *testing.T) {
		page := `<html><body><iframe id="search_result_iframe" src="https://buyee.jp/mercari/frame?k=1"></iframe></body></html>`
		got, err := ExtractIframeURL(strings.NewReader(page), base)
		require.NoError(t, err)
		assert.Equal(t, "https://buyee.jp/mercari/frame?k=1", got)
	})

	t.Run("no iframe", func(t *testing.T) {
		_, err := ExtractIframeURL(strings.NewReader(`<html><body></body></html>`), base)
		assert.ErrorIs(t, err, ErrNoIframe)
	})

	t.Run("no url", func(t *testing.T) {
		page := `<html><body><iframe id="search_result_iframe"></iframe></body></html>`
		_, err := ExtractIframeURL(strings.NewReader(page), base)
		assert.ErrorIs(t, err, ErrNoIframeURL)
	})
}

func TestResolveURL(t *testing.T) {
	base := mustURL(t, "https://buyee.jp")

	tests := []struct {
		ref  string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"/mercari/item/m1", "https://buyee.jp/mercari/item/m1"},
		{"//static.mercdn.net/a.jpg", "https://static.mercdn.net/a.jpg"},
		{"https://buyee.jp/mercari/item/undefined/m1", "https://buyee.jp/mercari/item/m1"},
		{"/mercari/null/item/m1?x=1", "https://buyee.jp/mercari/item/m1?x=1"},
		{"javascript:void(0)", ""},
		{"data:image/gif;base64,R0lGOD", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveURL(base, tt.ref), "resolveURL(%q)", tt.ref)
	}
}

func TestNormaliseText(t *testing.T) {
	assert.Equal(t, "a b c", normaliseText("  a\n\t b   c "))
	assert.Equal(t, "", normaliseText(" \n "))
	assert.Equal(t, "ゲーム 本体", normaliseText("ゲーム　本体"))
}
