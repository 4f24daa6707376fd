package buyee

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"mercari-watcher/models"
	"mercari-watcher/utils"
)

// Buyee ships hashed CSS module class names (simple_item__Ewdl1); only the
// stable prefix is matched so a rebuild of their frontend does not break us.
const (
	iframeSelector = "iframe#search_result_iframe"
	itemSelector   = `div[class*="simple_item__"]`
	linkSelector   = `a[class*="simple_container__"]`
	titleSelector  = `span[class*="simple_name__"]`
	priceSelector  = `span[class*="simple_price__"]`
	imageSelector  = `img[class*="cdn_container__"]`

	noTitle = "No title"
	noPrice = "No price"
)

var iframeScriptRegexp = regexp.MustCompile(`document\.querySelector\('#search_result_iframe'\)\.src\s*=\s*'([^']+)'`)

var (
	// ErrNoIframe means the search page had no result iframe.
	ErrNoIframe = errors.New("search result iframe not found")
	// ErrNoIframeURL means the iframe exists but its URL could not be found.
	ErrNoIframeURL = errors.New("search result iframe url not found")
)

// ExtractIframeURL finds the search result iframe URL in a search page.
// Buyee assigns it from an inline script; the src attribute is used when
// the script is absent.
func ExtractIframeURL(r io.Reader, base *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("buyee: parse search page: %w", err)
	}

	iframe := doc.Find(iframeSelector).First()
	if iframe.Length() == 0 {
		return "", ErrNoIframe
	}

	var found string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := iframeScriptRegexp.FindStringSubmatch(s.Text()); m != nil {
			found = m[1]
			return false
		}
		return true
	})
	if found == "" {
		found, _ = iframe.Attr("src")
	}

	if resolved := resolveURL(base, found); resolved != "" {
		return resolved, nil
	}
	return "", ErrNoIframeURL
}

// ParseListings extracts the item cards of a search result page in page
// order. Cards without a link are skipped, as are repeated links.
func ParseListings(r io.Reader, keyword string, base *url.URL) ([]models.ListingRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("buyee: parse results: %w", err)
	}

	seen := utils.NewURLSet()
	var records []models.ListingRecord

	doc.Find(itemSelector).Each(func(_ int, item *goquery.Selection) {
		link := item.Find(linkSelector).First()
		if link.Length() == 0 {
			return
		}
		href := resolveURL(base, attr(link, "href"))
		if href == "" || !seen.Add(href) {
			return
		}

		title := normaliseText(link.Find(titleSelector).First().Text())
		if title == "" {
			title = noTitle
		}
		price := normaliseText(link.Find(priceSelector).First().Text())
		if price == "" {
			price = noPrice
		}

		img := link.Find(imageSelector).First()
		src := attr(img, "src")
		if src == "" {
			src = attr(img, "data-src")
		}

		records = append(records, models.ListingRecord{
			Title:    title,
			RawPrice: price,
			URL:      href,
			ImageURL: resolveURL(base, src),
			Keyword:  keyword,
		})
	})

	return records, nil
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

// resolveURL makes ref absolute against base and drops the "undefined" and
// "null" path segments the frontend sometimes renders into links. It
// returns "" when ref is empty or unusable.
func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}

	segments := strings.Split(u.Path, "/")
	kept := segments[:0]
	for _, seg := range segments {
		if seg == "undefined" || seg == "null" {
			continue
		}
		kept = append(kept, seg)
	}
	u.Path = strings.Join(kept, "/")
	u.RawPath = ""
	return u.String()
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
