package models

// ListingRecord holds one raw item card as scraped from the search results.
// Nothing has been validated yet: the URLs may be empty and the price text
// may not contain a recognisable amount.
type ListingRecord struct {
	Title    string
	RawPrice string
	URL      string
	ImageURL string
	Keyword  string
}

// ParsedPrice is a price normalised to whole yen.
type ParsedPrice struct {
	Display string // e.g. "¥9.800"
	Amount  int64
}

// Keyword is a configured search term with the label used in messages.
type Keyword struct {
	Original   string `mapstructure:"original"`
	Translated string `mapstructure:"translated"`
}

// Label returns the translated keyword, or the original when none is set.
func (k Keyword) Label() string {
	if k.Translated != "" {
		return k.Translated
	}
	return k.Original
}

// ActionableItem is a listing that is new or cheaper than last seen.
type ActionableItem struct {
	Title        string
	URL          string
	ImageURL     string
	DisplayPrice string
	Timestamp    string
	Keyword      string
	Decision     Decision
}

// Translation carries a translated title, or the original one when the
// translation service could not be used.
type Translation struct {
	Text     string
	Fallback bool
}
