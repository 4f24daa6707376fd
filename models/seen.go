package models

import "time"

// TimestampLayout is the local-time format stored with seen entries and
// shown in notifications.
const TimestampLayout = "2006-01-02 15:04:05"

// SeenEntry is the last known state of a listing signature.
type SeenEntry struct {
	Price     int64  `json:"price"`
	Timestamp string `json:"timestamp"`
}

// SeenRecord is a SeenEntry together with its signature. Slices of
// SeenRecord are always in insertion order.
type SeenRecord struct {
	Signature string `json:"signature" db:"signature"`
	Price     int64  `json:"price" db:"price"`
	Timestamp string `json:"timestamp" db:"seen_at"`
}

// Decision is the outcome of checking a listing against the seen store.
type Decision int

const (
	DecisionUnchanged Decision = iota
	DecisionNew
	DecisionCheaper
)

func (d Decision) String() string {
	switch d {
	case DecisionNew:
		return "new"
	case DecisionCheaper:
		return "cheaper"
	default:
		return "unchanged"
	}
}

// Actionable reports whether the listing should be notified.
func (d Decision) Actionable() bool {
	return d == DecisionNew || d == DecisionCheaper
}

// RateSource tells where an exchange rate came from.
type RateSource string

const (
	RateLive       RateSource = "live"
	RateCached     RateSource = "cache"
	RateStaleCache RateSource = "stale_cache"
	RateFallback   RateSource = "fallback"
)

// RateQuote is a USD→JPY rate and its provenance.
type RateQuote struct {
	Value     float64
	Source    RateSource
	FetchedAt time.Time
}

// KeywordCount is one line of the daily summary.
type KeywordCount struct {
	Original string
	Label    string
	Count    int
}

// DailyReport holds the counts gathered since the last summary.
type DailyReport struct {
	Date     time.Time
	Keywords []KeywordCount
	Total    int
}
