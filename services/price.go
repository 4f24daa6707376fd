package services

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"mercari-watcher/metrics"
	"mercari-watcher/models"
	"mercari-watcher/utils"
)

var (
	// bareYenRegexp captures "9,800 yen" / "9,800円" with no currency symbol
	bareYenRegexp = regexp.MustCompile(`(?i)([\d,]+)\s*(?:yen|円)`)
	// symbolRegexp captures a currency symbol followed by an amount
	symbolRegexp = regexp.MustCompile(`(¥|￥|US\$|\$)\s*([\d,]+)`)
)

// PriceParser turns listing price text into whole yen.
type PriceParser struct {
	logger  *utils.Logger
	metrics *metrics.Metrics
	printer *message.Printer
}

// NewPriceParser creates a PriceParser with the given logger.
func NewPriceParser(logger *utils.Logger, m *metrics.Metrics) *PriceParser {
	return &PriceParser{
		logger:  logger,
		metrics: m,
		printer: message.NewPrinter(language.English),
	}
}

// Parse extracts a price from text. Dollar amounts are converted with rate
// and truncated toward zero. ok is false when no price can be recognised;
// callers skip the record.
//
//	"9,800 yen", any rate → ¥9.800, 9800
//	"$120", 150.0        → ¥18.000, 18000
//	"¥5,000"             → ¥5.000, 5000
func (p *PriceParser) Parse(text string, rate float64) (models.ParsedPrice, bool) {
	if m := bareYenRegexp.FindStringSubmatch(text); m != nil {
		amount, ok := parseDigits(m[1])
		if !ok {
			p.fail("[price] Could not parse yen amount %q from text: %s", m[1], text)
			return models.ParsedPrice{}, false
		}
		return p.build(amount), true
	}

	m := symbolRegexp.FindStringSubmatch(text)
	if m == nil {
		p.fail("[price] No price found in text: %s", text)
		return models.ParsedPrice{}, false
	}

	symbol, digits := m[1], m[2]
	amount, ok := parseDigits(digits)
	if !ok {
		p.fail("[price] Could not parse amount %q from text: %s", digits, text)
		return models.ParsedPrice{}, false
	}

	switch symbol {
	case "US$", "$":
		return p.build(int64(float64(amount) * rate)), true
	case "¥", "￥":
		return p.build(amount), true
	default:
		p.fail("[price] Unknown currency symbol %q in text: %s", symbol, text)
		return models.ParsedPrice{}, false
	}
}

func (p *PriceParser) fail(format string, args ...any) {
	p.logger.Debug(format, args...)
	p.metrics.ParseFailures.Inc()
}

func (p *PriceParser) build(amount int64) models.ParsedPrice {
	return models.ParsedPrice{Display: p.Format(amount), Amount: amount}
}

// Format renders amount as "¥1.234.567": thousands grouped, with a period
// as the grouping separator.
func (p *PriceParser) Format(amount int64) string {
	grouped := p.printer.Sprintf("%d", amount)
	return "¥" + strings.ReplaceAll(grouped, ",", ".")
}

func parseDigits(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
