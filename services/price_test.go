package services

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"mercari-watcher/metrics"
	"mercari-watcher/models"
	"mercari-watcher/utils"
)

func newTestParser() (*PriceParser, *metrics.Metrics) {
	m := metrics.New()
	return NewPriceParser(utils.NewNopLogger(), m), m
}

func TestPriceParserParse(t *testing.T) {
	p, _ := newTestParser()

	tests := []struct {
		raw  string
		rate float64
		want models.ParsedPrice
	}{
		{"9,800 yen", 999, models.ParsedPrice{Display: "¥9.800", Amount: 9800}},
		{"9,800 YEN", 0, models.ParsedPrice{Display: "¥9.800", Amount: 9800}},
		{"9800円", 150, models.ParsedPrice{Display: "¥9.800", Amount: 9800}},
		{"$120", 150.0, models.ParsedPrice{Display: "¥18.000", Amount: 18000}},
		{"US$ 7", 151.9, models.ParsedPrice{Display: "¥1.063", Amount: 1063}},
		{"¥5,000", 150, models.ParsedPrice{Display: "¥5.000", Amount: 5000}},
		{"￥1,234,567", 150, models.ParsedPrice{Display: "¥1.234.567", Amount: 1234567}},
		{"¥300", 150, models.ParsedPrice{Display: "¥300", Amount: 300}},
		{"Price: $0.99", 145.0, models.ParsedPrice{Display: "¥0", Amount: 0}},
		// bare yen wins over a symbol elsewhere in the text
		{"US$10 (1,500 yen)", 150, models.ParsedPrice{Display: "¥1.500", Amount: 1500}},
	}

	for _, tt := range tests {
		got, ok := p.Parse(tt.raw, tt.rate)
		if assert.True(t, ok, "Parse(%q) should succeed", tt.raw) {
			assert.Equal(t, tt.want, got, "Parse(%q, %v)", tt.raw, tt.rate)
		}
	}
}

func TestPriceParserTruncatesConversion(t *testing.T) {
	p, _ := newTestParser()

	got, ok := p.Parse("$3", 149.99)
	assert.True(t, ok)
	assert.Equal(t, int64(449), got.Amount) // 449.97 truncated
}

func TestPriceParserFailures(t *testing.T) {
	p, m := newTestParser()

	inputs := []string{
		"",
		"No price",
		"free",
		"€20",
		", yen",
		"$,,,",
		"¥99999999999999999999999",
	}
	for _, raw := range inputs {
		got, ok := p.Parse(raw, 150)
		assert.False(t, ok, "Parse(%q) should fail", raw)
		assert.Equal(t, models.ParsedPrice{}, got)
	}
	assert.Equal(t, float64(len(inputs)), testutil.ToFloat64(m.ParseFailures))
}

func TestPriceParserDeterministic(t *testing.T) {
	p, _ := newTestParser()
	for _, raw := range []string{"$120", "¥5,000", "US$ 33"} {
		a, okA := p.Parse(raw, 147.25)
		b, okB := p.Parse(raw, 147.25)
		assert.Equal(t, okA, okB)
		assert.Equal(t, a, b)
	}
}

func TestPriceParserFormat(t *testing.T) {
	p, _ := newTestParser()
	assert.Equal(t, "¥0", p.Format(0))
	assert.Equal(t, "¥999", p.Format(999))
	assert.Equal(t, "¥1.000", p.Format(1000))
	assert.Equal(t, "¥12.345.678", p.Format(12345678))
}
