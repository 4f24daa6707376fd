package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"mercari-watcher/metrics"
	"mercari-watcher/models"
	"mercari-watcher/utils"
)

const (
	googleTranslateURL = "https://translate.googleapis.com/translate_a/single"
	translateTimeout   = 10 * time.Second
)

// Translator translates Japanese text to English.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// NopTranslator returns text unchanged. Used when translation is disabled.
type NopTranslator struct{}

func (NopTranslator) Translate(_ context.Context, text string) (string, error) {
	return text, nil
}

// GoogleTranslator calls the public gtx endpoint.
type GoogleTranslator struct {
	client *resty.Client
	url    string
}

// NewGoogleTranslator creates a ja→en translator.
func NewGoogleTranslator() *GoogleTranslator {
	return newGoogleTranslator(googleTranslateURL)
}

func newGoogleTranslator(url string) *GoogleTranslator {
	client := resty.New()
	client.SetTimeout(translateTimeout)
	return &GoogleTranslator{client: client, url: url}
}

var errEmptyTranslation = errors.New("empty translation")

func (g *GoogleTranslator) Translate(ctx context.Context, text string) (string, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client": "gtx",
			"sl":     "ja",
			"tl":     "en",
			"dt":     "t",
			"q":      text,
		}).
		Get(g.url)
	if err != nil {
		return "", fmt.Errorf("translate: request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("translate: status %d", resp.StatusCode())
	}
	return decodeGTX(resp.Body())
}

// decodeGTX joins the translated segments of a gtx response:
// [[["Hello","こんにちは",...],["World","世界",...]],null,"ja",...]
func decodeGTX(body []byte) (string, error) {
	var root []json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return "", fmt.Errorf("translate: decode: %w", err)
	}
	if len(root) == 0 {
		return "", fmt.Errorf("translate: %w", errEmptyTranslation)
	}

	var segments [][]any
	if err := json.Unmarshal(root[0], &segments); err != nil {
		return "", fmt.Errorf("translate: decode segments: %w", err)
	}

	var sb strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			sb.WriteString(s)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("translate: %w", errEmptyTranslation)
	}
	return sb.String(), nil
}

// TitleTranslator wraps a Translator with the title fallback rules.
type TitleTranslator struct {
	translator Translator
	logger     *utils.Logger
	metrics    *metrics.Metrics
}

func NewTitleTranslator(t Translator, logger *utils.Logger, m *metrics.Metrics) *TitleTranslator {
	if t == nil {
		t = NopTranslator{}
	}
	return &TitleTranslator{translator: t, logger: logger, metrics: m}
}

// TranslateTitle returns "EN (JA)" when the translation is non-empty and
// differs from title, and title otherwise. Errors never propagate.
func (t *TitleTranslator) TranslateTitle(ctx context.Context, title string) models.Translation {
	en, err := t.translator.Translate(ctx, title)
	if err != nil {
		t.logger.Warn("[translate] Translation failed for title: %s | Error: %v", clip(title, 50), err)
		t.metrics.Fallbacks.WithLabelValues(metrics.FallbackTranslation).Inc()
		return models.Translation{Text: title, Fallback: true}
	}

	if strings.TrimSpace(en) == "" || en == title {
		return models.Translation{Text: title}
	}
	return models.Translation{Text: fmt.Sprintf("%s (%s)", en, title)}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
