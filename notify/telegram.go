// Package notify delivers watcher messages to a Telegram chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"mercari-watcher/metrics"
	"mercari-watcher/models"
	"mercari-watcher/utils"
)

const (
	defaultAPIURL = "https://api.telegram.org"

	textTimeout  = 5 * time.Second
	photoTimeout = 10 * time.Second
	checkTimeout = 10 * time.Second

	// well under the Bot API limit of 30 messages per second
	sendInterval = 50 * time.Millisecond
)

// ErrUnauthorized is returned by Check when the bot token is rejected.
var ErrUnauthorized = errors.New("telegram: bot token rejected")

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Telegram sends messages through the Bot API. Send errors are logged and
// counted, never returned.
type Telegram struct {
	client   *resty.Client
	chatID   string
	throttle *utils.Throttle
	logger   *utils.Logger
	metrics  *metrics.Metrics
}

// NewTelegram creates a notifier for the given bot token and chat.
func NewTelegram(token, chatID string, logger *utils.Logger, m *metrics.Metrics) *Telegram {
	return newTelegram(defaultAPIURL, token, chatID, logger, m)
}

func newTelegram(apiURL, token, chatID string, logger *utils.Logger, m *metrics.Metrics) *Telegram {
	client := resty.New().
		SetBaseURL(fmt.Sprintf("%s/bot%s", apiURL, token)).
		SetLogger(&restyLogger{logger: logger, token: token})
	return &Telegram{
		client:   client,
		chatID:   chatID,
		throttle: utils.NewThrottle(sendInterval),
		logger:   logger,
		metrics:  m,
	}
}

// Check verifies the token with getMe.
func (t *Telegram) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var body apiResponse
	resp, err := t.client.R().SetContext(ctx).SetResult(&body).SetError(&body).Get("/getMe")
	if err != nil {
		return fmt.Errorf("telegram: getMe: %w", stripURL(err))
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 404 {
		return ErrUnauthorized
	}
	if resp.IsError() || !body.OK {
		return fmt.Errorf("telegram: getMe: status %d: %s", resp.StatusCode(), body.Description)
	}
	return nil
}

// SendText posts an HTML message.
func (t *Telegram) SendText(ctx context.Context, message string) {
	err := t.post(ctx, "sendMessage", textTimeout, map[string]string{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "HTML",
	})
	if err != nil {
		t.logger.Error("[telegram] Failed to send message: %v", err)
		t.metrics.NotifyFailures.WithLabelValues("sendMessage").Inc()
		return
	}
	t.logger.Info("[telegram] 📝 Sent message: %s", preview(message, 50))
}

// SendMedia posts the item image with its details as caption.
func (t *Telegram) SendMedia(ctx context.Context, item models.ActionableItem) {
	err := t.post(ctx, "sendPhoto", photoTimeout, map[string]string{
		"chat_id":    t.chatID,
		"photo":      item.ImageURL,
		"caption":    Caption(item),
		"parse_mode": "HTML",
	})
	if err != nil {
		t.logger.Error("[telegram] Failed to send photo for %s: %v", item.Title, err)
		t.metrics.NotifyFailures.WithLabelValues("sendPhoto").Inc()
		return
	}
	t.logger.Info("[telegram] Sent photo for: %s", item.Title)
}

func (t *Telegram) post(ctx context.Context, method string, timeout time.Duration, form map[string]string) error {
	if err := t.throttle.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body apiResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&body).
		SetError(&body).
		Post("/" + method)
	if err != nil {
		return fmt.Errorf("%s: %w", method, stripURL(err))
	}
	if resp.IsError() || !body.OK {
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode(), body.Description)
	}
	return nil
}

// stripURL drops the request URL from a transport error. The URL path
// carries the bot token.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

// restyLogger routes resty's own log lines through the watcher logger with
// the bot token masked.
type restyLogger struct {
	logger *utils.Logger
	token  string
}

func (l *restyLogger) Errorf(format string, v ...any) {
	l.logger.Error("[telegram] %s", l.redact(format, v...))
}

func (l *restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn("[telegram] %s", l.redact(format, v...))
}

func (l *restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug("[telegram] %s", l.redact(format, v...))
}

func (l *restyLogger) redact(format string, v ...any) string {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if l.token == "" {
		return msg
	}
	return strings.ReplaceAll(msg, l.token, "<redacted>")
}

// Caption renders the photo caption. The title is escaped because the
// message is sent in HTML mode.
func Caption(item models.ActionableItem) string {
	return fmt.Sprintf("<b>%s</b>\nPrice: %s\nTime: %s\n%s",
		html.EscapeString(item.Title), item.DisplayPrice, item.Timestamp, item.URL)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
