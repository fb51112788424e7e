package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

const (
	TelegramName           = "telegram"
	defaultTelegramTimeout = 15 * time.Second
)

// telegramSender is the subset of *tele.Bot used to deliver messages.
type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

var _ Provider = (*TelegramProvider)(nil)

// TelegramProvider delivers campaign messages through a Telegram bot. The
// recipient id is the numeric chat id.
type TelegramProvider struct {
	bot telegramSender
}

func NewTelegramProvider(token string, timeout time.Duration) (*TelegramProvider, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if timeout <= 0 {
		timeout = defaultTelegramTimeout
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return newTelegramProvider(bot), nil
}

func newTelegramProvider(bot telegramSender) *TelegramProvider {
	return &TelegramProvider{bot: bot}
}

func (p *TelegramProvider) Name() string { return TelegramName }

func (p *TelegramProvider) Send(ctx context.Context, msg OutboundMessage) (*ProviderResponse, error) {
	if p == nil || p.bot == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.RecipientID), 10, 64)
	if err != nil {
		return nil, &ProviderError{
			Message: fmt.Sprintf("invalid telegram chat id %q", msg.RecipientID),
			Cause:   err,
		}
	}

	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, &ProviderError{Message: "send aborted", Transient: errors.Is(err, context.DeadlineExceeded), Cause: err}
		}
	}

	sent, err := p.bot.Send(tele.ChatID(chatID), msg.Content, &tele.SendOptions{ParseMode: tele.ModeHTML})
	if err != nil {
		return nil, classifyTelegramError(err)
	}

	response := &ProviderResponse{StatusCode: http.StatusOK}
	if sent != nil {
		response.MessageID = strconv.Itoa(sent.ID)
	}
	return response, nil
}

func classifyTelegramError(err error) *ProviderError {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &ProviderError{
			StatusCode: http.StatusTooManyRequests,
			Message:    fmt.Sprintf("telegram flood control, retry after %ds", flood.RetryAfter),
			Transient:  true,
			Cause:      err,
		}
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.Code,
			Message:    apiErr.Description,
			Transient:  retryableStatus(apiErr.Code),
			Cause:      err,
		}
	}

	// Network failures and unparsed API responses.
	return &ProviderError{
		Message:   "telegram request failed",
		Transient: true,
		Cause:     err,
	}
}
