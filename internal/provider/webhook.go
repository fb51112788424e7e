package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
)

const (
	WebhookName = "webhook"

	defaultWebhookTimeout = 10 * time.Second

	headerSignature      = "X-Campaign-Signature"
	headerIdempotencyKey = "Idempotency-Key"
	maxErrorBodyLen      = 256
)

type webhookPayload struct {
	CampaignID  string `json:"campaignId"`
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

type webhookAck struct {
	MessageID string `json:"messageId"`
}

// WebhookOptions configures the HTTP transport. An empty Secret disables
// request signing.
type WebhookOptions struct {
	Secret  string
	Timeout time.Duration
}

var _ Provider = (*WebhookProvider)(nil)

// WebhookProvider delivers each campaign message as a signed JSON POST. The
// idempotency key is stable per campaign and recipient so a retried send can
// be deduplicated by the receiver.
type WebhookProvider struct {
	client   *resty.Client
	endpoint string
	secret   []byte
}

func NewWebhookProvider(endpoint string, opts WebhookOptions) (*WebhookProvider, error) {
	client := resty.New()
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	return NewWebhookProviderWithClient(endpoint, opts.Secret, client)
}

func NewWebhookProviderWithClient(endpoint, secret string, client *resty.Client) (*WebhookProvider, error) {
	target := strings.TrimSpace(endpoint)
	if target == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	parsed, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid webhook endpoint scheme %q", parsed.Scheme)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	// The executor owns retries.
	client.SetRetryCount(0)

	return &WebhookProvider{
		client:   client,
		endpoint: target,
		secret:   []byte(secret),
	}, nil
}

func (p *WebhookProvider) Name() string { return WebhookName }

func (p *WebhookProvider) Send(ctx context.Context, msg OutboundMessage) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if strings.TrimSpace(msg.RecipientID) == "" {
		return nil, &ProviderError{Message: "recipient is required"}
	}

	body, err := json.Marshal(webhookPayload{
		CampaignID:  msg.CampaignID,
		RecipientID: msg.RecipientID,
		Content:     msg.Content,
	})
	if err != nil {
		return nil, &ProviderError{Message: "encode webhook payload", Cause: err}
	}

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(headerIdempotencyKey, msg.CampaignID+":"+msg.RecipientID).
		SetBody(body)
	if len(p.secret) > 0 {
		req.SetHeader(headerSignature, p.sign(body))
	}

	resp, err := req.Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	status := resp.StatusCode()
	text := strings.TrimSpace(resp.String())
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			StatusCode: status,
			Message:    rejectionMessage(status, text),
			Transient:  retryableStatus(status),
		}
	}

	return &ProviderResponse{
		StatusCode: status,
		Body:       text,
		MessageID:  ackMessageID(resp),
	}, nil
}

// sign returns "sha256=<hex>" over the exact request body.
func (p *WebhookProvider) sign(body []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func retryableStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

func rejectionMessage(status int, body string) string {
	if len(body) > maxErrorBodyLen {
		// Cut on a rune boundary.
		n := maxErrorBodyLen
		for n > 0 && !utf8.RuneStart(body[n]) {
			n--
		}
		body = body[:n]
	}
	if body == "" {
		return fmt.Sprintf("webhook responded %d", status)
	}
	return fmt.Sprintf("webhook responded %d: %s", status, body)
}

// ackMessageID prefers a messageId in the JSON body, then request id headers.
func ackMessageID(resp *resty.Response) string {
	var ack webhookAck
	if err := json.Unmarshal(resp.Body(), &ack); err == nil {
		if id := strings.TrimSpace(ack.MessageID); id != "" {
			return id
		}
	}

	for _, header := range []string{"X-Request-ID", "X-Correlation-ID"} {
		if id := strings.TrimSpace(resp.Header().Get(header)); id != "" {
			return id
		}
	}
	return ""
}
