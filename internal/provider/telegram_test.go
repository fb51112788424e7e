package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"

	tele "gopkg.in/telebot.v4"
)

type fakeTelegramSender struct {
	sendFn func(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	calls  int
}

func (f *fakeTelegramSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.calls++
	return f.sendFn(to, what, opts...)
}

func TestTelegramProviderSendSuccess(t *testing.T) {
	t.Parallel()

	var gotChat string
	var gotText interface{}
	var gotMode tele.ParseMode
	sender := &fakeTelegramSender{
		sendFn: func(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
			gotChat = to.Recipient()
			gotText = what
			if len(opts) == 1 {
				if o, ok := opts[0].(*tele.SendOptions); ok {
					gotMode = o.ParseMode
				}
			}
			return &tele.Message{ID: 42}, nil
		},
	}

	p := newTelegramProvider(sender)
	if p.Name() != TelegramName {
		t.Fatalf("Name() = %q, want %q", p.Name(), TelegramName)
	}

	resp, err := p.Send(context.Background(), OutboundMessage{CampaignID: "cmp-1", RecipientID: "987654321", Content: "<b>Hi</b>"})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if resp.MessageID != "42" {
		t.Fatalf("MessageID = %q, want 42", resp.MessageID)
	}
	if gotChat != "987654321" {
		t.Fatalf("chat = %q, want 987654321", gotChat)
	}
	if gotText != "<b>Hi</b>" {
		t.Fatalf("text = %v", gotText)
	}
	if gotMode != tele.ModeHTML {
		t.Fatalf("parse mode = %q, want HTML", gotMode)
	}
}

func TestTelegramProviderInvalidChatIDIsPermanent(t *testing.T) {
	t.Parallel()

	sender := &fakeTelegramSender{}
	p := newTelegramProvider(sender)

	_, err := p.Send(context.Background(), OutboundMessage{RecipientID: "not-a-chat"})
	if !IsPermanent(err) {
		t.Fatalf("IsPermanent() = false, want true (err=%v)", err)
	}
	if sender.calls != 0 {
		t.Fatalf("sender calls = %d, want 0", sender.calls)
	}
}

func TestTelegramProviderErrorClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		err           error
		wantTransient bool
		wantStatus    int
	}{
		{name: "blocked by user is permanent", err: tele.NewError(403, "Forbidden: bot was blocked by the user"), wantStatus: http.StatusForbidden},
		{name: "chat not found is permanent", err: tele.NewError(400, "Bad Request: chat not found"), wantStatus: http.StatusBadRequest},
		{name: "too many requests is transient", err: tele.NewError(429, "Too Many Requests"), wantTransient: true, wantStatus: http.StatusTooManyRequests},
		{name: "server error is transient", err: tele.NewError(502, "Bad Gateway"), wantTransient: true, wantStatus: http.StatusBadGateway},
		{name: "network error is transient", err: errors.New("dial tcp: connection refused"), wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := newTelegramProvider(&fakeTelegramSender{
				sendFn: func(tele.Recipient, interface{}, ...interface{}) (*tele.Message, error) {
					return nil, tc.err
				},
			})

			_, err := p.Send(context.Background(), OutboundMessage{RecipientID: "1", Content: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tc.wantStatus {
				t.Fatalf("StatusCode = %d, want %d", providerErr.StatusCode, tc.wantStatus)
			}
		})
	}
}

func TestTelegramProviderHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	sender := &fakeTelegramSender{}
	p := newTelegramProvider(sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Send(ctx, OutboundMessage{RecipientID: "1"}); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if sender.calls != 0 {
		t.Fatalf("sender calls = %d, want 0", sender.calls)
	}
}

func TestNewTelegramProviderRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := NewTelegramProvider(" ", 0); err == nil {
		t.Fatal("expected error for empty token")
	}
}
