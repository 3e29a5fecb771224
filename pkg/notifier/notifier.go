package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clinic-engagement/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notifier",
	fx.Provide(NewRegistry),
)

const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

type Message struct {
	To    string
	Title string
	Body  string
}

type Result struct {
	Status            string
	ProviderMessageID string
	Error             string
}

// Sender delivers one message through an external provider. A provider
// rejection is reported in Result; transport failures are returned as error.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

type Registry struct {
	senders map[string]Sender
}

// NewRegistry registers a sender for every channel whose credentials are
// configured.
func NewRegistry(cfg *config.Config) *Registry {
	client := &http.Client{Timeout: 30 * time.Second}
	senders := map[string]Sender{}

	ch := cfg.Channels
	if ch.Resend.ApiKey != "" && strings.Contains(ch.Resend.FromEmail, "@") {
		senders[ChannelEmail] = NewResend(client, ch.Resend.BaseURL, ch.Resend.ApiKey, ch.Resend.FromEmail)
	}
	if ch.Twilio.AccountSID != "" && ch.Twilio.AuthToken != "" && ch.Twilio.FromNumber != "" {
		senders[ChannelSMS] = NewTwilio(client, ch.Twilio.BaseURL, ch.Twilio.AccountSID, ch.Twilio.AuthToken, ch.Twilio.FromNumber)
	}
	if ch.OneSignal.AppID != "" && ch.OneSignal.RestApiKey != "" {
		senders[ChannelPush] = NewOneSignal(client, ch.OneSignal.BaseURL, ch.OneSignal.AppID, ch.OneSignal.RestApiKey)
	}

	for _, name := range []string{ChannelEmail, ChannelSMS, ChannelPush} {
		_, ok := senders[name]
		zap.L().Info("[Notifier] channel", zap.String("channel", name), zap.Bool("configured", ok))
	}

	return &Registry{senders: senders}
}

func NewStaticRegistry(senders map[string]Sender) *Registry {
	if senders == nil {
		senders = map[string]Sender{}
	}
	return &Registry{senders: senders}
}

func (r *Registry) Sender(channel string) (Sender, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.senders[channel]
	return s, ok
}

type providerResponse struct {
	status int
	body   map[string]any
}

func doRequest(client *http.Client, req *http.Request) (*providerResponse, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	parsed := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &parsed)
	}
	return &providerResponse{status: resp.StatusCode, body: parsed}, nil
}

func newJSONRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// toResult maps an HTTP response to a delivery result. idKey names the
// provider message id field and errKey the provider error field.
func toResult(provider string, resp *providerResponse, idKey, errKey string) Result {
	if resp.status >= 400 {
		msg := stringify(resp.body[errKey])
		if msg == "" {
			msg = fmt.Sprintf("%s HTTP %d", provider, resp.status)
		}
		return Result{Status: StatusFailed, Error: msg}
	}
	return Result{Status: StatusSent, ProviderMessageID: stringify(resp.body[idKey])}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimRight(v, "/")
}
