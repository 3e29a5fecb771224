package notifier

import (
	"context"
	"html"
	"net/http"
)

const defaultResendURL = "https://api.resend.com"

type Resend struct {
	client  *http.Client
	baseURL string
	apiKey  string
	from    string
}

func NewResend(client *http.Client, baseURL, apiKey, from string) *Resend {
	return &Resend{client: client, baseURL: orDefault(baseURL, defaultResendURL), apiKey: apiKey, from: from}
}

func (r *Resend) Send(ctx context.Context, msg Message) (Result, error) {
	payload := map[string]any{
		"from":    r.from,
		"to":      []string{msg.To},
		"subject": msg.Title,
		"html":    "<p>" + html.EscapeString(msg.Body) + "</p>",
	}
	req, err := newJSONRequest(ctx, r.baseURL+"/emails", payload)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := doRequest(r.client, req)
	if err != nil {
		return Result{}, err
	}
	return toResult("Resend", resp, "id", "message"), nil
}
