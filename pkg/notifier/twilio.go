package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const defaultTwilioURL = "https://api.twilio.com"

type Twilio struct {
	client     *http.Client
	baseURL    string
	accountSID string
	authToken  string
	from       string
}

func NewTwilio(client *http.Client, baseURL, accountSID, authToken, from string) *Twilio {
	return &Twilio{
		client:     client,
		baseURL:    orDefault(baseURL, defaultTwilioURL),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
	}
}

func (t *Twilio) Send(ctx context.Context, msg Message) (Result, error) {
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", t.from)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, url.PathEscape(t.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.accountSID, t.authToken)

	resp, err := doRequest(t.client, req)
	if err != nil {
		return Result{}, err
	}
	return toResult("Twilio", resp, "sid", "message"), nil
}
