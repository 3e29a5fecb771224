package notifier

import (
	"context"
	"net/http"
)

const defaultOneSignalURL = "https://api.onesignal.com"

type OneSignal struct {
	client  *http.Client
	baseURL string
	appID   string
	apiKey  string
}

func NewOneSignal(client *http.Client, baseURL, appID, apiKey string) *OneSignal {
	return &OneSignal{client: client, baseURL: orDefault(baseURL, defaultOneSignalURL), appID: appID, apiKey: apiKey}
}

func (o *OneSignal) Send(ctx context.Context, msg Message) (Result, error) {
	payload := map[string]any{
		"app_id":          o.appID,
		"include_aliases": map[string][]string{"external_id": {msg.To}},
		"target_channel":  "push",
		"headings":        map[string]string{"en": msg.Title},
		"contents":        map[string]string{"en": msg.Body},
	}
	req, err := newJSONRequest(ctx, o.baseURL+"/notifications?c=push", payload)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Key "+o.apiKey)

	resp, err := doRequest(o.client, req)
	if err != nil {
		return Result{}, err
	}
	return toResult("OneSignal", resp, "id", "errors"), nil
}
