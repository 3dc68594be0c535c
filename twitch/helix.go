package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultHelixURL is the Helix API base.
const DefaultHelixURL = "https://api.twitch.tv"

// HelixClient provides the few Helix calls the bot needs: user id
// resolution, live status and follower counts.
type HelixClient struct {
	Tokens     oauth2.TokenSource
	ClientID   string
	HTTPClient *http.Client
	BaseURL    string
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	tok, err := hc.Tokens.Token()
	if err != nil {
		return fmt.Errorf("helix token: %w", err)
	}
	base := hc.BaseURL
	if base == "" {
		base = DefaultHelixURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("helix %s: %s: %s", path, resp.Status, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", errors.New("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	q := url.Values{}
	q.Set("login", login)
	if err := hc.get(ctx, "/helix/users", q, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", errors.New("user not found")
	}
	return body.Data[0].ID, nil
}

// IsLive reports whether login currently has a live stream.
func (hc *HelixClient) IsLive(ctx context.Context, login string) (bool, error) {
	var body struct {
		Data []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"data"`
	}
	q := url.Values{}
	q.Set("user_login", login)
	if err := hc.get(ctx, "/helix/streams", q, &body); err != nil {
		return false, err
	}
	for _, s := range body.Data {
		if s.Type == "" || s.Type == "live" {
			return true, nil
		}
	}
	return false, nil
}

// FollowerCount returns the number of followers of broadcasterID.
func (hc *HelixClient) FollowerCount(ctx context.Context, broadcasterID string) (int64, error) {
	var body struct {
		Total int64 `json:"total"`
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("first", "1")
	if err := hc.get(ctx, "/helix/channels/followers", q, &body); err != nil {
		return 0, err
	}
	return body.Total, nil
}
