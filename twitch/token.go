package twitch

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	twitchoauth "golang.org/x/oauth2/twitch"
)

// Credentials configure the bot (user) and app token sources.
type Credentials struct {
	ClientID     string
	ClientSecret string
	// AccessToken is the bot's chat token, with or without the "oauth:" prefix.
	AccessToken  string
	RefreshToken string

	// TokenURL overrides the Twitch token endpoint.
	TokenURL   string
	HTTPClient *http.Client
}

func (c Credentials) endpoint() oauth2.Endpoint {
	ep := twitchoauth.Endpoint
	if c.TokenURL != "" {
		ep.TokenURL = c.TokenURL
	}
	return ep
}

func (c Credentials) context(ctx context.Context) context.Context {
	if c.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
	}
	return ctx
}

// BotTokenSource returns the user token used for IRC. With a refresh token
// and client credentials it refreshes itself; otherwise the access token is
// used as is.
func (c Credentials) BotTokenSource(ctx context.Context) oauth2.TokenSource {
	access := strings.TrimPrefix(c.AccessToken, "oauth:")
	if c.RefreshToken == "" || c.ClientID == "" || c.ClientSecret == "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: access, TokenType: "bearer"})
	}
	conf := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     c.endpoint(),
	}
	// An empty access token forces a refresh on first use.
	return conf.TokenSource(c.context(ctx), &oauth2.Token{RefreshToken: c.RefreshToken})
}

// AppTokenSource returns a client-credentials token source for Helix calls.
// App tokens cannot be used for chat.
func (c Credentials) AppTokenSource(ctx context.Context) oauth2.TokenSource {
	conf := &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.endpoint().TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return conf.TokenSource(c.context(ctx))
}

// ircToken formats a token the way the IRC PASS command expects it.
func ircToken(ts oauth2.TokenSource) (string, error) {
	tok, err := ts.Token()
	if err != nil {
		return "", err
	}
	return "oauth:" + tok.AccessToken, nil
}
