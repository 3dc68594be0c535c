// Package turing is a client for the Turing chatbot API that fails over
// across several API keys when the current key runs out of daily quota.
package turing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/danmaku-reactor/telemetry"
)

const (
	// DefaultAPIURL is the public v2 endpoint.
	DefaultAPIURL = "http://openapi.tuling123.com/openapi/api/v2"

	// DefaultRequestFormat is the request body template. The question text,
	// API key and user id are filled in per request.
	DefaultRequestFormat = `{"reqType":0,"perception":{"inputText":{"text":""}},"userInfo":{"apiKey":"","userId":""}}`

	// QuotaExceededCode is the intent code returned once a key's daily quota is used up.
	QuotaExceededCode = 4003
)

var (
	// ErrExhausted means every key hit its quota within the current budget window.
	ErrExhausted = errors.New("turing: all api keys exhausted")
	// ErrDisabled is returned by Ask when the gateway is switched off.
	ErrDisabled = errors.New("turing: disabled")
	// ErrRequest wraps transport, status and decoding failures.
	ErrRequest = errors.New("turing: request failed")
)

// Config configures a Gateway.
type Config struct {
	APIURL        string
	Keys          []string
	RequestFormat string
	Enabled       bool
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Gateway asks questions using the current key and rotates to the next one
// on quota exhaustion. The retry budget equals the number of keys.
type Gateway struct {
	HTTPClient *http.Client

	apiURL   string
	keys     []string
	template []byte
	timeout  time.Duration

	mu         sync.Mutex
	enabled    bool
	current    int
	retryCount int
}

// State is a snapshot of the rotation state.
type State struct {
	Enabled     bool `json:"enabled"`
	Keys        int  `json:"keys"`
	Current     int  `json:"current_index"`
	RetryCount  int  `json:"retry_count"`
	RetryBudget int  `json:"retry_budget"`
	Exhausted   bool `json:"exhausted"`
}

// New validates cfg and returns a Gateway starting at the first key.
func New(cfg Config) (*Gateway, error) {
	keys := make([]string, 0, len(cfg.Keys))
	for _, k := range cfg.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("turing: at least one api key required")
	}
	format := cfg.RequestFormat
	if strings.TrimSpace(format) == "" {
		format = DefaultRequestFormat
	}
	var probe map[string]any
	if err := json.Unmarshal([]byte(format), &probe); err != nil {
		return nil, fmt.Errorf("turing: invalid request format: %w", err)
	}
	url := cfg.APIURL
	if url == "" {
		url = DefaultAPIURL
	}
	return &Gateway{
		HTTPClient: cfg.HTTPClient,
		apiURL:     url,
		keys:       keys,
		template:   []byte(format),
		timeout:    cfg.Timeout,
		enabled:    cfg.Enabled,
	}, nil
}

func (g *Gateway) http() *http.Client {
	if g.HTTPClient != nil {
		return g.HTTPClient
	}
	return http.DefaultClient
}

// SetEnabled switches the gateway on or off.
func (g *Gateway) SetEnabled(enabled bool) {
	g.mu.Lock()
	g.enabled = enabled
	g.mu.Unlock()
}

// ResetRetryBudget clears the retry counter. The current key is kept.
func (g *Gateway) ResetRetryBudget() {
	g.mu.Lock()
	g.retryCount = 0
	g.mu.Unlock()
}

// State returns the current rotation state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		Enabled:     g.enabled,
		Keys:        len(g.keys),
		Current:     g.current,
		RetryCount:  g.retryCount,
		RetryBudget: len(g.keys),
		Exhausted:   g.retryCount >= len(g.keys),
	}
}

// Ask sends text on behalf of userID and returns the reply.
//
// A quota-exceeded answer advances to the next key (wrapping) and retries
// the same question until the retry budget is spent, after which ErrExhausted
// is returned. Any other answer resets the budget. Transport failures are
// returned wrapped in ErrRequest and do not rotate keys.
func (g *Gateway) Ask(ctx context.Context, text, userID string) (string, error) {
	log := telemetry.LoggerWithCorr(ctx)
	for {
		g.mu.Lock()
		if !g.enabled {
			g.mu.Unlock()
			return "", ErrDisabled
		}
		if g.retryCount >= len(g.keys) {
			g.mu.Unlock()
			telemetry.RecordExhausted()
			log.Warn("turing keys exhausted", slog.Int("budget", len(g.keys)))
			return "", ErrExhausted
		}
		idx := g.current
		key := g.keys[idx]
		g.mu.Unlock()

		var (
			ans answer
			err error
		)
		spanCtx, span := telemetry.StartSpan(ctx, "turing", "turing.ask", telemetry.KeyIndexAttr(idx))
		telemetry.TimeFunc(telemetry.TuringDuration, func() {
			ans, err = g.do(spanCtx, key, text, userID)
		})
		if err != nil {
			telemetry.EndSpan(span, err)
			telemetry.RecordTuringRequest("error")
			return "", err
		}
		span.SetAttributes(telemetry.IntentCodeAttr(ans.Intent.Code))
		telemetry.EndSpan(span, nil)

		g.mu.Lock()
		if ans.Intent.Code == QuotaExceededCode {
			g.current = (idx + 1) % len(g.keys)
			g.retryCount++
			next := g.current
			g.mu.Unlock()
			telemetry.RecordTuringRequest("quota_exceeded")
			telemetry.RecordRotation()
			log.Warn("turing key quota exceeded; rotating",
				slog.Int("key_index", idx), slog.Int("next_index", next))
			continue
		}
		g.retryCount = 0
		g.mu.Unlock()

		if len(ans.Results) == 0 {
			telemetry.RecordTuringRequest("empty")
			return "", fmt.Errorf("%w: no results (code %d)", ErrRequest, ans.Intent.Code)
		}
		telemetry.RecordTuringRequest("ok")
		reply := ans.Results[0].Values.Text
		log.Debug("turing answered", slog.String("user_id", userID), slog.Int("code", ans.Intent.Code))
		return reply, nil
	}
}

type answer struct {
	Intent struct {
		Code int `json:"code"`
	} `json:"intent"`
	Results []struct {
		ResultType string `json:"resultType"`
		Values     struct {
			Text string `json:"text"`
		} `json:"values"`
	} `json:"results"`
}

func (g *Gateway) do(ctx context.Context, key, text, userID string) (answer, error) {
	var ans answer
	body, err := g.buildRequest(key, text, userID)
	if err != nil {
		return ans, err
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewReader(body))
	if err != nil {
		return ans, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.http().Do(req)
	if err != nil {
		return ans, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ans, fmt.Errorf("%w: status %d: %s", ErrRequest, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&ans); err != nil {
		return ans, fmt.Errorf("%w: decode: %w", ErrRequest, err)
	}
	return ans, nil
}

// buildRequest fills a fresh copy of the template.
func (g *Gateway) buildRequest(key, text, userID string) ([]byte, error) {
	var body map[string]any
	if err := json.Unmarshal(g.template, &body); err != nil {
		return nil, fmt.Errorf("%w: template: %v", ErrRequest, err)
	}
	setPath(body, text, "perception", "inputText", "text")
	setPath(body, key, "userInfo", "apiKey")
	setPath(body, userID, "userInfo", "userId")
	return json.Marshal(body)
}

// setPath assigns v at the nested key path, creating objects as needed.
func setPath(m map[string]any, v any, path ...string) {
	for _, k := range path[:len(path)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}
