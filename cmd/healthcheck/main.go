// Command healthcheck probes the bot's /healthz endpoint and exits non-zero
// when it is unhealthy. It is used as the container HEALTHCHECK.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

func main() {
	url := os.Getenv("HEALTHCHECK_URL")
	if url == "" {
		url = "http://localhost:8080/healthz"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	os.Exit(probe(ctx, http.DefaultClient, url))
}

func probe(ctx context.Context, client *http.Client, url string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Error("bad healthcheck url", slog.String("url", url), slog.Any("err", err))
		return 1
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.Error("healthcheck request failed", slog.Any("err", err))
		return 1
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		slog.Error("unhealthy", slog.Int("status", resp.StatusCode))
		return 1
	}
	return 0
}
