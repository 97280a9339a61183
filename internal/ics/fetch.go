package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	appLog "taskprinter/internal/log"
)

// maxFeedBytes bounds a downloaded calendar.
const maxFeedBytes = 4 << 20

// Fetcher downloads remote calendars for import.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client}
}

// Fetch downloads the calendar at rawURL. webcal:// is treated as https://.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid calendar URL: %w", err)
	}
	switch u.Scheme {
	case "webcal":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported calendar URL scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar")

	appLog.Info("ics fetch start", "url", redactURL(u))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("calendar fetch failed: " + resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxFeedBytes {
		return nil, fmt.Errorf("calendar larger than %d bytes", maxFeedBytes)
	}

	appLog.Info("ics fetch success", "url", redactURL(u), "bytes", len(body))
	return body, nil
}

// redactURL keeps scheme and host; private feed URLs carry tokens in the
// path or query.
func redactURL(u *url.URL) string {
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
