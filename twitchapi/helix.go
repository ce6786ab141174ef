// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user id resolution and live stream lookup, using an app access token.
package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
)

const (
	defaultHelixURL = "https://api.twitch.tv/helix"
	helixMaxRetries = 3
)

// helixRetryBackoff is the base delay between retried Helix calls.
var helixRetryBackoff = 500 * time.Millisecond

var (
	// ErrUserNotFound is returned when a login does not resolve to a Twitch user.
	ErrUserNotFound = errors.New("user not found")
	// ErrMalformedResponse wraps bodies that could not be decoded.
	ErrMalformedResponse = errors.New("malformed helix response")
)

// StatusError is a non-retryable (or retry-exhausted) HTTP status from Helix.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helix status %d: %s", e.Code, e.Body)
}

// HelixClient provides the Helix calls needed for liveness checks.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// BaseURL overrides the Helix root (tests).
	BaseURL string
}

// Stream is the subset of a Helix stream object we use.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	GameName    string    `json:"game_name"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultHelixURL
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("login", login)
	var body struct {
		Data []struct {
			ID    string `json:"id"`
			Login string `json:"login"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/users", q, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", ErrUserNotFound
	}
	return body.Data[0].ID, nil
}

// GetStreams returns the live streams of a user; empty when offline.
func (hc *HelixClient) GetStreams(ctx context.Context, userID string) ([]Stream, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	q := url.Values{}
	q.Set("user_id", userID)
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/streams", q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// get performs an authenticated GET, retrying 5xx/429 up to helixMaxRetries
// times and refreshing the app token once on 401.
func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	maxAttempts := helixMaxRetries
	refreshed := false
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 && lastErr != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(helixRetryBackoff * time.Duration(attempt)):
			}
		}
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+path, nil)
		if err != nil {
			return err
		}
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		status := resp.StatusCode
		switch {
		case status == http.StatusUnauthorized && !refreshed:
			drain(resp)
			hc.AppTokenSource.Invalidate()
			refreshed = true
			maxAttempts++
			lastErr = nil
			continue
		case status >= 500 || status == http.StatusTooManyRequests:
			b := drain(resp)
			lastErr = &StatusError{Code: status, Body: b}
			slog.Debug("helix retryable status", slog.String("path", path), slog.Int("status", status), slog.Int("attempt", attempt+1))
			continue
		case status < 200 || status > 299:
			return &StatusError{Code: status, Body: drain(resp)}
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		closeBody(resp)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return nil
	}
	return lastErr
}

func drain(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	closeBody(resp)
	return string(b)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
