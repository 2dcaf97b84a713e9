package fitbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.fitbit.com"
	dateLayout     = "2006-01-02"

	// Fitbit allows 150 requests per hour per user.
	requestsPerHour = 150
)

// ErrUnauthorized indicates an expired or revoked access token.
var ErrUnauthorized = errors.New("fitbit: unauthorized")

// API reads the subset of the Fitbit Web API the agent's tools consume.
// Dates use the YYYY-MM-DD layout in the user's local timezone.
type API interface {
	HeartRateByDate(ctx context.Context, date string) (*HeartRateData, error)
	ActiveZoneMinutesByDate(ctx context.Context, date string) (*ActiveZoneMinutesData, error)
	SleepLogByDate(ctx context.Context, date string) (*SleepLogData, error)
	ActivitySummaryByDate(ctx context.Context, date string) (*DailyActivitySummary, error)
}

// Config holds the settings for a Client.
type Config struct {
	// BaseURL overrides the Fitbit API endpoint, mainly for tests.
	BaseURL string
	// AccessToken is a static bearer token. Ignored when TokenSource is set.
	AccessToken string
	// TokenSource supplies refreshed OAuth2 tokens.
	TokenSource oauth2.TokenSource
	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration
}

// Client talks to the Fitbit Web API with a shared rate limit.
type Client struct {
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient builds a Client from cfg. A static access token is wrapped in a
// token source so both credential styles go through the oauth2 transport.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ts := cfg.TokenSource
	if ts == nil {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
	}
	httpc := oauth2.NewClient(context.Background(), ts)
	httpc.Timeout = timeout

	return &Client{
		baseURL: base,
		httpc:   httpc,
		limiter: rate.NewLimiter(rate.Every(time.Hour/requestsPerHour), requestsPerHour),
		log:     log.With().Str("component", "fitbit").Logger(),
	}
}

// HeartRateByDate returns resting heart rate and the 1-minute intraday
// series for the given day.
func (c *Client) HeartRateByDate(ctx context.Context, date string) (*HeartRateData, error) {
	var out HeartRateData
	path := fmt.Sprintf("/1/user/-/activities/heart/date/%s/1d/1min.json", date)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActiveZoneMinutesByDate returns the active zone minutes for the given day.
func (c *Client) ActiveZoneMinutesByDate(ctx context.Context, date string) (*ActiveZoneMinutesData, error) {
	var out ActiveZoneMinutesData
	path := fmt.Sprintf("/1/user/-/activities/active-zone-minutes/date/%s/1d.json", date)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SleepLogByDate returns the sleep log for the given day.
func (c *Client) SleepLogByDate(ctx context.Context, date string) (*SleepLogData, error) {
	var out SleepLogData
	path := fmt.Sprintf("/1.2/user/-/sleep/date/%s.json", date)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActivitySummaryByDate returns logged activities and daily totals.
func (c *Client) ActivitySummaryByDate(ctx context.Context, date string) (*DailyActivitySummary, error) {
	var out DailyActivitySummary
	path := fmt.Sprintf("/1/user/-/activities/date/%s.json", date)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := time.Parse(dateLayout, datePart(path)); err != nil {
		return fmt.Errorf("fitbit: invalid date in %q: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("fitbit: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("fitbit request")

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fitbit: %s returned %d: %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("fitbit: decode %s: %w", path, err)
	}
	return nil
}

// datePart extracts the YYYY-MM-DD segment that follows "/date/" in a path.
func datePart(path string) string {
	const marker = "/date/"
	for i := 0; i+len(marker) <= len(path); i++ {
		if path[i:i+len(marker)] == marker {
			rest := path[i+len(marker):]
			if len(rest) >= len(dateLayout) {
				return rest[:len(dateLayout)]
			}
			return rest
		}
	}
	return ""
}
