// Package calendar pushes claim reminders to an external calendar service.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const eventsPath = "/events"

// Event is one calendar entry. ExternalKey is the caller's stable identity
// for the entry; re-upserting the same key must not duplicate it server-side.
type Event struct {
	ExternalKey string    `json:"externalKey"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
}

// Sink receives calendar mutations.
type Sink interface {
	// UpsertEvent creates the event when eventID is empty, otherwise updates
	// the existing entry. Returns the service-side event id.
	UpsertEvent(ctx context.Context, eventID string, event Event) (string, error)
	// DeleteEvent removes an entry. Deleting an already-removed entry is not
	// an error.
	DeleteEvent(ctx context.Context, eventID string) error
}

// Options parameterise the calendar client.
type Options struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the calendar REST API.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a calendar client.
func NewClient(opts Options, logger zerolog.Logger) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("calendar base url is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "calendar").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}, nil
}

// UpsertEvent creates or updates a calendar entry.
func (c *Client) UpsertEvent(ctx context.Context, eventID string, event Event) (string, error) {
	if event.ExternalKey == "" {
		return "", fmt.Errorf("event external key is required")
	}

	method := http.MethodPost
	endpoint := c.baseURL + eventsPath
	if eventID != "" {
		method = http.MethodPut
		endpoint = c.baseURL + eventsPath + "/" + url.PathEscape(eventID)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return "", err
	}

	payload, status, err := c.do(ctx, method, endpoint, body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", parseCalendarError(status, payload)
	}

	var res eventResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return "", fmt.Errorf("decode calendar response: %w", err)
	}
	if res.ID == "" {
		res.ID = eventID
	}
	if res.ID == "" {
		return "", fmt.Errorf("calendar returned no event id")
	}

	c.logger.Debug().Str("event_id", res.ID).Str("external_key", event.ExternalKey).Str("method", method).Msg("calendar event upserted")
	return res.ID, nil
}

// DeleteEvent removes a calendar entry. A 404 means the entry is already
// gone and counts as success, so cleanup sweeps can re-run safely.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}

	endpoint := c.baseURL + eventsPath + "/" + url.PathEscape(eventID)
	payload, status, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return parseCalendarError(status, payload)
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "defiadvisor/1.0")
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return payload, resp.StatusCode, nil
}

type eventResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseCalendarError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("calendar api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("calendar api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("calendar api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("calendar api error (%d)", status)
}

var _ Sink = (*Client)(nil)

// Noop discards calendar mutations; used when no calendar service is
// configured and in dry runs.
type Noop struct{}

// UpsertEvent returns the passed id unchanged, or a placeholder on create.
func (Noop) UpsertEvent(_ context.Context, eventID string, _ Event) (string, error) {
	if eventID != "" {
		return eventID, nil
	}
	return "noop", nil
}

// DeleteEvent does nothing.
func (Noop) DeleteEvent(context.Context, string) error { return nil }

var _ Sink = Noop{}
