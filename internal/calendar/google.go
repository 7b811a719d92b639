package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/wellness/internal/domain"
)

const eventOrigin = "wellness-scheduler"

// GoogleClient implements Client against the Google Calendar v3 REST API.
type GoogleClient struct {
	baseURL    string
	calendarID string
	httpClient *http.Client
	tokens     *TokenSource
}

// NewGoogleClient constructs a client with sane defaults.
func NewGoogleClient(baseURL, calendarID string, tokens *TokenSource) *GoogleClient {
	return &GoogleClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		calendarID: calendarID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		tokens:     tokens,
	}
}

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Create inserts an event. A replayed idempotency key returns the event
// created by the earlier attempt instead of booking a duplicate
// (check-then-create over a private extended property). A failed lookup
// fails the whole create: inserting blind could double-book an event whose
// first attempt succeeded remote-side.
func (c *GoogleClient) Create(ctx context.Context, event Event, idempotencyKey string) (string, error) {
	if idempotencyKey != "" {
		existing, err := c.findByIdempotencyKey(ctx, idempotencyKey, event.Start)
		if err != nil {
			return "", err
		}
		if existing != "" {
			return existing, nil
		}
	}

	body := map[string]any{
		"summary":     event.Title,
		"description": event.Description,
		"start":       eventTime{DateTime: event.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		"end":         eventTime{DateTime: event.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		"reminders":   map[string]any{"useDefault": true},
		"extendedProperties": map[string]any{
			"private": map[string]string{
				"origin":         eventOrigin,
				"idempotencyKey": idempotencyKey,
			},
		},
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, c.eventsURL(""), body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", &RemoteError{Op: "create", Detail: "provider returned no event id"}
	}
	return created.ID, nil
}

// Update patches the start/end of an existing event, preserving attendee and
// notification state on the remote side.
func (c *GoogleClient) Update(ctx context.Context, remoteEventID string, start, end time.Time) error {
	body := map[string]any{
		"start": eventTime{DateTime: start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		"end":   eventTime{DateTime: end.UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}
	return c.call(ctx, http.MethodPatch, c.eventsURL(remoteEventID), body, nil)
}

// Delete removes an event. An already-gone event is treated as success.
func (c *GoogleClient) Delete(ctx context.Context, remoteEventID string) error {
	err := c.call(ctx, http.MethodDelete, c.eventsURL(remoteEventID), nil, nil)
	var remote *RemoteError
	if errors.As(err, &remote) && (remote.Status == http.StatusNotFound || remote.Status == http.StatusGone) {
		return nil
	}
	return err
}

// ListFreeBusy returns the calendar's occupied intervals between from and to,
// normalised to UTC. Pages are followed until exhausted: a truncated listing
// would let the scheduler place activities into hidden busy time. All-day
// events are skipped.
func (c *GoogleClient) ListFreeBusy(ctx context.Context, from, to time.Time) ([]domain.BusyInterval, error) {
	var busy []domain.BusyInterval
	pageToken := ""
	for {
		query := url.Values{
			"timeMin":      {from.UTC().Format(time.RFC3339)},
			"timeMax":      {to.UTC().Format(time.RFC3339)},
			"singleEvents": {"true"},
			"orderBy":      {"startTime"},
			"maxResults":   {"250"},
		}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var payload struct {
			Items []struct {
				ID    string    `json:"id"`
				Start eventTime `json:"start"`
				End   eventTime `json:"end"`
			} `json:"items"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := c.call(ctx, http.MethodGet, c.eventsURL("")+"?"+query.Encode(), nil, &payload); err != nil {
			return nil, err
		}

		for _, item := range payload.Items {
			if item.Start.DateTime == "" || item.End.DateTime == "" {
				continue // all-day event
			}
			start, err := time.Parse(time.RFC3339, item.Start.DateTime)
			if err != nil {
				continue
			}
			end, err := time.Parse(time.RFC3339, item.End.DateTime)
			if err != nil {
				continue
			}
			busy = append(busy, domain.BusyInterval{
				Start:         start.UTC(),
				End:           end.UTC(),
				SourceEventID: item.ID,
			})
		}

		if payload.NextPageToken == "" {
			return busy, nil
		}
		pageToken = payload.NextPageToken
	}
}

// findByIdempotencyKey looks around the intended start for an event already
// carrying the key.
func (c *GoogleClient) findByIdempotencyKey(ctx context.Context, key string, around time.Time) (string, error) {
	query := url.Values{
		"privateExtendedProperty": {"idempotencyKey=" + key},
		"timeMin":                 {around.Add(-24 * time.Hour).UTC().Format(time.RFC3339)},
		"timeMax":                 {around.Add(24 * time.Hour).UTC().Format(time.RFC3339)},
		"singleEvents":            {"true"},
	}

	var payload struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, c.eventsURL("")+"?"+query.Encode(), nil, &payload); err != nil {
		return "", err
	}
	if len(payload.Items) == 0 {
		return "", nil
	}
	return payload.Items[0].ID, nil
}

func (c *GoogleClient) eventsURL(eventID string) string {
	base := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(c.calendarID))
	if eventID == "" {
		return base
	}
	return base + "/" + url.PathEscape(eventID)
}

func (c *GoogleClient) call(ctx context.Context, method, rawURL string, body, out any) error {
	op := strings.ToLower(method)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	bearer, err := c.tokens.Bearer(ctx)
	if err != nil {
		return &RemoteError{Op: op, Detail: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteError{Op: op, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &RemoteError{Op: op, Status: resp.StatusCode, Detail: string(detail)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
