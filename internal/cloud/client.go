// Package cloud reconciles locally learned prices with the community
// aggregation service: an uplink loop drains the submission outbox and a
// downlink loop mirrors the aggregated price tables. Everything here is
// offline-tolerant; the tracker works fully without it.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"ti-tracker/internal/db"
)

// pageSize is the remote's hard row cap per request. Responses are
// silently truncated at this size, so every fetch paginates explicitly
// until a short page arrives.
const pageSize = 1000

// submissionsPerHour is the remote-enforced per-device budget. The client
// stays under it instead of burning 429s.
const submissionsPerHour = 100

// Client is a thin JSON client for the aggregation service. Auth is a
// static anonymous key; nothing per-user is sent besides the device UUID.
type Client struct {
	base    string
	anonKey string
	http    *http.Client
}

func NewClient(baseURL, anonKey string) *Client {
	return &Client{
		base:    baseURL,
		anonKey: anonKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Submission is one uploaded price observation.
type Submission struct {
	DeviceID     string    `json:"device_id"`
	ConfigBaseID int64     `json:"config_base_id"`
	Price        float64   `json:"price"`
	SeasonID     int       `json:"season_id"`
	ObservedAt   time.Time `json:"observed_at"`
}

// APIError is a non-2xx response from the remote.
type APIError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud: HTTP %d: %s", e.Status, e.Body)
}

// Retryable reports whether the failure is worth another attempt: network
// errors and server-side trouble are, client mistakes are not. 429 is the
// one 4xx that means "later", not "never".
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	// Anything that never produced a status line is a transport failure.
	return err != nil
}

// SubmitPrice uploads one learned price.
func (c *Client) SubmitPrice(ctx context.Context, s Submission) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/prices/submit", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// cloudPriceRow is the remote's aggregated price shape.
type cloudPriceRow struct {
	ConfigBaseID int64     `json:"config_base_id"`
	Median       float64   `json:"median"`
	P10          float64   `json:"p10"`
	P90          float64   `json:"p90"`
	Contributors int       `json:"contributor_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FetchSeasonPrices downloads the full aggregated price set for a season,
// paginating past the row cap.
func (c *Client) FetchSeasonPrices(ctx context.Context, seasonID int) ([]db.CloudPrice, error) {
	var out []db.CloudPrice
	for offset := 0; ; offset += pageSize {
		req, err := c.newRequest(ctx, http.MethodGet,
			fmt.Sprintf("/prices?season_id=%d&offset=%d&limit=%d", seasonID, offset, pageSize), nil)
		if err != nil {
			return nil, err
		}
		var page []cloudPriceRow
		if err := c.do(req, &page); err != nil {
			return nil, err
		}
		for _, r := range page {
			out = append(out, db.CloudPrice{
				SeasonID:     seasonID,
				ConfigBaseID: r.ConfigBaseID,
				Median:       r.Median,
				P10:          r.P10,
				P90:          r.P90,
				Contributors: r.Contributors,
				UpdatedAt:    r.UpdatedAt,
			})
		}
		if len(page) < pageSize {
			return out, nil
		}
	}
}

// historyRow is one hourly aggregate bucket from the remote.
type historyRow struct {
	HourTS      time.Time `json:"hour_ts"`
	Median      float64   `json:"median"`
	P10         float64   `json:"p10"`
	P90         float64   `json:"p90"`
	Submissions int       `json:"submission_count"`
	Devices     int       `json:"device_count"`
}

// FetchHistory downloads hourly price history for one item from a cutoff,
// paginating like FetchSeasonPrices.
func (c *Client) FetchHistory(ctx context.Context, configBaseID int64, since time.Time) ([]db.HistoryPoint, error) {
	var out []db.HistoryPoint
	for offset := 0; ; offset += pageSize {
		req, err := c.newRequest(ctx, http.MethodGet,
			fmt.Sprintf("/prices/%d/history?since=%s&offset=%d&limit=%d",
				configBaseID, since.UTC().Format(time.RFC3339), offset, pageSize), nil)
		if err != nil {
			return nil, err
		}
		var page []historyRow
		if err := c.do(req, &page); err != nil {
			return nil, err
		}
		for _, r := range page {
			out = append(out, db.HistoryPoint{
				HourTS:      r.HourTS,
				Median:      r.Median,
				P10:         r.P10,
				P90:         r.P90,
				Submissions: r.Submissions,
				Devices:     r.Devices,
			})
		}
		if len(page) < pageSize {
			return out, nil
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.anonKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ti-tracker/1.0")
	return req, nil
}

func (c *Client) do(req *http.Request, dst interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				apiErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return apiErr
	}
	if dst == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
