package tickets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ticketdesk/reportd/internal/config"
)

const maxErrorBody = 4 << 10

// Client queries the ticket service over HTTP.
type Client struct {
	baseURL   string
	apiKey    string
	pageLimit int
	http      *http.Client
	now       func() time.Time
}

// NewClient creates a client for the configured ticket service.
func NewClient(cfg config.TicketsConfig) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		pageLimit: cfg.PageLimit,
		http:      &http.Client{Timeout: cfg.Timeout},
		now:       time.Now,
	}
}

// Query returns the company's tickets matching the service-side filters.
// Filters.Expression is not applied here.
func (c *Client) Query(ctx context.Context, companyID int64, f Filters) ([]Ticket, error) {
	params := url.Values{}
	params.Set("company_id", strconv.FormatInt(companyID, 10))
	if f.Status != "" {
		params.Set("status", f.Status)
	}
	if f.Category != "" {
		params.Set("category", f.Category)
	}
	if f.DateRangeDays > 0 {
		start := c.now().UTC().AddDate(0, 0, -f.DateRangeDays)
		params.Set("date_start", start.Format("2006-01-02"))
	}
	if c.pageLimit > 0 {
		params.Set("limit", strconv.Itoa(c.pageLimit))
	}

	var out []Ticket
	if err := c.get(ctx, "/tickets?"+params.Encode(), &out); err != nil {
		return nil, fmt.Errorf("querying tickets: %w", err)
	}
	if out == nil {
		out = []Ticket{}
	}
	return out, nil
}

// CompanyName resolves a company id to its display name.
func (c *Client) CompanyName(ctx context.Context, companyID int64) (string, error) {
	var company Company
	if err := c.get(ctx, "/companies/"+strconv.FormatInt(companyID, 10), &company); err != nil {
		return "", fmt.Errorf("looking up company %d: %w", companyID, err)
	}
	return company.Name, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	serr := &StatusError{StatusCode: resp.StatusCode}
	if json.Unmarshal(body, &payload) == nil {
		switch d := payload.Detail.(type) {
		case string:
			serr.Detail = d
		case nil:
			serr.Detail = payload.Error
		default:
			if b, err := json.Marshal(d); err == nil {
				serr.Detail = string(b)
			}
		}
	}
	if serr.Detail == "" {
		serr.Detail = strings.TrimSpace(string(body))
	}
	return serr
}
