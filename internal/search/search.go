// Package search queries the Serper web search API.
package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raevmood/devicefinder/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	defaultNumResults = 10
	maxResponseBytes  = 2 << 20
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("search: api key not configured")

// Query is one web search.
type Query struct {
	Text string
	// Location is appended to the query text and selects the country code.
	Location string
	Num      int
}

// Result is one organic search hit.
type Result struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

// Client calls the Serper search endpoint.
type Client struct {
	baseURL string
	apiKey  string
	numDef  int
	http    *http.Client
}

// NewClient constructs a Client from cfg. A nil httpClient gets one with
// cfg.Timeout.
func NewClient(cfg config.SearchConfig, httpClient *http.Client) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultSearchTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = config.DefaultSearchURL
	}
	num := cfg.NumResults
	if num <= 0 {
		num = defaultNumResults
	}
	return &Client{baseURL: baseURL, apiKey: strings.TrimSpace(cfg.APIKey), numDef: num, http: httpClient}
}

// Enabled reports whether the client has credentials.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Search runs q and returns its organic results.
func (c *Client) Search(ctx context.Context, q Query) ([]Result, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	if ctx == nil {
		ctx = context.Background()
	}
	text := strings.TrimSpace(q.Text)
	if location := strings.TrimSpace(q.Location); location != "" {
		text = text + " " + location
	}
	num := q.Num
	if num <= 0 {
		num = c.numDef
	}

	body, errBody := requestBody(text, num, CountryCode(q.Location))
	if errBody != nil {
		return nil, fmt.Errorf("search: build body: %w", errBody)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if errReq != nil {
		return nil, fmt.Errorf("search: build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	started := time.Now()
	resp, errDo := c.http.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("search: request failed: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("search: close response body failed")
		}
	}()
	data, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return nil, fmt.Errorf("search: read response: %w", errRead)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("search: unexpected status %d", resp.StatusCode)
	}

	organic := gjson.GetBytes(data, "organic").Array()
	results := make([]Result, 0, len(organic))
	for _, item := range organic {
		results = append(results, Result{
			Title:    item.Get("title").String(),
			Link:     item.Get("link").String(),
			Snippet:  item.Get("snippet").String(),
			Position: int(item.Get("position").Int()),
		})
	}
	log.WithFields(log.Fields{
		"results": len(results),
		"elapsed": time.Since(started).String(),
	}).Debug("search: completed")
	return results, nil
}

// DeviceQuery describes a product search.
type DeviceQuery struct {
	Category       string
	Specifications string
	Location       string
	// PriceRange is free text such as "under 50000 KES".
	PriceRange string
	Num        int
}

// SearchDevices builds a shopping query and runs it.
func (c *Client) SearchDevices(ctx context.Context, q DeviceQuery) ([]Result, error) {
	parts := []string{q.Category, q.Specifications}
	if strings.TrimSpace(q.PriceRange) != "" {
		parts = append(parts, q.PriceRange)
	}
	parts = append(parts, "buy", "price")
	return c.Search(ctx, Query{Text: joinNonEmpty(parts), Location: q.Location, Num: q.Num})
}

// countryCodes maps location names to Google country codes, checked in order.
var countryCodes = []struct {
	name string
	code string
}{
	{"kenya", "ke"},
	{"nairobi", "ke"},
	{"uganda", "ug"},
	{"tanzania", "tz"},
}

// CountryCode returns the country code for location, or "".
func CountryCode(location string) string {
	lower := strings.ToLower(location)
	for _, entry := range countryCodes {
		if strings.Contains(lower, entry.name) {
			return entry.code
		}
	}
	return ""
}

// FormatResults renders results as a numbered list for prompts.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   URL: %s\n   %s\n", i+1, orDefault(r.Title, "No title"), orDefault(r.Link, "No link"), orDefault(r.Snippet, "No snippet"))
	}
	return sb.String()
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func joinNonEmpty(parts []string) string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, " ")
}

func requestBody(text string, num int, gl string) (body []byte, err error) {
	body = []byte(`{}`)
	set := func(path string, value any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}
	set("q", text)
	set("num", num)
	if gl != "" {
		set("gl", gl)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}
