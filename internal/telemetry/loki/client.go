// Package loki ships security alerts to Grafana Loki through the v1 push API.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ledgerguard/backend/internal/telemetry/domain"
)

const pushPath = "/loki/api/v1/push"

// ErrNoURL is returned by New when no Loki base URL is configured.
var ErrNoURL = errors.New("loki: base URL is empty")

type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Labels map[string]string `json:"stream"`
	Values [][2]string       `json:"values"` // [unix_ns, line]
}

var invalidLabelChars = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// Client pushes lines to one Loki instance under a fixed job label.
type Client struct {
	pushURL string
	job     string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 10s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithJob sets the job label attached to every stream. Default "ledgerguard".
func WithJob(job string) Option {
	return func(c *Client) {
		if job != "" {
			c.job = job
		}
	}
}

// New returns a client for baseURL (e.g. http://localhost:3100).
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, ErrNoURL
	}
	c := &Client{
		pushURL: strings.TrimSuffix(baseURL, "/") + pushPath,
		job:     "ledgerguard",
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// PushAlert pushes one alert as it arrived from Kafka. The raw bytes are the log line.
// Type, severity and tier become labels and createdAt the entry time; user ids stay
// in the line so stream cardinality stays bounded. A value that does not decode is
// still pushed, stamped with the current time.
func (c *Client) PushAlert(ctx context.Context, raw []byte) error {
	labels := map[string]string{}
	ts := time.Now().UTC()
	var a domain.SecurityAlert
	if err := json.Unmarshal(raw, &a); err == nil {
		labels["alert_type"] = a.Type
		labels["severity"] = string(a.Severity)
		labels["tier"] = a.Tier
		if !a.CreatedAt.IsZero() {
			ts = a.CreatedAt
		}
	}
	return c.Push(ctx, ts, string(raw), labels)
}

// Push sends a single line. Empty label values are dropped and the rest are sanitized.
func (c *Client) Push(ctx context.Context, at time.Time, line string, labels map[string]string) error {
	set := map[string]string{"job": c.job}
	for k, v := range labels {
		if v = invalidLabelChars.ReplaceAllString(strings.TrimSpace(v), "_"); v != "" {
			set[k] = v
		}
	}
	payload, err := json.Marshal(pushRequest{Streams: []stream{{
		Labels: set,
		Values: [][2]string{{strconv.FormatInt(at.UnixNano(), 10), line}},
	}}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pushURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("loki: push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
