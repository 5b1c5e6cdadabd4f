// Package httpapi is a row store that talks to the save server over HTTP.
// The user is implied by the bearer token, so row user ids are only used for
// logging.
package httpapi

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

	"savesync/core"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const savesPath = "/api/v1/saves"

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

// WithHTTPClient sets the transport the token is layered on.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithRateLimit caps outgoing requests, e.g. while a drain replays a backlog.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(cl *Client) {
		cl.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewClient returns a row store for the server at baseURL. Requests carry the
// token from ts.
func NewClient(baseURL string, ts oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, opt := range opts {
		opt(c)
	}

	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.http = &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: base},
		Timeout:   c.http.Timeout,
	}
	return c
}

// wireRow keeps the payload as raw JSON. Servers send it as base64 text and
// some proxies as a numeric array; remote.Store normalizes either.
type wireRow struct {
	core.SaveRow
	Data json.RawMessage `json:"data,omitempty"`
}

func (c *Client) Upsert(ctx context.Context, row *core.SaveRow) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal save row: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPut, c.slotURL(row.SlotName), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.check(resp, logrus.Fields{"user_id": row.UserID, "slot": row.SlotName})
}

// Get returns the payload as the raw JSON value the server sent.
func (c *Client) Get(ctx context.Context, userID, slot string) (*core.SaveRow, error) {
	resp, err := c.do(ctx, http.MethodGet, c.slotURL(slot), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.check(resp, logrus.Fields{"user_id": userID, "slot": slot}); err != nil {
		return nil, err
	}

	var w wireRow
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: failed to decode save row: %v", core.ErrRemoteUnavailable, err)
	}
	row := w.SaveRow
	row.Data = []byte(w.Data)
	return &row, nil
}

func (c *Client) List(ctx context.Context, userID string) ([]*core.SaveRow, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+savesPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.check(resp, logrus.Fields{"user_id": userID}); err != nil {
		return nil, err
	}

	rows := []*core.SaveRow{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: failed to decode save list: %v", core.ErrRemoteUnavailable, err)
	}
	for _, row := range rows {
		row.Data = nil
	}
	return rows, nil
}

func (c *Client) Delete(ctx context.Context, userID, slot string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.slotURL(slot), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.check(resp, logrus.Fields{"user_id": userID, "slot": slot})
}

func (c *Client) slotURL(slot string) string {
	return c.baseURL + savesPath + "/" + url.PathEscape(slot)
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrRemoteUnavailable, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The token source reports a missing sign-in through the transport.
		if errors.Is(err, core.ErrUnauthenticated) {
			return nil, core.ErrUnauthenticated
		}
		return nil, fmt.Errorf("%w: %v", core.ErrRemoteUnavailable, err)
	}
	return resp, nil
}

// check maps a response status onto the core sentinels.
func (c *Client) check(resp *http.Response, fields logrus.Fields) error {
	if resp.StatusCode < 300 {
		return nil
	}

	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	logrus.WithFields(fields).WithFields(logrus.Fields{
		"status": resp.StatusCode,
		"error":  body.Error,
	}).Debug("Save server rejected request")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.ErrUnauthenticated
	case resp.StatusCode == http.StatusNotFound:
		return core.ErrNotFound
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return core.ErrQuotaExceeded
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", core.ErrInvalidSlot, body.Error)
	default:
		return fmt.Errorf("%w: server returned %d", core.ErrRemoteUnavailable, resp.StatusCode)
	}
}
