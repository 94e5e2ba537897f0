// Package explorer is the block explorer client (C5): a rate-limited
// pager over a WhatsOnChain-shaped "confirmed history" endpoint used to
// backfill historical transactions for a newly registered address.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/bsv-watch/address-tracker/internal/errs"
)

const defaultPageSize = 100

// HistoryEntry is one row of a confirmed-history page.
type HistoryEntry struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
	Time   int64  `json:"time"`
}

type historyPage struct {
	Result        []HistoryEntry `json:"result"`
	NextPageToken string         `json:"nextPageToken"`
}

// Client pages a block explorer's confirmed-history endpoint under a
// strict 1-concurrent rate limit (spec.md §4.5).
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	http     *http.Client
	limiter  *rate.Limiter
	log      *logrus.Logger
}

// New constructs a Client. rateLimit is the minimum interval between
// requests (WOC_RATE_LIMIT_MS); requestTimeout bounds each individual
// HTTP call.
func New(baseURL, apiKey string, rateLimit, requestTimeout time.Duration, pageSize int, log *logrus.Logger) *Client {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		pageSize: pageSize,
		http:     &http.Client{Timeout: requestTimeout},
		limiter:  rate.NewLimiter(rate.Every(rateLimit), 1),
		log:      log,
	}
}

// fetchPage performs a single rate-limited GET for one page of history.
func (c *Client) fetchPage(ctx context.Context, addr, token string) (*historyPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter wait cancelled", errs.ErrUpstreamError)
	}

	u := fmt.Sprintf("%s/address/%s/confirmed/history", c.baseURL, url.PathEscape(addr))
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request", errs.ErrUpstreamError)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.ErrUpstreamError
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &historyPage{}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, errs.ErrUpstreamError
	}

	var page historyPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decode response", errs.ErrUpstreamError)
	}
	return &page, nil
}

// Paginate loops fetchPage until the result is empty, no next page token
// is returned, a page comes back short of the configured page size, or
// maxTx entries have been collected, trimming the final page to exactly
// maxTx (spec.md §4.5).
func (c *Client) Paginate(ctx context.Context, addr string, maxTx int) ([]HistoryEntry, error) {
	var out []HistoryEntry
	token := ""
	for {
		page, err := c.fetchPage(ctx, addr, token)
		if err != nil {
			return out, err
		}
		if len(page.Result) == 0 {
			break
		}
		out = append(out, page.Result...)
		if len(out) >= maxTx {
			out = out[:maxTx]
			break
		}
		if page.NextPageToken == "" {
			break
		}
		if len(page.Result) < c.pageSize {
			break
		}
		token = page.NextPageToken
	}
	return out, nil
}
