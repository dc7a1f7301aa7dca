// Package marketdata supplies daily bars: a REST client for polling and
// history, a websocket stream for live updates, and a hybrid source that
// serves from the stream's cache when it is fresh and falls back to REST.
package marketdata

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

	"anomaly-trader/internal/model"
)

// RESTConfig configures the polling client.
type RESTConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // default 10s
}

// REST fetches bars over HTTP. Failures wrap model.ErrNotAvailable so the
// orchestrator's retry policy applies. Implements model.MarketDataSource.
type REST struct {
	cfg        RESTConfig
	httpClient *http.Client
}

// NewREST builds the client.
func NewREST(cfg RESTConfig) *REST {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &REST{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// wireBar is the provider's JSON bar shape.
type wireBar struct {
	Symbol string  `json:"symbol"`
	TS     int64   `json:"ts"` // unix seconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

func (w wireBar) bar() model.Bar {
	return model.Bar{
		Symbol: w.Symbol,
		TS:     time.Unix(w.TS, 0).UTC(),
		Open:   w.Open,
		High:   w.High,
		Low:    w.Low,
		Close:  w.Close,
		Volume: w.Volume,
	}
}

// LatestBar returns the most recent daily bar for symbol.
func (r *REST) LatestBar(ctx context.Context, symbol string) (model.Bar, error) {
	q := url.Values{"symbol": {symbol}}
	var wb wireBar
	if err := r.get(ctx, "/v1/bars/latest", q, &wb); err != nil {
		return model.Bar{}, err
	}
	if wb.Symbol == "" {
		wb.Symbol = symbol
	}
	return wb.bar(), nil
}

// HistoricalBars returns daily bars in [start, end], ascending.
func (r *REST) HistoricalBars(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	q := url.Values{
		"symbol": {symbol},
		"start":  {strconv.FormatInt(start.Unix(), 10)},
		"end":    {strconv.FormatInt(end.Unix(), 10)},
	}
	var resp struct {
		Bars []wireBar `json:"bars"`
	}
	if err := r.get(ctx, "/v1/bars", q, &resp); err != nil {
		return nil, err
	}
	bars := make([]model.Bar, 0, len(resp.Bars))
	for _, wb := range resp.Bars {
		if wb.Symbol == "" {
			wb.Symbol = symbol
		}
		bars = append(bars, wb.bar())
	}
	return bars, nil
}

func (r *REST) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", r.cfg.APIKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrNotAvailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s returned %d: %s",
			model.ErrNotAvailable, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", model.ErrNotAvailable, path, err)
	}
	return nil
}
