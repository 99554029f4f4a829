// Package pricing polls an external market-data API for the USD prices the
// profitability math depends on. The engine never mutates executor state
// itself: it emits updates on a channel the manager drains from its own
// event loop, keeping all state mutation serialized.
package pricing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/xexd/xexd/pkg/log"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRetryCount = 2
)

// Update is one observed USD price for an asset ticker.
type Update struct {
	Ticker   string
	PriceUsd float64
}

// Engine polls the oracle for a fixed set of assets. A failed poll keeps the
// last known prices; downstream math continues on stale values while the
// outage is surfaced through the error hook.
type Engine struct {
	client   *resty.Client
	interval time.Duration
	// oracle asset id per ticker, e.g. "ROC" -> "rococo"
	oracleIDs map[string]string
	logger    log.Logger

	updates chan Update
	// onError is invoked once per failed poll, wired to a metrics counter.
	onError func()

	mu   sync.RWMutex
	last map[string]float64
}

// NewEngine creates a pricing engine polling baseURL every interval for the
// given tickers. onError may be nil.
func NewEngine(baseURL string, interval time.Duration, oracleIDs map[string]string, logger log.Logger, onError func()) *Engine {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetRetryCount(defaultRetryCount)

	if onError == nil {
		onError = func() {}
	}

	return &Engine{
		client:    client,
		interval:  interval,
		oracleIDs: oracleIDs,
		logger:    logger,
		updates:   make(chan Update, 64),
		onError:   onError,
		last:      make(map[string]float64),
	}
}

// Updates returns the channel price observations are emitted on.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

// Last returns the last known USD price for a ticker.
func (e *Engine) Last(ticker string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.last[ticker]
	return p, ok
}

// Run polls the oracle until the context is cancelled. The first poll happens
// immediately so risk parameters are available before the first interval.
func (e *Engine) Run(ctx context.Context) error {
	e.poll(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.poll(ctx)
		}
	}
}

func (e *Engine) poll(ctx context.Context) {
	prices, err := e.FetchPrices(ctx)
	if err != nil {
		e.logger.Warn("price oracle poll failed, keeping last known prices", "error", err)
		e.onError()
		return
	}
	for ticker, price := range prices {
		e.mu.Lock()
		e.last[ticker] = price
		e.mu.Unlock()

		select {
		case e.updates <- Update{Ticker: ticker, PriceUsd: price}:
		case <-ctx.Done():
			return
		}
	}
}

// FetchPrices queries the oracle once for every configured ticker.
func (e *Engine) FetchPrices(ctx context.Context) (map[string]float64, error) {
	if len(e.oracleIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(e.oracleIDs))
	tickerByID := make(map[string]string, len(e.oracleIDs))
	for ticker, id := range e.oracleIDs {
		ids = append(ids, id)
		tickerByID[id] = ticker
	}

	// response shape: {"<id>": {"usd": <price>}, ...}
	var out map[string]map[string]float64
	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(ids, ",")).
		SetQueryParam("vs_currencies", "usd").
		SetResult(&out).
		Get("/simple/price")
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("oracle responded %s", resp.Status())
	}

	prices := make(map[string]float64, len(out))
	for id, quote := range out {
		ticker, ok := tickerByID[id]
		if !ok {
			continue
		}
		usd, ok := quote["usd"]
		if !ok {
			e.logger.Debug("oracle quote missing usd field", "id", id)
			continue
		}
		prices[ticker] = usd
	}
	return prices, nil
}
