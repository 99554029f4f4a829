package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xexd/xexd/pkg/log"
)

func TestFetchPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rococo":{"usd":1.5},"tether":{"usd":1.0}}`))
	}))
	defer srv.Close()

	engine := NewEngine(srv.URL, time.Minute, map[string]string{
		"ROC":  "rococo",
		"USDT": "tether",
	}, log.NewTestLogger(t), nil)

	prices, err := engine.FetchPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.5, prices["ROC"])
	assert.Equal(t, 1.0, prices["USDT"])
}

func TestPollKeepsLastKnownOnError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rococo":{"usd":2.25}}`))
	}))
	defer srv.Close()

	var errCount atomic.Int64
	engine := NewEngine(srv.URL, time.Minute, map[string]string{"ROC": "rococo"},
		log.NewTestLogger(t), func() { errCount.Add(1) })
	// disable retries so the failing poll returns promptly
	engine.client.SetRetryCount(0)

	ctx := context.Background()
	engine.poll(ctx)

	upd := <-engine.Updates()
	assert.Equal(t, Update{Ticker: "ROC", PriceUsd: 2.25}, upd)

	fail.Store(true)
	engine.poll(ctx)

	price, ok := engine.Last("ROC")
	require.True(t, ok, "stale price must survive a failed poll")
	assert.Equal(t, 2.25, price)
	assert.Equal(t, int64(1), errCount.Load())
}

func TestFetchPricesIgnoresUnknownIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rococo":{"usd":3.0},"bitcoin":{"usd":50000}}`))
	}))
	defer srv.Close()

	engine := NewEngine(srv.URL, time.Minute, map[string]string{"ROC": "rococo"},
		log.NewTestLogger(t), nil)

	prices, err := engine.FetchPrices(context.Background())
	require.NoError(t, err)
	assert.Len(t, prices, 1)
	assert.Equal(t, 3.0, prices["ROC"])
}
