package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-ledger/internal/retry"
	"github.com/portfolio-ledger/internal/types"
)

func fastRetry(attempts int) *retry.RetryConfig {
	return &retry.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&ClientConfig{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   srv.URL,
		Retry:     fastRetry(3),
	})
	require.NoError(t, err)
	return client, srv
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(&ClientConfig{APIKey: "key"})
	assert.Error(t, err)

	_, err = NewClient(nil)
	assert.Error(t, err)
}

func TestSignedRequestCarriesValidSignature(t *testing.T) {
	var captured url.Values
	var apiKeyHeader string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.URL.Query()
		apiKeyHeader = r.Header.Get("X-MBX-APIKEY")
		json.NewEncoder(w).Encode(AccountInfo{AccountType: "SPOT"})
	}))

	info, err := client.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SPOT", info.AccountType)
	assert.Equal(t, "test-key", apiKeyHeader)

	assert.NotEmpty(t, captured.Get("timestamp"))
	assert.Equal(t, strconv.Itoa(recvWindowMs), captured.Get("recvWindow"))

	// Recompute the signature over the query without the signature param.
	signature := captured.Get("signature")
	require.NotEmpty(t, signature)
	unsigned := url.Values{}
	for k, vs := range captured {
		if k == "signature" {
			continue
		}
		for _, v := range vs {
			unsigned.Add(k, v)
		}
	}
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(unsigned.Encode()))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), signature)
}

func TestUsedWeightHeaderIsAuthoritative(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(usedWeightHeader, "555")
		json.NewEncoder(w).Encode(TickerPrice{Symbol: "BTCUSDT"})
	}))

	_, err := client.GetTickerPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 555, client.UsedWeight())
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":-2014,"msg":"API-key format invalid."}`)
	}))

	_, err := client.GetAccount(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsUnauthorized(err))
	assert.Equal(t, 1, calls)
}

func TestServerErrorIsRetried(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"code":-1000,"msg":"internal error"}`)
			return
		}
		json.NewEncoder(w).Encode(TickerPrice{Symbol: "BTCUSDT"})
	}))

	_, err := client.GetTickerPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRateLimitResponseIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests."}`)
	}))
	defer srv.Close()

	client, err := NewClient(&ClientConfig{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   srv.URL,
		Retry:     fastRetry(1),
	})
	require.NoError(t, err)

	_, err = client.GetAccount(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -1003, apiErr.Code)

	// The cool-down from Retry-After now blocks further calls.
	wait := client.limiter.Reserve(1)
	assert.Greater(t, wait, 25*time.Second)
}

func TestAllTradesPaginatesByID(t *testing.T) {
	var fromIDs []string
	page := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromIDs = append(fromIDs, r.URL.Query().Get("fromId"))
		page++

		var trades []Trade
		if page == 1 {
			for i := 0; i < maxTradesPerPage; i++ {
				trades = append(trades, Trade{ID: int64(100 + i), Symbol: "BTCUSDT"})
			}
		} else {
			trades = []Trade{{ID: 2000, Symbol: "BTCUSDT"}}
		}
		json.NewEncoder(w).Encode(trades)
	}))

	trades, err := client.AllTrades(context.Background(), "BTCUSDT", 100)
	require.NoError(t, err)
	assert.Len(t, trades, maxTradesPerPage+1)
	require.Len(t, fromIDs, 2)
	assert.Equal(t, "100", fromIDs[0])
	// Next page starts after the last trade ID of the previous one.
	assert.Equal(t, "1100", fromIDs[1])
}

func TestAllTradesByTimeDeduplicatesBoundary(t *testing.T) {
	page := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++

		var trades []Trade
		if page == 1 {
			for i := 0; i < maxTradesPerPage; i++ {
				trades = append(trades, Trade{ID: int64(i), Time: int64(1000 + i)})
			}
		} else {
			// The last trade of page one shares the boundary millisecond.
			trades = []Trade{{ID: int64(maxTradesPerPage - 1), Time: int64(1000 + maxTradesPerPage - 1)}}
		}
		json.NewEncoder(w).Encode(trades)
	}))

	trades, err := client.AllTradesByTime(context.Background(), "BTCUSDT", 1000)
	require.NoError(t, err)
	assert.Len(t, trades, maxTradesPerPage)
}

func TestWalkWindows(t *testing.T) {
	type window struct{ from, to int64 }

	tests := []struct {
		name     string
		start    int64
		end      int64
		windowMs int64
		want     []window
	}{
		{
			name:  "empty range",
			start: 100, end: 50, windowMs: 10,
			want: nil,
		},
		{
			name:  "single window",
			start: 0, end: 5, windowMs: 10,
			want: []window{{0, 5}},
		},
		{
			name:  "splits on boundary",
			start: 0, end: 25, windowMs: 10,
			want: []window{{0, 9}, {10, 19}, {20, 25}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []window
			err := walkWindows(tt.start, tt.end, tt.windowMs, func(from, to int64) error {
				got = append(got, window{from, to})
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKlineUnmarshal(t *testing.T) {
	raw := `[[1719792000000,"60000.1","61000.5","59500.0","60500.25","123.456",1719878399999,"7470000.0",1000,"60.0","3630000.0","0"]]`

	var klines []Kline
	require.NoError(t, json.Unmarshal([]byte(raw), &klines))
	require.Len(t, klines, 1)

	k := klines[0]
	assert.Equal(t, int64(1719792000000), k.OpenTime)
	assert.Equal(t, int64(1719878399999), k.CloseTime)
	assert.Equal(t, "60000.1", k.Open.String())
	assert.Equal(t, "60500.25", k.Close.String())
	assert.Equal(t, "123.456", k.Volume.String())
}
