package pipeline

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"mexscan/internal/mexc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fptr(v float64) *float64 { return &v }

// apiFixture is a fake MEXC REST API backed by static payloads. Calls
// counts every request so resume tests can assert zero traffic.
type apiFixture struct {
	exchangeInfo mexc.ExchangeInfo
	defaults     []string
	tickers      []mexc.Ticker24h
	books        []mexc.BookTicker
	depth        map[string]mexc.DepthSnapshot

	calls int64
}

func (f *apiFixture) Calls() int64 { return atomic.LoadInt64(&f.calls) }

func (f *apiFixture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.calls, 1)
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			json.NewEncoder(w).Encode(f.exchangeInfo)
		case "/api/v3/defaultSymbols":
			json.NewEncoder(w).Encode(map[string][]string{"data": f.defaults})
		case "/api/v3/ticker/24hr":
			json.NewEncoder(w).Encode(f.tickers)
		case "/api/v3/ticker/bookTicker":
			json.NewEncoder(w).Encode(f.books)
		case "/api/v3/depth":
			snapshot, ok := f.depth[r.URL.Query().Get("symbol")]
			if !ok {
				http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(snapshot)
		default:
			http.NotFound(w, r)
		}
	})
}

func newFixtureClient(t *testing.T, fixture *apiFixture) *mexc.Client {
	t.Helper()
	server := httptest.NewServer(fixture.handler())
	t.Cleanup(server.Close)
	return mexc.NewClient(mexc.Options{
		BaseURL:    server.URL,
		MaxRPS:     1000,
		MaxRetries: 0,
		Logger:     testLogger(),
	})
}

// ticker builds a 24h row with the given optional fields; nil leaves
// the field null.
func ticker(symbol string, quoteVolume, volume *float64, count *int64) mexc.Ticker24h {
	row := mexc.Ticker24h{Symbol: symbol}
	if quoteVolume != nil {
		row.QuoteVolume = mexc.OptionalFloat{Value: *quoteVolume, Valid: true}
	}
	if volume != nil {
		row.Volume = mexc.OptionalFloat{Value: *volume, Valid: true}
	}
	if count != nil {
		row.Count = mexc.OptionalInt{Value: *count, Valid: true}
	}
	return row
}

func iptr(v int64) *int64 { return &v }
