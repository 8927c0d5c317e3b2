package amadeus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"farescope/pkg/query"
)

const offersPayload = `{
	"meta": {"count": 2},
	"data": [
		{
			"id": "1",
			"numberOfBookableSeats": 4,
			"itineraries": [
				{"duration": "PT2H10M", "segments": [{"departure": {"iataCode": "MAD", "at": "2024-12-10T07:30:00"}, "arrival": {"at": "2024-12-10T09:40:00"}}]}
			],
			"price": {"currency": "EUR", "grandTotal": "54.20"}
		},
		{
			"id": "2",
			"numberOfBookableSeats": 9,
			"itineraries": [
				{"duration": "PT6H45M", "segments": [{"departure": {"iataCode": "MAD", "at": "2024-12-10T11:05:00"}}, {"departure": {"at": "2024-12-10T14:00:00"}}]}
			],
			"price": {"currency": "EUR", "grandTotal": "88.00"}
		}
	]
}`

// testServer wires a fake auth endpoint plus a caller-provided search
// handler, counting hits on both.
type testServer struct {
	*httptest.Server
	tokenRequests  int64
	searchRequests int64
}

func newTestServer(t *testing.T, search http.HandlerFunc) *testServer {
	t.Helper()
	ts := &testServer{}
	mux := http.NewServeMux()
	mux.HandleFunc(tokenEndpoint, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&ts.tokenRequests, 1)
		if r.Method != http.MethodPost {
			t.Errorf("token request method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("token request form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", r.PostForm.Get("grant_type"))
		}
		fmt.Fprintf(w, `{"access_token": "tok-%d", "expires_in": 1799}`, n)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&ts.searchRequests, 1)
		search(w, r)
	})
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Options{BaseURL: baseURL, ClientID: "id", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	// Keep retries but drop the waits so tests stay fast.
	c.http.RetryWaitMin = time.Millisecond
	c.http.RetryWaitMax = 5 * time.Millisecond
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

var testQuery = query.ConcreteQuery{Origin: "MAD", Destination: "BCN", DepartureDate: "2024-12-10"}

func TestSearchExtractsOffersInSourceOrder(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("originLocationCode") != "MAD" || q.Get("destinationLocationCode") != "BCN" {
			t.Errorf("unexpected route params: %v", q)
		}
		if q.Get("departureDate") != "2024-12-10" {
			t.Errorf("departureDate = %q", q.Get("departureDate"))
		}
		if q.Get("returnDate") != "" {
			t.Errorf("one-way query must not send returnDate, got %q", q.Get("returnDate"))
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, offersPayload)
	})

	c := newTestClient(t, srv.URL)
	out, err := c.Search(context.Background(), testQuery)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Err != nil {
		t.Fatalf("unexpected outcome error: %v", out.Err)
	}

	if len(out.Offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(out.Offers))
	}
	first := out.Offers[0]
	if first.PriceTotal != "54.20" || first.Currency != "EUR" || first.Seats != 4 {
		t.Fatalf("unexpected first offer: %#v", first)
	}
	if first.Departures[0] != "2024-12-10T07:30:00" || first.Durations[0] != "PT2H10M" {
		t.Fatalf("unexpected first offer itinerary: %#v", first)
	}
	if out.Offers[1].PriceTotal != "88.00" {
		t.Fatalf("offers were re-sorted: %#v", out.Offers)
	}
	if string(out.Raw) != offersPayload {
		t.Fatalf("raw payload was not preserved verbatim")
	}
}

func TestSearchRoundTripSendsReturnDate(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("returnDate"); got != "2024-12-21" {
			t.Errorf("returnDate = %q, want 2024-12-21", got)
		}
		fmt.Fprint(w, `{"data": []}`)
	})

	c := newTestClient(t, srv.URL)
	q := testQuery
	q.ReturnDate = "2024-12-21"
	if _, err := c.Search(context.Background(), q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSearchRateLimitExhausted(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	c := newTestClient(t, srv.URL)
	out, err := c.Search(context.Background(), testQuery)
	if err != nil {
		t.Fatalf("rate-limit exhaustion must not abort the run: %v", err)
	}
	if !errors.Is(out.Err, ErrRateLimited) {
		t.Fatalf("outcome error = %v, want ErrRateLimited", out.Err)
	}
	if len(out.Offers) != 0 {
		t.Fatalf("expected no offers, got %d", len(out.Offers))
	}
	if got := atomic.LoadInt64(&srv.searchRequests); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSearchRefreshesTokenOnceOn401(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, offersPayload)
	})

	c := newTestClient(t, srv.URL)
	out, err := c.Search(context.Background(), testQuery)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Err != nil {
		t.Fatalf("unexpected outcome error: %v", out.Err)
	}
	if got := atomic.LoadInt64(&srv.tokenRequests); got != 2 {
		t.Fatalf("expected 2 token requests, got %d", got)
	}
}

func TestSearchPersistentAuthFailureIsFatal(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := newTestClient(t, srv.URL)
	_, err := c.Search(context.Background(), testQuery)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
}

func TestSearchRemoteErrorDoesNotRetry(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := newTestClient(t, srv.URL)
	out, err := c.Search(context.Background(), testQuery)
	if err != nil {
		t.Fatalf("remote errors must not abort the run: %v", err)
	}
	var remoteErr *RemoteError
	if !errors.As(out.Err, &remoteErr) || remoteErr.StatusCode != 500 {
		t.Fatalf("outcome error = %v, want RemoteError 500", out.Err)
	}
	if got := atomic.LoadInt64(&srv.searchRequests); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestSearchNetworkError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, offersPayload)
	})

	c := newTestClient(t, srv.URL)
	// Prime the token while the server is still up, then kill it.
	if _, err := c.tokens.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	srv.Close()

	out, err := c.Search(context.Background(), testQuery)
	if err != nil {
		t.Fatalf("network errors must not abort the run: %v", err)
	}
	var netErr *NetworkError
	if !errors.As(out.Err, &netErr) {
		t.Fatalf("outcome error = %v, want NetworkError", out.Err)
	}
}

func TestSearchMaxPriceCutsOfferList(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, offersPayload)
	})

	c := newTestClient(t, srv.URL)
	c.maxPrice = 60

	out, err := c.Search(context.Background(), testQuery)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Offers) != 1 || out.Offers[0].PriceTotal != "54.20" {
		t.Fatalf("price cap not applied: %#v", out.Offers)
	}
}

func TestTokenIsCachedUntilExpiry(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": []}`)
	})

	c := newTestClient(t, srv.URL)
	now := time.Now()
	c.tokens.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := c.tokens.Token(context.Background()); err != nil {
			t.Fatalf("token: %v", err)
		}
	}
	if got := atomic.LoadInt64(&srv.tokenRequests); got != 1 {
		t.Fatalf("expected 1 token request, got %d", got)
	}

	// Jump past the expiry margin; the next call must refresh.
	now = now.Add(1800 * time.Second)
	if _, err := c.tokens.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if got := atomic.LoadInt64(&srv.tokenRequests); got != 2 {
		t.Fatalf("expected a refresh after expiry, got %d token requests", got)
	}
}

func TestTokenRefreshIsSingleFlight(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": []}`)
	})

	c := newTestClient(t, srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.tokens.Token(context.Background()); err != nil {
				t.Errorf("token: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&srv.tokenRequests); got != 1 {
		t.Fatalf("concurrent callers must share one refresh, got %d requests", got)
	}
}

func TestCheapestDatesOneWay(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("oneWay") != "true" {
			t.Errorf("expected oneWay=true, got %v", q)
		}
		if q.Get("duration") != "" {
			t.Errorf("one-way search must not send duration, got %q", q.Get("duration"))
		}
		if q.Get("departureDate") != "2024-12-10,2024-12-11" {
			t.Errorf("departureDate = %q", q.Get("departureDate"))
		}
		fmt.Fprint(w, `{
			"meta": {"currency": "EUR"},
			"data": [
				{"departureDate": "2024-12-11", "price": {"total": "31.70"}},
				{"departureDate": "2024-12-10", "price": {"total": "45.00"}}
			]
		}`)
	})

	c := newTestClient(t, srv.URL)
	out, err := c.CheapestDates(context.Background(), "MAD", "BCN", []string{"2024-12-10", "2024-12-11"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Err != nil {
		t.Fatalf("unexpected outcome error: %v", out.Err)
	}

	if len(out.Offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(out.Offers))
	}
	if out.Offers[0].Departures[0] != "2024-12-11" || out.Offers[0].PriceTotal != "31.70" {
		t.Fatalf("unexpected first offer: %#v", out.Offers[0])
	}
	if out.Offers[0].Currency != "EUR" {
		t.Fatalf("currency must come from the meta block, got %q", out.Offers[0].Currency)
	}
}

func TestCheapestDatesDurations(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("duration") != "7,10" {
			t.Errorf("duration = %q, want 7,10", q.Get("duration"))
		}
		if q.Get("oneWay") != "" {
			t.Errorf("round-trip search must not send oneWay, got %q", q.Get("oneWay"))
		}
		fmt.Fprint(w, `{"meta": {"currency": "EUR"}, "data": []}`)
	})

	c := newTestClient(t, srv.URL)
	out, err := c.CheapestDates(context.Background(), "MAD", "BCN", []string{"2024-12-10", "2024-12-11"}, []string{"7", "10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Err != nil {
		t.Fatalf("unexpected outcome error: %v", out.Err)
	}
}

func TestCheapestDatesMismatchedDurations(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	out, err := c.CheapestDates(context.Background(), "MAD", "BCN", []string{"2024-12-10"}, []string{"7", "10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Err == nil {
		t.Fatal("expected an outcome error for mismatched durations")
	}
}
