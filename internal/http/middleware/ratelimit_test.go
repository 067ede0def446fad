package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestRateLimiterRefills(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow("user-1"); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	ok, wait := rl.Allow("user-1")
	if ok {
		t.Fatalf("third request should be limited")
	}
	if wait <= 0 || wait > time.Second {
		t.Fatalf("unexpected wait %v", wait)
	}
	if ok, _ := rl.Allow("user-2"); !ok {
		t.Fatalf("other keys have their own bucket")
	}

	now = now.Add(time.Second)
	if ok, _ := rl.Allow("user-1"); !ok {
		t.Fatalf("bucket should refill after one second")
	}
}

func TestRateLimiterPrune(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }
	rl.Allow("old")
	now = now.Add(time.Hour)
	rl.Allow("fresh")

	if removed := rl.Prune(now.Add(-time.Minute)); removed != 1 {
		t.Fatalf("expected 1 pruned bucket, got %d", removed)
	}
}

func TestRateLimitKeysByUser(t *testing.T) {
	limiter := NewRateLimiter(0, 1)
	handler := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/patients/p1/diagnoses", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req = req.WithContext(WithUserClaims(req.Context(), jwt.RegisteredClaims{Subject: user}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("user-1"); rec.Code != http.StatusCreated {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}
	rec := send("user-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if rec := send("user-2"); rec.Code != http.StatusCreated {
		t.Fatalf("expected another user on the same address to pass, got %d", rec.Code)
	}
}

func TestRateLimiterDeniedRequestsKeepNextToken(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	if ok, _ := rl.Allow("user-1"); !ok {
		t.Fatalf("first request should be allowed")
	}
	for i := 0; i < 5; i++ {
		ok, wait := rl.Allow("user-1")
		if ok {
			t.Fatalf("request %d should be limited", i)
		}
		if wait != time.Second {
			t.Fatalf("denied request %d should wait 1s, got %v", i, wait)
		}
	}

	now = now.Add(time.Second)
	if ok, _ := rl.Allow("user-1"); !ok {
		t.Fatalf("denials must not push the next token further out")
	}
}

func TestRateLimiterZeroRateNeverRefills(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(0, 1)
	rl.now = func() time.Time { return now }

	if ok, _ := rl.Allow("user-1"); !ok {
		t.Fatalf("burst should admit the first request")
	}
	now = now.Add(time.Hour)
	ok, wait := rl.Allow("user-1")
	if ok {
		t.Fatalf("zero rate must not refill")
	}
	if wait <= 0 {
		t.Fatalf("expected a positive Retry-After wait, got %v", wait)
	}
}
