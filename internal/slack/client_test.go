package slack

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"log/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func staticToken(token string) TokenSource {
	return func() string { return token }
}

func TestFetchHistoryParsesMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.history" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-test" {
			t.Fatalf("unexpected auth header %q", got)
		}
		if got := r.URL.Query().Get("oldest"); got != "1726231940.000100" {
			t.Fatalf("unexpected oldest %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"messages":[
			{"type":"message","user":"U1","text":"SUCCESSFUL: Job 'Web [12]'","ts":"1726231943.000200"},
			{"type":"message","bot_id":"B2","text":"","ts":"1726231941.000100",
			 "attachments":[{"fallback":"STARTED: Web [13]","fields":[{"title":"Build","value":"STARTED: Web [13]"}]}]}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, staticToken("xoxb-test"), NewCooldownGuard(time.Minute), testLogger())
	messages, err := client.FetchHistory(context.Background(), "C123", "1726231940.000100", 50)
	if err != nil {
		t.Fatalf("FetchHistory returned error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].User != "U1" || messages[0].TS != "1726231943.000200" {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if len(messages[1].Attachments) != 1 || messages[1].Attachments[0].Fields[0].Value != "STARTED: Web [13]" {
		t.Fatalf("attachment fields not mapped: %+v", messages[1])
	}
}

func TestRateLimitResponseTripsGuard(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, staticToken("xoxb-test"), NewCooldownGuard(time.Minute), testLogger())
	_, err := client.FetchHistory(context.Background(), "C123", "", 10)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Guard is now tripped: the next call never reaches the network.
	_, err = client.FetchHistory(context.Background(), "C123", "", 10)
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", calls.Load())
	}
}

func TestRateLimitEnvelopeTripsGuard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"ratelimited"}`))
	}))
	defer server.Close()

	guard := NewCooldownGuard(time.Minute)
	client := NewClient(server.URL, staticToken("xoxb-test"), guard, testLogger())
	if _, err := client.AuthTest(context.Background()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if cooling, _ := guard.Status(); !cooling {
		t.Fatal("expected guard tripped after ratelimited envelope")
	}
}

func TestInvalidAuthMapsToUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"invalid_auth"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, staticToken("xoxb-bad"), NewCooldownGuard(time.Minute), testLogger())
	if _, err := client.AuthTest(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestMissingTokenFailsBeforeNetwork(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", staticToken(""), NewCooldownGuard(time.Minute), testLogger())
	if _, err := client.AuthTest(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for missing token, got %v", err)
	}
}

func TestUnknownAPIErrorSurfacesCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, staticToken("xoxb-test"), NewCooldownGuard(time.Minute), testLogger())
	_, err := client.FetchHistory(context.Background(), "C404", "", 10)
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "channel_not_found" {
		t.Fatalf("expected APIError channel_not_found, got %v", err)
	}
}
