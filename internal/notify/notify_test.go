package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/worldforge/orchestrator/internal/aggregator"
	"github.com/worldforge/orchestrator/internal/domain"
)

func TestHTTPNotifier_PostSucceedsOn2xx(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL)
	err := n.Post(context.Background(), domain.Event{Kind: domain.EventRunStarted, RunID: "run-1"})
	if err != nil {
		t.Fatalf("Post() = %v, want nil", err)
	}
	if gotBody == "" {
		t.Fatal("server did not receive a body")
	}
}

func TestHTTPNotifier_PostFailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL)
	if err := n.Post(context.Background(), domain.Event{Kind: domain.EventRunStarted}); err == nil {
		t.Fatal("Post() = nil, want error for 500 response")
	}
}

func TestHTTPNotifier_ImplementsAggregatorNotificationSink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL)
	var sink aggregator.NotificationSink = n
	if err := sink.Notify(context.Background(), aggregator.Summary{RunID: "run-1", Text: "done"}); err != nil {
		t.Fatalf("Notify() = %v, want nil", err)
	}
}
