package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/LeventeLantos/kindergarten-notify/internal/repo"
)

func TestLoggingMiddleware_PassesThroughAndCapturesStatus(t *testing.T) {
	var rec *statusRecorder
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, _ = w.(*statusRecorder)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}
	if body := rr.Body.String(); body != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
	if rec == nil || rec.status != http.StatusCreated {
		t.Fatalf("expected recorder to capture 201, got %+v", rec)
	}
}

func TestLoggingMiddleware_DefaultsToOK(t *testing.T) {
	var rec *statusRecorder
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, _ = w.(*statusRecorder)
		_, _ = w.Write([]byte("implicit"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if rec == nil || rec.status != http.StatusOK {
		t.Fatalf("expected implicit 200, got %+v", rec)
	}
}

func TestRepositories_PicksDialect(t *testing.T) {
	m, tk := repositories(nil, repo.SQLite)
	if _, ok := m.(*repo.SQLiteMessageRepo); !ok {
		t.Fatalf("expected sqlite message repo, got %T", m)
	}
	if _, ok := tk.(*repo.SQLiteTokenRepo); !ok {
		t.Fatalf("expected sqlite token repo, got %T", tk)
	}

	m, tk = repositories(nil, repo.Postgres)
	if _, ok := m.(*repo.PostgresMessageRepo); !ok {
		t.Fatalf("expected postgres message repo, got %T", m)
	}
	if _, ok := tk.(*repo.PostgresTokenRepo); !ok {
		t.Fatalf("expected postgres token repo, got %T", tk)
	}
}
