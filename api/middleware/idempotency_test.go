package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.records[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.records[key] = value.(string)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "test:idem:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.records, key)
	}
	return nil
}

func idempotencyRouter(store *memoryStore, handler http.HandlerFunc) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "middleware-test", Output: io.Discard})
	router := chi.NewRouter()
	router.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(Idempotency(store, logg))
		r.Post("/", handler)
	})
	return router
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	router := idempotencyRouter(store, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"orderGroupId":"g1"}}`))
	})

	customerID := uuid.New()
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"items":[]}`))
		req.Header.Set("Idempotency-Key", "key-1")
		req = req.WithContext(WithCustomerID(req.Context(), customerID))
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	first := send()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", first.Code)
	}
	second := send()
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201 got %d", second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replay body mismatch: %s vs %s", second.Body.String(), first.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler must run once, ran %d times", calls)
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	store := newMemoryStore()
	router := idempotencyRouter(store, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	customerID := uuid.New()
	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "key-1")
		req = req.WithContext(WithCustomerID(req.Context(), customerID))
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	if resp := send(`{"items":[1]}`); resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	if resp := send(`{"items":[2]}`); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 on body mismatch got %d", resp.Code)
	}
}

func TestIdempotencyRequiresKeyOnGuardedRoute(t *testing.T) {
	router := idempotencyRouter(newMemoryStore(), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{}`))
	req = req.WithContext(WithCustomerID(req.Context(), uuid.New()))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestIdempotencyIgnoresUnguardedRoutes(t *testing.T) {
	store := newMemoryStore()
	logg := logger.New(logger.Options{ServiceName: "middleware-test", Output: io.Discard})
	router := chi.NewRouter()
	router.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(Idempotency(store, logg))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 without idempotency key got %d", resp.Code)
	}
}
