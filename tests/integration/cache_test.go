package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/brantberg/rest-query-cache/internal/testutil"
	"github.com/brantberg/rest-query-cache/pkg/cache"
	"github.com/brantberg/rest-query-cache/pkg/client"
	"github.com/brantberg/rest-query-cache/pkg/prefetch"
	"github.com/brantberg/rest-query-cache/pkg/query"
	"github.com/brantberg/rest-query-cache/pkg/store"
)

type record struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func seedRecords(n int) []any {
	records := make([]any, n)
	for i := 0; i < n; i++ {
		records[i] = map[string]any{"id": i, "name": fmt.Sprintf("item-%d", i)}
	}
	return records
}

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// rangeFetcher loads record windows from the mock backend's paginated
// records API.
func rangeFetcher(backend *testutil.MockBackend) client.RangeFetcher[record] {
	return func(ctx context.Context, entity, operation string, params *query.Params) ([]record, int, error) {
		url := fmt.Sprintf("%s/records/%s?offset=%d&limit=%d", backend.URL(), entity, params.Offset, params.Limit)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, -1, err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, -1, &client.FetchError{Message: "backend unreachable", Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, -1, &client.FetchError{StatusCode: resp.StatusCode, Message: "backend rejected request"}
		}

		var records []record
		if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
			return nil, -1, err
		}
		return records, cache.TotalCountFromHeader(resp.Header), nil
	}
}

// responseFetcher loads whole responses from the mock backend,
// conditionally when a version tag is known.
func responseFetcher(backend *testutil.MockBackend) client.ResponseFetcher[json.RawMessage] {
	return func(ctx context.Context, entity, operation string, params *query.Params, versionTag string) (json.RawMessage, string, bool, error) {
		url := fmt.Sprintf("%s/records/%s", backend.URL(), entity)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, "", false, err
		}
		cache.AddConditionalHeaders(req, versionTag)

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, "", false, &client.FetchError{Message: "backend unreachable", Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotModified {
			return nil, "", true, nil
		}
		if resp.StatusCode >= 400 {
			return nil, "", false, &client.FetchError{StatusCode: resp.StatusCode, Message: "backend rejected request"}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", false, err
		}
		return body, resp.Header.Get("ETag"), false, nil
	}
}

func newCacheClient(t *testing.T, backend *testutil.MockBackend, st store.Store, ttl time.Duration) *client.Client[record, json.RawMessage] {
	t.Helper()

	c, err := client.New[record, json.RawMessage](client.Config{
		Connection: "b1",
		Store:      st,
		TTL:        ttl,
	}, rangeFetcher(backend), responseFetcher(backend))
	if err != nil {
		t.Fatalf("Failed to create cache client: %v", err)
	}
	return c
}

// TestRangeFlowThroughRedis tests the complete range flow: cache miss,
// backend fetch, Redis store, covered reads.
func TestRangeFlowThroughRedis(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	backend := testutil.NewMockBackend()
	defer backend.Close()
	backend.SetRecords("Products", seedRecords(120))

	c := newCacheClient(t, backend, store.NewRedisStore(redisClient), 5*time.Minute)
	ctx := context.Background()

	t.Log("Request 1: cache miss, fetched and merged into Redis")
	records, total, err := c.FetchRange(ctx, "Products", "list", &query.Params{Limit: 50})
	if err != nil {
		t.Fatalf("Request 1 failed: %v", err)
	}
	if len(records) != 50 || total != 120 {
		t.Errorf("Request 1 = %d records, total %d, want 50 and 120", len(records), total)
	}
	if backend.GetRequestCount() != 1 {
		t.Errorf("After request 1: backend requests = %d, want 1", backend.GetRequestCount())
	}

	t.Log("Request 2: same window, served from Redis")
	records, _, err = c.FetchRange(ctx, "Products", "list", &query.Params{Limit: 50})
	if err != nil {
		t.Fatalf("Request 2 failed: %v", err)
	}
	if len(records) != 50 {
		t.Errorf("Request 2 = %d records, want 50", len(records))
	}
	if backend.GetRequestCount() != 1 {
		t.Errorf("After request 2: backend requests = %d, want 1", backend.GetRequestCount())
	}

	t.Log("Request 3: sub-window of the cached range")
	records, _, err = c.FetchRange(ctx, "Products", "list", &query.Params{Offset: 20, Limit: 10})
	if err != nil {
		t.Fatalf("Request 3 failed: %v", err)
	}
	if len(records) != 10 || records[0].ID != 20 {
		t.Errorf("Request 3 = %d records starting at %d, want 10 starting at 20", len(records), records[0].ID)
	}
	if backend.GetRequestCount() != 1 {
		t.Errorf("After request 3: backend requests = %d, want 1", backend.GetRequestCount())
	}
}

// TestRangeStateSharedAcrossClients tests that a second client sees
// windows a first client merged, through the shared Redis.
func TestRangeStateSharedAcrossClients(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	backend := testutil.NewMockBackend()
	defer backend.Close()
	backend.SetRecords("Products", seedRecords(60))

	st := store.NewRedisStore(redisClient)
	first := newCacheClient(t, backend, st, 5*time.Minute)
	ctx := context.Background()

	if _, _, err := first.FetchRange(ctx, "Products", "list", &query.Params{Limit: 60}); err != nil {
		t.Fatalf("First client fetch failed: %v", err)
	}
	if backend.GetRequestCount() != 1 {
		t.Fatalf("Backend requests = %d, want 1", backend.GetRequestCount())
	}

	second := newCacheClient(t, backend, store.NewRedisStore(redisClient), 5*time.Minute)
	records, total, err := second.FetchRange(ctx, "Products", "list", &query.Params{Offset: 10, Limit: 20})
	if err != nil {
		t.Fatalf("Second client fetch failed: %v", err)
	}
	if len(records) != 20 || total != 60 {
		t.Errorf("Second client = %d records, total %d, want 20 and 60", len(records), total)
	}
	if backend.GetRequestCount() != 1 {
		t.Errorf("Backend requests after second client = %d, want 1", backend.GetRequestCount())
	}
}

// TestConditionalRevalidation tests that a stale response entry is
// revalidated with a conditional request and kept on 304.
func TestConditionalRevalidation(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	backend := testutil.NewMockBackend()
	defer backend.Close()
	backend.SetRecords("Products", seedRecords(10))

	c := newCacheClient(t, backend, store.NewRedisStore(redisClient), 100*time.Millisecond)
	ctx := context.Background()

	body1, err := c.FetchResponse(ctx, "Products", "list", &query.Params{})
	if err != nil {
		t.Fatalf("First request failed: %v", err)
	}
	if backend.GetRequestCount() != 1 {
		t.Errorf("Backend requests = %d, want 1", backend.GetRequestCount())
	}

	// Fresh entry serves without contacting the backend
	if _, err := c.FetchResponse(ctx, "Products", "list", &query.Params{}); err != nil {
		t.Fatalf("Second request failed: %v", err)
	}
	if backend.GetRequestCount() != 1 {
		t.Errorf("Backend requests after fresh hit = %d, want 1", backend.GetRequestCount())
	}

	// Past the TTL the entry revalidates; the backend answers 304 and
	// the cached payload keeps serving
	time.Sleep(200 * time.Millisecond)

	body2, err := c.FetchResponse(ctx, "Products", "list", &query.Params{})
	if err != nil {
		t.Fatalf("Revalidated request failed: %v", err)
	}
	if string(body2) != string(body1) {
		t.Errorf("Revalidated body differs from cached body")
	}
	if backend.GetConditionalCount() != 1 {
		t.Errorf("Conditional requests = %d, want 1", backend.GetConditionalCount())
	}
	if backend.GetNotModifiedCount() != 1 {
		t.Errorf("Not modified responses = %d, want 1", backend.GetNotModifiedCount())
	}
}

// TestInvalidateEntityClearsRedis tests that entity invalidation
// removes the Redis keys and forces a refetch.
func TestInvalidateEntityClearsRedis(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	backend := testutil.NewMockBackend()
	defer backend.Close()
	backend.SetRecords("Products", seedRecords(40))

	c := newCacheClient(t, backend, store.NewRedisStore(redisClient), 5*time.Minute)
	ctx := context.Background()

	if _, _, err := c.FetchRange(ctx, "Products", "list", &query.Params{Limit: 40}); err != nil {
		t.Fatalf("Warm fetch failed: %v", err)
	}

	keys, err := redisClient.Keys(ctx, "b1:Products:*").Result()
	if err != nil {
		t.Fatalf("Redis KEYS failed: %v", err)
	}
	if len(keys) == 0 {
		t.Fatal("No Redis keys after warm fetch")
	}

	c.InvalidateEntity(ctx, "Products")

	keys, err = redisClient.Keys(ctx, "b1:Products:*").Result()
	if err != nil {
		t.Fatalf("Redis KEYS failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Redis keys after invalidation = %v, want none", keys)
	}

	if _, _, err := c.FetchRange(ctx, "Products", "list", &query.Params{Limit: 40}); err != nil {
		t.Fatalf("Refetch failed: %v", err)
	}
	if backend.GetRequestCount() != 2 {
		t.Errorf("Backend requests = %d, want 2 (refetched after invalidation)", backend.GetRequestCount())
	}
}

// TestStoreDegradesToMemory tests that an unreachable Redis falls back
// to the in-memory store and caching still works.
func TestStoreDegradesToMemory(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()
	backend.SetRecords("Products", seedRecords(30))

	st := store.New(store.Config{
		RedisAddr:   "127.0.0.1:1",
		PingTimeout: 200 * time.Millisecond,
	}, zerolog.Nop())

	c := newCacheClient(t, backend, st, 5*time.Minute)
	ctx := context.Background()

	if _, _, err := c.FetchRange(ctx, "Products", "list", &query.Params{Limit: 30}); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, _, err := c.FetchRange(ctx, "Products", "list", &query.Params{Limit: 30}); err != nil {
		t.Fatalf("Repeat fetch failed: %v", err)
	}
	if backend.GetRequestCount() != 1 {
		t.Errorf("Backend requests = %d, want 1 (memory fallback caches)", backend.GetRequestCount())
	}

	size, err := st.Size(ctx)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size == 0 {
		t.Error("Fallback store is empty after a fetch")
	}
}

// TestPrefetchWarmsRedisForClient tests that windows warmed by the
// prefetcher serve a client reading through the same Redis.
func TestPrefetchWarmsRedisForClient(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	backend := testutil.NewMockBackend()
	defer backend.Close()
	backend.SetRecords("Products", seedRecords(120))

	st := store.NewRedisStore(redisClient)
	ranges := cache.NewRangeCache[record](st, 5*time.Minute, zerolog.Nop())

	warmer := prefetch.New[record](ranges, rangeFetcher(backend), prefetch.Config{
		MaxConcurrency: 4,
		WindowSize:     50,
	})

	ctx := context.Background()
	total, fetched, err := warmer.Warm(ctx, "b1", "Products", "list", &query.Params{})
	if err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if total != 120 || fetched != 120 {
		t.Errorf("Warm = %d total, %d fetched, want 120 and 120", total, fetched)
	}
	warmRequests := backend.GetRequestCount()

	c := newCacheClient(t, backend, st, 5*time.Minute)
	records, total, err := c.FetchRange(ctx, "Products", "list", &query.Params{Offset: 60, Limit: 30})
	if err != nil {
		t.Fatalf("Fetch after warm failed: %v", err)
	}
	if len(records) != 30 || total != 120 {
		t.Errorf("Fetch after warm = %d records, total %d, want 30 and 120", len(records), total)
	}
	if records[0].ID != 60 {
		t.Errorf("First record ID = %d, want 60", records[0].ID)
	}
	if backend.GetRequestCount() != warmRequests {
		t.Errorf("Backend requests = %d, want %d (all windows prewarmed)", backend.GetRequestCount(), warmRequests)
	}
}
