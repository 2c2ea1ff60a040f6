package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brantberg/rest-query-cache/pkg/cache"
	"github.com/brantberg/rest-query-cache/pkg/client"
	"github.com/brantberg/rest-query-cache/pkg/logging"
	"github.com/brantberg/rest-query-cache/pkg/query"
	"github.com/brantberg/rest-query-cache/pkg/store"
)

// originRequestKey carries the incoming request to the response fetcher.
type originRequestKey struct{}

// proxy is the caching reverse proxy. GET requests under /records/{entity}
// with a positive limit go through the range cache as record windows;
// every other GET is cached as a whole response validated by ETag.
// Mutating methods are forwarded and drop the cached state of their
// entity.
type proxy struct {
	origin  *url.URL
	cache   *client.Client[json.RawMessage, *cache.CachedResponse]
	http    *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// newProxy wires the cache client against the configured origin.
func newProxy(cfg Config, st store.Store) (*proxy, error) {
	originURL, err := url.Parse(cfg.Origin.URL)
	if err != nil {
		return nil, fmt.Errorf("parse origin URL: %w", err)
	}

	ttl, err := cfg.GetTTL()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.GetOriginTimeout()
	if err != nil {
		return nil, err
	}

	p := &proxy{
		origin:  originURL,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logging.NewLogger("cache-proxy"),
	}

	cacheClient, err := client.New[json.RawMessage, *cache.CachedResponse](client.Config{
		Connection:   cfg.Origin.Connection,
		Store:        st,
		TTL:          ttl,
		MaxResponses: cfg.Cache.MaxResponses,
		Disabled:     cfg.Cache.Disabled,
	}, p.fetchRecords, p.fetchResponse)
	if err != nil {
		return nil, fmt.Errorf("create cache client: %w", err)
	}
	p.cache = cacheClient

	return p, nil
}

func (p *proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := p.logger.With().
		Str("request_id", requestID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()
	w.Header().Set("X-Request-ID", requestID)
	start := time.Now()

	if r.Method != http.MethodGet {
		p.handleMutation(w, r, logger)
		return
	}

	entity, operation := splitEntityOperation(r.URL.Path)
	if entity == "" {
		http.NotFound(w, r)
		return
	}

	params := paramsFromQuery(r.URL.Query())
	ctx := context.WithValue(r.Context(), originRequestKey{}, r)

	if isRangePath(r.URL.Path) && operation == "list" && params.Limit > 0 {
		p.serveRange(ctx, w, entity, operation, params, logger)
	} else {
		p.serveResponse(ctx, w, entity, operation, params, logger)
	}

	logger.Debug().Dur("duration", time.Since(start)).Msg("Request served")
}

// serveRange answers a window request from the range cache, fetching
// the missing window from the origin when needed.
func (p *proxy) serveRange(ctx context.Context, w http.ResponseWriter, entity, operation string, params *query.Params, logger zerolog.Logger) {
	records, total, err := p.cache.FetchRange(ctx, entity, operation, params)
	if err != nil {
		p.writeError(w, err, logger)
		return
	}
	if records == nil {
		records = []json.RawMessage{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if total >= 0 {
		w.Header().Set(cache.TotalCountHeader, strconv.Itoa(total))
	}
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(records); err != nil {
		logger.Warn().Err(err).Msg("Failed to write response")
	}
}

// serveResponse answers from the whole-response cache, revalidating
// against the origin by ETag when the copy has gone stale.
func (p *proxy) serveResponse(ctx context.Context, w http.ResponseWriter, entity, operation string, params *query.Params, logger zerolog.Logger) {
	cached, err := p.cache.FetchResponse(ctx, entity, operation, params)
	if err != nil {
		p.writeError(w, err, logger)
		return
	}
	cached.Replay(w)
}

// handleMutation forwards a write to the origin and drops the cached
// state of the touched entity once the origin accepted it.
func (p *proxy) handleMutation(w http.ResponseWriter, r *http.Request, logger zerolog.Logger) {
	entity, _ := splitEntityOperation(r.URL.Path)

	originReq, err := http.NewRequestWithContext(r.Context(), r.Method, p.originURL(r.URL), r.Body)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	originReq.Header = r.Header.Clone()

	resp, err := p.http.Do(originReq)
	if err != nil {
		logger.Error().Err(err).Msg("Origin request failed")
		http.Error(w, "origin request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		if entity != "" && resp.StatusCode < 400 {
			p.cache.InvalidateEntity(r.Context(), entity)
		}
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Warn().Err(err).Msg("Failed to copy origin response")
	}
}

// fetchRecords loads one record window from the origin's paginated
// records API.
func (p *proxy) fetchRecords(ctx context.Context, entity, operation string, params *query.Params) ([]json.RawMessage, int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.recordsURL(entity, params), nil)
	if err != nil {
		return nil, -1, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, -1, &client.FetchError{Message: "origin unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, -1, &client.FetchError{StatusCode: resp.StatusCode, Message: "origin rejected range request"}
	}

	var records []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, -1, fmt.Errorf("decode origin response: %w", err)
	}
	return records, cache.TotalCountFromHeader(resp.Header), nil
}

// fetchResponse loads a whole response from the origin, conditionally
// when a version tag is known. The original client request is carried
// in the context so the origin sees the exact URL.
func (p *proxy) fetchResponse(ctx context.Context, entity, operation string, params *query.Params, versionTag string) (*cache.CachedResponse, string, bool, error) {
	orig, _ := ctx.Value(originRequestKey{}).(*http.Request)
	if orig == nil {
		return nil, "", false, fmt.Errorf("no origin request in context for %s %s", entity, operation)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.originURL(orig.URL), nil)
	if err != nil {
		return nil, "", false, err
	}
	cache.AddConditionalHeaders(req, versionTag)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, "", false, &client.FetchError{Message: "origin unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		io.Copy(io.Discard, resp.Body)
		return nil, "", true, nil
	}
	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return nil, "", false, &client.FetchError{StatusCode: resp.StatusCode, Message: "origin rejected request"}
	}

	cached, tag, err := cache.ResponseToCached(resp)
	if err != nil {
		return nil, "", false, err
	}
	return cached, tag, false, nil
}

// writeError maps a failed fetch onto the response: classified origin
// failures keep their status code, everything else is a bad gateway.
func (p *proxy) writeError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	var fetchErr *client.FetchError
	if errors.As(err, &fetchErr) && fetchErr.StatusCode > 0 {
		logger.Warn().
			Err(err).
			Int("status_code", fetchErr.StatusCode).
			Str("error_class", string(fetchErr.Class())).
			Msg("Origin request failed")
		http.Error(w, fetchErr.Message, fetchErr.StatusCode)
		return
	}
	logger.Error().Err(err).Msg("Origin request failed")
	http.Error(w, "origin request failed", http.StatusBadGateway)
}

// originURL rebases a request URL onto the origin.
func (p *proxy) originURL(u *url.URL) string {
	target := *p.origin
	target.Path = strings.TrimRight(target.Path, "/") + u.Path
	target.RawQuery = u.RawQuery
	return target.String()
}

// recordsURL builds the origin URL for one window of an entity's
// records.
func (p *proxy) recordsURL(entity string, params *query.Params) string {
	target := *p.origin
	target.Path = strings.TrimRight(target.Path, "/") + "/records/" + entity

	q := url.Values{}
	q.Set("offset", strconv.Itoa(params.Offset))
	q.Set("limit", strconv.Itoa(params.Limit))
	if params.Search != "" {
		q.Set("search", params.Search)
	}
	for _, o := range params.Order {
		field := o.Field
		if o.Desc {
			field = "-" + field
		}
		q.Add("order", field)
	}
	for _, f := range params.Filters {
		q.Add(f.Field, fmt.Sprint(f.Value))
	}
	target.RawQuery = q.Encode()
	return target.String()
}

// isRangePath reports whether the path uses the paginated records
// convention.
func isRangePath(path string) bool {
	return strings.HasPrefix(strings.Trim(path, "/"), "records/")
}

// splitEntityOperation maps a request path onto cache key components.
// "/records/Products" has entity Products and operation list; any other
// path has its first segment as entity and the remainder as operation.
func splitEntityOperation(path string) (string, string) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", ""
	}

	if segments[0] == "records" && len(segments) >= 2 {
		operation := strings.Join(segments[2:], "/")
		if operation == "" {
			operation = "list"
		}
		return segments[1], operation
	}

	entity := segments[0]
	operation := strings.Join(segments[1:], "/")
	if operation == "" {
		operation = "get"
	}
	return entity, operation
}

// paramsFromQuery maps URL query values onto query params. offset,
// limit, search and order are recognized; every other parameter counts
// as an equality filter. Filters are sorted so the derived key does not
// depend on map iteration order.
func paramsFromQuery(values url.Values) *query.Params {
	params := &query.Params{}
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		switch key {
		case "offset":
			if n, err := strconv.Atoi(vals[0]); err == nil {
				params.Offset = n
			}
		case "limit":
			if n, err := strconv.Atoi(vals[0]); err == nil {
				params.Limit = n
			}
		case "search":
			params.Search = vals[0]
		case "order":
			for _, field := range vals {
				desc := strings.HasPrefix(field, "-")
				params.Order = append(params.Order, query.Order{Field: strings.TrimPrefix(field, "-"), Desc: desc})
			}
		default:
			for _, v := range vals {
				params.Filters = append(params.Filters, query.Filter{Field: key, Op: query.OpEq, Value: v})
			}
		}
	}

	sort.Slice(params.Filters, func(i, j int) bool {
		if params.Filters[i].Field != params.Filters[j].Field {
			return params.Filters[i].Field < params.Filters[j].Field
		}
		return fmt.Sprint(params.Filters[i].Value) < fmt.Sprint(params.Filters[j].Value)
	})
	return params
}

// copyHeader copies all values of every header.
func copyHeader(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
