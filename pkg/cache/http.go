package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// TotalCountHeader is the header paginated backends use to report the
// full result set size alongside a window of records.
const TotalCountHeader = "X-Total-Count"

// CachedResponse is the payload a ConditionalCache keeps for one HTTP
// response: the body plus enough of the response envelope to replay it.
type CachedResponse struct {
	// Body is the response body
	Body []byte `json:"body"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Header are the response headers
	Header http.Header `json:"header"`
}

// ResponseToCached converts an HTTP response into a CachedResponse and
// returns it together with the response's ETag (the version tag to
// store it under). The response body is restored after reading.
func ResponseToCached(resp *http.Response) (*CachedResponse, string, error) {
	if resp == nil {
		return nil, "", fmt.Errorf("response cannot be nil")
	}

	// Read body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	cached := &CachedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
	}

	return cached, resp.Header.Get("ETag"), nil
}

// Replay writes the cached response onto w, headers first, then the
// status code and body.
func (r *CachedResponse) Replay(w http.ResponseWriter) {
	for key, values := range r.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(r.StatusCode)
	w.Write(r.Body)
}

// AddConditionalHeaders adds If-None-Match to the request when a
// version tag is known, so the backend can answer 304 Not Modified.
func AddConditionalHeaders(req *http.Request, versionTag string) {
	if req == nil || versionTag == "" {
		return
	}
	req.Header.Set("If-None-Match", versionTag)
}

// TotalCountFromHeader parses the X-Total-Count header.
// Returns -1 when the header is absent or not a non-negative integer.
func TotalCountFromHeader(h http.Header) int {
	value := h.Get(TotalCountHeader)
	if value == "" {
		return -1
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
