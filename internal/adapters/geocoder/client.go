// Package geocoder is a client for the remote batch geocoding service.
package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/samirrijal/flyover/internal/core/domain"
)

// MaxBatch is the largest number of queries the service accepts per request.
const MaxBatch = 25

type batchRequest struct {
	Queries []string `json:"queries"`
}

type batchResult struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type batchResponse struct {
	Results []*batchResult `json:"results"`
}

// Client posts query batches and returns results in request order.
type Client struct {
	http    *fasthttp.Client
	url     string
	apiKey  string
	timeout time.Duration
}

// New creates a geocoder client. timeout bounds a request whose context has no deadline.
func New(url, apiKey string, timeout time.Duration) *Client {
	return &Client{
		http: &fasthttp.Client{
			Name:                "flyover-geocoder",
			MaxConnsPerHost:     16,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 30 * time.Second,
		},
		url:     url,
		apiKey:  apiKey,
		timeout: timeout,
	}
}

// Geocode implements ports.BatchGeocoder. The result slice is parallel to
// queries; nil entries were not found or out of range.
func (c *Client) Geocode(ctx context.Context, queries []string) ([]*domain.GeoPoint, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	if len(queries) > MaxBatch {
		return nil, fmt.Errorf("geocode batch of %d exceeds %d", len(queries), MaxBatch)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(batchRequest{Queries: queries})
	if err != nil {
		return nil, fmt.Errorf("marshal geocode request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.SetBody(body)

	if err := c.do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("geocode service returned HTTP %d", code)
	}

	var out batchResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}

	points := make([]*domain.GeoPoint, len(queries))
	for i := range points {
		if i >= len(out.Results) || out.Results[i] == nil {
			continue
		}
		p := domain.GeoPoint{Lat: out.Results[i].Lat, Lon: out.Results[i].Lng}
		if p.Valid() {
			points[i] = &p
		}
	}
	return points, nil
}

func (c *Client) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if deadline, ok := ctx.Deadline(); ok {
		return c.http.DoDeadline(req, resp, deadline)
	}
	return c.http.DoTimeout(req, resp, c.timeout)
}
