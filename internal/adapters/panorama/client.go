// Package panorama is a client for the ground-level imagery availability service.
package panorama

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/ports"
)

type lookupResponse struct {
	Found  bool `json:"found"`
	Anchor *struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"anchor,omitempty"`
}

// Client queries imagery availability around a point.
type Client struct {
	http    *fasthttp.Client
	url     string
	apiKey  string
	timeout time.Duration
}

// New creates a panorama client.
func New(url, apiKey string, timeout time.Duration) *Client {
	return &Client{
		http: &fasthttp.Client{
			Name:                "flyover-panorama",
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

// Find implements ports.PanoramaFinder.
func (c *Client) Find(ctx context.Context, point domain.GeoPoint, radiusMeters float64) (ports.PanoramaResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.PanoramaResult{}, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	args := req.URI().QueryArgs()
	args.Set("lat", strconv.FormatFloat(point.Lat, 'f', 6, 64))
	args.Set("lng", strconv.FormatFloat(point.Lon, 'f', 6, 64))
	args.Set("radius", strconv.FormatFloat(radiusMeters, 'f', 0, 64))
	req.Header.SetMethod(fasthttp.MethodGet)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.http.DoDeadline(req, resp, deadline)
	} else {
		err = c.http.DoTimeout(req, resp, c.timeout)
	}
	if err != nil {
		return ports.PanoramaResult{}, fmt.Errorf("panorama request: %w", err)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusNotFound:
		return ports.PanoramaResult{}, nil
	default:
		return ports.PanoramaResult{}, fmt.Errorf("panorama service returned HTTP %d", resp.StatusCode())
	}

	var out lookupResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return ports.PanoramaResult{}, fmt.Errorf("decode panorama response: %w", err)
	}

	res := ports.PanoramaResult{Found: out.Found}
	if out.Found && out.Anchor != nil {
		res.Anchor = &domain.GeoPoint{Lat: out.Anchor.Lat, Lon: out.Anchor.Lng}
	}
	return res, nil
}
