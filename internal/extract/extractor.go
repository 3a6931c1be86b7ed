// Package extract defines the feature-extractor capability the engine
// depends on. Camera capture and face detection live in an external service;
// the core only ever consumes numeric descriptors.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"rollcall/internal/identity"
)

// Extractor turns a hosted image into a probe descriptor.
type Extractor interface {
	Extract(ctx context.Context, imageURL string) (identity.Descriptor, error)
}

// Client calls the face extraction microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip short-circuits with a canned descriptor for dev environments
	// without the extractor running.
	Skip bool
	// Dim is the descriptor dimensionality used for the canned descriptor.
	Dim int
}

// New creates a client with a generous timeout; extraction can take time.
func New(baseURL string, skip bool, dim int) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		Dim:     dim,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Extract requests a descriptor for an image URL.
func (c *Client) Extract(ctx context.Context, imageURL string) (identity.Descriptor, error) {
	if c.Skip {
		return cannedDescriptor(c.Dim), nil
	}

	body, err := json.Marshal(map[string]string{"image_url": imageURL})
	if err != nil {
		return identity.Descriptor{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return identity.Descriptor{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return identity.Descriptor{}, fmt.Errorf("extractor request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return identity.Descriptor{}, fmt.Errorf("extractor returned %d", resp.StatusCode)
	}

	var out struct {
		Descriptor []float64 `json:"descriptor"`
		Quality    float64   `json:"quality"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return identity.Descriptor{}, fmt.Errorf("decode extractor response: %w", err)
	}
	if len(out.Descriptor) == 0 {
		return identity.Descriptor{}, fmt.Errorf("extractor found no face")
	}
	return identity.Descriptor{Vector: out.Descriptor, Quality: out.Quality}, nil
}

// Health pings the extractor.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("extractor health returned %d", resp.StatusCode)
	}
	return nil
}

func cannedDescriptor(dim int) identity.Descriptor {
	if dim <= 0 {
		dim = 128
	}
	v := make([]float64, dim)
	for i := range v {
		v[i] = float64(i%7)/7.0 - 0.5
	}
	return identity.Descriptor{Vector: v, Quality: 0.95}
}
