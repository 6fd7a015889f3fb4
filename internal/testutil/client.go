// Package testutil holds helpers shared by package tests: an HTTP client
// for end-to-end API tests, status assertions, an SSE reader, a fake
// completion endpoint and temporary stores.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Client wraps an HTTP client pointed at a test server
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// Token is sent as a bearer token when set
	Token string
}

// NewClient creates a new test client
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithToken returns a copy of the client authenticated with token
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.Token = token
	return &clone
}

func (c *Client) do(method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return c.HTTPClient.Do(req)
}

func (c *Client) doJSON(method, path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}
	return c.do(method, path, bytes.NewReader(jsonBody), "application/json")
}

// GET performs a GET request
func (c *Client) GET(path string) (*http.Response, error) {
	return c.do(http.MethodGet, path, nil, "")
}

// POST performs a POST request with JSON body
func (c *Client) POST(path string, body any) (*http.Response, error) {
	return c.doJSON(http.MethodPost, path, body)
}

// PUT performs a PUT request with JSON body
func (c *Client) PUT(path string, body any) (*http.Response, error) {
	return c.doJSON(http.MethodPut, path, body)
}

// PATCH performs a PATCH request with JSON body
func (c *Client) PATCH(path string, body any) (*http.Response, error) {
	return c.doJSON(http.MethodPatch, path, body)
}

// DELETE performs a DELETE request
func (c *Client) DELETE(path string) (*http.Response, error) {
	return c.do(http.MethodDelete, path, nil, "")
}

// PostFile performs a multipart POST with one file part and optional text fields
func (c *Client) PostFile(path, field, filename string, data []byte, fields map[string]string) (*http.Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return c.do(http.MethodPost, path, &buf, w.FormDataContentType())
}

// ReadJSON reads response body as JSON into target
func ReadJSON(resp *http.Response, target any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	return json.Unmarshal(body, target)
}

// ReadBody reads response body as string
func ReadBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(body), nil
}
