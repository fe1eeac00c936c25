// Package client provides a thin HTTP client for the document manager's
// API, used by cmd/fidesctl and any other out-of-process caller.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a Server over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client targeting baseURL (e.g. "http://localhost:8080").
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

// GetValue fetches the value currently assigned to key k.
func (c *Client) GetValue(k string) (string, bool, error) {
	u := fmt.Sprintf("%s/v1/value?key=%s", c.baseURL, url.QueryEscape(k))
	resp, err := c.http.Get(u)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("fides: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, err
	}
	return out.Value, true, nil
}

// GetKeys lists every key under prefix.
func (c *Client) GetKeys(prefix string) ([]string, error) {
	u := fmt.Sprintf("%s/v1/keys?prefix=%s", c.baseURL, url.QueryEscape(prefix))
	resp, err := c.http.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fides: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// InsertBlob submits an encoded container blob for sourceID.
func (c *Client) InsertBlob(sourceID string, raw []byte) (status string, err error) {
	u := fmt.Sprintf("%s/v1/sources/%s/blobs", c.baseURL, url.PathEscape(sourceID))
	resp, err := c.http.Post(u, "application/octet-stream", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var out struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("fides: decoding response: %w", err)
	}
	if out.Error != "" {
		return out.Status, fmt.Errorf("fides: %s", out.Error)
	}
	return out.Status, nil
}
