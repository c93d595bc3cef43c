// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
)

// APIError is a non-2xx response from the journal REST API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("journal api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("journal api: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// CreateRequest is the body of a create call.
type CreateRequest struct {
	Situation string `json:"situation"`
	Decision  string `json:"decision"`
	Reasoning string `json:"reasoning,omitempty"`
}

// ListResult is one page from List.
type ListResult struct {
	Decisions  []*decision.Record `json:"decisions"`
	TotalCount int                `json:"totalCount"`
	Page       int                `json:"page"`
	PageSize   int                `json:"pageSize"`
}

// Client calls the journal REST endpoints used alongside the stream.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient returns a client for baseURL. A nil httpClient gets a 30s
// timeout.
func NewClient(baseURL, token string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: base, token: token, http: httpClient}, nil
}

// List fetches one page for filter.
func (c *Client) List(ctx context.Context, filter decision.FilterSpec) (*ListResult, error) {
	var out ListResult
	if err := c.do(ctx, http.MethodGet, "/v1/decisions", filter.Values(), nil, &out); err != nil {
		return nil, err
	}
	if out.Decisions == nil {
		out.Decisions = []*decision.Record{}
	}
	return &out, nil
}

// Create submits a new decision for analysis.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*decision.Record, error) {
	var rec decision.Record
	if err := c.do(ctx, http.MethodPost, "/v1/decisions", nil, req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Reanalyze queues id for another analysis.
func (c *Client) Reanalyze(ctx context.Context, id string) (*decision.Record, error) {
	var rec decision.Record
	if err := c.do(ctx, http.MethodPost, "/v1/decisions/"+url.PathEscape(id)+"/reanalyze", nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkRead clears the unread flag of id.
func (c *Client) MarkRead(ctx context.Context, id string) (*decision.Record, error) {
	var rec decision.Record
	if err := c.do(ctx, http.MethodPost, "/v1/decisions/"+url.PathEscape(id)+"/read", nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/decisions/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
