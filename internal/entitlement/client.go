// Package entitlement asks the account backend whether the user may compile.
package entitlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shehryarbajwa/texbridge/internal/compiler"
	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// ErrNotAuthorized means the subscription has no compiles left
var ErrNotAuthorized = errors.New("compile not authorized")

// APIError represents a non-2xx response from the account backend
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("account service error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("account service error (%d)", e.Status)
}

// Client talks to the account backend
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) (*Client, error) {
	normalized, err := compiler.NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: normalized,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Me fetches the current user and subscription
func (c *Client) Me(ctx context.Context) (models.UserResponse, error) {
	var resp models.UserResponse
	if err := c.doJSON(ctx, http.MethodGet, "/user/me", nil, &resp); err != nil {
		return models.UserResponse{}, err
	}
	return resp, nil
}

// Check returns ErrNotAuthorized when the subscription is exhausted
func (c *Client) Check(ctx context.Context) (models.Subscription, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return models.Subscription{}, err
	}
	if !me.Subscription.Authorized() {
		return me.Subscription, fmt.Errorf("%w: %s plan has no compiles left", ErrNotAuthorized, me.Subscription.Plan)
	}
	return me.Subscription, nil
}

// Authorize consumes one compile from the subscription
func (c *Client) Authorize(ctx context.Context) (models.AuthorizeResponse, error) {
	var resp models.AuthorizeResponse
	err := c.doJSON(ctx, http.MethodPost, "/compile/authorize", struct{}{}, &resp)
	if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusPaymentRequired {
		return resp, fmt.Errorf("%w: %s", ErrNotAuthorized, apiErr.Message)
	}
	if err != nil {
		return resp, err
	}
	if !resp.Authorized {
		return resp, ErrNotAuthorized
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody any, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload models.ErrorResponse
		if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if respBody == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, respBody)
}
