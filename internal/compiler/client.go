// Package compiler is the HTTP client for a compile server's /compile,
// /compile-delta and /status endpoints.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// DefaultTimeout covers the server's own compile timeout plus transfer
const DefaultTimeout = 6 * time.Minute

const maxResponseSize = 512 << 20

var (
	// ErrEndpointMissing means the server does not support the endpoint
	ErrEndpointMissing = errors.New("endpoint not supported by server")

	// ErrCacheMiss means the server holds no state for the project
	ErrCacheMiss = errors.New("server has no cached state for project")
)

// APIError represents a non-2xx response that is not a compile failure
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("compile server error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("compile server error: %s (%d)", e.Code, e.Status)
	}
	if e.Message != "" {
		return fmt.Sprintf("compile server error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("compile server error (%d)", e.Status)
}

// CompileError is the compiler rejecting the document. Log holds the tail
// of the engine log when the server sent one.
type CompileError struct {
	Message string
	Log     string
}

func (e *CompileError) Error() string {
	if e.Message == "" {
		return "compilation failed"
	}
	return "compilation failed: " + e.Message
}

// Client talks to one compile server
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: normalized,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}, nil
}

// NormalizeBaseURL trims a server URL and ensures it has a scheme
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("server url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("server url must include scheme (http:// or https://)")
	}
	return strings.TrimRight(value, "/"), nil
}

// BaseURL returns the normalized server URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status fetches the server's status document
func (c *Client) Status(ctx context.Context) (models.StatusResponse, error) {
	var status models.StatusResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return status, err
	}
	data, err := c.do(req)
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, fmt.Errorf("invalid status response: %w", err)
	}
	return status, nil
}

// Compile sends the whole project and returns the rendered PDF
func (c *Client) Compile(ctx context.Context, body models.CompileRequest) ([]byte, error) {
	if body.Files == nil {
		body.Files = map[string]string{}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compile", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	setProject(req, body.ProjectID)
	return c.do(req)
}

// DeltaRequest is one incremental compile
type DeltaRequest struct {
	ProjectID string
	Engine    string
	MainFile  string
	Archive   []byte
	Deleted   []string
}

// CompileDelta sends changed files and deletions and returns the rendered PDF
func (c *Client) CompileDelta(ctx context.Context, delta DeltaRequest) ([]byte, error) {
	body, contentType, err := deltaForm(delta)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compile-delta", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	setProject(req, delta.ProjectID)
	return c.do(req)
}

// ProjectHeader lets the server rate limit without parsing the body
const ProjectHeader = "X-Project-ID"

func setProject(req *http.Request, projectID string) {
	if projectID != "" {
		req.Header.Set(ProjectHeader, projectID)
	}
}

func deltaForm(delta DeltaRequest) (io.Reader, string, error) {
	deleted := delta.Deleted
	if deleted == nil {
		deleted = []string{}
	}
	deletedJSON, err := json.Marshal(deleted)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := []struct{ name, value string }{
		{"projectId", delta.ProjectID},
		{"engine", delta.Engine},
		{"mainFile", delta.MainFile},
		{"deleted_files", string(deletedJSON)},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("delta_zip", "delta.zip")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(delta.Archive); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// do runs the request and returns the body of a successful response. A 2xx
// response with a JSON body on a document endpoint is an error in disguise.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	isStatus := strings.HasSuffix(req.URL.Path, "/status")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if ok && (isStatus || !isJSON(resp.Header.Get("Content-Type"))) {
		return data, nil
	}
	return nil, classify(resp.StatusCode, data)
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

// classify maps a failed response to the error taxonomy
func classify(status int, data []byte) error {
	switch status {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return ErrEndpointMissing
	case http.StatusGone:
		return ErrCacheMiss
	}

	var payload models.ErrorResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return &APIError{Status: status, Message: strings.TrimSpace(string(data))}
	}
	if payload.Error == models.CacheMissCode {
		return ErrCacheMiss
	}
	if payload.Log != "" {
		return &CompileError{Message: payload.Error, Log: payload.Log}
	}
	return &APIError{Status: status, Code: payload.Error, Message: payload.Message}
}
