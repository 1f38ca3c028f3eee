package postboot

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig holds configuration for creating a Client
type ClientConfig struct {
	// BaseURL is the application's base URL, e.g. "https://localhost:7990"
	BaseURL  string
	Username string
	Password string

	// HTTPClient is used for all requests. If nil, a client that accepts
	// self-signed certificates is used.
	HTTPClient *http.Client
}

// Client talks to the primary's REST management API
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// APIError is a non-2xx response from the management API
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("management API returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("management API returned %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// IsAlreadyExists reports whether err means the resource is already there
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusConflict {
		return true
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		return false
	}
	for _, m := range apiErr.Messages {
		m = strings.ToLower(m)
		if strings.Contains(m, "already exists") || strings.Contains(m, "already taken") || strings.Contains(m, "already in use") {
			return true
		}
	}
	return false
}

// Project is a project create request
type Project struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Repository is a repository create request
type Repository struct {
	Name          string `json:"name"`
	ScmID         string `json:"scmId"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
	Forkable      bool   `json:"forkable"`
}

type errorResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// NewClient creates a management API client
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("postboot: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("postboot: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		username:   config.Username,
		password:   config.Password,
		httpClient: httpClient,
	}, nil
}

// CreateProject creates a project
func (c *Client) CreateProject(ctx context.Context, project Project) error {
	return c.post(ctx, "/rest/api/1.0/projects", project)
}

// CreateRepository creates a repository in the project with key projectKey
func (c *Client) CreateRepository(ctx context.Context, projectKey string, repo Repository) error {
	if repo.ScmID == "" {
		repo.ScmID = "git"
	}
	return c.post(ctx, "/rest/api/1.0/projects/"+url.PathEscape(projectKey)+"/repos", repo)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("postboot: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("postboot: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("postboot: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed errorResponse
	if json.Unmarshal(data, &parsed) == nil {
		for _, e := range parsed.Errors {
			apiErr.Messages = append(apiErr.Messages, e.Message)
		}
	}
	return apiErr
}
