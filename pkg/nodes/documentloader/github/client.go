package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const DefaultServer = "https://api.github.com"

// HTTPError is a non-2xx answer from the GitHub API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Repository is an owner/name pair parsed from a repository link.
type Repository struct {
	Owner string
	Name  string
}

// ParseRepository accepts "https://github.com/owner/repo", "github.com/owner/repo" and "owner/repo".
func ParseRepository(link string) (Repository, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(link), ".git")

	if u, err := url.Parse(trimmed); err == nil && u.Host != "" {
		trimmed = u.Path
	} else {
		trimmed = strings.TrimPrefix(trimmed, "github.com/")
	}

	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repository{}, fmt.Errorf("invalid repository link %q", link)
	}

	return Repository{Owner: parts[0], Name: parts[1]}, nil
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

type treeResponse struct {
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// client is a minimal GitHub REST client for reading repository files.
type client struct {
	server string
	token  string
	http   *http.Client
}

func newClient(server, token string, httpClient *http.Client) *client {
	if server == "" {
		server = DefaultServer
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &client{server: strings.TrimSuffix(server, "/"), token: token, http: httpClient}
}

// files lists the file paths of a branch, descending into directories when recursive is set.
func (c *client) files(ctx context.Context, repo Repository, branch string, recursive bool) ([]string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s", c.server, repo.Owner, repo.Name, url.PathEscape(branch))
	if recursive {
		endpoint += "?recursive=1"
	}

	body, err := c.get(ctx, endpoint, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}

	var tree treeResponse
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode tree: %w", err)
	}

	var paths []string

	for _, entry := range tree.Tree {
		if entry.Type == "blob" {
			paths = append(paths, entry.Path)
		}
	}

	return paths, nil
}

func (c *client) content(ctx context.Context, repo Repository, branch, filePath string) (string, error) {
	escaped := make([]string, 0)
	for _, segment := range strings.Split(filePath, "/") {
		escaped = append(escaped, url.PathEscape(segment))
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		c.server, repo.Owner, repo.Name, path.Join(escaped...), url.QueryEscape(branch))

	body, err := c.get(ctx, endpoint, "application/vnd.github.raw+json")
	if err != nil {
		return "", err
	}

	return string(body), nil
}

func (c *client) get(ctx context.Context, endpoint, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return body, nil
}
