// Package platform talks to the imaging platform's REST API. The repackager
// only needs a stable subject label and series identity to route a bundle;
// the platform's object model stays behind PlatformClient.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Project, Subject, and Session mirror the platform's container hierarchy:
// one study, one person, one visit.
type Project struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type Subject struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type Session struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// PlatformClient is the single capability surface the uploader depends on.
type PlatformClient interface {
	FindProject(ctx context.Context, label string) (*Project, error)
	EnsureSubject(ctx context.Context, projectID, label string) (*Subject, error)
	EnsureSession(ctx context.Context, subjectID, label string) (*Session, error)
	UploadBundle(ctx context.Context, sessionID, bundlePath string, metadata map[string]string) error
}

// Client is the REST implementation of PlatformClient.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return NewClientWithHTTPClient(baseURL, apiKey, &http.Client{Timeout: timeout})
}

// NewClientWithHTTPClient allows passing an instrumented or test client.
func NewClientWithHTTPClient(baseURL, apiKey string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: client,
	}
}

func (c *Client) FindProject(ctx context.Context, label string) (*Project, error) {
	var out Project

	path := fmt.Sprintf("/api/projects?label=%s", url.QueryEscape(label))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("finding project %q: %w", label, err)
	}

	return &out, nil
}

func (c *Client) EnsureSubject(ctx context.Context, projectID, label string) (*Subject, error) {
	var out Subject

	path := fmt.Sprintf("/api/projects/%s/subjects", url.PathEscape(projectID))
	if err := c.postJSON(ctx, path, map[string]string{"label": label}, &out); err != nil {
		return nil, fmt.Errorf("ensuring subject %q: %w", label, err)
	}

	return &out, nil
}

func (c *Client) EnsureSession(ctx context.Context, subjectID, label string) (*Session, error) {
	var out Session

	path := fmt.Sprintf("/api/subjects/%s/sessions", url.PathEscape(subjectID))
	if err := c.postJSON(ctx, path, map[string]string{"label": label}, &out); err != nil {
		return nil, fmt.Errorf("ensuring session %q: %w", label, err)
	}

	return &out, nil
}

// UploadBundle streams the bundle as a multipart upload into the session,
// tagged with the supplied metadata document.
func (c *Client) UploadBundle(ctx context.Context, sessionID, bundlePath string, metadata map[string]string) error {
	f, err := os.Open(bundlePath)
	if err != nil {
		return fmt.Errorf("opening bundle %s: %w", bundlePath, err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	if err := mw.WriteField("metadata", string(metaJSON)); err != nil {
		return err
	}

	fw, err := mw.CreateFormFile("file", filepath.Base(bundlePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	path := fmt.Sprintf("/api/sessions/%s/files", url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading bundle %s: %w", bundlePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("uploading bundle %s: status %d", bundlePath, resp.StatusCode)
	}

	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "scitran-user "+c.apiKey)
	}
}
