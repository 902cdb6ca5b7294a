// Package api implements the HTTP client for the remote cell-analysis
// service. Every JSON endpoint answers with a uniform envelope
// {success, data?, error?}; a non-2xx status or success=false surfaces as an
// *api.Error, which the sync engine treats as a recoverable push failure.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// TokenSource supplies the bearer token attached to every request. Token
// storage and refresh live outside this subsystem.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (t StaticToken) AccessToken(_ context.Context) (string, error) {
	return string(t), nil
}

// Error is a remote-call failure: transport-level, non-2xx, or an envelope
// with success=false.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %s (http %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("api error (http %d): %s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client talks to the remote API. Request timeout is owned by the underlying
// http.Client; the orchestrator treats a timeout as an ordinary per-entry
// failure.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  TokenSource
}

// New returns a Client for baseURL (no trailing slash) using tokens for
// authentication.
func New(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// doJSON performs a request whose response carries the uniform envelope and
// decodes data into out (out may be nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	return c.roundTrip(req, out)
}

func (c *Client) roundTrip(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode envelope: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		apiErr := &Error{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

// Ping probes server reachability. Used by the connectivity monitor.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

func (c *Client) CreateFolder(ctx context.Context, name string) (*Folder, error) {
	var out Folder
	in := map[string]string{"folder_name": name}
	if err := c.doJSON(ctx, http.MethodPost, "/folders", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenameFolder(ctx context.Context, id int64, name string) (*Folder, error) {
	var out Folder
	in := map[string]string{"folder_name": name}
	if err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/folders/%d", id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteFolder(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/folders/%d", id), nil, nil)
}

func (c *Client) ListFolders(ctx context.Context) ([]Folder, error) {
	var out FolderList
	if err := c.doJSON(ctx, http.MethodGet, "/folders", nil, &out); err != nil {
		return nil, err
	}
	return out.Folders, nil
}

// UploadImage posts image bytes as a multipart body (file + filename + mime).
func (c *Client) UploadImage(ctx context.Context, folderID int64, filename, mimeType string, data []byte) (*Image, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write multipart file: %w", err)
	}
	if err := w.WriteField("mime_type", mimeType); err != nil {
		return nil, fmt.Errorf("write mime field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/folders/%d/images", folderID), w.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}

	var out Image
	if err := c.roundTrip(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenameImage(ctx context.Context, id int64, newFilename string) (*Image, error) {
	var out Image
	in := map[string]string{"new_filename": newFilename}
	if err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/images/%d", id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteImage(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/images/%d", id), nil, nil)
}

func (c *Client) ListImages(ctx context.Context, folderID int64) ([]Image, error) {
	var out ImageList
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/folders/%d/images", folderID), nil, &out); err != nil {
		return nil, err
	}
	return out.Images, nil
}

// ImageFileURL returns the authenticated byte-stream URL for an image,
// usable as a display URI while online.
func (c *Client) ImageFileURL(id int64) string {
	return fmt.Sprintf("%s/images/%d/file", c.baseURL, id)
}

// DownloadImage fetches the raw image bytes. The response is a byte stream,
// not an envelope.
func (c *Client) DownloadImage(ctx context.Context, id int64) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/images/%d/file", id), "", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) AnalysisHistory(ctx context.Context, imageID int64) (*AnalysisHistory, error) {
	var out AnalysisHistory
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/images/%d/analysis-history", imageID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JobResult(ctx context.Context, jobID int64) (*AnalysisResult, error) {
	var out AnalysisResult
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/jobs/%d/result", jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
