// Package client implements the Torrin upload client: a resumable,
// concurrent chunk pump over the HTTP upload protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/torrin-io/torrin/internal/models"
	"github.com/torrin-io/torrin/internal/uploaderr"
)

// ChunkHashHeader carries an optional hex SHA-256 of the chunk body.
const ChunkHashHeader = "X-Torrin-Chunk-Hash"

// Config configures a Client.
type Config struct {
	// BaseURL is the server root, e.g. "https://files.example.com".
	BaseURL string
	// BasePath is the upload API mount point. Default "/torrin/uploads".
	BasePath string
	// Timeout bounds each HTTP request. Default 5 minutes.
	Timeout time.Duration
	// HTTPClient overrides the chunk-transfer client. Control-plane calls
	// (init, status, complete, cancel) always go through a retrying client.
	HTTPClient *http.Client
}

// Client talks to a Torrin server.
type Client struct {
	baseURL    string
	basePath   string
	httpClient *http.Client
	controlClt *retryablehttp.Client
}

// New validates the configuration and creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("BaseURL must be a valid http(s) URL")
	}

	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/torrin/uploads"
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	control := retryablehttp.NewClient()
	control.RetryMax = 3
	control.HTTPClient.Timeout = timeout
	control.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		basePath:   strings.TrimRight(basePath, "/"),
		httpClient: httpClient,
		controlClt: control,
	}, nil
}

func (c *Client) endpoint(parts ...string) string {
	p := c.baseURL + c.basePath
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// InitUpload creates a new upload session.
func (c *Client) InitUpload(ctx context.Context, req models.InitUploadRequest) (*models.InitUploadResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding init request: %w", err)
	}

	var resp models.InitUploadResponse
	if err := c.control(ctx, http.MethodPost, c.endpoint(), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStatus fetches the server's view of an upload session.
func (c *Client) GetStatus(ctx context.Context, uploadID string) (*models.UploadStatusInfo, error) {
	var resp models.UploadStatusInfo
	if err := c.control(ctx, http.MethodGet, c.endpoint(uploadID, "status"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CompleteUpload finalizes a fully-uploaded session.
func (c *Client) CompleteUpload(ctx context.Context, uploadID, hash string) (*models.CompleteResult, error) {
	body, err := json.Marshal(models.CompleteUploadRequest{Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("encoding complete request: %w", err)
	}

	var resp models.CompleteResult
	if err := c.control(ctx, http.MethodPost, c.endpoint(uploadID, "complete"), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelUpload aborts a session. A 404 is tolerated: the session may have
// already been swept.
func (c *Client) CancelUpload(ctx context.Context, uploadID string) error {
	err := c.control(ctx, http.MethodDelete, c.endpoint(uploadID), nil, nil)
	if uploaderr.Is(err, uploaderr.CodeUploadNotFound) {
		return nil
	}
	return err
}

// PutChunk uploads one chunk body. A single attempt; retry policy lives in
// the pump.
func (c *Client) PutChunk(ctx context.Context, uploadID string, index int, data []byte, hash string) error {
	url := c.endpoint(uploadID, "chunks", strconv.Itoa(index))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating chunk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(data))
	if hash != "" {
		req.Header.Set(ChunkHashHeader, hash)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return uploaderr.Wrap(uploaderr.CodeNetworkError, "chunk upload failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// control performs a retrying control-plane request and decodes the JSON
// response into out when non-nil.
func (c *Client) control(ctx context.Context, method, url string, body []byte, out any) error {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.controlClt.Do(req)
	if err != nil {
		return uploaderr.Wrap(uploaderr.CodeNetworkError, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return uploaderr.Wrap(uploaderr.CodeNetworkError, "decoding response", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return nil
}

// decodeError maps an error response body back onto the taxonomy.
// Unparseable bodies become NETWORK_ERROR with the transport message.
func decodeError(resp *http.Response) error {
	var envelope struct {
		Error *uploaderr.Error `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error == nil {
		return uploaderr.New(uploaderr.CodeNetworkError,
			fmt.Sprintf("unexpected response: %s", resp.Status))
	}
	return envelope.Error
}
