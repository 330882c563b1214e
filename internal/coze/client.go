package coze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lyzno1/medical-case-report/internal/workflow"
)

const (
	DefaultBaseURL   = "https://api.coze.cn/v1"
	defaultUserAgent = "medical-case-report/1.0"

	opUpload   = "upload file"
	opWorkflow = "run workflow"
)

// Client provides access to the Coze file and workflow endpoints
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	observer   Observer
	sem        *semaphore.Weighted

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	activeRequests  int
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains Coze client configuration
type Config struct {
	BaseURL       string
	APIKey        string
	BotID         string
	Timeout       time.Duration
	MaxConcurrent int
	UserAgent     string

	// ResultFields overrides workflow.DefaultFields when set.
	ResultFields []string
}

// Observer receives one call per HTTP round trip.
type Observer interface {
	ObserveCozeRequest(op, outcome string, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveCozeRequest(string, string, time.Duration) {}

// File is an uploadable file held in memory so it can be resent on retry.
type File struct {
	Name string
	Data []byte
}

// Size returns the file length in bytes.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// FileInfo is the data object of an upload response.
type FileInfo struct {
	ID        string `json:"id"`
	FileName  string `json:"file_name"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
}

// UploadResponse is the body of POST /files/upload.
type UploadResponse struct {
	Code int       `json:"code"`
	Msg  string    `json:"msg"`
	Data *FileInfo `json:"data"`
}

// WorkflowRequest is the body of POST /workflow/run.
type WorkflowRequest struct {
	WorkflowID string         `json:"workflow_id"`
	Parameters map[string]any `json:"parameters"`
	BotID      string         `json:"bot_id,omitempty"`
}

// WorkflowResponse is the body returned by POST /workflow/run. Data may be
// a plain string, a JSON encoded string or an object.
type WorkflowResponse struct {
	Code      int             `json:"code"`
	Msg       string          `json:"msg"`
	Data      json.RawMessage `json:"data"`
	DebugURL  string          `json:"debug_url,omitempty"`
	ExecuteID string          `json:"execute_id,omitempty"`
	Token     int             `json:"token,omitempty"`
	Cost      string          `json:"cost,omitempty"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new Coze API client
func NewClient(config Config, logger *slog.Logger, observer Observer) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	if len(config.ResultFields) == 0 {
		config.ResultFields = workflow.DefaultFields
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if observer == nil {
		observer = nopObserver{}
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		observer:   observer,
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}, nil
}

// BaseURL returns the normalized API base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// FileParam encodes a file id as the value of a file-typed workflow parameter.
func FileParam(fileID string) string {
	b, _ := json.Marshal(struct {
		FileID string `json:"file_id"`
	}{FileID: fileID})
	return string(b)
}

// UploadFile uploads f and returns its remote file id.
func (c *Client) UploadFile(ctx context.Context, f File) (string, error) {
	body, contentType, err := createMultipartBody(f)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart request: %w", err)
	}

	c.logger.Info("Uploading file",
		slog.String("file_name", f.Name),
		slog.Float64("size_kb", float64(f.Size())/1024),
	)

	var result UploadResponse
	if err := c.do(ctx, opUpload, "/files/upload", contentType, body, &result); err != nil {
		return "", err
	}

	if result.Code != 0 {
		return "", &APIError{Op: opUpload, Code: result.Code, Msg: result.Msg}
	}

	if result.Data == nil || result.Data.ID == "" {
		return "", ErrMissingFileID
	}

	c.logger.Info("File uploaded",
		slog.String("file_name", f.Name),
		slog.String("file_id", result.Data.ID),
	)

	return result.Data.ID, nil
}

// Run executes a workflow and returns the decoded response without
// interpreting Data.
func (c *Client) Run(ctx context.Context, workflowID string, parameters map[string]any) (*WorkflowResponse, error) {
	payload := WorkflowRequest{
		WorkflowID: workflowID,
		Parameters: parameters,
		BotID:      c.config.BotID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow request: %w", err)
	}

	c.logger.Info("Running workflow",
		slog.String("workflow_id", workflowID),
		slog.String("bot_id", c.config.BotID),
		slog.Any("parameters", parameterNames(parameters)),
	)

	var result WorkflowResponse
	if err := c.do(ctx, opWorkflow, "/workflow/run", "application/json", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}

	if result.Code != 0 {
		c.logger.Error("Workflow returned error",
			slog.Int("code", result.Code),
			slog.String("msg", result.Msg),
			slog.String("debug_url", result.DebugURL),
		)
		return nil, &APIError{Op: opWorkflow, Code: result.Code, Msg: result.Msg, DebugURL: result.DebugURL}
	}

	return &result, nil
}

// RunWorkflow executes a workflow and extracts its text result.
func (c *Client) RunWorkflow(ctx context.Context, workflowID string, parameters map[string]any) (string, error) {
	result, err := c.Run(ctx, workflowID, parameters)
	if err != nil {
		return "", err
	}

	payload := workflow.ParsePayload(result.Data)
	text := payload.Text(c.config.ResultFields)

	c.logger.Info("Workflow completed",
		slog.String("workflow_id", workflowID),
		slog.String("payload_kind", payload.Kind.String()),
		slog.Int("text_length", len([]rune(text))),
		slog.String("debug_url", result.DebugURL),
	)

	return text, nil
}

// do performs a single authenticated POST and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, op, path, contentType string, body io.Reader, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	c.beginRequest()
	startTime := time.Now()
	err := c.roundTrip(ctx, op, path, contentType, body, out)
	duration := time.Since(startTime)
	c.endRequest(err == nil, duration)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.observer.ObserveCozeRequest(op, outcome, duration)

	return err
}

func (c *Client) roundTrip(ctx context.Context, op, path, contentType string, body io.Reader, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: HTTP request failed: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Coze request failed",
			slog.String("operation", op),
			slog.Int("status_code", resp.StatusCode),
			slog.String("body", truncate(string(respBody), 512)),
		)
		return &HTTPError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       string(respBody),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: failed to parse response JSON: %w", op, err)
	}

	return nil
}

// createMultipartBody creates a multipart/form-data body with a single file field
func createMultipartBody(f File) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", f.Name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(f.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write file data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func parameterNames(parameters map[string]any) []string {
	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, name)
	}
	return names
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Statistics methods
func (c *Client) beginRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.activeRequests++
}

func (c *Client) endRequest(success bool, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeRequests--
	if success {
		c.successRequests++
	} else {
		c.failedRequests++
	}

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  c.activeRequests,
	}
}
