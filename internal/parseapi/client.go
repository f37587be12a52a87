package parseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// API is the client surface consumed by the extraction paths.
type API interface {
	Parse(ctx context.Context, filename string, data []byte) (*ParseResult, error)
	Extract(ctx context.Context, text string, schema any) (*ExtractResult, error)
	SubmitJob(ctx context.Context, filename string, data []byte) (string, error)
	JobStatus(ctx context.Context, jobID string) (string, error)
	JobResult(ctx context.Context, jobID string) (*ParseResult, error)
}

// Config holds the connection settings for the extraction service.
type Config struct {
	BaseURL string
	APIKey  string
	// RequestTimeout is the total budget per external call.
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
}

// Client talks to the external extraction service. Every method runs its
// HTTP call through the executor, so callers only ever see classified
// errors with retries already spent.
type Client struct {
	cfg    Config
	http   *http.Client
	exec   *Executor
	logger *zap.Logger
}

var _ API = (*Client)(nil)

func NewClient(cfg Config, exec *Executor, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("parseapi: base URL is required")
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 480 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if exec == nil {
		exec = NewExecutor(NewRetryPolicy(DefaultMaxRetries))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        DefaultConcurrency,
		MaxIdleConnsPerHost: DefaultConcurrency,
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Transport: transport},
		exec:   exec,
		logger: logger,
	}, nil
}

// Parse runs the structural phase on one file.
func (c *Client) Parse(ctx context.Context, filename string, data []byte) (*ParseResult, error) {
	return Execute(ctx, c.exec, "parse", func(ctx context.Context) (*ParseResult, error) {
		raw, err := c.postMultipart(ctx, "parse", "/parse", filename, data, nil)
		if err != nil {
			return nil, err
		}
		var out ParseResult
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, newDecodeError("parse", err)
		}
		return &out, nil
	})
}

// Extract runs the schema-guided phase over already-parsed text.
func (c *Client) Extract(ctx context.Context, text string, schema any) (*ExtractResult, error) {
	return Execute(ctx, c.exec, "extract", func(ctx context.Context) (*ExtractResult, error) {
		raw, err := c.postJSON(ctx, "extract", "/extract", extractRequest{Text: text, Schema: schema})
		if err != nil {
			return nil, err
		}
		var out ExtractResult
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, newDecodeError("extract", err)
		}
		return &out, nil
	})
}

// SubmitJob starts an asynchronous parse job and returns the remote handle.
func (c *Client) SubmitJob(ctx context.Context, filename string, data []byte) (string, error) {
	return Execute(ctx, c.exec, "submit_job", func(ctx context.Context) (string, error) {
		raw, err := c.postMultipart(ctx, "submit_job", "/parse/jobs", filename, data, map[string]string{"split": "page"})
		if err != nil {
			return "", err
		}
		var out submitResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", newDecodeError("submit_job", err)
		}
		if out.JobID == "" {
			return "", &APIError{Op: "submit_job", Status: 200, Class: ClassFatalRequest, Body: "response missing job_id"}
		}
		return out.JobID, nil
	})
}

// JobStatus fetches the remote status of a parse job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (string, error) {
	return Execute(ctx, c.exec, "job_status", func(ctx context.Context) (string, error) {
		raw, err := c.getJSON(ctx, "job_status", "/jobs/"+url.PathEscape(jobID))
		if err != nil {
			return "", err
		}
		var out statusResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", newDecodeError("job_status", err)
		}
		return out.Status, nil
	})
}

// JobResult fetches the structural result of a completed parse job.
func (c *Client) JobResult(ctx context.Context, jobID string) (*ParseResult, error) {
	return Execute(ctx, c.exec, "job_result", func(ctx context.Context) (*ParseResult, error) {
		raw, err := c.getJSON(ctx, "job_result", "/jobs/"+url.PathEscape(jobID)+"/result")
		if err != nil {
			return nil, err
		}
		var out ParseResult
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, newDecodeError("job_result", err)
		}
		return &out, nil
	})
}

func (c *Client) postJSON(ctx context.Context, op, path string, body any) ([]byte, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, &APIError{Op: op, Class: ClassFatalRequest, Body: "encode request", Cause: err}
	}
	return c.send(ctx, op, http.MethodPost, path, "application/json", bytes.NewReader(bs), int64(len(bs)))
}

func (c *Client) postMultipart(ctx context.Context, op, path, filename string, data []byte, fields map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, &APIError{Op: op, Class: ClassFatalRequest, Body: "encode form field", Cause: err}
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, &APIError{Op: op, Class: ClassFatalRequest, Body: "encode form file", Cause: err}
	}
	if _, err := part.Write(data); err != nil {
		return nil, &APIError{Op: op, Class: ClassFatalRequest, Body: "write form file", Cause: err}
	}
	if err := w.Close(); err != nil {
		return nil, &APIError{Op: op, Class: ClassFatalRequest, Body: "finalize form", Cause: err}
	}
	return c.send(ctx, op, http.MethodPost, path, w.FormDataContentType(), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
}

func (c *Client) getJSON(ctx context.Context, op, path string) ([]byte, error) {
	return c.send(ctx, op, http.MethodGet, path, "", nil, 0)
}

// send performs one attempt. The per-call timeout wraps only this attempt;
// the parent ctx decides whether a transport failure counts as cancellation.
func (c *Client) send(ctx context.Context, op, method, path, contentType string, body io.Reader, size int64) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	reqID := uuid.New().String()
	start := time.Now()

	req, err := http.NewRequestWithContext(callCtx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, &APIError{Op: op, Class: ClassFatalRequest, Body: "build request", Cause: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	c.logger.Debug("parseapi request",
		zap.String("req_id", reqID),
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int64("content_length", size))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("parseapi transport error",
			zap.String("req_id", reqID),
			zap.String("op", op),
			zap.Error(err),
			zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, newTransportError(ctx, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError(ctx, op, err)
	}

	c.logger.Debug("parseapi response",
		zap.String("req_id", reqID),
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError(op, resp.StatusCode, raw)
	}
	return raw, nil
}
