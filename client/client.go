package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Submission is one journaled submission attempt.
type Submission struct {
	ID        string    `json:"id"`
	Signature string    `json:"signature,omitempty"`
	Network   string    `json:"network"`
	Kind      string    `json:"kind"`
	Payer     string    `json:"payer"`
	Level     string    `json:"level"`
	Status    string    `json:"status"` // processed, confirmed, finalized, failed, unknown
	ErrorKind *string   `json:"error_kind,omitempty"`
	Error     *string   `json:"error,omitempty"`
	Slot      *int64    `json:"slot,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilter narrows ListSubmissions. Zero values match everything.
type ListFilter struct {
	Network string
	Kind    string
	Status  string
	Limit   int
}

// TransferRequest asks the server to start a transfer workflow. Set exactly
// one of Amount (SOL) and Lamports.
type TransferRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount,omitempty"`
	Lamports  uint64 `json:"lamports,omitempty"`
	Memo      string `json:"memo,omitempty"`
	Level     string `json:"level,omitempty"`
	ID        string `json:"id,omitempty"`
}

// TransferStarted identifies a started transfer workflow.
type TransferStarted struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	Existing   bool   `json:"existing,omitempty"` // the id was used before; nothing new started
}

// TransferResult is the outcome of a completed transfer workflow.
type TransferResult struct {
	Signature string  `json:"signature,omitempty"`
	Status    string  `json:"status"` // confirmed, failed, unknown
	Level     string  `json:"level,omitempty"`
	Slot      uint64  `json:"slot,omitempty"`
	Network   string  `json:"network"`
	Link      string  `json:"link,omitempty"`
	ErrorKind string  `json:"error_kind,omitempty"`
	Error     *string `json:"error,omitempty"`
	Resolved  bool    `json:"resolved"`
}

// TransferStatus is the execution state of a transfer workflow.
type TransferStatus struct {
	WorkflowID string          `json:"workflow_id"`
	RunID      string          `json:"run_id"`
	State      string          `json:"state"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	ClosedAt   *time.Time      `json:"closed_at,omitempty"`
	Result     *TransferResult `json:"result,omitempty"`
}

// Done reports whether the workflow has stopped running.
func (s *TransferStatus) Done() bool {
	return s.State != "running"
}

// Receipt is a submission receipt delivered on the stream.
type Receipt struct {
	Signature   string    `json:"signature,omitempty"`
	Network     string    `json:"network"`
	Kind        string    `json:"kind"`
	Payer       string    `json:"payer"`
	Level       string    `json:"level"`
	Status      string    `json:"status"`
	Slot        uint64    `json:"slot,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	Link        string    `json:"link,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
	Amount      uint64    `json:"amount,omitempty"`
	Mint        string    `json:"mint,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Client is the HTTP client for the ledgerlab API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListSubmissions lists journaled submissions, most recent first.
func (c *Client) ListSubmissions(ctx context.Context, filter ListFilter) ([]*Submission, error) {
	q := url.Values{}
	if filter.Network != "" {
		q.Set("network", filter.Network)
	}
	if filter.Kind != "" {
		q.Set("kind", filter.Kind)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	u := c.baseURL + "/api/v1/submissions"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var resp struct {
		Submissions []*Submission `json:"submissions"`
	}
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.Submissions, nil
}

// GetSubmission fetches one submission by signature. Returns ErrNotFound if
// the signature is not journaled.
func (c *Client) GetSubmission(ctx context.Context, signature string) (*Submission, error) {
	u := fmt.Sprintf("%s/api/v1/submissions/%s", c.baseURL, url.PathEscape(signature))
	var sub Submission
	if err := c.getJSON(ctx, u, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// StartTransfer starts a transfer workflow on the server.
func (c *Client) StartTransfer(ctx context.Context, r TransferRequest) (*TransferStarted, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var started TransferStarted
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("transfer started",
		"workflow_id", started.WorkflowID,
		"existing", started.Existing,
		"recipient", r.Recipient,
	)
	return &started, nil
}

// TransferStatus reports the state of a transfer workflow. Returns ErrNotFound
// for unknown workflow IDs.
func (c *Client) TransferStatus(ctx context.Context, workflowID string) (*TransferStatus, error) {
	u := fmt.Sprintf("%s/api/v1/transfers/%s", c.baseURL, url.PathEscape(workflowID))
	var status TransferStatus
	if err := c.getJSON(ctx, u, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// AwaitTransfer polls TransferStatus every interval until the workflow stops
// running or ctx is done.
func (c *Client) AwaitTransfer(ctx context.Context, workflowID string, interval time.Duration) (*TransferStatus, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.TransferStatus(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if status.Done() {
			return status, nil
		}
		c.logger.Debug("transfer still running", "workflow_id", workflowID)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for transfer %s: %w", workflowID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// AwaitReceipt streams receipts published after the call and returns the
// first one matcher accepts. Empty network or kind match any.
func (c *Client) AwaitReceipt(ctx context.Context, network, kind string, matcher func(*Receipt) bool) (*Receipt, error) {
	q := url.Values{}
	if network != "" {
		q.Set("network", network)
	}
	if kind != "" {
		q.Set("kind", kind)
	}
	u := c.baseURL + "/api/v1/stream/receipts"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the default request timeout.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("timeout waiting for receipt: %w", ctx.Err())
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if event == "error" {
				return nil, fmt.Errorf("receipt stream failed: %s", data)
			}
			if event != "" && event != "receipt" {
				continue
			}
			var receipt Receipt
			if err := json.Unmarshal([]byte(data), &receipt); err != nil {
				c.logger.Warn("failed to decode receipt", "error", err)
				continue
			}
			if matcher == nil || matcher(&receipt) {
				return &receipt, nil
			}
		case line == "":
			event = ""
		}
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("timeout waiting for receipt: %w", ctx.Err())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	return nil, errors.New("receipt stream closed")
}

func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	var msg string
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		msg = fmt.Sprintf("status %d: %s", resp.StatusCode, string(body))
	} else {
		msg = errResp.Error
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("request failed: %s", msg)
}
