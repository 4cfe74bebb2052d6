package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultFailureMessage is reported when the relay rejects a transfer without
// saying why.
const DefaultFailureMessage = "Transaction failed"

// ErrNoExplorerURL is returned when the relay answers 2xx without an
// etherscanTx link.
var ErrNoExplorerURL = errors.New("relay response has no etherscanTx")

// SendRequest is the body of POST /api/send.
type SendRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"` // decimal string in whole token units, e.g. "10.5"
}

// SendResponse is the success body of POST /api/send.
type SendResponse struct {
	EtherscanTx string `json:"etherscanTx"`
}

// RelayError is returned when the relay answers with a non-2xx status.
// Message is the relay's own error text, verbatim.
type RelayError struct {
	StatusCode int
	Message    string
}

func (e *RelayError) Error() string {
	return e.Message
}

// Client is the HTTP client for the gas-paying relay.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new relay client.
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

// Send asks the relay to execute a transfer on behalf of req.Sender.
// Exactly one HTTP request is made; failures are never retried.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.parseErrorResponse(resp)
	}

	var sendResp SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if sendResp.EtherscanTx == "" {
		c.logger.Warn("relay response has no explorer link",
			"sender", req.Sender,
			"recipient", req.Recipient,
			"status", resp.StatusCode,
		)
		return nil, ErrNoExplorerURL
	}

	c.logger.Debug("transfer relayed",
		"sender", req.Sender,
		"recipient", req.Recipient,
		"amount", req.Amount,
		"explorer_url", sendResp.EtherscanTx,
	)
	return &sendResp, nil
}

// parseErrorResponse turns a non-2xx response into a RelayError.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		c.logger.Debug("relay error without message",
			"status", resp.StatusCode,
			"body", string(body),
		)
		return &RelayError{StatusCode: resp.StatusCode, Message: DefaultFailureMessage}
	}

	return &RelayError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
