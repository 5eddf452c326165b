package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veritaslabs/oracle402/retry"
	"github.com/veritaslabs/oracle402/x402"
)

// TimeoutConfig holds per-operation timeouts for facilitator calls.
type TimeoutConfig struct {
	// VerifyTimeout bounds payment verification.
	VerifyTimeout time.Duration

	// SettleTimeout bounds settlement; settlements land on the ledger and
	// take longer than verification.
	SettleTimeout time.Duration

	// HealthTimeout bounds the health probe.
	HealthTimeout time.Duration
}

// DefaultTimeouts provides sensible defaults for facilitator operations.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout: 5 * time.Second,
	SettleTimeout: 30 * time.Second,
	HealthTimeout: 5 * time.Second,
}

// Client is an HTTP client for the external facilitator service.
type Client struct {
	// BaseURL is the facilitator service URL.
	BaseURL string

	// HTTPClient is the HTTP client to use. If nil, http.DefaultClient.
	HTTPClient *http.Client

	// Timeouts contains per-operation timeout configuration.
	Timeouts TimeoutConfig

	// Retry controls retries on facilitator unavailability. Only
	// unavailability is retried; explicit rejections are final.
	Retry retry.Config
}

// Verify that Client implements Interface.
var _ Interface = (*Client)(nil)

// NewClient creates a facilitator client with default timeouts and retries.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: DefaultTimeouts.SettleTimeout},
		Timeouts:   DefaultTimeouts,
		Retry:      retry.DefaultConfig,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Verify validates a payment proof with the facilitator.
func (c *Client) Verify(ctx context.Context, proof x402.PaymentProof, scheme x402.Scheme) (*x402.VerifyResponse, error) {
	body, err := json.Marshal(VerifyRequest{PaymentPayload: proof, PaymentRequirements: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	return retry.WithRetry(ctx, c.Retry, isUnavailable, func() (*x402.VerifyResponse, error) {
		var resp x402.VerifyResponse
		if err := c.post(ctx, "/verify", c.Timeouts.VerifyTimeout, body, &resp, x402.ErrVerificationFailed); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

// Settle executes a verified payment on the ledger via the facilitator.
func (c *Client) Settle(ctx context.Context, proof x402.PaymentProof, scheme x402.Scheme) (*x402.SettleResponse, error) {
	body, err := json.Marshal(SettleRequest{PaymentPayload: proof, PaymentRequirements: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settle request: %w", err)
	}

	return retry.WithRetry(ctx, c.Retry, isUnavailable, func() (*x402.SettleResponse, error) {
		var resp x402.SettleResponse
		if err := c.post(ctx, "/settle", c.Timeouts.SettleTimeout, body, &resp, x402.ErrSettlementFailed); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

// Refund returns a settled payment to the payer.
func (c *Client) Refund(ctx context.Context, txRef string) (*x402.RefundResponse, error) {
	body, err := json.Marshal(RefundRequest{TxRef: txRef})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refund request: %w", err)
	}

	return retry.WithRetry(ctx, c.Retry, isUnavailable, func() (*x402.RefundResponse, error) {
		var resp x402.RefundResponse
		if err := c.post(ctx, "/refund", c.Timeouts.SettleTimeout, body, &resp, x402.ErrRefundFailed); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

// Health probes the facilitator /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	reqCtx, cancel := c.withTimeout(ctx, c.Timeouts.HealthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", x402.ErrFacilitatorUnavailable, httpResp.StatusCode)
	}
	return nil
}

// post sends a JSON body and decodes a JSON response, translating transport
// failures to ErrFacilitatorUnavailable and non-200 statuses to baseErr.
func (c *Client) post(ctx context.Context, path string, timeout time.Duration, body []byte, out interface{}, baseErr error) error {
	reqCtx, cancel := c.withTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return parseErrorResponse(httpResp, baseErr)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// withTimeout applies the operation timeout only if the caller's context does
// not already carry a deadline.
func (c *Client) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return ctx, func() {}
}

// parseErrorResponse extracts error detail from a non-200 facilitator reply.
func parseErrorResponse(resp *http.Response, baseErr error) error {
	bodyBytes, _ := io.ReadAll(resp.Body)

	var errBody map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &errBody); err == nil {
		if reason, ok := errBody["invalidReason"].(string); ok && reason != "" {
			return fmt.Errorf("%w: status %d, reason: %s", baseErr, resp.StatusCode, reason)
		}
		if reason, ok := errBody["errorReason"].(string); ok && reason != "" {
			return fmt.Errorf("%w: status %d, reason: %s", baseErr, resp.StatusCode, reason)
		}
	}

	if len(bodyBytes) > 0 && len(bodyBytes) < 500 {
		return fmt.Errorf("%w: status %d, body: %s", baseErr, resp.StatusCode, string(bodyBytes))
	}
	return fmt.Errorf("%w: status %d", baseErr, resp.StatusCode)
}

// isUnavailable reports whether an error is a facilitator unavailability that
// warrants a retry.
func isUnavailable(err error) bool {
	return errors.Is(err, x402.ErrFacilitatorUnavailable)
}
