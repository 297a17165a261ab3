package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"tle_zone_judge/internal/domain/model"

	"go.uber.org/zap"
)

var (
	ErrTimeout     = errors.New("sandbox execution timed out")
	ErrUnreachable = errors.New("sandbox unreachable")
	ErrBadResponse = errors.New("sandbox returned an unusable response")
)

const maxResponseBytes = 8 << 20

// Client posts execution requests to a Piston-compatible /execute endpoint.
// Requests are never retried.
type Client struct {
	url        string
	timeLimit  time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(url string, timeLimit time.Duration, logger *zap.Logger) *Client {
	return &Client{
		url:       url,
		timeLimit: timeLimit,
		// Backstop for a wedged connection; the context deadline is the real bound.
		httpClient: &http.Client{Timeout: timeLimit + 5*time.Second},
		logger:     logger,
	}
}

// Execute runs req and returns the raw run output. The call is bounded by the configured time
// limit; exceeding it yields ErrTimeout.
func (c *Client) Execute(ctx context.Context, req model.SandboxRequest) (*model.SandboxResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sandbox request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeLimit)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sandbox request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			c.logger.Warn("sandbox call timed out",
				zap.String("language", req.Language),
				zap.Duration("elapsed", time.Since(start)))
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeLimit)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeLimit)
		}
		return nil, fmt.Errorf("%w: reading body: %v", ErrUnreachable, err)
	}

	var out model.SandboxResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: status %d: %v", ErrBadResponse, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrBadResponse, resp.StatusCode, msg)
	}

	c.logger.Debug("sandbox call finished",
		zap.String("language", req.Language),
		zap.Int("exit_code", out.Run.ExitCode()),
		zap.Duration("elapsed", time.Since(start)))
	return &out, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
