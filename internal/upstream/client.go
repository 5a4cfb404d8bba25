package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ResultKind tags the outcome of a Receive call so the relay loop can
// distinguish a retryable pause from a dead connection.
type ResultKind int

const (
	// ResultMessage carries one upstream text frame.
	ResultMessage ResultKind = iota
	// ResultTransient means no frame arrived but the connection may recover;
	// the caller should back off briefly and retry.
	ResultTransient
	// ResultClosed means the connection is gone and will not produce more
	// frames; the caller should clean up.
	ResultClosed
)

// Result is the tagged outcome of a Receive call.
type Result struct {
	Kind    ResultKind
	Message string
}

// Conn is the capability surface the relay needs from a live voice-AI
// transport. Implementations must never panic out of Send or Receive; a
// disconnected send is dropped and logged, and receive failures are folded
// into the Result tag.
type Conn interface {
	Send(text string) error
	Receive() Result
	Close() error
	Connected() bool
}

// ConnectError reports a failed connection attempt: bad credentials, an
// empty model name, or a rejected handshake.
type ConnectError struct {
	Reason string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream connect failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("upstream connect failed: %s", e.Reason)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Config contains the voice-AI client configuration. BearerToken and APIKey
// are mutually exclusive.
type Config struct {
	Endpoint       string
	APIVersion     string
	BearerToken    string
	APIKey         string
	ConnectTimeout time.Duration
}

// Client dials the Azure Voice Live realtime API
type Client struct {
	config Config
	logger *slog.Logger
}

// NewClient creates a new voice-AI client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.BearerToken == "" && config.APIKey == "" {
		return nil, fmt.Errorf("either bearer token or API key is required")
	}

	if config.BearerToken != "" && config.APIKey != "" {
		return nil, fmt.Errorf("bearer token and API key are mutually exclusive")
	}

	if config.APIVersion == "" {
		config.APIVersion = "2025-05-01-preview"
	}

	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 15 * time.Second
	}

	return &Client{config: config, logger: logger}, nil
}

// Connect establishes the websocket transport for one session. Every attempt
// carries a fresh x-ms-client-request-id plus exactly one of the bearer or
// api-key headers.
func (c *Client) Connect(ctx context.Context, model string) (Conn, error) {
	if model == "" {
		return nil, &ConnectError{Reason: "model name is required"}
	}

	wsURL, err := c.buildURL(model)
	if err != nil {
		return nil, &ConnectError{Reason: "invalid endpoint", Err: err}
	}

	requestID := uuid.New().String()
	header := http.Header{}
	header.Set("x-ms-client-request-id", requestID)
	if c.config.BearerToken != "" {
		header.Set("Authorization", "Bearer "+c.config.BearerToken)
	} else {
		header.Set("api-key", c.config.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.config.ConnectTimeout}
	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		status := ""
		if resp != nil {
			status = resp.Status
		}
		return nil, &ConnectError{Reason: fmt.Sprintf("handshake rejected (%s)", status), Err: err}
	}

	conn := &Connection{
		ws:        ws,
		logger:    c.logger,
		requestID: requestID,
	}
	conn.connected.Store(true)

	c.logger.Info("Upstream connection established",
		slog.String("model", model),
		slog.String("request_id", requestID),
	)

	return conn, nil
}

// buildURL converts the https endpoint into the realtime websocket URL.
func (c *Client) buildURL(model string) (string, error) {
	endpoint := strings.TrimRight(c.config.Endpoint, "/")
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)
	endpoint = strings.Replace(endpoint, "http://", "ws://", 1)

	u, err := url.Parse(endpoint + "/voice-live/realtime")
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("api-version", c.config.APIVersion)
	q.Set("model", model)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Connection is a live websocket transport to the voice-AI service.
// One Connection serves exactly one session; writes are serialized so
// frames for a session keep their submission order.
type Connection struct {
	ws        *websocket.Conn
	logger    *slog.Logger
	requestID string

	writeMu   sync.Mutex
	closeOnce sync.Once
	connected atomic.Bool
}

// RequestID returns the correlation id attached to the connect attempt.
func (c *Connection) RequestID() string { return c.requestID }

// Connected reports whether the transport is still usable.
func (c *Connection) Connected() bool { return c.connected.Load() }

// Send transmits one text frame. Sends on a disconnected transport are
// dropped and logged rather than raised: the relay loop must not crash on
// the race between a disconnect and an in-flight send.
func (c *Connection) Send(text string) error {
	if !c.connected.Load() {
		c.logger.Debug("Dropping send on disconnected upstream",
			slog.String("request_id", c.requestID),
			slog.Int("size", len(text)),
		)
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.connected.Store(false)
		c.logger.Warn("Upstream send failed",
			slog.String("request_id", c.requestID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	return nil
}

// Receive blocks until one text frame arrives, the connection closes, or a
// read error occurs. It never raises to the caller; failures are folded
// into the Result tag.
func (c *Connection) Receive() Result {
	if !c.connected.Load() {
		return Result{Kind: ResultClosed}
	}

	_, data, err := c.ws.ReadMessage()
	if err == nil {
		return Result{Kind: ResultMessage, Message: string(data)}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.logger.Debug("Upstream receive timed out",
			slog.String("request_id", c.requestID),
		)
		return Result{Kind: ResultTransient}
	}

	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
		!errors.Is(err, net.ErrClosed) {
		c.logger.Warn("Upstream receive failed",
			slog.String("request_id", c.requestID),
			slog.String("error", err.Error()),
		)
	}

	c.connected.Store(false)
	return Result{Kind: ResultClosed}
}

// Close shuts the transport down. Safe to call multiple times.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		if err := c.ws.Close(); err != nil {
			c.logger.Debug("Upstream close error",
				slog.String("request_id", c.requestID),
				slog.String("error", err.Error()),
			)
		}
	})
	return nil
}
