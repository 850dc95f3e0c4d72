package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"aurora-guest-monitor/internal/model"
)

// WebSocketClient writes each guest frame as one JSON envelope text message.
// Frames go through the same bounded queue as the gRPC client; each write is
// bounded by writeTimeout.
type WebSocketClient struct {
	logger       *slog.Logger
	url          string
	token        string
	tlsConfig    *tls.Config
	writeTimeout time.Duration
	pingInterval time.Duration
	queue        *frameQueue

	life  context.Context
	abort context.CancelFunc

	// Owned by the sender goroutine until the queue has drained.
	conn       *websocket.Conn
	pingCancel context.CancelFunc
}

func NewWebSocketClient(url, token string, tlsCfg *tls.Config, writeTimeout, pingInterval time.Duration, bufferSize int, logger *slog.Logger) *WebSocketClient {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}
	life, abort := context.WithCancel(context.Background())
	c := &WebSocketClient{
		logger:       logger.With("component", "websocket_stream"),
		url:          url,
		token:        token,
		tlsConfig:    tlsCfg,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		life:         life,
		abort:        abort,
	}
	c.queue = newFrameQueue(bufferSize, c.send)
	return c
}

func (c *WebSocketClient) PublishGuestSample(ctx context.Context, f model.GuestFrame) error {
	return c.queue.offer(ctx, f)
}

// Dropped counts frames refused because the queue was full.
func (c *WebSocketClient) Dropped() uint64 {
	return c.queue.drops.Load()
}

func (c *WebSocketClient) Close(ctx context.Context) error {
	err := c.queue.close(ctx, c.abort)
	c.stopPingLoop()
	if c.conn != nil {
		if err != nil {
			_ = c.conn.CloseNow()
		} else {
			cctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err = closeConn(cctx, c.conn)
			cancel()
		}
		c.conn = nil
	}
	c.abort()
	return err
}

// closeConn runs the close handshake but gives up once ctx ends.
func closeConn(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan error, 1)
	go func() { done <- conn.Close(websocket.StatusNormalClosure, "shutdown") }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = conn.CloseNow()
		return ctx.Err()
	}
}

func (c *WebSocketClient) send(f model.GuestFrame) {
	if c.life.Err() != nil {
		return
	}
	payload, err := EncodeEnvelope(NewGuestEnvelope(f))
	if err != nil {
		c.logger.Warn("guest frame dropped", "guest_id", f.GuestID, "error", fmt.Errorf("encode envelope: %w", err))
		return
	}
	err = c.write(payload)
	if err == nil {
		return
	}
	c.logger.Warn("websocket write failed, reconnecting", "error", err)
	c.dropConn()
	if c.life.Err() != nil {
		return
	}
	if err := c.write(payload); err != nil {
		c.dropConn()
		c.logger.Warn("guest frame dropped", "guest_id", f.GuestID, "uuid", f.UUID, "error", fmt.Errorf("write envelope retry: %w", err))
	}
}

func (c *WebSocketClient) write(payload []byte) error {
	ctx, cancel := context.WithTimeout(c.life, c.writeTimeout)
	defer cancel()
	if err := c.ensureConn(ctx); err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *WebSocketClient) dropConn() {
	c.stopPingLoop()
	if c.conn != nil {
		_ = c.conn.CloseNow()
		c.conn = nil
	}
}

func (c *WebSocketClient) ensureConn(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	opt := &websocket.DialOptions{HTTPHeader: h}
	if c.tlsConfig != nil {
		opt.HTTPClient = &http.Client{Transport: &http.Transport{TLSClientConfig: c.tlsConfig}}
	}
	conn, _, err := websocket.Dial(ctx, c.url, opt)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.url, err)
	}
	// Nothing is read from the backend except control frames.
	conn.CloseRead(c.life)
	c.conn = conn
	c.startPingLoop()
	c.logger.Info("websocket stream connected", "url", c.url)
	return nil
}

func (c *WebSocketClient) stopPingLoop() {
	if c.pingCancel != nil {
		c.pingCancel()
		c.pingCancel = nil
	}
}

func (c *WebSocketClient) startPingLoop() {
	c.stopPingLoop()
	ctx, cancel := context.WithCancel(c.life)
	c.pingCancel = cancel
	go func(conn *websocket.Conn, interval time.Duration) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
				if err := conn.Ping(pingCtx); err != nil {
					c.logger.Debug("websocket ping failed", "error", err)
				}
				pingCancel()
			}
		}
	}(c.conn, c.pingInterval)
}
