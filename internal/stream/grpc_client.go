package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"aurora-guest-monitor/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// GRPCClient sends guest frames over one long-lived client stream. Frames are
// queued and written by a single sender; every stream open and send is bounded
// by sendTimeout, and a failed send reopens the stream once before the frame
// is dropped.
type GRPCClient struct {
	logger      *slog.Logger
	addr        string
	tlsConfig   *tls.Config
	token       string
	method      string
	sendTimeout time.Duration
	queue       *frameQueue

	// life parents every stream; cancelling it aborts an in-flight send.
	life  context.Context
	abort context.CancelFunc

	// Owned by the sender goroutine until the queue has drained.
	conn         *grpc.ClientConn
	stream       grpc.ClientStream
	streamCancel context.CancelFunc
}

func NewGRPCClient(addr string, tlsCfg *tls.Config, token, method string, bufferSize int, sendTimeout time.Duration, logger *slog.Logger) *GRPCClient {
	encoding.RegisterCodec(jsonCodec{})
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	life, abort := context.WithCancel(context.Background())
	c := &GRPCClient{
		logger:      logger.With("component", "grpc_stream"),
		addr:        addr,
		tlsConfig:   tlsCfg,
		token:       token,
		method:      method,
		sendTimeout: sendTimeout,
		life:        life,
		abort:       abort,
	}
	c.queue = newFrameQueue(bufferSize, c.send)
	return c
}

// PublishGuestSample queues f and returns without waiting for the network.
// It fails with ErrQueueFull while the backend is not keeping up.
func (c *GRPCClient) PublishGuestSample(ctx context.Context, f model.GuestFrame) error {
	return c.queue.offer(ctx, f)
}

// Dropped counts frames refused because the queue was full.
func (c *GRPCClient) Dropped() uint64 {
	return c.queue.drops.Load()
}

// Close flushes queued frames until ctx ends, then tears the stream down.
func (c *GRPCClient) Close(ctx context.Context) error {
	err := c.queue.close(ctx, c.abort)
	c.closeStream()
	c.abort()
	if c.conn != nil {
		if cerr := c.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		c.conn = nil
	}
	return err
}

func (c *GRPCClient) send(f model.GuestFrame) {
	if c.life.Err() != nil {
		return
	}
	err := c.sendOnce(f)
	if err == nil {
		return
	}
	c.logger.Warn("grpc guest send failed, reopening stream", "error", err)
	c.closeStream()
	if c.life.Err() != nil {
		return
	}
	if err := c.sendOnce(f); err != nil {
		c.closeStream()
		c.logger.Warn("guest frame dropped", "guest_id", f.GuestID, "uuid", f.UUID, "error", err)
	}
}

func (c *GRPCClient) sendOnce(f model.GuestFrame) error {
	if err := c.ensureConn(); err != nil {
		return err
	}
	if c.stream == nil {
		if err := c.openStream(); err != nil {
			return err
		}
	}
	// A backend that stops reading blocks SendMsg on flow control; cancelling
	// the stream context is the only way to release it.
	watchdog := time.AfterFunc(c.sendTimeout, c.streamCancel)
	defer watchdog.Stop()
	if err := c.stream.SendMsg(f); err != nil {
		return fmt.Errorf("send guest frame: %w", err)
	}
	return nil
}

func (c *GRPCClient) ensureConn() error {
	if c.conn != nil {
		return nil
	}

	var creds credentials.TransportCredentials
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(
		c.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return fmt.Errorf("grpc client %s: %w", c.addr, err)
	}
	c.conn = conn
	c.logger.Info("grpc stream client created", "addr", c.addr)
	return nil
}

// openStream opens the client stream on a context derived from the client
// lifetime; the caller's context only bounds queueing.
func (c *GRPCClient) openStream() error {
	if c.conn == nil {
		return errors.New("grpc conn is nil")
	}
	ctx, cancel := context.WithCancel(c.life)
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	watchdog := time.AfterFunc(c.sendTimeout, cancel)
	s, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ClientStreams: true}, c.method)
	watchdog.Stop()
	if err != nil {
		cancel()
		return fmt.Errorf("open guest stream: %w", err)
	}
	c.stream = s
	c.streamCancel = cancel
	return nil
}

func (c *GRPCClient) closeStream() {
	if c.stream != nil {
		_ = c.stream.CloseSend()
		c.stream = nil
	}
	if c.streamCancel != nil {
		c.streamCancel()
		c.streamCancel = nil
	}
}
