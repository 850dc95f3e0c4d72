package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"aurora-guest-monitor/internal/agent/version"
)

func (a *Agent) runProbeListener(ctx context.Context) error {
	addr := strings.TrimSpace(a.cfg.ProbeListenAddr)
	if addr == "" {
		return fmt.Errorf("empty probe listen address")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen probe endpoint %s: %w", addr, err)
	}
	defer func() { _ = ln.Close() }()

	a.logger.Info("probe endpoint listening", "addr", addr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(acceptErr, &ne) && ne.Timeout() {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept probe endpoint %s: %w", addr, acceptErr)
		}

		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		if err := a.writeProbe(conn); err != nil {
			a.logger.Debug("probe write failed", "remote", conn.RemoteAddr().String(), "error", err)
		}
		_ = conn.Close()
	}
}

// writeProbe answers with one JSON line describing the agent.
func (a *Agent) writeProbe(w io.Writer) error {
	resp := version.Get(a.cfg, a.health.ActiveGuests())
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = w.Write(append(payload, '\n'))
	return err
}
