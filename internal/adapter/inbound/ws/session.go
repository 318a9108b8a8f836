package ws

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aussie-Gate/Aussiegate/internal/service"
)

// closeWriteTimeout bounds the best-effort close frame on teardown.
const closeWriteTimeout = time.Second

// session relays frames between one client and one backend connection.
// Reads may come through buffered readers left over from the handshake,
// so each side carries a reader separate from its conn.
type session struct {
	svc   *service.WebSocketService
	authz *service.WebSocketAuthorization
	cfg   service.WebSocketConfig

	client  net.Conn
	clientR io.Reader
	backend net.Conn
	backendR io.Reader

	logger *slog.Logger

	lastActivity atomic.Int64 // unix nanos
	lastPong     atomic.Int64
	closeOnce    sync.Once
	done         chan struct{}
}

func newSession(svc *service.WebSocketService, authz *service.WebSocketAuthorization,
	client net.Conn, clientR io.Reader, backend net.Conn, backendR io.Reader,
	logger *slog.Logger) *session {
	s := &session{
		svc:      svc,
		authz:    authz,
		cfg:      svc.Config(),
		client:   client,
		clientR:  clientR,
		backend:  backend,
		backendR: backendR,
		logger:   logger,
		done:     make(chan struct{}),
	}
	now := time.Now().UnixNano()
	s.lastActivity.Store(now)
	s.lastPong.Store(now)
	return s
}

// run relays until either peer disconnects or a lifecycle rule fires,
// then releases the session's rate-limit buckets. Blocks until done.
func (s *session) run(ctx context.Context) {
	var relays sync.WaitGroup
	relays.Add(2)
	go func() {
		defer relays.Done()
		// Client frames are masked; re-mask toward the backend where the
		// relay acts as the client.
		s.relay(ctx, s.clientR, s.backend, true, true)
	}()
	go func() {
		defer relays.Done()
		s.relay(ctx, s.backendR, s.client, false, false)
	}()

	var lifecycle sync.WaitGroup
	lifecycle.Add(1)
	go func() {
		defer lifecycle.Done()
		s.enforceLifecycle(ctx)
	}()

	relays.Wait()
	s.shutdown(closeNormal, "")
	lifecycle.Wait()

	s.svc.ReleaseConnection(context.WithoutCancel(ctx), s.authz)
	s.logger.Debug("websocket session closed", "connection_id", s.authz.ConnectionID)
}

// relay pumps frames from src to dst until error or close.
func (s *session) relay(ctx context.Context, src io.Reader, dst net.Conn, maskOut, fromClient bool) {
	for {
		f, err := readFrame(src)
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("websocket read ended", "from_client", fromClient, "error", err)
			}
			s.terminate()
			return
		}
		s.lastActivity.Store(time.Now().UnixNano())

		switch f.opcode {
		case opClose:
			// Either peer closing closes the other with the same reason.
			_ = writeFrame(dst, f, maskOut)
			s.terminate()
			return

		case opPing, opPong:
			if fromClient && f.opcode == opPong {
				s.lastPong.Store(time.Now().UnixNano())
			}
			if err := writeFrame(dst, f, maskOut); err != nil {
				s.terminate()
				return
			}

		default:
			if fromClient && f.isData() && f.opcode != opContinuation {
				if decision := s.svc.MessageAllowed(ctx, s.authz); !decision.Allowed {
					s.shutdown(closeRateLimited, "rate limited")
					return
				}
			}
			if err := writeFrame(dst, f, maskOut); err != nil {
				s.terminate()
				return
			}
		}
	}
}

// enforceLifecycle applies the idle, lifetime, and ping rules.
func (s *session) enforceLifecycle(ctx context.Context) {
	check := time.NewTicker(checkInterval(s.cfg))
	defer check.Stop()

	var lifetime <-chan time.Time
	if s.cfg.MaxLifetime > 0 {
		timer := time.NewTimer(s.cfg.MaxLifetime)
		defer timer.Stop()
		lifetime = timer.C
	}
	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.shutdown(closeGoingAway, "server shutting down")
			return
		case <-lifetime:
			s.shutdown(closeNormal, "lifetime")
			return
		case <-ping:
			if err := writeFrame(s.client, frame{fin: true, opcode: opPing}, false); err != nil {
				s.terminate()
				return
			}
		case <-check.C:
			if s.cfg.IdleTimeout > 0 && s.sinceActivity() > s.cfg.IdleTimeout {
				s.shutdown(closeNormal, "idle")
				return
			}
			if s.cfg.PingInterval > 0 && s.cfg.PingTimeout > 0 &&
				s.sincePong() > s.cfg.PingInterval+s.cfg.PingTimeout {
				s.shutdown(closeProtocolErr, "ping timeout")
				return
			}
		}
	}
}

// checkInterval scales the rule-check cadence to the shortest enabled
// timeout so short limits are enforced promptly.
func checkInterval(cfg service.WebSocketConfig) time.Duration {
	interval := time.Second
	if cfg.IdleTimeout > 0 && cfg.IdleTimeout/4 < interval {
		interval = cfg.IdleTimeout / 4
	}
	if cfg.PingTimeout > 0 && cfg.PingTimeout/4 < interval {
		interval = cfg.PingTimeout / 4
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

func (s *session) sinceActivity() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

func (s *session) sincePong() time.Duration {
	return time.Since(time.Unix(0, s.lastPong.Load()))
}

// shutdown sends a close frame with the given code to both peers, then
// tears the connections down. Safe to call from any goroutine; only the
// first caller's code wins.
func (s *session) shutdown(code uint16, reason string) {
	s.closeOnce.Do(func() {
		f := closeFrame(code, reason)
		_ = s.client.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		_ = writeFrame(s.client, f, false)
		_ = s.backend.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		_ = writeFrame(s.backend, f, true)
		s.client.Close()
		s.backend.Close()
		close(s.done)
	})
}

// terminate closes both connections without emitting a close frame,
// used when a peer already closed or the transport failed.
func (s *session) terminate() {
	s.closeOnce.Do(func() {
		s.client.Close()
		s.backend.Close()
		close(s.done)
	})
}
