package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
)

var ErrSignalClosed = errors.New("signaling connection closed")

const (
	dialTimeout  = 10 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 5 * time.Second
)

// Signal maintains the control websocket to the coordinator server. It
// redials with exponential backoff when the link drops and hands every
// received frame to the configured handler. Satisfies the mesh coordinator's
// EnvelopeSender.
type Signal struct {
	url     string
	handler func(core.Frame)

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

func NewSignal(serverURL string, self domain.UserID, handler func(core.Frame)) (*Signal, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/signaling/" + string(self)

	return &Signal{
		url:     u.String(),
		handler: handler,
		done:    make(chan struct{}),
	}, nil
}

// Run dials the server and pumps incoming frames until ctx is cancelled or
// Close is called. Reconnects transparently; frames sent while the link is
// down are dropped, which the mesh recovers from via negotiation timeouts.
func (s *Signal) Run(ctx context.Context) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	for {
		conn, err := backoff.RetryWithData(func() (*websocket.Conn, error) {
			select {
			case <-s.done:
				return nil, backoff.Permanent(ErrSignalClosed)
			default:
			}
			dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
			defer cancel()
			c, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
			if err != nil {
				log.Warn().Err(err).Str("module", "client").Msg("signaling dial failed, retrying")
			}
			return c, err
		}, policy)
		if err != nil {
			return err
		}
		policy.Reset()

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		log.Info().Str("module", "client").Str("url", s.url).Msg("signaling connected")

		err = s.readLoop(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()

		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
			log.Warn().Err(err).Str("module", "client").Msg("signaling link lost, reconnecting")
		}
	}
}

func (s *Signal) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		pings := time.NewTicker(pingInterval)
		defer pings.Stop()
		for {
			select {
			case <-pings.C:
				s.writeMessage(websocket.PingMessage, nil)
			case <-ctx.Done():
				conn.Close()
				return
			case <-s.done:
				conn.Close()
				return
			case <-stop:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handler(data)
	}
}

// SendEnvelope marshals and writes one signaling envelope. Best effort: an
// error here means the link is down and the frame is lost.
func (s *Signal) SendEnvelope(env *core.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	return s.writeMessage(websocket.TextMessage, frame)
}

func (s *Signal) writeMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrSignalClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// Close tears the link down and stops reconnecting.
func (s *Signal) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	})
}
