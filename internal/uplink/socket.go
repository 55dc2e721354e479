package uplink

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	receiveType = "receive.json"
	acceptType  = "websocket.accept"
)

type envelope struct {
	Type string         `json:"type"`
	Text map[string]any `json:"text"`
}

type ack struct {
	Type string `json:"type"`
}

// Socket is a lazily connected WebSocket to the collector's live channel.
// A transport failure drops the connection; the next send dials again.
type Socket struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	timeout time.Duration
	now     func() time.Time

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewSocket(url, user, password string, timeout time.Duration) *Socket {
	header := http.Header{}
	if user != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		header.Set("Authorization", "Basic "+cred)
	}
	return &Socket{
		url:     url,
		header:  header,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout, Proxy: http.ProxyFromEnvironment},
		timeout: timeout,
		now:     time.Now,
	}
}

var errUnexpectedReply = errors.New("unexpected socket reply")

// Send writes one message and waits for the collector's accept. A held
// connection the collector has since closed is replaced once; a fresh
// connection that gets no acknowledgment is a failed send and is not retried.
func (s *Socket) Send(ctx context.Context, data map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := false
	if s.conn == nil {
		if err := s.connect(ctx); err != nil {
			log.Error().Err(err).Str("url", s.url).Msg("Failed to make socket connection to collector")
			return false
		}
		fresh = true
	}

	text := make(map[string]any, len(data)+1)
	for k, v := range data {
		text[k] = v
	}
	if _, ok := text["time"]; !ok {
		text["time"] = s.now().Format(time.RFC3339)
	}

	err := s.exchange(ctx, text)
	if err != nil && !fresh && !errors.Is(err, errUnexpectedReply) {
		log.Info().Err(err).Msg("Socket connection closed by collector, reconnecting")
		if cerr := s.connect(ctx); cerr != nil {
			log.Error().Err(cerr).Str("url", s.url).Msg("Failed to make socket connection to collector")
			return false
		}
		err = s.exchange(ctx, text)
	}
	if err != nil {
		log.Warn().Err(err).Msg("No acknowledgment from collector")
		return false
	}

	log.Debug().Interface("message", text).Msg("Sent message over socket")
	return true
}

// exchange writes one envelope and reads the reply. Transport errors drop the
// connection.
func (s *Socket) exchange(ctx context.Context, text map[string]any) error {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(envelope{Type: receiveType, Text: text}); err != nil {
		s.drop()
		return fmt.Errorf("write: %w", err)
	}

	_ = s.conn.SetReadDeadline(deadline)
	var reply ack
	if err := s.conn.ReadJSON(&reply); err != nil {
		s.drop()
		return fmt.Errorf("read acknowledgment: %w", err)
	}
	if reply.Type != acceptType {
		return fmt.Errorf("%w: %q", errUnexpectedReply, reply.Type)
	}
	return nil
}

func (s *Socket) connect(ctx context.Context) error {
	log.Debug().Str("url", s.url).Msg("Connecting socket")
	conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

func (s *Socket) drop() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Connected reports whether a connection is currently held open.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := s.conn.Close()
	s.conn = nil
	return err
}
