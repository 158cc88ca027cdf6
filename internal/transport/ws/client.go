package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"

	"voxelclient.ai/internal/protocol"
)

var ErrNotConnected = errors.New("not connected")

type SessionConfig struct {
	URL        string
	ClientName string
	Logger     *log.Logger
	// Inbound messages buffered for the frame loop.
	Inbox int
}

type Status struct {
	Connected bool
	Connects  int
	Invalid   int
	LastError string
}

// Session keeps one websocket connection to the world server alive. It
// reconnects with backoff, sends HELLO on every connect, validates inbound
// messages and hands them to the frame loop through Messages.
type Session struct {
	cfg    SessionConfig
	logger *log.Logger

	mu deadlock.RWMutex

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	connected bool
	connects  int
	invalid   int
	lastErr   string
	init      *protocol.InitMsg

	conn    *websocket.Conn
	writeMu deadlock.Mutex

	inbox    chan []byte
	initWait chan struct{}
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.ClientName == "" {
		cfg.ClientName = "client"
	}
	if cfg.Inbox <= 0 {
		cfg.Inbox = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Session{
		cfg:      cfg,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		inbox:    make(chan []byte, cfg.Inbox),
		initWait: make(chan struct{}),
	}
}

func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.Disconnect()
		s.startOnce.Do(func() { close(s.done) })
		<-s.done
	})
}

// Disconnect drops the current connection. The session reconnects unless
// it is closed.
func (s *Session) Disconnect() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// Messages yields validated server messages other than INIT.
func (s *Session) Messages() <-chan []byte { return s.inbox }

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{Connected: s.connected, Connects: s.connects, Invalid: s.invalid, LastError: s.lastErr}
}

// WaitInit blocks until the first INIT arrives.
func (s *Session) WaitInit(ctx context.Context) (protocol.InitMsg, error) {
	select {
	case <-ctx.Done():
		return protocol.InitMsg{}, ctx.Err()
	case <-s.initWait:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.init, nil
}

// Send validates v against the client schemas and writes it.
func (s *Session) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := protocol.Validate(protocol.FromClient, b); err != nil {
		return fmt.Errorf("outbound: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// SendAll sends packets in order and stops at the first error. It returns
// how many were sent.
func (s *Session) SendAll(packets []any) (int, error) {
	for i, p := range packets {
		if err := s.Send(p); err != nil {
			return i, err
		}
	}
	return len(packets), nil
}

func (s *Session) run() {
	defer close(s.done)

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-s.stop:
			s.Disconnect()
			return
		default:
		}

		if err := s.connectAndReadLoop(); err != nil {
			s.mu.Lock()
			s.connected = false
			s.lastErr = err.Error()
			s.mu.Unlock()
			s.logger.Printf("session disconnected url=%s err=%v retry_in=%s", s.cfg.URL, err, backoff)
			select {
			case <-s.stop:
				s.Disconnect()
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
				if backoff > 5*time.Second {
					backoff = 5 * time.Second
				}
			}
			continue
		}
		return
	}
}

func (s *Session) connectAndReadLoop() error {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(s.cfg.URL, http.Header{})
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      s.cfg.ClientName,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.connects++
	s.lastErr = ""
	s.mu.Unlock()

	for {
		select {
		case <-s.stop:
			_ = conn.Close()
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}
		base, err := protocol.Validate(protocol.FromServer, msg)
		if err != nil {
			s.mu.Lock()
			s.invalid++
			s.mu.Unlock()
			s.logger.Printf("inbound message rejected err=%v", err)
			continue
		}
		if !protocol.IsSupportedVersion(base.ProtocolVersion) {
			s.mu.Lock()
			s.invalid++
			s.mu.Unlock()
			continue
		}
		if base.Type == protocol.TypeInit {
			var in protocol.InitMsg
			if err := json.Unmarshal(msg, &in); err != nil {
				continue
			}
			s.mu.Lock()
			first := s.init == nil
			s.init = &in
			s.mu.Unlock()
			if first {
				close(s.initWait)
			}
			continue
		}
		select {
		case s.inbox <- msg:
		case <-s.stop:
			_ = conn.Close()
			return nil
		}
	}
}
