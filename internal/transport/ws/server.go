package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"

	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/mathx"
	"voxelclient.ai/internal/protocol"
	"voxelclient.ai/internal/registry"
	"voxelclient.ai/internal/terrain"
	"voxelclient.ai/internal/voxel"
)

type ServerConfig struct {
	World    config.WorldOptions
	Registry *registry.Registry
	Store    *terrain.Store
	Logger   *log.Logger
	// Outbound queue per connection. A full queue drops the connection.
	MaxQueue int
	// Chunks served per second to one connection; 0 means unlimited.
	// Chunks over the limit are answered with E_RATE_LIMIT and left to
	// the client's rerequest.
	LoadRate  float64
	LoadBurst int
}

// Server is a development world server: it hands out generated terrain on
// LOAD requests, applies UPDATEs to its own copy and relays them to every
// other connection.
type Server struct {
	cfg ServerConfig
	log *log.Logger

	upgrader websocket.Upgrader

	storeMu deadlock.Mutex
	store   *terrain.Store

	clientsMu deadlock.RWMutex
	clients   map[string]*peer

	served   atomic.Int64
	relayed  atomic.Int64
	rejected atomic.Int64
}

type peer struct {
	id     string
	name   string
	out    chan []byte
	cancel context.CancelFunc
	loads  *rate.Limiter
}

type ServerStats struct {
	Clients  int
	Served   int64
	Relayed  int64
	Rejected int64
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 256
	}
	if cfg.LoadRate > 0 && cfg.LoadBurst <= 0 {
		cfg.LoadBurst = int(cfg.LoadRate)
		if cfg.LoadBurst < 1 {
			cfg.LoadBurst = 1
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		cfg:   cfg,
		log:   logger,
		store: cfg.Store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[string]*peer{},
	}
}

func (s *Server) Stats() ServerStats {
	s.clientsMu.RLock()
	n := len(s.clients)
	s.clientsMu.RUnlock()
	return ServerStats{Clients: n, Served: s.served.Load(), Relayed: s.relayed.Load(), Rejected: s.rejected.Load()}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		name, ok := s.handshake(conn)
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p := &peer{id: uuid.NewString(), name: name, out: make(chan []byte, s.cfg.MaxQueue), cancel: cancel}
		if s.cfg.LoadRate > 0 {
			p.loads = rate.NewLimiter(rate.Limit(s.cfg.LoadRate), s.cfg.LoadBurst)
		}
		s.clientsMu.Lock()
		s.clients[p.id] = p
		s.clientsMu.Unlock()
		s.log.Printf("client joined id=%s name=%s", p.id, p.name)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					_ = conn.Close()
					return
				case b := <-p.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.handle(p, msg)
		}

		s.clientsMu.Lock()
		delete(s.clients, p.id)
		s.clientsMu.Unlock()
		s.log.Printf("client left id=%s", p.id)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}

	base, err := protocol.Validate(protocol.FromClient, msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", false
	}
	if !protocol.IsSupportedVersion(hello.ProtocolVersion) {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, hello.ProtocolVersion))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", false
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	initMsg := protocol.InitMsg{
		Type:            protocol.TypeInit,
		ProtocolVersion: protocol.Version,
		Params:          ParamsFrom(s.cfg.World),
		Blocks:          s.cfg.Registry.Blocks(),
		BlocksDigest:    s.cfg.Registry.Digest,
	}
	if err := writeJSON(conn, initMsg); err != nil {
		return "", false
	}
	return hello.ClientName, true
}

func (s *Server) handle(p *peer, msg []byte) {
	base, err := protocol.Validate(protocol.FromClient, msg)
	if err != nil {
		s.rejected.Add(1)
		s.send(p, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
		return
	}
	switch base.Type {
	case protocol.TypeLoad:
		var req protocol.LoadRequestMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			s.send(p, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
			return
		}
		s.serveLoad(p, req)
	case protocol.TypeUpdate:
		var up protocol.UpdateMsg
		if err := json.Unmarshal(msg, &up); err != nil {
			s.send(p, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
			return
		}
		s.applyUpdate(p, up)
	case protocol.TypeUnload:
		// Chunks are kept server side; nothing to release.
	}
}

func (s *Server) serveLoad(p *peer, req protocol.LoadRequestMsg) {
	out := protocol.LoadMsg{Type: protocol.TypeLoad, ProtocolVersion: protocol.Version}
	limited := 0
	for _, cc := range req.Chunks {
		if !s.cfg.World.ChunkWithinWorld(cc[0], cc[1]) {
			s.rejected.Add(1)
			s.send(p, protocol.NewError(protocol.ErrOutOfWorld, fmt.Sprintf("chunk %s", mathx.ChunkName(cc[0], cc[1]))))
			continue
		}
		if p.loads != nil && !p.loads.Allow() {
			limited++
			continue
		}
		s.storeMu.Lock()
		snap := s.store.Lit(cc[0], cc[1]).Serialize()
		s.storeMu.Unlock()
		out.Chunks = append(out.Chunks, snap.Protocol())
	}
	if limited > 0 {
		s.rejected.Add(int64(limited))
		s.send(p, protocol.NewError(protocol.ErrRateLimit, fmt.Sprintf("%d chunks deferred", limited)))
	}
	if len(out.Chunks) == 0 {
		return
	}
	s.served.Add(int64(len(out.Chunks)))
	s.send(p, out)
}

func (s *Server) applyUpdate(p *peer, up protocol.UpdateMsg) {
	applied := make([]protocol.UpdateProtocol, 0, len(up.Updates))
	for _, u := range up.Updates {
		if _, ok := s.cfg.Registry.ByID(voxel.ID(u.Voxel)); !ok {
			s.rejected.Add(1)
			s.send(p, protocol.NewError(protocol.ErrUnknownBlock, fmt.Sprintf("voxel %d", u.Voxel)))
			continue
		}
		s.storeMu.Lock()
		ok := s.store.Set(u.VX, u.VY, u.VZ, u.Voxel)
		s.storeMu.Unlock()
		if !ok {
			s.rejected.Add(1)
			s.send(p, protocol.NewError(protocol.ErrOutOfWorld, fmt.Sprintf("voxel (%d,%d,%d)", u.VX, u.VY, u.VZ)))
			continue
		}
		applied = append(applied, protocol.UpdateProtocol{VX: u.VX, VY: u.VY, VZ: u.VZ, Voxel: u.Voxel})
	}
	if len(applied) == 0 {
		return
	}
	b, err := json.Marshal(protocol.UpdateMsg{Type: protocol.TypeUpdate, ProtocolVersion: protocol.Version, Updates: applied})
	if err != nil {
		return
	}
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for id, other := range s.clients {
		if id == p.id {
			continue
		}
		s.enqueue(other, b)
		s.relayed.Add(1)
	}
}

func (s *Server) send(p *peer, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.enqueue(p, b)
}

// enqueue never blocks the reader of another connection. A peer that
// cannot keep up is disconnected.
func (s *Server) enqueue(p *peer, b []byte) {
	select {
	case p.out <- b:
	default:
		s.log.Printf("client queue full id=%s", p.id)
		p.cancel()
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
	return nil
}
