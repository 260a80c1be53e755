package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tvshift/tvshift/internal/config"
	"github.com/tvshift/tvshift/internal/protocol"
	"github.com/tvshift/tvshift/internal/timeshift"
)

// Role identifies which side of a session a connection serves.
type Role uint8

const (
	// RoleProducer streams packets into the session's buffer. The
	// producer owns the session lifecycle: when it disconnects the
	// session is torn down.
	RoleProducer Role = 1
	// RoleConsumer drives read/seek/pause requests against the buffer.
	RoleConsumer Role = 2
)

// Server accepts session protocol connections and dispatches them
// against the registry.
type Server struct {
	cfg      config.ServerConfig
	registry *Registry
	logger   *slog.Logger

	mu        sync.Mutex
	ln        net.Listener
	conns     map[net.Conn]struct{}
	consumers map[string]struct{}
}

// NewServer creates a session server. Call Listen before Serve.
func NewServer(cfg config.ServerConfig, registry *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		registry:  registry,
		logger:    logger,
		conns:     make(map[net.Conn]struct{}),
		consumers: make(map[string]struct{}),
	}
}

// Listen binds the server's TCP listener.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("session server listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until the context is cancelled, then closes
// the listener, every open connection, and all active sessions.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("session: Serve called before Listen")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})

	g.Go(func() error {
		var wg sync.WaitGroup
		defer wg.Wait()

		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accepting connection: %w", err)
			}

			s.track(conn)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer s.untrack(conn)
				s.handle(conn)
			}()
		}
	})

	return g.Wait()
}

func (s *Server) shutdown() {
	s.mu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.registry.CloseAll()
}

func (s *Server) claimConsumer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.consumers[id]; taken {
		return false
	}
	s.consumers[id] = struct{}{}
	return true
}

func (s *Server) releaseConsumer(id string) {
	s.mu.Lock()
	delete(s.consumers, id)
	s.mu.Unlock()
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// handle performs the open handshake and hands the connection to its
// role loop.
func (s *Server) handle(conn net.Conn) {
	logger := s.logger.With(slog.String("remote", conn.RemoteAddr().String()))

	req, err := protocol.ReadPacket(conn)
	if err != nil {
		logger.Debug("connection closed before open", slog.String("error", err.Error()))
		return
	}
	if req.Type != protocol.MsgOpen || len(req.Data) < 1 {
		writeError(conn, "expected open request")
		return
	}

	role := Role(req.Data[0])
	if role != RoleProducer && role != RoleConsumer {
		writeError(conn, "unknown role")
		return
	}

	q, err := s.registry.Attach(string(req.Data[1:]))
	if err != nil {
		logger.Error("unable to open session", slog.String("error", err.Error()))
		writeError(conn, "unable to open session")
		return
	}

	// A session has a single read cursor, so it admits one consumer at
	// a time; the slot frees when that connection ends.
	if role == RoleConsumer {
		if !s.claimConsumer(q.SessionID()) {
			writeError(conn, "session already has a consumer")
			return
		}
		defer s.releaseConsumer(q.SessionID())
	}

	ack := &protocol.Packet{Type: protocol.MsgAck, Data: []byte(q.SessionID())}
	if _, err := ack.WriteTo(conn); err != nil {
		return
	}

	logger = logger.With(slog.String("session_id", q.SessionID()))
	logger.Info("session connection opened", slog.Int("role", int(role)))

	switch role {
	case RoleProducer:
		s.serveProducer(conn, q, logger)
	case RoleConsumer:
		s.serveConsumer(conn, q, logger)
	}
}

// serveProducer drains stream data into the session's queue. The
// enqueue path never blocks on storage; disk I/O happens on the
// session's writer goroutine.
func (s *Server) serveProducer(conn net.Conn, q *timeshift.LiveQueue, logger *slog.Logger) {
	for {
		p, err := protocol.ReadPacket(conn)
		if err != nil {
			logger.Info("producer disconnected, closing session")
			if cerr := s.registry.Close(q.SessionID()); cerr != nil {
				logger.Warn("session teardown", slog.String("error", cerr.Error()))
			}
			return
		}

		switch p.Type {
		case protocol.MsgStreamData:
			q.Enqueue(p, p.Kind, p.PTS)
		case protocol.MsgClose:
			if cerr := s.registry.Close(q.SessionID()); cerr != nil {
				logger.Warn("session teardown", slog.String("error", cerr.Error()))
			}
			ack := &protocol.Packet{Type: protocol.MsgAck}
			_, _ = ack.WriteTo(conn)
			return
		default:
			logger.Warn("unexpected producer message", slog.Int("type", int(p.Type)))
		}
	}
}

// serveConsumer answers read/seek/pause requests. Every failure on the
// hot path maps to a sentinel response; only a closed session or a dead
// connection ends the loop.
func (s *Server) serveConsumer(conn net.Conn, q *timeshift.LiveQueue, logger *slog.Logger) {
	for {
		req, err := protocol.ReadPacket(conn)
		if err != nil {
			return
		}

		var resp *protocol.Packet

		switch req.Type {
		case protocol.MsgRead:
			keyFrameMode := len(req.Data) > 0 && req.Data[0] == 1
			p, err := q.Read(keyFrameMode)
			switch {
			case err == nil:
				resp = p
			case errors.Is(err, timeshift.ErrClosed):
				writeError(conn, "session closed")
				return
			default:
				// No data, paused, or a non-fatal storage error: the
				// consumer sees an empty response either way.
				if !errors.Is(err, timeshift.ErrNoData) {
					logger.Error("read failed", slog.String("error", err.Error()))
				}
				resp = &protocol.Packet{Type: protocol.MsgEmpty}
			}

		case protocol.MsgSeek:
			pts, err := q.Seek(req.PTS)
			if errors.Is(err, timeshift.ErrClosed) {
				writeError(conn, "session closed")
				return
			}
			// An empty index yields the zero sentinel.
			resp = &protocol.Packet{Type: protocol.MsgSeekResult, PTS: pts}

		case protocol.MsgPause:
			on := len(req.Data) > 0 && req.Data[0] == 1
			changed := byte(0)
			if q.Pause(on) {
				changed = 1
			}
			resp = &protocol.Packet{Type: protocol.MsgAck, Data: []byte{changed}}

		case protocol.MsgStartPosition:
			resp = &protocol.Packet{Type: protocol.MsgStartPosition, PTS: q.TimeshiftStartPosition()}

		case protocol.MsgClose:
			if cerr := s.registry.Close(q.SessionID()); cerr != nil {
				logger.Warn("session teardown", slog.String("error", cerr.Error()))
			}
			resp = &protocol.Packet{Type: protocol.MsgAck}
			_, _ = resp.WriteTo(conn)
			return

		default:
			resp = &protocol.Packet{Type: protocol.MsgError, Data: []byte("unsupported request")}
		}

		if _, err := resp.WriteTo(conn); err != nil {
			return
		}
	}
}

func writeError(conn net.Conn, msg string) {
	p := &protocol.Packet{Type: protocol.MsgError, Data: []byte(msg)}
	_, _ = p.WriteTo(conn)
}
