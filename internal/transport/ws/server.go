package ws

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"encoding/json"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"blockworld.ai/internal/protocol"
	"blockworld.ai/internal/sim/world"
)

// Options tune the client endpoint.
type Options struct {
	// AuthToken, when non-empty, must match the token field of the HELLO
	// frame. Empty disables the check.
	AuthToken string

	// CmdRate and CmdBurst bound commands per connection per second.
	CmdRate  float64
	CmdBurst int

	// OutQueue is the per-connection outbound buffer. A client that falls
	// this far behind is disconnected rather than allowed to block updates.
	OutQueue int
}

func (o *Options) applyDefaults() {
	if o.CmdRate <= 0 {
		o.CmdRate = 60
	}
	if o.CmdBurst <= 0 {
		o.CmdBurst = 120
	}
	if o.OutQueue <= 0 {
		o.OutQueue = 64
	}
}

// Server is the websocket client endpoint. It fans flushed update batches
// out to every connected session, so it doubles as an update sink.
type Server struct {
	world *world.World
	log   *log.Logger
	opts  Options

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	id   string
	out  chan []byte
	errs chan protocol.ErrorMsg
	gone chan struct{}
	once sync.Once
}

// drop severs the session from the fan-out; the connection goroutines see
// the closed channel and tear the socket down.
func (s *session) drop() {
	s.once.Do(func() { close(s.gone) })
}

func NewServer(w *world.World, logger *log.Logger, opts Options) *Server {
	opts.applyDefaults()
	return &Server{
		world: w,
		log:   logger,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*session{},
	}
}

// PushUpdate implements world.UpdateSink: one marshal, then a non-blocking
// send to every session. A session whose buffer is full gets dropped.
func (s *Server) PushUpdate(batch protocol.UpdateBatch) {
	b, err := json.Marshal(protocol.UpdateMsg{Type: protocol.TypeUpdate, UpdateBatch: batch})
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		select {
		case sess.out <- b:
		default:
			s.log.Printf("session %s too slow, dropping connection", sess.id)
			sess.drop()
		}
	}
}

// SessionCount reports the number of connected clients.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.register(sess)
		defer func() {
			s.unregister(sess)
			s.world.Leave(sess.id)
			sess.drop()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine: updates and error messages share the socket.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-sess.gone:
					_ = conn.Close()
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				case e := <-sess.errs:
					b, err := json.Marshal(e)
					if err != nil {
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		limiter := rate.NewLimiter(rate.Limit(s.opts.CmdRate), s.opts.CmdBurst)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || !protocol.IsCommand(base.Type) {
				continue
			}
			if !limiter.Allow() {
				select {
				case sess.errs <- protocol.ErrorMsg{Type: protocol.TypeError, Code: protocol.ErrRateLimit}:
				default:
				}
				continue
			}
			if err := s.world.Submit(ctx, world.CommandEnvelope{SessionID: sess.id, Raw: msg}); err != nil {
				return
			}
		}
	}
}

// handshake reads the HELLO frame, checks the token, joins the world and
// writes the WELCOME. A nil return means the connection is already closed.
func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.closeWith(conn, websocket.ClosePolicyViolation, "expected hello")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.closeWith(conn, websocket.ClosePolicyViolation, "expected hello")
		return nil
	}
	if s.opts.AuthToken != "" && hello.Token != s.opts.AuthToken {
		s.closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrUnauthorized)
		return nil
	}

	sess := &session{
		id:   uuid.NewString(),
		out:  make(chan []byte, s.opts.OutQueue),
		errs: make(chan protocol.ErrorMsg, 8),
		gone: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := s.world.Join(ctx, sess.id, sess.errs)
	if err != nil {
		s.closeWith(conn, websocket.CloseTryAgainLater, "world unavailable")
		return nil
	}

	b, err := json.Marshal(resp.Welcome)
	if err != nil {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		s.world.Leave(sess.id)
		return nil
	}
	if hello.Name != "" {
		s.log.Printf("session %s connected (name=%q)", sess.id, hello.Name)
	}
	return sess
}

func (s *Server) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
