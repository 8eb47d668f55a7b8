// internal/feed/feed.go
package feed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tamzrod/plc-db-sync/internal/archive"
	"github.com/tamzrod/plc-db-sync/internal/codec"
	"github.com/tamzrod/plc-db-sync/internal/sink"
	"github.com/tamzrod/plc-db-sync/internal/status"
)

// Applier is the write path (the transactional writer).
type Applier interface {
	Apply(changes codec.Changes) error
}

// History is the optional archive query.
type History interface {
	Range(from, to time.Time) ([]archive.Record, error)
}

type Options struct {
	Apply   Applier
	Status  func() status.Snapshot
	History History
	Log     *zap.Logger
}

// Server pushes every published document to websocket clients and
// serves the last one, the engine status and writes over HTTP.
//
//	GET  /ws        live stream; inbound text frames are change sets
//	GET  /snapshot  last published document
//	POST /write     change set
//	GET  /status    engine status
//	GET  /history   archived documents (?from=&to= RFC 3339)
type Server struct {
	opts     Options
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	last    []byte
	clients map[*client]struct{}
}

// clientQueue bounds per-connection backlog; a slow client loses updates.
const clientQueue = 32

type client struct {
	id   string
	send chan []byte
	done chan struct{} // read loop finished
	gone chan struct{} // writer finished
}

func newClient(id string) *client {
	return &client{
		id:   id,
		send: make(chan []byte, clientQueue),
		done: make(chan struct{}),
		gone: make(chan struct{}),
	}
}

// queue hands a reply to the writer. It reports false once either side
// of the connection has finished.
func (c *client) queue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.gone:
		return false
	case <-c.done:
		return false
	}
}

func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		opts:    opts,
		log:     log,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (s *Server) Name() string { return "feed" }

// Deliver implements sink.Sink: remember and broadcast.
func (s *Server) Deliver(_ context.Context, u sink.Update) error {
	msg := append([]byte(nil), u.Payload...)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = msg
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.log.Debug("feed client blocked, update dropped", zap.String("client", c.id))
		}
	}
	return nil
}

// Last returns the last delivered document, nil before the first.
func (s *Server) Last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("GET /snapshot", s.serveSnapshot)
	mux.HandleFunc("POST /write", s.serveWrite)
	mux.HandleFunc("GET /status", s.serveStatus)
	mux.HandleFunc("GET /history", s.serveHistory)
	return mux
}

// ListenAndServe runs until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	s.log.Info("feed listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c] = struct{}{}
	if s.last != nil {
		c.send <- s.last
	}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}
