// Package rpc wires the proxy<->server wire protocol (pkg/wire) onto
// net/rpc, goroutine-per-connection, grounded on the accept-loop pattern
// used by the chunkserver in the example pack's GFS implementation:
// rpc.NewServer + Register, then a net.Listener accept loop handing each
// connection to its own goroutine running rpcs.ServeConn.
package rpc

import (
	"net"
	"net/rpc"
	"sync"

	"github.com/afscache/afscache/internal/logging"
	"github.com/afscache/afscache/internal/server"
	"github.com/afscache/afscache/pkg/wire"
)

// Service adapts *server.Store to the net/rpc calling convention: one
// exported method per wire operation, each taking (args, *result).
type Service struct {
	store *server.Store
}

// NewService wraps store for RPC registration.
func NewService(store *server.Store) *Service {
	return &Service{store: store}
}

func (s *Service) Validate(args wire.ValidateArgs, result *wire.ValidateResult) error {
	r, err := s.store.Validate(args)
	*result = r
	return err
}

func (s *Service) DownloadChunk(args wire.DownloadChunkArgs, result *wire.DownloadChunkResult) error {
	r, err := s.store.DownloadChunk(args)
	*result = r
	return err
}

func (s *Service) CancelChunk(args wire.CancelChunkArgs, result *wire.CancelChunkResult) error {
	return s.store.CancelChunk(args)
}

func (s *Service) Upload(args wire.UploadArgs, result *wire.UploadResult) error {
	r, err := s.store.Upload(args)
	*result = r
	return err
}

func (s *Service) UploadChunk(args wire.UploadChunkArgs, result *wire.UploadChunkResult) error {
	return s.store.UploadChunk(args)
}

func (s *Service) Delete(args wire.DeleteArgs, result *wire.DeleteResult) error {
	r, err := s.store.Delete(args)
	*result = r
	return err
}

// Server listens on a TCP address and serves Service over net/rpc, one
// goroutine per connection.
type Server struct {
	listener net.Listener
	rpcs     *rpc.Server
	log      *logging.Logger

	wg       sync.WaitGroup
	shutdown chan struct{}
}

// Listen starts a Server bound to addr.
func Listen(addr string, store *server.Store, log *logging.Logger) (*Server, error) {
	rpcs := rpc.NewServer()
	if err := rpcs.RegisterName("AFSCache", NewService(store)); err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{listener: l, rpcs: rpcs, log: log.WithComponent("rpc-server"), shutdown: make(chan struct{})}, nil
}

// Addr returns the listener's bound address, useful when addr was ":0".
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop until Close is called.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				s.log.Warn("accept error: ", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.rpcs.ServeConn(conn)
			conn.Close()
		}()
	}
}

// Close stops accepting new connections and waits until every accepted
// connection has been closed by its client; it does not close them itself.
func (s *Server) Close() error {
	close(s.shutdown)
	err := s.listener.Close()
	s.wg.Wait()
	return err
}
