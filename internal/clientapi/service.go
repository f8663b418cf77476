// Package clientapi exposes internal/posix over net/rpc so afsproxy is a
// runnable daemon, not just a library. This surface is explicitly out of
// core scope (spec §1, §6): it carries none of the MVCC/session-semantics
// logic itself, it only dispatches to internal/posix, which in turn
// dispatches to internal/proxy's cache engine. The transport follows the
// same net/rpc, goroutine-per-connection shape as internal/rpc, since the
// corpus has no second idiom for this.
package clientapi

import (
	"net"
	"net/rpc"
	"sync"

	"github.com/afscache/afscache/internal/logging"
	"github.com/afscache/afscache/internal/posix"
	"github.com/afscache/afscache/pkg/wire"
)

// OpenArgs requests a file or directory descriptor for path under mode.
type OpenArgs struct {
	Path string
	Mode wire.OpenMode
}

// OpenResult carries back the allocated descriptor.
type OpenResult struct {
	FD int64
}

// CloseArgs identifies the descriptor to release.
type CloseArgs struct {
	FD int64
}

// CloseResult is empty; present only so net/rpc has a pointer to fill.
type CloseResult struct{}

// UnlinkArgs names the path to remove.
type UnlinkArgs struct {
	Path string
}

// UnlinkResult is empty; present only so net/rpc has a pointer to fill.
type UnlinkResult struct{}

// ReadArgs requests up to Count bytes from FD at its current cursor.
type ReadArgs struct {
	FD    int64
	Count int
}

// ReadResult carries back the bytes actually read.
type ReadResult struct {
	Data []byte
}

// WriteArgs writes Data to FD at its current cursor.
type WriteArgs struct {
	FD   int64
	Data []byte
}

// WriteResult carries back the number of bytes written.
type WriteResult struct {
	N int
}

// LseekArgs repositions FD's cursor.
type LseekArgs struct {
	FD     int64
	Offset int64
	Whence posix.Whence
}

// LseekResult carries back the new offset.
type LseekResult struct {
	Offset int64
}

// Service adapts *posix.Handles to the net/rpc calling convention.
type Service struct {
	handles *posix.Handles
}

// NewService wraps handles for RPC registration.
func NewService(handles *posix.Handles) *Service {
	return &Service{handles: handles}
}

func (s *Service) Open(args OpenArgs, result *OpenResult) error {
	fd, err := s.handles.Open(args.Path, args.Mode)
	result.FD = fd
	return err
}

func (s *Service) Close(args CloseArgs, result *CloseResult) error {
	return s.handles.Close(args.FD)
}

func (s *Service) Unlink(args UnlinkArgs, result *UnlinkResult) error {
	return s.handles.Unlink(args.Path)
}

func (s *Service) Read(args ReadArgs, result *ReadResult) error {
	buf := make([]byte, args.Count)
	n, err := s.handles.Read(args.FD, buf)
	result.Data = buf[:n]
	return err
}

func (s *Service) Write(args WriteArgs, result *WriteResult) error {
	n, err := s.handles.Write(args.FD, args.Data)
	result.N = n
	return err
}

func (s *Service) Lseek(args LseekArgs, result *LseekResult) error {
	off, err := s.handles.Lseek(args.FD, args.Offset, args.Whence)
	result.Offset = off
	return err
}

// Server accepts client connections and serves Service over net/rpc,
// one goroutine per connection, mirroring internal/rpc.Server.
type Server struct {
	listener net.Listener
	rpcs     *rpc.Server
	log      *logging.Logger
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// Listen binds addr and registers handles for client dispatch.
func Listen(addr string, handles *posix.Handles, log *logging.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	rpcs := rpc.NewServer()
	if err := rpcs.RegisterName("AFSClient", NewService(handles)); err != nil {
		ln.Close()
		return nil, err
	}
	return &Server{listener: ln, rpcs: rpcs, log: log, shutdown: make(chan struct{})}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				s.log.Warnf("clientapi accept: %v", err)
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

// Close stops accepting new connections and waits for in-flight ones.
func (s *Server) Close() error {
	close(s.shutdown)
	err := s.listener.Close()
	s.wg.Wait()
	return err
}
