// Package transport provides the plain TCP connection-and-framing layer
// shared by storage nodes, metadata nodes, and the client library. It is
// the uniform transport every peer-to-peer exchange in this system uses:
// one listener per node, one accepted connection per remote peer, frames
// exchanged via pkg/wire.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/WebFirstLanguage/beechain/pkg/wire"
)

// ClientID identifies one accepted connection on a Server. It is opaque
// to callers beyond use as a map key into Server's methods.
type ClientID uint64

// Server accepts TCP connections and exposes per-connection send/recv
// keyed by ClientID. A single mutex protects only the connection table;
// it is never held across network I/O, so concurrent send/recv on
// distinct ClientIDs proceed independently.
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	conns    map[ClientID]net.Conn
	nextID   ClientID
}

// NewServer creates an unstarted Server.
func NewServer() *Server {
	return &Server{conns: make(map[ClientID]net.Conn)}
}

// Start binds and listens on port with address reuse and a backlog of at
// least 50. It returns an error if the bind fails.
func (s *Server) Start(port int) error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("start listener on port %d: %w", port, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound listener address, useful for tests that bind to
// port 0 and need to discover the assigned port.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Accept blocks until a new connection arrives and returns its ClientID.
// It returns an error once the listener has been closed by Stop.
func (s *Server) Accept() (ClientID, error) {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return 0, fmt.Errorf("server not started")
	}

	conn, err := ln.Accept()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.conns[id] = conn
	s.mu.Unlock()

	return id, nil
}

func (s *Server) connFor(id ClientID) net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[id]
}

// Send writes one length-prefixed frame to the given connection.
func (s *Server) Send(id ClientID, payload []byte) error {
	conn := s.connFor(id)
	if conn == nil {
		return fmt.Errorf("unknown client %d", id)
	}
	return wire.WriteFrame(conn, payload)
}

// Recv reads one length-prefixed frame from the given connection. Any
// framing failure (closed connection, short header, truncated body) is
// reported as an empty slice, matching the wire contract.
func (s *Server) Recv(id ClientID) []byte {
	conn := s.connFor(id)
	if conn == nil {
		return []byte{}
	}
	return wire.ReadFrameOrEmpty(conn)
}

// Close releases the given connection and removes it from the table.
func (s *Server) Close(id ClientID) {
	s.mu.Lock()
	conn, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	s.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Stop closes the listener and every live client connection. After Stop
// returns, Accept will fail and all ClientIDs are invalid.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	conns := s.conns
	s.conns = make(map[ClientID]net.Conn)
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// Client is a single outbound connection, mirroring the server's framing
// contract for use by storage nodes, metadata nodes, and the client
// library when they act as a caller rather than a listener.
type Client struct {
	conn net.Conn
}

// Dial opens a fresh TCP connection to addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Send writes one length-prefixed frame.
func (c *Client) Send(payload []byte) error {
	return wire.WriteFrame(c.conn, payload)
}

// Recv reads one length-prefixed frame, collapsing any failure to an
// empty slice.
func (c *Client) Recv() []byte {
	return wire.ReadFrameOrEmpty(c.conn)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
