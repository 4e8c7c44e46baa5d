// Package storagenode implements the storage-node role: an in-memory
// key-value store, keyed by chunk digest, served over the transport
// protocol's STORE/GET/DIE command set.
package storagenode

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/WebFirstLanguage/beechain/internal/logging"
	"github.com/WebFirstLanguage/beechain/pkg/transport"
)

// StorageNode serves chunk STORE/GET requests. The in-memory map is
// guarded by a single mutex held only across map operations; bytes move
// into and out of the map under the lock but are never transmitted while
// it is held.
type StorageNode struct {
	server *transport.Server
	log    *logging.Logger

	mu    sync.Mutex
	store map[string][]byte

	running  atomic.Bool
	handlers sync.WaitGroup
}

// New creates an unstarted StorageNode.
func New() *StorageNode {
	return &StorageNode{
		server: transport.NewServer(),
		log:    logging.New("storagenode"),
		store:  make(map[string][]byte),
	}
}

// Start binds to port and serves until Stop is called, blocking until
// every in-flight handler has completed. Callers typically run Start in
// its own goroutine.
func (n *StorageNode) Start(port int) error {
	if err := n.server.Start(port); err != nil {
		return err
	}
	n.running.Store(true)
	n.log.Infof("storage node listening on port %d", port)

	for n.running.Load() {
		id, err := n.server.Accept()
		if err != nil {
			break
		}
		n.handlers.Add(1)
		go func() {
			defer n.handlers.Done()
			n.handleConn(id)
		}()
	}

	n.handlers.Wait()
	return nil
}

// Addr returns the bound listener address (useful when Start was called
// with port 0).
func (n *StorageNode) Addr() string {
	if addr := n.server.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Stop signals the accept loop to exit and closes every live connection.
// Start returns once the last in-flight handler drains.
func (n *StorageNode) Stop() {
	n.running.Store(false)
	n.server.Stop()
}

func (n *StorageNode) handleConn(id transport.ClientID) {
	defer n.server.Close(id)

	for n.running.Load() {
		command := n.server.Recv(id)
		if len(command) == 0 {
			return
		}

		fields := strings.Fields(string(command))
		if len(fields) == 0 {
			return
		}
		op := fields[0]

		switch op {
		case "STORE":
			if len(fields) != 2 {
				n.server.Send(id, []byte("ERROR"))
				continue
			}
			if !n.handleStore(id, fields[1]) {
				return
			}
		case "GET":
			if len(fields) != 2 {
				n.server.Send(id, []byte("ERROR"))
				continue
			}
			n.handleGet(id, fields[1])
		case "DIE":
			n.log.Infof("received DIE, shutting down")
			n.Stop()
			return
		default:
			n.server.Send(id, []byte("ERROR"))
		}
	}
}

func (n *StorageNode) handleStore(id transport.ClientID, digest string) bool {
	if err := n.server.Send(id, []byte("READY")); err != nil {
		return false
	}
	body := n.server.Recv(id)
	if len(body) == 0 {
		return false
	}

	data := make([]byte, len(body))
	copy(data, body)

	n.mu.Lock()
	n.store[digest] = data
	n.mu.Unlock()

	n.log.Debugf("stored chunk %s (%d bytes)", digest, len(data))
	return n.server.Send(id, []byte("ACK")) == nil
}

func (n *StorageNode) handleGet(id transport.ClientID, digest string) {
	n.mu.Lock()
	data, ok := n.store[digest]
	n.mu.Unlock()

	if !ok {
		n.server.Send(id, []byte("NOT_FOUND"))
		return
	}

	if err := n.server.Send(id, []byte("FOUND")); err != nil {
		return
	}
	n.server.Send(id, data)
}

// Has reports whether digest is present, for tests and diagnostics.
func (n *StorageNode) Has(digest string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.store[digest]
	return ok
}

// Len returns the number of chunks currently held, for diagnostics.
func (n *StorageNode) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.store)
}
