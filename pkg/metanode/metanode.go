// Package metanode implements the metadata-node role: a chain-replicated
// store of per-file manifests. Every PUT flows from the node that receives
// it toward the TAIL and is acknowledged only once every node from there to
// the TAIL has stored it; every GET
// is served exclusively by the TAIL. A background probe of the next link
// detects failure and reconfigures the chain using the skip link.
package metanode

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WebFirstLanguage/beechain/internal/logging"
	"github.com/WebFirstLanguage/beechain/pkg/manifest"
	"github.com/WebFirstLanguage/beechain/pkg/transport"
)

// Role identifies a metadata node's position in the replication chain.
type Role string

const (
	RoleHead   Role = "HEAD"
	RoleMiddle Role = "MIDDLE"
	RoleTail   Role = "TAIL"
	RoleSingle Role = "SINGLE"
)

// ProbeInterval is how often a node checks on its next link.
const ProbeInterval = 3 * time.Second

// MetaNode serves the PUT/GET/chain-maintenance protocol over the shared
// transport and framing layers.
type MetaNode struct {
	server *transport.Server
	log    *logging.Logger

	storeMu sync.Mutex
	store   map[string]manifest.FileManifest

	chainMu  sync.Mutex
	role     Role
	selfAddr string
	nextAddr string
	prevAddr string
	skipAddr string

	running  atomic.Bool
	handlers sync.WaitGroup
	probeOn  chan struct{}
}

// New creates a MetaNode. If nextAddr is empty the node starts as TAIL
// (the end of the chain); otherwise it starts as HEAD with nextAddr as
// its forwarding link, matching the chain's bootstrap order.
func New(nextAddr string) *MetaNode {
	role := RoleHead
	if nextAddr == "" {
		role = RoleTail
	}
	return &MetaNode{
		server:   transport.NewServer(),
		log:      logging.New("metanode"),
		store:    make(map[string]manifest.FileManifest),
		role:     role,
		nextAddr: nextAddr,
	}
}

// Start binds to port, begins the next-link health-check loop, and serves
// connections until Stop is called, blocking until every handler drains.
func (n *MetaNode) Start(port int) error {
	if err := n.server.Start(port); err != nil {
		return err
	}
	n.selfAddr = fmt.Sprintf("127.0.0.1:%d", port)
	n.running.Store(true)
	n.probeOn = make(chan struct{})
	n.log.Infof("metadata node listening on %s, role=%s", n.selfAddr, n.role)

	go n.healthCheckLoop()

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

// Addr returns the bound listener address.
func (n *MetaNode) Addr() string {
	if addr := n.server.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Role reports the node's current chain role.
func (n *MetaNode) Role() Role {
	n.chainMu.Lock()
	defer n.chainMu.Unlock()
	return n.role
}

// Stop signals the accept and probe loops to exit and closes every live
// connection. Start returns once the last in-flight handler drains.
func (n *MetaNode) Stop() {
	n.running.Store(false)
	if n.probeOn != nil {
		select {
		case <-n.probeOn:
		default:
			close(n.probeOn)
		}
	}
	n.server.Stop()
}

func (n *MetaNode) healthCheckLoop() {
	ticker := time.NewTicker(ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.probeOn:
			return
		case <-ticker.C:
			n.chainMu.Lock()
			next := n.nextAddr
			n.chainMu.Unlock()
			if next == "" {
				continue
			}
			if !n.pingNext(next) {
				n.log.Warnf("next node %s failed health check", next)
				n.handleNextNodeFailure()
			}
		}
	}
}

func (n *MetaNode) pingNext(addr string) bool {
	client, err := transport.Dial(addr)
	if err != nil {
		return false
	}
	defer client.Close()
	if err := client.Send([]byte("PING")); err != nil {
		return false
	}
	return string(client.Recv()) == "PONG"
}

func (n *MetaNode) handleNextNodeFailure() {
	n.chainMu.Lock()
	skip := n.skipAddr
	if skip != "" {
		n.nextAddr = skip
		n.skipAddr = ""
		n.log.Infof("recovering using skip link -> %s", skip)
	} else {
		n.nextAddr = ""
		if n.prevAddr == "" {
			n.role = RoleSingle
		} else {
			n.role = RoleTail
		}
		n.log.Infof("no skip link, becoming %s", n.role)
	}
	next := n.nextAddr
	n.chainMu.Unlock()

	if skip != "" && next != "" {
		n.notifyNextOfPredecessor(next)
	}
}

func (n *MetaNode) notifyNextOfPredecessor(next string) {
	client, err := transport.Dial(next)
	if err != nil {
		return
	}
	defer client.Close()
	host, port := splitHostPort(n.selfAddr)
	client.Send([]byte(fmt.Sprintf("UPDATE_PREV %s %s", host, port)))
}

// splitHostPort splits "host:port" into its two parts. If addr has no
// colon, port is "".
func splitHostPort(addr string) (host, port string) {
	idx := strings.LastIndex(addr, ":")
	if idx == -1 {
		return addr, ""
	}
	return addr[:idx], addr[idx+1:]
}

// portOf returns addr's bare port, or "-1" if addr is unset — the chain
// link representation used on the wire by GET_STATUS.
func portOf(addr string) string {
	if addr == "" {
		return "-1"
	}
	_, port := splitHostPort(addr)
	return port
}

func (n *MetaNode) handleConn(id transport.ClientID) {
	defer n.server.Close(id)

	for n.running.Load() {
		command := n.server.Recv(id)
		if len(command) == 0 {
			return
		}
		raw := string(command)
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			return
		}

		switch fields[0] {
		case "PUT":
			if !n.handlePut(id, raw, fields) {
				return
			}
		case "GET":
			if len(fields) != 2 {
				n.server.Send(id, []byte("ERROR_ARGS"))
				continue
			}
			n.handleGet(id, fields[1])
		case "PING":
			n.server.Send(id, []byte("PONG"))
		case "UPDATE_PREV":
			n.handleUpdatePrev(id, fields)
		case "UPDATE_NEXT":
			n.handleUpdateNext(id, fields)
		case "SET_SKIP":
			n.handleSetSkip(id, fields)
		case "GET_STATUS":
			n.handleGetStatus(id)
		case "DIE":
			n.log.Infof("received DIE, shutting down")
			n.Stop()
			return
		default:
			n.server.Send(id, []byte("ERROR"))
		}
	}
}

// handlePut parses "PUT filename fileSize chunkSize totalChunks rootDigest
// hash1,hash2,...", stores the manifest locally, and — unless this node is
// TAIL or SINGLE — forwards the raw command to the next link before
// acknowledging the client.
func (n *MetaNode) handlePut(id transport.ClientID, raw string, fields []string) bool {
	if len(fields) != 7 {
		n.server.Send(id, []byte("ERROR_ARGS"))
		return true
	}
	filename := fields[1]
	fileSize, err1 := strconv.ParseUint(fields[2], 10, 64)
	chunkSize, err2 := strconv.ParseUint(fields[3], 10, 32)
	totalChunks, err3 := strconv.ParseUint(fields[4], 10, 32)
	rootDigest := fields[5]
	hashesField := fields[6]
	if err1 != nil || err2 != nil || err3 != nil {
		n.server.Send(id, []byte("ERROR_ARGS"))
		return true
	}

	var digests []string
	if hashesField != "-" {
		digests = strings.Split(hashesField, ",")
	}

	m := manifest.FileManifest{
		Filename:     filename,
		RootDigest:   rootDigest,
		FileSize:     fileSize,
		ChunkSize:    uint32(chunkSize),
		TotalChunks:  uint32(totalChunks),
		ChunkDigests: digests,
		CreatedAt:    uint64(time.Now().UnixMilli()),
	}

	n.storeMu.Lock()
	n.store[filename] = m
	n.storeMu.Unlock()
	n.log.Debugf("stored metadata for %s", filename)

	n.chainMu.Lock()
	role := n.role
	next := n.nextAddr
	n.chainMu.Unlock()

	success := true
	if role != RoleTail && role != RoleSingle && next != "" {
		success = n.forwardPut(next, raw)
	}

	if success {
		return n.server.Send(id, []byte("ACK")) == nil
	}
	return n.server.Send(id, []byte("ERROR_FORWARD")) == nil
}

func (n *MetaNode) forwardPut(next, command string) bool {
	client, err := transport.Dial(next)
	if err != nil {
		n.log.Warnf("failed to forward PUT to %s: %v", next, err)
		return false
	}
	defer client.Close()
	if err := client.Send([]byte(command)); err != nil {
		return false
	}
	return string(client.Recv()) == "ACK"
}

// handleGet serves reads only from TAIL/SINGLE; every other role redirects
// the caller. A stored-but-incomplete manifest is treated as absent.
func (n *MetaNode) handleGet(id transport.ClientID, filename string) {
	n.chainMu.Lock()
	role := n.role
	n.chainMu.Unlock()
	if role != RoleTail && role != RoleSingle {
		n.server.Send(id, []byte("REDIRECT_TO_TAIL"))
		return
	}

	n.storeMu.Lock()
	m, ok := n.store[filename]
	n.storeMu.Unlock()
	if !ok || !manifest.IsUsableManifest(m) {
		n.server.Send(id, []byte("NOT_FOUND"))
		return
	}

	hashes := "-"
	if len(m.ChunkDigests) > 0 {
		hashes = strings.Join(m.ChunkDigests, ",")
	}
	msg := fmt.Sprintf("FOUND %d %d %d %s %s", m.FileSize, m.ChunkSize, m.TotalChunks, m.RootDigest, hashes)
	n.server.Send(id, []byte(msg))
}

// handleUpdatePrev parses "UPDATE_PREV <ip> <port>" — two separate
// tokens, matching the original's `iss >> ip >> port` grammar exactly.
func (n *MetaNode) handleUpdatePrev(id transport.ClientID, fields []string) {
	if len(fields) != 3 {
		n.server.Send(id, []byte("ERROR_ARGS"))
		return
	}
	addr := fields[1] + ":" + fields[2]
	n.chainMu.Lock()
	n.prevAddr = addr
	if n.role == RoleHead {
		n.role = RoleMiddle
	}
	if n.role == RoleSingle {
		n.role = RoleTail
	}
	role := n.role
	n.chainMu.Unlock()
	n.log.Infof("updated prev to %s, new role %s", addr, role)
	n.server.Send(id, []byte("ACK"))
}

// handleUpdateNext parses "UPDATE_NEXT <ip> <port>".
func (n *MetaNode) handleUpdateNext(id transport.ClientID, fields []string) {
	if len(fields) != 3 {
		n.server.Send(id, []byte("ERROR_ARGS"))
		return
	}
	addr := fields[1] + ":" + fields[2]
	n.chainMu.Lock()
	n.nextAddr = addr
	if n.role == RoleTail {
		n.role = RoleMiddle
	}
	if n.role == RoleSingle {
		n.role = RoleHead
	}
	role := n.role
	n.chainMu.Unlock()
	n.log.Infof("updated next to %s, new role %s", addr, role)
	n.server.Send(id, []byte("ACK"))
}

// handleSetSkip parses "SET_SKIP <ip> <port>".
func (n *MetaNode) handleSetSkip(id transport.ClientID, fields []string) {
	if len(fields) != 3 {
		n.server.Send(id, []byte("ERROR_ARGS"))
		return
	}
	addr := fields[1] + ":" + fields[2]
	n.chainMu.Lock()
	n.skipAddr = addr
	n.chainMu.Unlock()
	n.log.Infof("set skip link to %s", addr)
	n.server.Send(id, []byte("ACK"))
}

// handleGetStatus reports the bare next/prev ports, "-1" if unset —
// matching the original's `"NEXT=" + to_string(nextNodePort_)`.
func (n *MetaNode) handleGetStatus(id transport.ClientID) {
	n.chainMu.Lock()
	role, next, prev := n.role, n.nextAddr, n.prevAddr
	n.chainMu.Unlock()
	msg := fmt.Sprintf("ROLE=%s NEXT=%s PREV=%s", role, portOf(next), portOf(prev))
	n.server.Send(id, []byte(msg))
}
