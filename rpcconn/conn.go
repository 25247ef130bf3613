// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpcconn implements the daemon's connection manager: a cache of
// shared, exclusively-locked streams to other nodes, dialed lazily and
// looked up through a known-hosts table, with a fallback to asking the
// root for an unknown peer's address.
//
// The connections-map lock and the known-hosts lock are both released
// before any blocking round trip to a peer; an AddressFor request to
// the root goes through the root Conn's own per-stream lock instead, so
// a slow or stuck peer never holds up other callers consulting either
// map.
package rpcconn

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/cwood00/vpfsd/errors"
	"github.com/cwood00/vpfsd/vpfs"
)

// Conn is a shared, exclusively-locked byte stream to one peer. Any
// caller that holds it may write a request and read a response without
// interleaving from another caller; contention is FIFO by acquisition
// order.
type Conn struct {
	mu sync.Mutex
	nc net.Conn
	R  *bufio.Reader
	W  *bufio.Writer
}

// Lock acquires exclusive use of the stream for one request/response
// pair. The caller must call Unlock when done.
func (c *Conn) Lock()   { c.mu.Lock() }
func (c *Conn) Unlock() { c.mu.Unlock() }

// Close closes the underlying network connection.
func (c *Conn) Close() error { return c.nc.Close() }

func newConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, R: bufio.NewReader(nc), W: bufio.NewWriter(nc)}
}

// Wrap builds a Conn around an already-established net.Conn, for the
// accept-side of a connection (see wireproto.Serve), where the manager
// only learns of the peer after reading its Hello.
func Wrap(nc net.Conn) *Conn {
	return newConn(nc)
}

// Manager maintains the mapping from Node to a shared stream and the
// known-hosts table (Node to externally reachable address).
type Manager struct {
	local vpfs.Node
	root  vpfs.Node // zero Node until this daemon knows the root's identity
	isSet bool      // whether root has been assigned

	connMu      sync.Mutex
	connections map[vpfs.Node]*Conn

	hostsMu    sync.Mutex
	knownHosts map[vpfs.Node]string
}

// NewManager returns a Manager for a daemon identified as local.
func NewManager(local vpfs.Node) *Manager {
	return &Manager{
		local:       local,
		connections: make(map[vpfs.Node]*Conn),
		knownHosts:  make(map[vpfs.Node]string),
	}
}

// SetRoot records the root node's identity. Called once at startup (root
// daemons set it to themselves; joiners set it from the RootHello
// response).
func (m *Manager) SetRoot(root vpfs.Node) {
	m.root = root
	m.isSet = true
}

// SetKnownHosts replaces the known-hosts table wholesale, as received in
// a RootHello response at join time.
func (m *Manager) SetKnownHosts(hosts map[vpfs.Node]string) {
	m.hostsMu.Lock()
	defer m.hostsMu.Unlock()
	m.knownHosts = make(map[vpfs.Node]string, len(hosts))
	for k, v := range hosts {
		m.knownHosts[k] = v
	}
}

// RegisterKnownHost records node's address, as the root does on
// accepting a RootHello from a joining peer.
func (m *Manager) RegisterKnownHost(node vpfs.Node, addr string) {
	m.hostsMu.Lock()
	defer m.hostsMu.Unlock()
	m.knownHosts[node] = addr
}

// KnownHosts returns a snapshot copy of the known-hosts table, for
// handing to a newly joining peer or for AddressFor lookups.
func (m *Manager) KnownHosts() map[vpfs.Node]string {
	m.hostsMu.Lock()
	defer m.hostsMu.Unlock()
	out := make(map[vpfs.Node]string, len(m.knownHosts))
	for k, v := range m.knownHosts {
		out[k] = v
	}
	return out
}

// StreamFor returns the shared stream to node, dialing and performing
// the peer hello if necessary. It tries, in order: an already-cached
// stream; a dial using a known address; and, failing that, asking the
// root (if reachable) for node's address before dialing.
func (m *Manager) StreamFor(node vpfs.Node) (*Conn, error) {
	const op = "rpcconn.StreamFor"

	if c := m.cached(node); c != nil {
		return c, nil
	}

	if addr, ok := m.addressOf(node); ok {
		return m.dialAndCache(node, addr)
	}

	if m.isSet && m.root != m.local && m.root != (vpfs.Node{}) {
		rootConn := m.cached(m.root)
		if rootConn != nil {
			addr, ok, err := m.askRootForAddress(rootConn, node)
			if err != nil {
				return nil, errors.E(op, errors.NotAccessible, err)
			}
			if ok {
				m.hostsMu.Lock()
				m.knownHosts[node] = addr
				m.hostsMu.Unlock()
				return m.dialAndCache(node, addr)
			}
		}
	}

	return nil, errors.E(op, errors.NotAccessible)
}

func (m *Manager) cached(node vpfs.Node) *Conn {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.connections[node]
}

func (m *Manager) addressOf(node vpfs.Node) (string, bool) {
	m.hostsMu.Lock()
	defer m.hostsMu.Unlock()
	addr, ok := m.knownHosts[node]
	return addr, ok
}

// askRootForAddress sends AddressFor(node) on rootConn, outside of both
// the connections-map lock and the known-hosts lock, so the blocking
// round trip never delays other callers consulting those maps.
func (m *Manager) askRootForAddress(rootConn *Conn, node vpfs.Node) (addr string, ok bool, err error) {
	rootConn.Lock()
	defer rootConn.Unlock()

	req := &vpfs.DaemonRequest{Kind: vpfs.DaemonAddressFor, Node: node}
	if err := vpfs.WriteDaemonRequest(rootConn.W, req); err != nil {
		return "", false, err
	}
	if err := rootConn.W.Flush(); err != nil {
		return "", false, err
	}
	resp, err := vpfs.ReadDaemonResponse(rootConn.R)
	if err != nil {
		return "", false, err
	}
	if resp.Err != nil {
		return "", false, nil
	}
	return resp.Addr, resp.Ok, nil
}

func (m *Manager) dialAndCache(node vpfs.Node, addr string) (*Conn, error) {
	const op = "rpcconn.dialAndCache"

	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	c := newConn(nc)

	hello := &vpfs.Hello{Kind: vpfs.DaemonHello}
	if err := vpfs.WriteHello(c.W, hello); err != nil {
		nc.Close()
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	if err := c.W.Flush(); err != nil {
		nc.Close()
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	if _, err := vpfs.ReadHelloResponse(c.R); err != nil {
		nc.Close()
		return nil, errors.E(op, errors.NotAccessible, err)
	}

	m.connMu.Lock()
	defer m.connMu.Unlock()
	if existing, ok := m.connections[node]; ok {
		// Another caller raced us and dialed first; keep theirs, close ours.
		nc.Close()
		return existing, nil
	}
	m.connections[node] = c
	return c, nil
}

// Evict removes node's cached stream, e.g. after a detected failure.
// The manager itself never calls this automatically; the daemon's
// remote-read path calls it when a request or response on the stream
// fails. Handler loops close their own connection instead.
func (m *Manager) Evict(node vpfs.Node) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if c, ok := m.connections[node]; ok {
		c.Close()
		delete(m.connections, node)
	}
}

// Adopt registers an already-established connection (e.g. the one the
// root dials back to a newly joined peer is not needed in this design,
// but tests that simulate a peer dialing in can adopt an accepted
// net.Conn into the manager directly).
func (m *Manager) Adopt(node vpfs.Node, nc net.Conn) *Conn {
	c := newConn(nc)
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.connections[node] = c
	return c
}

// Local returns this daemon's own node identity.
func (m *Manager) Local() vpfs.Node { return m.local }

// Root returns the root node's identity, as recorded by SetRoot.
func (m *Manager) Root() vpfs.Node { return m.root }

// AddressFor looks up node's known address, for serving a peer's
// AddressFor RPC when this manager belongs to the root.
func (m *Manager) AddressFor(node vpfs.Node) (string, bool) {
	return m.addressOf(node)
}

// DialRoot dials addr and performs the RootHello join handshake,
// returning the single Conn the handshake was carried out over (never
// re-wrapped), the root's node identity, and the known-hosts table the
// root handed back. Callers register the returned Conn via
// Manager.AdoptRoot rather than re-wrapping nc, so the join handshake
// and all subsequent traffic to the root share one bufio.Reader.
func DialRoot(addr string, local vpfs.Node, listeningAddr string) (*Conn, vpfs.Node, map[vpfs.Node]string, error) {
	const op = "rpcconn.DialRoot"

	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, vpfs.Node{}, nil, errors.E(op, errors.NotAccessible, err)
	}
	c := newConn(nc)

	hello := &vpfs.Hello{Kind: vpfs.RootHello, Node: local, ListeningAddr: listeningAddr}
	if err := vpfs.WriteHello(c.W, hello); err != nil {
		nc.Close()
		return nil, vpfs.Node{}, nil, errors.E(op, errors.NotAccessible, err)
	}
	if err := c.W.Flush(); err != nil {
		nc.Close()
		return nil, vpfs.Node{}, nil, errors.E(op, errors.NotAccessible, err)
	}
	resp, err := vpfs.ReadHelloResponse(c.R)
	if err != nil {
		nc.Close()
		return nil, vpfs.Node{}, nil, errors.E(op, errors.NotAccessible, err)
	}
	if resp.Kind != vpfs.RootHello {
		nc.Close()
		return nil, vpfs.Node{}, nil, errors.E(op, errors.Other, fmt.Errorf("unexpected hello response kind %d", resp.Kind))
	}
	return c, resp.RootNode, resp.KnownHosts, nil
}

// AdoptRoot registers an already-handshaken root Conn (from DialRoot)
// as this manager's root identity and its cached stream to the root,
// and seeds the known-hosts table from the join response.
func (m *Manager) AdoptRoot(c *Conn, root vpfs.Node, rootAddr string, knownHosts map[vpfs.Node]string) {
	m.SetRoot(root)
	m.SetKnownHosts(knownHosts)
	m.RegisterKnownHost(root, rootAddr)
	m.Register(root, c)
}

// Register caches an already-established Conn as the stream to node,
// without constructing a new one. Used on the accept side of a
// RootHello join, where wireproto has already built the Conn (and its
// single bufio.Reader) while reading the Hello; re-wrapping the same
// net.Conn here would create a second, independent buffered reader
// over one socket.
func (m *Manager) Register(node vpfs.Node, c *Conn) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.connections[node] = c
}
