// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daemon implements the VPFS peer daemon: namespace resolution,
// remote reads through the cache, placement, and the three connection
// roles (client, peer, root-join) that dispatch the wire protocol.
package daemon

import (
	"net"
	"sync"
	"time"

	"github.com/cwood00/vpfsd/cache"
	"github.com/cwood00/vpfsd/dirstore"
	"github.com/cwood00/vpfsd/errors"
	"github.com/cwood00/vpfsd/filestore"
	"github.com/cwood00/vpfsd/rpcconn"
	"github.com/cwood00/vpfsd/vpfs"
	"github.com/cwood00/vpfsd/wireproto"
)

// Daemon holds the per-process state shared by every connection
// handler: the connection manager, the local directory/file stores,
// the cache, and the single process-wide readers-writer lock guarding
// all local filesystem mutations. The cache's own index lock and
// byte-counter lock, and each peer stream's exclusive lock, live inside
// cache.Cache and rpcconn.Conn respectively; this struct only adds
// fsMu.
type Daemon struct {
	Local vpfs.Node

	Conns *rpcconn.Manager
	Dirs  *dirstore.Store
	Files *filestore.Store
	Cache *cache.Cache

	// Latency delays each inbound peer/root-join message before
	// dispatch, for simulating WAN conditions in tests. It is never
	// applied to client connections.
	Latency time.Duration

	fsMu sync.RWMutex
}

func newDaemon(local vpfs.Node, dir string, c *cache.Cache, latency time.Duration) *Daemon {
	return &Daemon{
		Local:   local,
		Conns:   rpcconn.NewManager(local),
		Dirs:    dirstore.New(dir),
		Files:   filestore.New(dir),
		Cache:   c,
		Latency: latency,
	}
}

// NewRoot creates a daemon that is itself the root: its own node is the
// root identity, and it seeds its root directory file's self-links if
// this is the first time it has started against dir.
func NewRoot(local vpfs.Node, dir string, c *cache.Cache, latency time.Duration) (*Daemon, error) {
	d := newDaemon(local, dir, c, latency)
	d.Conns.SetRoot(local)
	if err := d.seedRoot(); err != nil {
		return nil, err
	}
	return d, nil
}

// seedRoot creates the root directory file (named "root") and its
// "."/".." self-links the first time a root daemon starts against a
// fresh working directory. It is a no-op (not an error) on any
// subsequent start, so daemon startup stays idempotent across
// restarts.
func (d *Daemon) seedRoot() error {
	const op = "daemon.seedRoot"

	d.fsMu.Lock()
	defer d.fsMu.Unlock()

	created, err := d.Files.CreateNamed("root")
	if err != nil {
		return errors.E(op, err)
	}
	if !created {
		return nil
	}

	self := vpfs.Location{Node: d.Local, URI: "root"}
	if err := d.Dirs.Append("root", vpfs.DirEntry{Location: self, Name: ".", IsDir: true}); err != nil {
		return errors.E(op, err)
	}
	if err := d.Dirs.Append("root", vpfs.DirEntry{Location: self, Name: "..", IsDir: true}); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Join creates a daemon that joins an existing cluster through the
// root at rootAddr, performing the RootHello handshake and adopting
// the resulting connection (and the known-hosts table it carries) as
// this daemon's link to the root.
func Join(local vpfs.Node, listeningAddr, rootAddr, dir string, c *cache.Cache, latency time.Duration) (*Daemon, error) {
	const op = "daemon.Join"

	d := newDaemon(local, dir, c, latency)
	conn, root, knownHosts, err := rpcconn.DialRoot(rootAddr, local, listeningAddr)
	if err != nil {
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	d.Conns.AdoptRoot(conn, root, rootAddr, knownHosts)
	return d, nil
}

// Serve accepts connections on ln and dispatches each, by its Hello
// kind, to this daemon's client/peer/root-join handlers. It blocks
// until ln.Accept fails (e.g. the listener is closed).
func (d *Daemon) Serve(ln net.Listener) error {
	h := &wireproto.Handlers{
		Local:          d.Local,
		KnownHosts:     d.Conns.KnownHosts,
		Latency:        d.Latency,
		HandleClient:   d.HandleClient,
		HandlePeer:     d.HandlePeer,
		HandleRootJoin: d.HandleRootJoin,
	}
	return wireproto.Serve(ln, h)
}
