// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wireproto implements the daemon's per-connection framing and
// dispatch: accept a TCP connection, read its Hello, respond, then hand
// the connection off to the handler appropriate to the Hello's kind.
// Each handler loop runs in its own goroutine, reading one request,
// dispatching it, and writing one response, until a decode error ends
// the connection.
package wireproto

import (
	"net"
	"time"

	"github.com/cwood00/vpfsd/log"
	"github.com/cwood00/vpfsd/rpcconn"
	"github.com/cwood00/vpfsd/vpfs"
)

// Handlers supplies the callbacks Serve dispatches an accepted
// connection to, once its Hello kind is known.
type Handlers struct {
	Local vpfs.Node

	// KnownHosts is consulted when responding to a RootHello so the
	// response carries a current snapshot of the table, not a stale one
	// captured at Serve startup.
	KnownHosts func() map[vpfs.Node]string

	// Latency, when non-zero, is slept before processing each message
	// on a peer or root-join connection. It is never applied to the
	// Hello exchange itself or to client connections: it models
	// daemon-to-daemon network delay, not the client-facing path.
	Latency time.Duration

	// HandleClient serves a connection that opened with ClientHello,
	// until the peer closes it or a decode error occurs.
	HandleClient func(c *rpcconn.Conn)

	// HandlePeer serves a connection that opened with DaemonHello.
	// DaemonHello carries no node identity, so remote is the zero Node.
	HandlePeer func(c *rpcconn.Conn, remote vpfs.Node, latency time.Duration)

	// HandleRootJoin serves a connection that opened with RootHello,
	// carrying the joining peer's node and externally reachable
	// listening address.
	HandleRootJoin func(c *rpcconn.Conn, remote vpfs.Node, listeningAddr string, latency time.Duration)
}

// Serve accepts connections on ln until it returns an error (e.g. the
// listener is closed), dispatching each to its own goroutine.
func Serve(ln net.Listener, h *Handlers) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return err
		}
		go serveConn(nc, h)
	}
}

func serveConn(nc net.Conn, h *Handlers) {
	c := rpcconn.Wrap(nc)

	hello, err := vpfs.ReadHello(c.R)
	if err != nil {
		log.Debug.Printf("wireproto: reading hello: %v", err)
		c.Close()
		return
	}

	switch hello.Kind {
	case vpfs.ClientHello:
		if !writeHelloResponse(c, &vpfs.HelloResponse{Kind: vpfs.ClientHello, LocalNode: h.Local}) {
			c.Close()
			return
		}
		h.HandleClient(c)

	case vpfs.DaemonHello:
		if !writeHelloResponse(c, &vpfs.HelloResponse{Kind: vpfs.DaemonHello, LocalNode: h.Local}) {
			c.Close()
			return
		}
		h.HandlePeer(c, hello.Node, h.Latency)

	case vpfs.RootHello:
		resp := &vpfs.HelloResponse{Kind: vpfs.RootHello, LocalNode: h.Local, RootNode: h.Local}
		if h.KnownHosts != nil {
			resp.KnownHosts = h.KnownHosts()
		}
		if !writeHelloResponse(c, resp) {
			c.Close()
			return
		}
		h.HandleRootJoin(c, hello.Node, hello.ListeningAddr, h.Latency)

	default:
		log.Debug.Printf("wireproto: unknown hello kind %d", hello.Kind)
		c.Close()
	}
}

// writeHelloResponse writes and flushes resp on c, without acquiring
// c's per-stream lock: this runs before the connection is handed to any
// handler loop, so no other goroutine can be contending for it yet.
func writeHelloResponse(c *rpcconn.Conn, resp *vpfs.HelloResponse) bool {
	if err := vpfs.WriteHelloResponse(c.W, resp); err != nil {
		log.Debug.Printf("wireproto: writing hello response: %v", err)
		return false
	}
	if err := c.W.Flush(); err != nil {
		log.Debug.Printf("wireproto: flushing hello response: %v", err)
		return false
	}
	return true
}
