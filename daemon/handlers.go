// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daemon

import (
	"io"
	"time"

	"github.com/cwood00/vpfsd/errors"
	"github.com/cwood00/vpfsd/rpcconn"
	"github.com/cwood00/vpfsd/vpfs"
)

// HandleClient serves a connection opened with ClientHello: the local
// user process's find/place/mkdir/read/write requests.
func (d *Daemon) HandleClient(c *rpcconn.Conn) {
	for {
		req, err := vpfs.ReadClientRequest(c.R)
		if err != nil {
			c.Close()
			return
		}

		switch req.Kind {
		case vpfs.ClientFind:
			entry, ferr := d.find(req.Path)
			resp := &vpfs.ClientResponse{Kind: vpfs.ClientFind}
			if ferr != nil {
				resp.Err = errors.ToWire(ferr)
			} else {
				resp.Entry = entry
			}
			if !writeClientResponse(c, resp) {
				return
			}

		case vpfs.ClientPlace, vpfs.ClientMkdir:
			loc, perr := d.placeFile(req.Path, req.AtNode, req.Kind == vpfs.ClientMkdir)
			resp := &vpfs.ClientResponse{Kind: req.Kind}
			if perr != nil {
				resp.Err = errors.ToWire(perr)
			} else {
				resp.Location = loc
			}
			if !writeClientResponse(c, resp) {
				return
			}

		case vpfs.ClientRead:
			data, rerr := d.readLocation(req.Location)
			resp := &vpfs.ClientResponse{Kind: vpfs.ClientRead}
			if rerr != nil {
				resp.Err = errors.ToWire(rerr)
				if !writeClientResponse(c, resp) {
					return
				}
				continue
			}
			resp.Len = uint64(len(data))
			if !writeClientResponse(c, resp) {
				return
			}
			if _, err := c.W.Write(data); err != nil {
				c.Close()
				return
			}
			if err := c.W.Flush(); err != nil {
				c.Close()
				return
			}

		case vpfs.ClientWrite:
			body := make([]byte, req.Len)
			if _, err := io.ReadFull(c.R, body); err != nil {
				c.Close()
				return
			}
			werr := d.writeLocation(req.Location, body)
			resp := &vpfs.ClientResponse{Kind: vpfs.ClientWrite}
			if werr != nil {
				resp.Err = errors.ToWire(werr)
			} else {
				resp.Len = uint64(len(body))
			}
			if !writeClientResponse(c, resp) {
				return
			}

		default:
			c.Close()
			return
		}
	}
}

func writeClientResponse(c *rpcconn.Conn, resp *vpfs.ClientResponse) bool {
	if err := vpfs.WriteClientResponse(c.W, resp); err != nil {
		c.Close()
		return false
	}
	if err := c.W.Flush(); err != nil {
		c.Close()
		return false
	}
	return true
}

// readLocation serves a client Read request for location: local files
// are read directly; remote files go through the cache/remote-read
// path, and an unreachable owner with only a stale cached copy
// surfaces as OnlyInCache to the client rather than being silently
// served (unlike the namespace resolver's traversal fallback in
// searchIn).
func (d *Daemon) readLocation(loc vpfs.Location) ([]byte, error) {
	if loc.Node == d.Local {
		d.fsMu.RLock()
		defer d.fsMu.RUnlock()
		return d.Files.Read(loc.URI)
	}
	return d.readRemote(loc)
}

// writeLocation serves a client Write request for location: local
// files are written directly under the filesystem write lock; remote
// files go through a Write RPC to their owner.
func (d *Daemon) writeLocation(loc vpfs.Location, data []byte) error {
	const op = "daemon.writeLocation"

	if loc.Node == d.Local {
		d.fsMu.Lock()
		defer d.fsMu.Unlock()
		return d.Files.Write(loc.URI, data)
	}

	conn, err := d.Conns.StreamFor(loc.Node)
	if err != nil {
		return errors.E(op, errors.NotAccessible, err)
	}
	conn.Lock()
	defer conn.Unlock()

	req := &vpfs.DaemonRequest{Kind: vpfs.DaemonWrite, URI: loc.URI, Len: uint64(len(data))}
	if err := vpfs.WriteDaemonRequest(conn.W, req); err == nil {
		_, err = conn.W.Write(data)
	}
	if err == nil {
		err = conn.W.Flush()
	}
	if err != nil {
		return errors.E(op, errors.NotAccessible, err)
	}
	resp, err := vpfs.ReadDaemonResponse(conn.R)
	if err != nil {
		return errors.E(op, errors.NotAccessible, err)
	}
	if resp.Err != nil {
		return errors.FromWire(resp.Err)
	}
	return nil
}

// HandlePeer serves a connection opened with DaemonHello (or adopted
// after a RootHello join): another daemon's Place/Read/Write/Remove/
// AppendDirectoryEntry/AddressFor requests.
func (d *Daemon) HandlePeer(c *rpcconn.Conn, remote vpfs.Node, latency time.Duration) {
	for {
		req, err := vpfs.ReadDaemonRequest(c.R)
		if err != nil {
			c.Close()
			return
		}
		if latency > 0 {
			time.Sleep(latency)
		}

		switch req.Kind {
		case vpfs.DaemonPlace:
			uri, perr := d.allocateLocal()
			resp := &vpfs.DaemonResponse{Kind: vpfs.DaemonPlace}
			if perr != nil {
				resp.Err = errors.ToWire(perr)
			} else {
				resp.URI = uri
			}
			if !writePeerResponse(c, resp) {
				return
			}

		case vpfs.DaemonRead:
			data, rerr := d.serveRead(req.URI, req.HasMtime, req.Mtime)
			resp := &vpfs.DaemonResponse{Kind: vpfs.DaemonRead}
			if rerr != nil {
				resp.Err = errors.ToWire(rerr)
				if !writePeerResponse(c, resp) {
					return
				}
				continue
			}
			resp.Len = uint64(len(data))
			if !writePeerResponse(c, resp) {
				return
			}
			if _, err := c.W.Write(data); err != nil {
				c.Close()
				return
			}
			if err := c.W.Flush(); err != nil {
				c.Close()
				return
			}

		case vpfs.DaemonWrite:
			body := make([]byte, req.Len)
			if _, err := io.ReadFull(c.R, body); err != nil {
				c.Close()
				return
			}
			d.fsMu.Lock()
			werr := d.Files.Write(req.URI, body)
			d.fsMu.Unlock()
			resp := &vpfs.DaemonResponse{Kind: vpfs.DaemonWrite}
			if werr != nil {
				resp.Err = errors.ToWire(werr)
			} else {
				resp.Len = uint64(len(body))
			}
			if !writePeerResponse(c, resp) {
				return
			}

		case vpfs.DaemonRemove:
			d.fsMu.Lock()
			rerr := d.Files.Remove(req.URI)
			d.fsMu.Unlock()
			resp := &vpfs.DaemonResponse{Kind: vpfs.DaemonRemove}
			if rerr != nil {
				resp.Err = errors.ToWire(rerr)
			} else {
				resp.Ok = true
			}
			if !writePeerResponse(c, resp) {
				return
			}

		case vpfs.DaemonAppendDirectoryEntry:
			d.fsMu.Lock()
			aerr := d.Dirs.Append(req.DirectoryURI, req.Entry)
			d.fsMu.Unlock()
			resp := &vpfs.DaemonResponse{Kind: vpfs.DaemonAppendDirectoryEntry}
			if aerr != nil {
				resp.Err = errors.ToWire(aerr)
			} else {
				resp.Ok = true
			}
			if !writePeerResponse(c, resp) {
				return
			}

		case vpfs.DaemonAddressFor:
			addr, ok := d.Conns.AddressFor(req.Node)
			resp := &vpfs.DaemonResponse{Kind: vpfs.DaemonAddressFor, Ok: ok, Addr: addr}
			if !writePeerResponse(c, resp) {
				return
			}

		default:
			c.Close()
			return
		}
	}
}

func writePeerResponse(c *rpcconn.Conn, resp *vpfs.DaemonResponse) bool {
	if err := vpfs.WriteDaemonResponse(c.W, resp); err != nil {
		c.Close()
		return false
	}
	if err := c.W.Flush(); err != nil {
		c.Close()
		return false
	}
	return true
}

// HandleRootJoin serves a connection opened with RootHello: it
// registers the joining peer's address and this already-handshaken
// connection (so the root can reach the joiner without redialing),
// then serves it exactly like any other peer connection.
func (d *Daemon) HandleRootJoin(c *rpcconn.Conn, remote vpfs.Node, listeningAddr string, latency time.Duration) {
	d.Conns.RegisterKnownHost(remote, listeningAddr)
	d.Conns.Register(remote, c)
	d.HandlePeer(c, remote, latency)
}
