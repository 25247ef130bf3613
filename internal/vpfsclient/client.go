// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vpfsclient is a minimal internal client for driving a vpfsd
// daemon from tests: one exclusively-locked connection issuing
// ClientRequests and awaiting ClientResponses, plus the store/fetch
// convenience operations layered on top of the four primitive RPCs.
//
// It is not a public client library; it exists so integration tests can
// drive a daemon end-to-end without reimplementing the wire protocol.
package vpfsclient

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/cwood00/vpfsd/errors"
	"github.com/cwood00/vpfsd/vpfs"
)

// Client is a single connection to a daemon's listener, opened with
// ClientHello.
type Client struct {
	mu   sync.Mutex
	nc   net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	Self vpfs.Node // the node the daemon reports this client sits on
}

// Dial connects to addr and performs the ClientHello exchange.
func Dial(addr string) (*Client, error) {
	const op = "vpfsclient.Dial"

	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	c := &Client{nc: nc, r: bufio.NewReader(nc), w: bufio.NewWriter(nc)}

	if err := vpfs.WriteHello(c.w, &vpfs.Hello{Kind: vpfs.ClientHello}); err != nil {
		nc.Close()
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	if err := c.w.Flush(); err != nil {
		nc.Close()
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	resp, err := vpfs.ReadHelloResponse(c.r)
	if err != nil {
		nc.Close()
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	c.Self = resp.LocalNode
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.nc.Close()
}

func (c *Client) roundTrip(req *vpfs.ClientRequest) (*vpfs.ClientResponse, error) {
	const op = "vpfsclient.roundTrip"

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := vpfs.WriteClientRequest(c.w, req); err != nil {
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	resp, err := vpfs.ReadClientResponse(c.r)
	if err != nil {
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	return resp, nil
}

// Find resolves path to a directory entry.
func (c *Client) Find(path string) (vpfs.DirEntry, error) {
	resp, err := c.roundTrip(&vpfs.ClientRequest{Kind: vpfs.ClientFind, Path: path})
	if err != nil {
		return vpfs.DirEntry{}, err
	}
	if resp.Err != nil {
		return vpfs.DirEntry{}, errors.FromWire(resp.Err)
	}
	return resp.Entry, nil
}

// Place creates a new file named by the last segment of path, owned by
// at, wired into its parent directory.
func (c *Client) Place(path string, at vpfs.Node) (vpfs.Location, error) {
	resp, err := c.roundTrip(&vpfs.ClientRequest{Kind: vpfs.ClientPlace, Path: path, AtNode: at})
	if err != nil {
		return vpfs.Location{}, err
	}
	if resp.Err != nil {
		return vpfs.Location{}, errors.FromWire(resp.Err)
	}
	return resp.Location, nil
}

// Mkdir creates a new directory named by the last segment of path,
// owned by at, wired into its parent directory.
func (c *Client) Mkdir(path string, at vpfs.Node) (vpfs.Location, error) {
	resp, err := c.roundTrip(&vpfs.ClientRequest{Kind: vpfs.ClientMkdir, Path: path, AtNode: at})
	if err != nil {
		return vpfs.Location{}, err
	}
	if resp.Err != nil {
		return vpfs.Location{}, errors.FromWire(resp.Err)
	}
	return resp.Location, nil
}

// Read returns the contents of location.
func (c *Client) Read(location vpfs.Location) ([]byte, error) {
	const op = "vpfsclient.Read"

	c.mu.Lock()
	defer c.mu.Unlock()

	req := &vpfs.ClientRequest{Kind: vpfs.ClientRead, Location: location}
	if err := vpfs.WriteClientRequest(c.w, req); err != nil {
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	resp, err := vpfs.ReadClientResponse(c.r)
	if err != nil {
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	if resp.Err != nil {
		return nil, errors.FromWire(resp.Err)
	}
	data := make([]byte, resp.Len)
	if _, err := io.ReadFull(c.r, data); err != nil {
		return nil, errors.E(op, errors.Other, err)
	}
	return data, nil
}

// Write overwrites location's contents with data.
func (c *Client) Write(location vpfs.Location, data []byte) error {
	const op = "vpfsclient.Write"

	c.mu.Lock()
	defer c.mu.Unlock()

	req := &vpfs.ClientRequest{Kind: vpfs.ClientWrite, Location: location, Len: uint64(len(data))}
	if err := vpfs.WriteClientRequest(c.w, req); err != nil {
		return errors.E(op, errors.NotAccessible, err)
	}
	if _, err := c.w.Write(data); err != nil {
		return errors.E(op, errors.NotAccessible, err)
	}
	if err := c.w.Flush(); err != nil {
		return errors.E(op, errors.NotAccessible, err)
	}
	resp, err := vpfs.ReadClientResponse(c.r)
	if err != nil {
		return errors.E(op, errors.NotAccessible, err)
	}
	if resp.Err != nil {
		return errors.FromWire(resp.Err)
	}
	return nil
}

// Store places a new file named path, owned by at, and writes data
// into it. If path already exists, it writes data into the existing
// entry's location instead (the second place's AlreadyExists.Existing).
func (c *Client) Store(path string, at vpfs.Node, data []byte) (vpfs.Location, error) {
	loc, err := c.Place(path, at)
	if err != nil {
		e, ok := err.(*errors.Error)
		if !ok || e.Kind != errors.AlreadyExists || e.Existing == nil {
			return vpfs.Location{}, err
		}
		loc = e.Existing.Location
	}
	if err := c.Write(loc, data); err != nil {
		return vpfs.Location{}, err
	}
	return loc, nil
}

// Fetch resolves path and reads its contents.
func (c *Client) Fetch(path string) ([]byte, error) {
	entry, err := c.Find(path)
	if err != nil {
		e, ok := err.(*errors.Error)
		if !ok || e.Kind != errors.CacheNeededForTraversal || e.Existing == nil {
			return nil, err
		}
		entry = *e.Existing
	}
	return c.Read(entry.Location)
}
