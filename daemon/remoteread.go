// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daemon

import (
	"fmt"
	"io"

	"github.com/cwood00/vpfsd/errors"
	"github.com/cwood00/vpfsd/vpfs"
)

// readRemote fetches location's bytes from its owner, consulting and
// updating the local cache along the way. It is the only path that
// holds the filesystem write lock across a network round trip,
// intentionally, so the cache's view of location cannot change while
// the fetch is in flight.
func (d *Daemon) readRemote(location vpfs.Location) ([]byte, error) {
	const op = "daemon.readRemote"

	mtime, hasMtime := d.Cache.ModTime(location)

	d.fsMu.Lock()
	defer d.fsMu.Unlock()

	conn, err := d.Conns.StreamFor(location.Node)
	if err != nil {
		return nil, d.onlyInCacheOrNotAccessible(op, location, err)
	}

	conn.Lock()
	req := &vpfs.DaemonRequest{Kind: vpfs.DaemonRead, URI: location.URI, HasMtime: hasMtime, Mtime: mtime}
	if err := vpfs.WriteDaemonRequest(conn.W, req); err == nil {
		err = conn.W.Flush()
	}
	if err != nil {
		conn.Unlock()
		d.Conns.Evict(location.Node)
		return nil, d.onlyInCacheOrNotAccessible(op, location, err)
	}

	resp, err := vpfs.ReadDaemonResponse(conn.R)
	if err != nil {
		conn.Unlock()
		d.Conns.Evict(location.Node)
		return nil, d.onlyInCacheOrNotAccessible(op, location, err)
	}

	if resp.Err != nil {
		conn.Unlock()
		werr := errors.FromWire(resp.Err)
		if errors.Is(errors.NotModified, werr) {
			entry, ok := d.Cache.Get(location)
			if !ok {
				return nil, errors.E(op, errors.Other, fmt.Errorf("owner reported not modified with no local cache entry"))
			}
			data, rerr := d.Files.Read(entry.URI)
			if rerr != nil {
				return nil, errors.E(op, rerr)
			}
			return data, nil
		}
		return nil, werr
	}

	data := make([]byte, resp.Len)
	_, err = io.ReadFull(conn.R, data)
	conn.Unlock()
	if err != nil {
		d.Conns.Evict(location.Node)
		return nil, errors.E(op, errors.Other, err)
	}

	if err := d.Cache.Insert(location, data); err != nil {
		return nil, errors.E(op, err)
	}
	return data, nil
}

// onlyInCacheOrNotAccessible reports OnlyInCache, rather than failing
// outright, when the owner couldn't be reached but a stale cached copy
// of location exists.
func (d *Daemon) onlyInCacheOrNotAccessible(op string, location vpfs.Location, cause error) error {
	if entry, ok := d.Cache.Get(location); ok {
		loc := vpfs.Location{Node: d.Local, URI: entry.URI}
		return errors.E(op, errors.OnlyInCache, &loc)
	}
	return errors.E(op, errors.NotAccessible, cause)
}

// serveRead answers a peer's Read(uri, mtime) request: a requester
// whose cached mtime is strictly later than the local file's mtime gets
// NotModified instead of a fresh copy; equal mtimes get a fresh copy.
func (d *Daemon) serveRead(uri string, hasMtime bool, mtime int64) ([]byte, error) {
	const op = "daemon.serveRead"

	d.fsMu.RLock()
	defer d.fsMu.RUnlock()

	if hasMtime {
		local, err := d.Files.ModTime(uri)
		if err != nil {
			return nil, err
		}
		if local < mtime {
			return nil, errors.E(op, errors.NotModified)
		}
	}
	return d.Files.Read(uri)
}
