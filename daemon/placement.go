// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daemon

import (
	"golang.org/x/sync/errgroup"

	"github.com/cwood00/vpfsd/errors"
	"github.com/cwood00/vpfsd/internal/pathutil"
	"github.com/cwood00/vpfsd/log"
	"github.com/cwood00/vpfsd/vpfs"
)

// placeFile allocates a file at node at, wires it into its parent
// directory under the last path segment of path, and (for directories)
// best-effort seeds its "."/".." self-links.
func (d *Daemon) placeFile(path string, at vpfs.Node, isDir bool) (vpfs.Location, error) {
	const op = "daemon.placeFile"

	p, err := pathutil.Parse(path)
	if err != nil {
		return vpfs.Location{}, errors.E(op, errors.Other, err)
	}

	uri, err := d.allocate(at)
	if err != nil {
		return vpfs.Location{}, err
	}
	loc := vpfs.Location{Node: at, URI: uri}

	parent, err := d.resolveParent(p)
	if err != nil {
		d.removeAt(loc)
		return vpfs.Location{}, err
	}
	if !parent.IsDir {
		d.removeAt(loc)
		return vpfs.Location{}, errors.E(op, errors.NotADirectory)
	}

	entry := vpfs.DirEntry{Location: loc, Name: p.Last(), IsDir: isDir}
	if err := d.appendEntry(parent.Location, entry); err != nil {
		// An AlreadyExists error's Existing entry is the one the
		// caller should use; it is propagated unmodified, after
		// cleaning up the file we just allocated.
		d.removeAt(loc)
		return vpfs.Location{}, err
	}

	if isDir {
		d.seedDirSelfLinks(loc, parent.Location)
	}

	return loc, nil
}

// resolveParent resolves the directory that should contain the path
// parsed as p: the root directory if p is a single element, or the
// entry named by p's parent otherwise. It ignores any
// CacheNeededForTraversal status, since placement only needs the
// parent's Location and is_dir, not whether a cached directory was
// trusted to find them.
func (d *Daemon) resolveParent(p pathutil.Parsed) (vpfs.DirEntry, error) {
	if p.NElem() <= 1 {
		return vpfs.DirEntry{Location: d.rootLocation(), IsDir: true}, nil
	}
	entry, _, err := d.resolve(p.Parent())
	return entry, err
}

// allocate asks node (local or remote) to create a fresh empty file
// and returns its URI.
func (d *Daemon) allocate(node vpfs.Node) (string, error) {
	const op = "daemon.allocate"

	if node == d.Local {
		return d.allocateLocal()
	}

	conn, err := d.Conns.StreamFor(node)
	if err != nil {
		return "", errors.E(op, errors.NotAccessible, err)
	}
	conn.Lock()
	defer conn.Unlock()

	req := &vpfs.DaemonRequest{Kind: vpfs.DaemonPlace}
	if err := vpfs.WriteDaemonRequest(conn.W, req); err == nil {
		err = conn.W.Flush()
	}
	if err != nil {
		return "", errors.E(op, errors.NotAccessible, err)
	}
	resp, err := vpfs.ReadDaemonResponse(conn.R)
	if err != nil {
		return "", errors.E(op, errors.NotAccessible, err)
	}
	if resp.Err != nil {
		return "", errors.FromWire(resp.Err)
	}
	return resp.URI, nil
}

func (d *Daemon) allocateLocal() (string, error) {
	const op = "daemon.allocateLocal"

	d.fsMu.Lock()
	defer d.fsMu.Unlock()

	uri, err := d.Files.Create()
	if err != nil {
		return "", errors.E(op, errors.NotAccessible, err)
	}
	return uri, nil
}

// removeAt deletes the file at location, as a best-effort rollback
// after a failed placement step. Failures are logged, not propagated:
// the caller is already returning the original error.
func (d *Daemon) removeAt(location vpfs.Location) {
	const op = "daemon.removeAt"

	if location.Node == d.Local {
		d.fsMu.Lock()
		err := d.Files.Remove(location.URI)
		d.fsMu.Unlock()
		if err != nil {
			log.Debug.Printf("%s: %v", op, err)
		}
		return
	}

	conn, err := d.Conns.StreamFor(location.Node)
	if err != nil {
		log.Debug.Printf("%s: %v", op, err)
		return
	}
	conn.Lock()
	defer conn.Unlock()

	req := &vpfs.DaemonRequest{Kind: vpfs.DaemonRemove, URI: location.URI}
	if err := vpfs.WriteDaemonRequest(conn.W, req); err == nil {
		err = conn.W.Flush()
	}
	if err != nil {
		log.Debug.Printf("%s: %v", op, err)
		return
	}
	if _, err := vpfs.ReadDaemonResponse(conn.R); err != nil {
		log.Debug.Printf("%s: %v", op, err)
	}
}

// appendEntry adds entry to the directory at dirLoc, locally or via
// AppendDirectoryEntry on its owning peer.
func (d *Daemon) appendEntry(dirLoc vpfs.Location, entry vpfs.DirEntry) error {
	const op = "daemon.appendEntry"

	if dirLoc.Node == d.Local {
		d.fsMu.Lock()
		defer d.fsMu.Unlock()
		return d.Dirs.Append(dirLoc.URI, entry)
	}

	conn, err := d.Conns.StreamFor(dirLoc.Node)
	if err != nil {
		return errors.E(op, errors.NotAccessible, err)
	}
	conn.Lock()
	defer conn.Unlock()

	req := &vpfs.DaemonRequest{Kind: vpfs.DaemonAppendDirectoryEntry, DirectoryURI: dirLoc.URI, Entry: entry}
	if err := vpfs.WriteDaemonRequest(conn.W, req); err == nil {
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

// seedDirSelfLinks appends self's "." entry and parent's ".." entry
// inside the newly created directory self, concurrently. Both appends
// are best-effort: neither failure rolls back the directory itself, and
// there is no ordering requirement between them.
func (d *Daemon) seedDirSelfLinks(self, parent vpfs.Location) {
	var g errgroup.Group
	g.Go(func() error {
		return d.appendEntry(self, vpfs.DirEntry{Location: self, Name: ".", IsDir: true})
	})
	g.Go(func() error {
		return d.appendEntry(self, vpfs.DirEntry{Location: parent, Name: "..", IsDir: true})
	})
	if err := g.Wait(); err != nil {
		log.Debug.Printf("daemon.placeFile: best-effort self-link append: %v", err)
	}
}
