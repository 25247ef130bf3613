// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daemon

import (
	"github.com/cwood00/vpfsd/dirstore"
	"github.com/cwood00/vpfsd/errors"
	"github.com/cwood00/vpfsd/internal/pathutil"
	"github.com/cwood00/vpfsd/vpfs"
)

// rootLocation is the Location of this cluster's root directory file,
// wherever the root daemon happens to be.
func (d *Daemon) rootLocation() vpfs.Location {
	return vpfs.Location{Node: d.Conns.Root(), URI: "root"}
}

// find resolves path to a directory entry. On success it returns a nil
// error unless resolution only succeeded by trusting a cached (possibly
// stale) remote directory at some step, in which case it returns the
// resolved entry alongside a CacheNeededForTraversal error carrying
// that same entry as its Existing payload, mirroring how AlreadyExists
// carries its payload.
func (d *Daemon) find(path string) (vpfs.DirEntry, error) {
	const op = "daemon.Find"

	p, err := pathutil.Parse(path)
	if err != nil {
		return vpfs.DirEntry{}, errors.E(op, errors.Other, err)
	}

	entry, usedCache, err := d.resolve(p)
	if err != nil {
		return vpfs.DirEntry{}, err
	}
	if usedCache {
		e := entry
		return entry, errors.E(op, errors.CacheNeededForTraversal, &e)
	}
	return entry, nil
}

// resolve is find's recursive core: it never itself returns
// CacheNeededForTraversal as an error, instead threading the
// used-a-cached-directory status up through usedCache so an
// intermediate hop's cache use is visible to its caller even when that
// hop's own lookup succeeded cleanly.
func (d *Daemon) resolve(p pathutil.Parsed) (entry vpfs.DirEntry, usedCache bool, err error) {
	const op = "daemon.resolve"

	if !p.IsRoot() {
		parent, parentUsedCache, err := d.resolve(p.Parent())
		if err != nil {
			return vpfs.DirEntry{}, false, err
		}
		if !parent.IsDir {
			return vpfs.DirEntry{}, false, errors.E(op, errors.NotADirectory)
		}
		found, foundUsedCache, err := d.searchIn(parent.Location, p.Last())
		if err != nil {
			return vpfs.DirEntry{}, false, err
		}
		return found, parentUsedCache || foundUsedCache, nil
	}

	// Root itself has no name to look up: synthesize its entry, so a
	// single-element path's Parent() recursion lands here and then
	// searches the root directory for its one element.
	return vpfs.DirEntry{Location: d.rootLocation(), Name: ".", IsDir: true}, false, nil
}

// searchIn looks up name inside the directory at dirLoc, which may be
// local or owned by a remote peer. A remote lookup answered only from
// this daemon's own cache (owner unreachable) reports usedCache=true
// rather than failing.
func (d *Daemon) searchIn(dirLoc vpfs.Location, name string) (vpfs.DirEntry, bool, error) {
	if dirLoc.Node == d.Local {
		d.fsMu.RLock()
		entry, err := d.Dirs.Search(dirLoc.URI, name)
		d.fsMu.RUnlock()
		if err != nil {
			return vpfs.DirEntry{}, false, err
		}
		return entry, false, nil
	}

	data, err := d.readRemote(dirLoc)
	if err != nil {
		if !errors.Is(errors.OnlyInCache, err) {
			return vpfs.DirEntry{}, false, err
		}
		// Owner unreachable but a cached copy of the directory exists:
		// trust it and propagate that the result rests on cache.
		loc := onlyInCacheLocation(err)
		d.fsMu.RLock()
		entry, serr := d.Dirs.Search(loc.URI, name)
		d.fsMu.RUnlock()
		if serr != nil {
			return vpfs.DirEntry{}, false, serr
		}
		return entry, true, nil
	}

	entry, serr := dirstore.SearchBytes(data, name)
	if serr != nil {
		return vpfs.DirEntry{}, false, serr
	}
	return entry, false, nil
}

// onlyInCacheLocation extracts the CacheLocation payload from an
// errors.OnlyInCache error. Callers must only invoke this after
// confirming errors.Is(errors.OnlyInCache, err).
func onlyInCacheLocation(err error) vpfs.Location {
	e, ok := err.(*errors.Error)
	if !ok || e.CacheLocation == nil {
		return vpfs.Location{}
	}
	return *e.CacheLocation
}
