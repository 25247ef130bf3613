// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dirstore implements the append-only directory files described
// in the namespace resolver's data model: each directory is a flat file
// of serialized directory entries, scanned linearly, never rewritten.
//
// Callers are responsible for holding the daemon's filesystem lock for
// the duration of an Append or Search call; this package performs no
// locking of its own (see daemon.Daemon's fs lock).
package dirstore

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/cwood00/vpfsd/errors"
	"github.com/cwood00/vpfsd/vpfs"
)

// Store reads and appends directory files under a working directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, which must already exist.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(uri string) string {
	return filepath.Join(s.dir, uri)
}

// Append adds entry to the directory file named by directoryURI. If an
// entry with the same name is already present, Append fails with
// errors.AlreadyExists carrying the existing entry, and the file is left
// unmodified.
func (s *Store) Append(directoryURI string, entry vpfs.DirEntry) error {
	const op = "dirstore.Append"

	if existing, err := s.Search(directoryURI, entry.Name); err == nil {
		return errors.E(op, errors.AlreadyExists, &existing)
	} else if !errors.Is(errors.DoesNotExist, err) {
		return err
	}

	f, err := os.OpenFile(s.path(directoryURI), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return errors.E(op, errors.NotAccessible, err)
	}
	defer f.Close()

	if err := vpfs.WriteDirEntry(f, entry); err != nil {
		return errors.E(op, errors.Other, err)
	}
	return nil
}

// Search linearly scans the directory file named by directoryURI for an
// entry named name, returning the first match (insertion order, since
// the file is append-only). It returns errors.DoesNotExist if the
// directory has no such entry, or if the directory file itself does not
// exist.
func (s *Store) Search(directoryURI, name string) (vpfs.DirEntry, error) {
	const op = "dirstore.Search"

	f, err := os.Open(s.path(directoryURI))
	if err != nil {
		if os.IsNotExist(err) {
			return vpfs.DirEntry{}, errors.E(op, errors.DoesNotExist, err)
		}
		return vpfs.DirEntry{}, errors.E(op, errors.NotAccessible, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		entry, err := vpfs.ReadDirEntry(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return vpfs.DirEntry{}, errors.E(op, errors.Other, err)
		}
		if entry.Name == name {
			return entry, nil
		}
	}
	return vpfs.DirEntry{}, errors.E(op, errors.DoesNotExist)
}

// SearchBytes scans an already-fetched directory file's bytes (as
// returned by a remote read, see daemon.readRemote) for name, the same
// way Search scans a backing file on disk. It is the namespace
// resolver's path for a remote parent directory whose bytes
// daemon.readRemote returned, either fresh from the owner or from the
// local cache after a NotModified reply: the resolver searches those
// returned bytes rather than opening a local URI.
func SearchBytes(data []byte, name string) (vpfs.DirEntry, error) {
	const op = "dirstore.SearchBytes"

	r := bufio.NewReader(bytes.NewReader(data))
	for {
		entry, err := vpfs.ReadDirEntry(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return vpfs.DirEntry{}, errors.E(op, errors.Other, err)
		}
		if entry.Name == name {
			return entry, nil
		}
	}
	return vpfs.DirEntry{}, errors.E(op, errors.DoesNotExist)
}
