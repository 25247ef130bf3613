// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package filestore implements the daemon's local file object store:
// plain files on disk under the daemon's working directory, named by
// random hex URIs (or the literal "root" for the root directory file).
//
// Callers are responsible for holding the daemon's filesystem lock for
// the duration of a call; this package performs no locking of its own
// (see daemon.Daemon's fs lock).
package filestore

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cwood00/vpfsd/errors"
)

// Store creates, reads, writes, and removes file objects under a working
// directory.
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

// Create allocates a fresh file under a random 64-bit hex URI and
// returns that URI. On collision with an existing name it retries.
func (s *Store) Create() (string, error) {
	const op = "filestore.Create"
	for {
		uri := randomURI()
		f, err := os.OpenFile(s.path(uri), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			f.Close()
			return uri, nil
		}
		if os.IsExist(err) {
			continue
		}
		return "", errors.E(op, errors.NotAccessible, err)
	}
}

// CreateNamed creates an empty file named name, rather than a random
// URI: used for the bootstrap "root" directory file, which has a
// fixed, reserved name instead of a generated one. It reports
// created=false (and a nil error) if name already exists, so startup is
// idempotent across restarts.
func (s *Store) CreateNamed(name string) (created bool, err error) {
	const op = "filestore.CreateNamed"
	f, err := os.OpenFile(s.path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err == nil {
		f.Close()
		return true, nil
	}
	if os.IsExist(err) {
		return false, nil
	}
	return false, errors.E(op, errors.NotAccessible, err)
}

// Read returns the entire contents of uri.
func (s *Store) Read(uri string) ([]byte, error) {
	const op = "filestore.Read"
	data, err := os.ReadFile(s.path(uri))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(op, errors.DoesNotExist, err)
		}
		return nil, errors.E(op, errors.NotAccessible, err)
	}
	return data, nil
}

// Write overwrites the contents of a pre-existing uri. It fails with
// errors.DoesNotExist if no file has been placed there yet; placement
// (filestore.Create via daemon.placeFile) must precede Write.
func (s *Store) Write(uri string, data []byte) error {
	const op = "filestore.Write"
	path := s.path(uri)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return errors.E(op, errors.DoesNotExist, err)
		}
		return errors.E(op, errors.NotAccessible, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.E(op, errors.NotAccessible, err)
	}
	return nil
}

// Remove deletes uri. It is invoked only as a rollback cleanup path
// during failed placement; there is no public unlink.
func (s *Store) Remove(uri string) error {
	const op = "filestore.Remove"
	if err := os.Remove(s.path(uri)); err != nil {
		if os.IsNotExist(err) {
			return errors.E(op, errors.DoesNotExist, err)
		}
		return errors.E(op, errors.NotAccessible, err)
	}
	return nil
}

// ModTime returns the modification time of uri, in Unix seconds, or an
// error if it does not exist.
func (s *Store) ModTime(uri string) (int64, error) {
	const op = "filestore.ModTime"
	info, err := os.Stat(s.path(uri))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.E(op, errors.DoesNotExist, err)
		}
		return 0, errors.E(op, errors.NotAccessible, err)
	}
	return info.ModTime().Unix(), nil
}

// Size returns the on-disk size of uri in bytes.
func (s *Store) Size(uri string) (int64, error) {
	const op = "filestore.Size"
	info, err := os.Stat(s.path(uri))
	if err != nil {
		return 0, errors.E(op, errors.DoesNotExist, err)
	}
	return info.Size(), nil
}

func randomURI() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("filestore: crypto/rand failed: %v", err))
	}
	return fmt.Sprintf("%x", binary.BigEndian.Uint64(b[:]))
}
