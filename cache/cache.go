// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache implements the daemon's on-disk LRU cache of remote file
// contents: a size-bounded index keyed by vpfs.Location, persisted to a
// file named "cache" on every mutation, and restorable at startup.
//
// The index is built on github.com/hashicorp/golang-lru/v2's ordered
// map. Byte accounting tracks the delta between old and new sizes under
// one critical section rather than always adding len(data), so a
// cache-hit refresh can never drift the used-bytes counter above actual
// usage. The index file is written to a temp name and renamed into
// place rather than rewritten in place, so a crash mid-write can never
// leave a torn index.
package cache

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/cwood00/vpfsd/errors"
	"github.com/cwood00/vpfsd/filestore"
	"github.com/cwood00/vpfsd/vpfs"
)

// indexCapacity bounds the number of entries the underlying LRU will
// ever hold; eviction in this package is driven entirely by byte
// accounting (see Insert), so this is just a safety net against
// unbounded growth of the ordered map itself.
const indexCapacity = 1 << 20

// Entry is the on-disk stand-in for a remote file's bytes.
type Entry struct {
	URI string
}

// Cache is a byte-bounded LRU of remote Locations, backed by local files.
type Cache struct {
	files    *filestore.Store
	indexDir string
	maxBytes int64

	mu        sync.Mutex // guards lru and, together with bytesMu, usedBytes
	lru       *simplelru.LRU[vpfs.Location, Entry]
	bytesMu   sync.Mutex
	usedBytes int64

	root vpfs.Node
}

// New returns an empty Cache rooted at dir (the daemon's working
// directory, where both backing files and the "cache" index live),
// bounded to maxBytes of backing-file content.
func New(dir string, maxBytes int64, root vpfs.Node) *Cache {
	lru, err := simplelru.NewLRU[vpfs.Location, Entry](indexCapacity, nil)
	if err != nil {
		panic(err) // indexCapacity is a positive constant; NewLRU cannot fail.
	}
	return &Cache{
		files:    filestore.New(dir),
		indexDir: dir,
		maxBytes: maxBytes,
		lru:      lru,
		root:     root,
	}
}

func (c *Cache) indexPath() string {
	return filepath.Join(c.indexDir, "cache")
}

// Get returns the cache entry for location, promoting it to
// most-recently-used.
func (c *Cache) Get(location vpfs.Location) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(location)
}

// ModTime returns the modification time (Unix seconds) of the cached
// copy of location, if one exists.
func (c *Cache) ModTime(location vpfs.Location) (int64, bool) {
	entry, ok := c.Get(location)
	if !ok {
		return 0, false
	}
	t, err := c.files.ModTime(entry.URI)
	if err != nil {
		return 0, false
	}
	return t, true
}

// Insert stores data as the cached copy of location, creating a new
// backing file or overwriting the existing one, then evicts oldest
// entries until used_cache_bytes is back within budget, and persists the
// index.
func (c *Cache) Insert(location vpfs.Location, data []byte) error {
	const op = "cache.Insert"

	c.mu.Lock()
	defer c.mu.Unlock()

	var oldSize int64
	entry, ok := c.lru.Get(location)
	if ok {
		if sz, err := c.files.Size(entry.URI); err == nil {
			oldSize = sz
		}
		if err := c.files.Write(entry.URI, data); err != nil {
			return errors.E(op, errors.Other, err)
		}
	} else {
		uri, err := c.files.Create()
		if err != nil {
			return errors.E(op, errors.NotAccessible, err)
		}
		if err := c.files.Write(uri, data); err != nil {
			return errors.E(op, errors.Other, err)
		}
		entry = Entry{URI: uri}
		c.lru.Add(location, entry)
	}

	c.bytesMu.Lock()
	c.usedBytes += int64(len(data)) - oldSize
	for c.usedBytes > c.maxBytes {
		_, oldest, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		size, err := c.files.Size(oldest.URI)
		if err != nil {
			// Cache accounting errors are fatal: the index would no
			// longer reflect reality.
			c.bytesMu.Unlock()
			panic(errors.E(op, errors.Other, err))
		}
		if err := c.files.Remove(oldest.URI); err != nil {
			c.bytesMu.Unlock()
			panic(errors.E(op, errors.Other, err))
		}
		c.usedBytes -= size
	}
	c.bytesMu.Unlock()

	return c.persistLocked()
}

// UsedBytes returns the current accounted cache size.
func (c *Cache) UsedBytes() int64 {
	c.bytesMu.Lock()
	defer c.bytesMu.Unlock()
	return c.usedBytes
}

// Len returns the number of entries currently indexed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// persistLocked serializes the index to a temp file and renames it over
// "cache", so a crash mid-write never leaves a torn index. Caller must
// hold c.mu.
func (c *Cache) persistLocked() error {
	const op = "cache.persist"

	tmp, err := os.CreateTemp(c.indexDir, "cache.tmp-*")
	if err != nil {
		return errors.E(op, errors.Other, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	w := bufio.NewWriter(tmp)
	if err := vpfs.WriteNode(w, c.root); err != nil {
		tmp.Close()
		return errors.E(op, errors.Other, err)
	}
	if err := writeUvarint(w, uint64(c.usedBytes)); err != nil {
		tmp.Close()
		return errors.E(op, errors.Other, err)
	}
	// Keys() returns oldest-to-newest (LRU to MRU); walking it backwards
	// persists MRU-to-LRU, matching the in-memory order.
	keys := c.lru.Keys()
	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]
		entry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if err := vpfs.WriteDirEntry(w, vpfs.DirEntry{Location: key, Name: entry.URI}); err != nil {
			tmp.Close()
			return errors.E(op, errors.Other, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.E(op, errors.Other, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.E(op, errors.Other, err)
	}
	if err := os.Rename(tmpName, c.indexPath()); err != nil {
		return errors.E(op, errors.Other, err)
	}
	return nil
}

// Restore reads the "cache" index file under dir, if present, and
// returns a Cache populated in the same MRU-to-LRU order it was saved
// in; the root node identity recorded at save time is available from
// the returned Cache's Root method. A
// missing file is not an error: it yields an empty cache and a zero
// Node (the caller's own --name/--root-addr flags determine root
// identity in that case).
func Restore(dir string, maxBytes int64) (*Cache, error) {
	const op = "cache.Restore"

	c := New(dir, maxBytes, vpfs.Node{})
	f, err := os.Open(filepath.Join(dir, "cache"))
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, errors.E(op, errors.Other, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	root, err := vpfs.ReadNode(r)
	if err != nil {
		return nil, errors.E(op, errors.Other, err)
	}
	c.root = root

	// The persisted used-byte count is read and discarded: entries whose
	// backing file vanished are dropped, and the count is recomputed from
	// the sizes of the backing files actually found.
	if _, err := binary.ReadUvarint(r); err != nil {
		return nil, errors.E(op, errors.Other, err)
	}

	// Entries were written MRU-first; inserting in file order and
	// promoting each to MRU would invert that. Read them all, then
	// insert oldest-first so the final Add leaves the true MRU entry on
	// top.
	var pairs []vpfs.DirEntry
	for {
		entry, err := vpfs.ReadDirEntry(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(op, errors.Other, err)
		}
		pairs = append(pairs, entry)
	}
	for i := len(pairs) - 1; i >= 0; i-- {
		uri := pairs[i].Name
		size, err := c.files.Size(uri)
		if err != nil {
			continue // backing file vanished; the entry dies with it
		}
		c.lru.Add(pairs[i].Location, Entry{URI: uri})
		c.usedBytes += size
	}
	return c, nil
}

// Root returns the root-node identity recorded in a restored index.
func (c *Cache) Root() vpfs.Node {
	return c.root
}

func writeUvarint(w io.Writer, v uint64) error {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	_, err := w.Write(tmp[:n])
	return err
}
