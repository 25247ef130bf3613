// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vpfs defines the core data types of the virtual filesystem and
// the wire messages daemons exchange, along with their marshaling.
package vpfs

// Node identifies one daemon in the cluster. Two nodes are equal iff their
// names are equal; names are assigned by the operator at startup and are
// assumed cluster-wide unique.
type Node struct {
	Name string
}

// Location identifies the authoritative storage of one file object: the
// node that owns it and an opaque, node-local URI. The literal URI "root"
// is reserved for the root directory file on the root node.
type Location struct {
	Node Node
	URI  string
}

// DirEntry is a record stored inside a directory file.
type DirEntry struct {
	Location Location
	Name     string
	IsDir    bool
}

// Hello is the first message sent on every accepted connection.
type Hello struct {
	Kind HelloKind

	// RootHello fields.
	Node          Node
	ListeningAddr string
}

// HelloKind tags the variant of a Hello or HelloResponse.
type HelloKind uint8

const (
	ClientHello HelloKind = iota
	DaemonHello
	RootHello
)

// HelloResponse answers a Hello.
type HelloResponse struct {
	Kind HelloKind

	// ClientHello response.
	LocalNode Node

	// RootHello response.
	RootNode   Node
	KnownHosts map[Node]string
}

// ClientRequestKind tags the variant of a ClientRequest/ClientResponse.
type ClientRequestKind uint8

const (
	ClientFind ClientRequestKind = iota
	ClientPlace
	ClientMkdir
	ClientRead
	ClientWrite
)

// ClientRequest is issued by the local client over its connection to the
// host daemon.
type ClientRequest struct {
	Kind ClientRequestKind

	// Find, Place, Mkdir.
	Path string
	// Place, Mkdir.
	AtNode Node
	// Read, Write.
	Location Location
	// Write. The body bytes themselves follow the framed request on the
	// stream and are not part of this struct.
	Len uint64
}

// ClientResponse answers a ClientRequest. Err is non-nil on failure; on
// success the Kind-specific payload field is populated.
type ClientResponse struct {
	Kind ClientRequestKind
	Err  *WireError

	Entry    DirEntry // Find
	Location Location // Place, Mkdir
	Len      uint64   // Read, Write: length of the body that follows (Read only)
}

// DaemonRequestKind tags the variant of a DaemonRequest/DaemonResponse.
type DaemonRequestKind uint8

const (
	DaemonPlace DaemonRequestKind = iota
	DaemonRead
	DaemonWrite
	DaemonRemove
	DaemonAppendDirectoryEntry
	DaemonAddressFor
)

// DaemonRequest is exchanged between peer daemons.
type DaemonRequest struct {
	Kind DaemonRequestKind

	// Read, Write, Remove.
	URI string
	// Read: requester's cached mtime, if any.
	HasMtime bool
	Mtime    int64
	// Write. Body bytes follow the framed request.
	Len uint64
	// AppendDirectoryEntry.
	DirectoryURI string
	Entry        DirEntry
	// AddressFor.
	Node Node
}

// DaemonResponse answers a DaemonRequest.
type DaemonResponse struct {
	Kind DaemonRequestKind
	Err  *WireError

	URI  string // Place
	Len  uint64 // Read, Write: length of the body that follows (Read only)
	Addr string // AddressFor
	Ok   bool   // AddressFor: whether Addr is meaningful; Remove, AppendDirectoryEntry: success
}

// WireError is the across-the-wire representation of an *errors.Error. It
// lives in vpfs rather than errors to avoid an import cycle (errors
// references vpfs.DirEntry/vpfs.Location in its payload fields).
type WireError struct {
	Op            string
	Kind          uint8
	Existing      *DirEntry
	CacheLocation *Location
	Message       string
}
