// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vpfs

// This file implements the wire encoding of the types in types.go: a
// tagged, self-delimiting binary encoding using varints for lengths and
// discriminants, written against a stream (bufio.Reader/io.Writer)
// rather than a byte slice, since messages arrive one at a time off a
// long-lived connection rather than as a single buffer. File bodies
// that follow a length-bearing response (Read/Write) are not part of
// this encoding; callers copy exactly Len bytes themselves.

import (
	"bufio"
	"encoding/binary"
	"io"
)

func writeUvarint(w io.Writer, v uint64) error {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	_, err := w.Write(tmp[:n])
	return err
}

func writeVarint(w io.Writer, v int64) error {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	_, err := w.Write(tmp[:n])
	return err
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func writeBool(w io.Writer, b bool) error {
	if b {
		return writeByte(w, 1)
	}
	return writeByte(w, 0)
}

func writeString(w io.Writer, s string) error {
	if err := writeUvarint(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readByte(r *bufio.Reader) (byte, error) {
	return r.ReadByte()
}

func readBool(r *bufio.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func readString(r *bufio.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeNode(w io.Writer, n Node) error {
	return WriteNode(w, n)
}

func readNode(r *bufio.Reader) (Node, error) {
	return ReadNode(r)
}

// WriteNode marshals a Node onto w. Exported for use by packages (such
// as cache) that persist a bare Node alongside other wire values.
func WriteNode(w io.Writer, n Node) error {
	return writeString(w, n.Name)
}

// ReadNode unmarshals a Node from r.
func ReadNode(r *bufio.Reader) (Node, error) {
	name, err := readString(r)
	if err != nil {
		return Node{}, err
	}
	return Node{Name: name}, nil
}

func writeLocation(w io.Writer, l Location) error {
	if err := writeNode(w, l.Node); err != nil {
		return err
	}
	return writeString(w, l.URI)
}

func readLocation(r *bufio.Reader) (Location, error) {
	node, err := readNode(r)
	if err != nil {
		return Location{}, err
	}
	uri, err := readString(r)
	if err != nil {
		return Location{}, err
	}
	return Location{Node: node, URI: uri}, nil
}

// WriteDirEntry marshals a DirEntry onto w: Location, Name, IsDir.
func WriteDirEntry(w io.Writer, e DirEntry) error {
	if err := writeLocation(w, e.Location); err != nil {
		return err
	}
	if err := writeString(w, e.Name); err != nil {
		return err
	}
	return writeBool(w, e.IsDir)
}

// ReadDirEntry unmarshals a DirEntry from r.
func ReadDirEntry(r *bufio.Reader) (DirEntry, error) {
	loc, err := readLocation(r)
	if err != nil {
		return DirEntry{}, err
	}
	name, err := readString(r)
	if err != nil {
		return DirEntry{}, err
	}
	isDir, err := readBool(r)
	if err != nil {
		return DirEntry{}, err
	}
	return DirEntry{Location: loc, Name: name, IsDir: isDir}, nil
}

func writeWireError(w io.Writer, e *WireError) error {
	if e == nil {
		return writeBool(w, false)
	}
	if err := writeBool(w, true); err != nil {
		return err
	}
	if err := writeString(w, e.Op); err != nil {
		return err
	}
	if err := writeByte(w, e.Kind); err != nil {
		return err
	}
	if err := writeBool(w, e.Existing != nil); err != nil {
		return err
	}
	if e.Existing != nil {
		if err := WriteDirEntry(w, *e.Existing); err != nil {
			return err
		}
	}
	if err := writeBool(w, e.CacheLocation != nil); err != nil {
		return err
	}
	if e.CacheLocation != nil {
		if err := writeLocation(w, *e.CacheLocation); err != nil {
			return err
		}
	}
	return writeString(w, e.Message)
}

func readWireError(r *bufio.Reader) (*WireError, error) {
	present, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	e := &WireError{}
	if e.Op, err = readString(r); err != nil {
		return nil, err
	}
	if e.Kind, err = readByte(r); err != nil {
		return nil, err
	}
	hasExisting, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if hasExisting {
		entry, err := ReadDirEntry(r)
		if err != nil {
			return nil, err
		}
		e.Existing = &entry
	}
	hasCacheLoc, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if hasCacheLoc {
		loc, err := readLocation(r)
		if err != nil {
			return nil, err
		}
		e.CacheLocation = &loc
	}
	if e.Message, err = readString(r); err != nil {
		return nil, err
	}
	return e, nil
}

// WriteHello marshals a Hello onto w.
func WriteHello(w io.Writer, h *Hello) error {
	if err := writeByte(w, byte(h.Kind)); err != nil {
		return err
	}
	switch h.Kind {
	case RootHello:
		if err := writeNode(w, h.Node); err != nil {
			return err
		}
		return writeString(w, h.ListeningAddr)
	}
	return nil
}

// ReadHello unmarshals a Hello from r.
func ReadHello(r *bufio.Reader) (*Hello, error) {
	kind, err := readByte(r)
	if err != nil {
		return nil, err
	}
	h := &Hello{Kind: HelloKind(kind)}
	switch h.Kind {
	case RootHello:
		if h.Node, err = readNode(r); err != nil {
			return nil, err
		}
		if h.ListeningAddr, err = readString(r); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// WriteHelloResponse marshals a HelloResponse onto w.
func WriteHelloResponse(w io.Writer, h *HelloResponse) error {
	if err := writeByte(w, byte(h.Kind)); err != nil {
		return err
	}
	switch h.Kind {
	case ClientHello:
		return writeNode(w, h.LocalNode)
	case RootHello:
		if err := writeNode(w, h.RootNode); err != nil {
			return err
		}
		if err := writeUvarint(w, uint64(len(h.KnownHosts))); err != nil {
			return err
		}
		for node, addr := range h.KnownHosts {
			if err := writeNode(w, node); err != nil {
				return err
			}
			if err := writeString(w, addr); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadHelloResponse unmarshals a HelloResponse from r.
func ReadHelloResponse(r *bufio.Reader) (*HelloResponse, error) {
	kind, err := readByte(r)
	if err != nil {
		return nil, err
	}
	h := &HelloResponse{Kind: HelloKind(kind)}
	switch h.Kind {
	case ClientHello:
		if h.LocalNode, err = readNode(r); err != nil {
			return nil, err
		}
	case RootHello:
		if h.RootNode, err = readNode(r); err != nil {
			return nil, err
		}
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		h.KnownHosts = make(map[Node]string, n)
		for i := uint64(0); i < n; i++ {
			node, err := readNode(r)
			if err != nil {
				return nil, err
			}
			addr, err := readString(r)
			if err != nil {
				return nil, err
			}
			h.KnownHosts[node] = addr
		}
	}
	return h, nil
}

// WriteClientRequest marshals a ClientRequest onto w.
func WriteClientRequest(w io.Writer, req *ClientRequest) error {
	if err := writeByte(w, byte(req.Kind)); err != nil {
		return err
	}
	switch req.Kind {
	case ClientFind:
		return writeString(w, req.Path)
	case ClientPlace, ClientMkdir:
		if err := writeString(w, req.Path); err != nil {
			return err
		}
		return writeNode(w, req.AtNode)
	case ClientRead:
		return writeLocation(w, req.Location)
	case ClientWrite:
		if err := writeLocation(w, req.Location); err != nil {
			return err
		}
		return writeUvarint(w, req.Len)
	}
	return nil
}

// ReadClientRequest unmarshals a ClientRequest from r.
func ReadClientRequest(r *bufio.Reader) (*ClientRequest, error) {
	kind, err := readByte(r)
	if err != nil {
		return nil, err
	}
	req := &ClientRequest{Kind: ClientRequestKind(kind)}
	switch req.Kind {
	case ClientFind:
		if req.Path, err = readString(r); err != nil {
			return nil, err
		}
	case ClientPlace, ClientMkdir:
		if req.Path, err = readString(r); err != nil {
			return nil, err
		}
		if req.AtNode, err = readNode(r); err != nil {
			return nil, err
		}
	case ClientRead:
		if req.Location, err = readLocation(r); err != nil {
			return nil, err
		}
	case ClientWrite:
		if req.Location, err = readLocation(r); err != nil {
			return nil, err
		}
		if req.Len, err = binary.ReadUvarint(r); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// WriteClientResponse marshals a ClientResponse onto w.
func WriteClientResponse(w io.Writer, resp *ClientResponse) error {
	if err := writeByte(w, byte(resp.Kind)); err != nil {
		return err
	}
	if err := writeWireError(w, resp.Err); err != nil {
		return err
	}
	if resp.Err != nil {
		return nil
	}
	switch resp.Kind {
	case ClientFind:
		return WriteDirEntry(w, resp.Entry)
	case ClientPlace, ClientMkdir:
		return writeLocation(w, resp.Location)
	case ClientRead, ClientWrite:
		return writeUvarint(w, resp.Len)
	}
	return nil
}

// ReadClientResponse unmarshals a ClientResponse from r.
func ReadClientResponse(r *bufio.Reader) (*ClientResponse, error) {
	kind, err := readByte(r)
	if err != nil {
		return nil, err
	}
	resp := &ClientResponse{Kind: ClientRequestKind(kind)}
	if resp.Err, err = readWireError(r); err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return resp, nil
	}
	switch resp.Kind {
	case ClientFind:
		if resp.Entry, err = ReadDirEntry(r); err != nil {
			return nil, err
		}
	case ClientPlace, ClientMkdir:
		if resp.Location, err = readLocation(r); err != nil {
			return nil, err
		}
	case ClientRead, ClientWrite:
		if resp.Len, err = binary.ReadUvarint(r); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// WriteDaemonRequest marshals a DaemonRequest onto w.
func WriteDaemonRequest(w io.Writer, req *DaemonRequest) error {
	if err := writeByte(w, byte(req.Kind)); err != nil {
		return err
	}
	switch req.Kind {
	case DaemonPlace:
		// No payload.
	case DaemonRead:
		if err := writeString(w, req.URI); err != nil {
			return err
		}
		if err := writeBool(w, req.HasMtime); err != nil {
			return err
		}
		if req.HasMtime {
			return writeVarint(w, req.Mtime)
		}
	case DaemonWrite:
		if err := writeString(w, req.URI); err != nil {
			return err
		}
		return writeUvarint(w, req.Len)
	case DaemonRemove:
		return writeString(w, req.URI)
	case DaemonAppendDirectoryEntry:
		if err := writeString(w, req.DirectoryURI); err != nil {
			return err
		}
		return WriteDirEntry(w, req.Entry)
	case DaemonAddressFor:
		return writeNode(w, req.Node)
	}
	return nil
}

// ReadDaemonRequest unmarshals a DaemonRequest from r.
func ReadDaemonRequest(r *bufio.Reader) (*DaemonRequest, error) {
	kind, err := readByte(r)
	if err != nil {
		return nil, err
	}
	req := &DaemonRequest{Kind: DaemonRequestKind(kind)}
	switch req.Kind {
	case DaemonPlace:
		// No payload.
	case DaemonRead:
		if req.URI, err = readString(r); err != nil {
			return nil, err
		}
		if req.HasMtime, err = readBool(r); err != nil {
			return nil, err
		}
		if req.HasMtime {
			if req.Mtime, err = binary.ReadVarint(r); err != nil {
				return nil, err
			}
		}
	case DaemonWrite:
		if req.URI, err = readString(r); err != nil {
			return nil, err
		}
		if req.Len, err = binary.ReadUvarint(r); err != nil {
			return nil, err
		}
	case DaemonRemove:
		if req.URI, err = readString(r); err != nil {
			return nil, err
		}
	case DaemonAppendDirectoryEntry:
		if req.DirectoryURI, err = readString(r); err != nil {
			return nil, err
		}
		if req.Entry, err = ReadDirEntry(r); err != nil {
			return nil, err
		}
	case DaemonAddressFor:
		if req.Node, err = readNode(r); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// WriteDaemonResponse marshals a DaemonResponse onto w.
func WriteDaemonResponse(w io.Writer, resp *DaemonResponse) error {
	if err := writeByte(w, byte(resp.Kind)); err != nil {
		return err
	}
	if err := writeWireError(w, resp.Err); err != nil {
		return err
	}
	if resp.Err != nil {
		return nil
	}
	switch resp.Kind {
	case DaemonPlace:
		return writeString(w, resp.URI)
	case DaemonRead, DaemonWrite:
		return writeUvarint(w, resp.Len)
	case DaemonRemove, DaemonAppendDirectoryEntry:
		return writeBool(w, resp.Ok)
	case DaemonAddressFor:
		if err := writeBool(w, resp.Ok); err != nil {
			return err
		}
		if resp.Ok {
			return writeString(w, resp.Addr)
		}
	}
	return nil
}

// ReadDaemonResponse unmarshals a DaemonResponse from r.
func ReadDaemonResponse(r *bufio.Reader) (*DaemonResponse, error) {
	kind, err := readByte(r)
	if err != nil {
		return nil, err
	}
	resp := &DaemonResponse{Kind: DaemonRequestKind(kind)}
	if resp.Err, err = readWireError(r); err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return resp, nil
	}
	switch resp.Kind {
	case DaemonPlace:
		if resp.URI, err = readString(r); err != nil {
			return nil, err
		}
	case DaemonRead, DaemonWrite:
		if resp.Len, err = binary.ReadUvarint(r); err != nil {
			return nil, err
		}
	case DaemonRemove, DaemonAppendDirectoryEntry:
		if resp.Ok, err = readBool(r); err != nil {
			return nil, err
		}
	case DaemonAddressFor:
		if resp.Ok, err = readBool(r); err != nil {
			return nil, err
		}
		if resp.Ok {
			if resp.Addr, err = readString(r); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}
