// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vpfs

import (
	"bufio"
	"bytes"
	"reflect"
	"testing"
)

func TestDirEntryRoundTrip(t *testing.T) {
	entry := DirEntry{
		Location: Location{Node: Node{Name: "iroh"}, URI: "deadbeefcafef00d"},
		Name:     "test0",
		IsDir:    true,
	}
	var buf bytes.Buffer
	if err := WriteDirEntry(&buf, entry); err != nil {
		t.Fatalf("WriteDirEntry: %v", err)
	}
	got, err := ReadDirEntry(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadDirEntry: %v", err)
	}
	if !reflect.DeepEqual(entry, got) {
		t.Errorf("got %+v, want %+v", got, entry)
	}
}

func TestHelloRoundTrip(t *testing.T) {
	cases := []*Hello{
		{Kind: ClientHello},
		{Kind: DaemonHello},
		{Kind: RootHello, Node: Node{Name: "local"}, ListeningAddr: "10.0.0.2:9000"},
	}
	for _, h := range cases {
		var buf bytes.Buffer
		if err := WriteHello(&buf, h); err != nil {
			t.Fatalf("WriteHello(%+v): %v", h, err)
		}
		got, err := ReadHello(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("ReadHello: %v", err)
		}
		if !reflect.DeepEqual(h, got) {
			t.Errorf("got %+v, want %+v", got, h)
		}
	}
}

func TestHelloResponseRoundTrip(t *testing.T) {
	cases := []*HelloResponse{
		{Kind: ClientHello, LocalNode: Node{Name: "local"}},
		{Kind: DaemonHello},
		{
			Kind:       RootHello,
			RootNode:   Node{Name: "iroh"},
			KnownHosts: map[Node]string{{Name: "local"}: "10.0.0.2:9000"},
		},
	}
	for _, h := range cases {
		var buf bytes.Buffer
		if err := WriteHelloResponse(&buf, h); err != nil {
			t.Fatalf("WriteHelloResponse(%+v): %v", h, err)
		}
		got, err := ReadHelloResponse(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("ReadHelloResponse: %v", err)
		}
		if !reflect.DeepEqual(h, got) {
			t.Errorf("got %+v, want %+v", got, h)
		}
	}
}

func TestClientRequestResponseRoundTrip(t *testing.T) {
	reqs := []*ClientRequest{
		{Kind: ClientFind, Path: "dir9/test9"},
		{Kind: ClientPlace, Path: "test0", AtNode: Node{Name: "iroh"}},
		{Kind: ClientMkdir, Path: "dir9", AtNode: Node{Name: "iroh"}},
		{Kind: ClientRead, Location: Location{Node: Node{Name: "iroh"}, URI: "abc"}},
		{Kind: ClientWrite, Location: Location{Node: Node{Name: "iroh"}, URI: "abc"}, Len: 13},
	}
	for _, req := range reqs {
		var buf bytes.Buffer
		if err := WriteClientRequest(&buf, req); err != nil {
			t.Fatalf("WriteClientRequest(%+v): %v", req, err)
		}
		got, err := ReadClientRequest(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("ReadClientRequest: %v", err)
		}
		if !reflect.DeepEqual(req, got) {
			t.Errorf("got %+v, want %+v", got, req)
		}
	}

	resps := []*ClientResponse{
		{Kind: ClientFind, Entry: DirEntry{Name: "test0", Location: Location{Node: Node{Name: "iroh"}, URI: "abc"}}},
		{Kind: ClientPlace, Location: Location{Node: Node{Name: "iroh"}, URI: "abc"}},
		{Kind: ClientRead, Len: 13},
		{Kind: ClientFind, Err: &WireError{Op: "Find", Kind: 1, Message: "does not exist"}},
	}
	for _, resp := range resps {
		var buf bytes.Buffer
		if err := WriteClientResponse(&buf, resp); err != nil {
			t.Fatalf("WriteClientResponse(%+v): %v", resp, err)
		}
		got, err := ReadClientResponse(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("ReadClientResponse: %v", err)
		}
		if !reflect.DeepEqual(resp, got) {
			t.Errorf("got %+v, want %+v", got, resp)
		}
	}
}

func TestDaemonRequestResponseRoundTrip(t *testing.T) {
	reqs := []*DaemonRequest{
		{Kind: DaemonPlace},
		{Kind: DaemonRead, URI: "abc", HasMtime: true, Mtime: 1234},
		{Kind: DaemonRead, URI: "abc"},
		{Kind: DaemonWrite, URI: "abc", Len: 13},
		{Kind: DaemonRemove, URI: "abc"},
		{
			Kind:         DaemonAppendDirectoryEntry,
			DirectoryURI: "root",
			Entry:        DirEntry{Name: "test0", Location: Location{Node: Node{Name: "iroh"}, URI: "abc"}},
		},
		{Kind: DaemonAddressFor, Node: Node{Name: "peer"}},
	}
	for _, req := range reqs {
		var buf bytes.Buffer
		if err := WriteDaemonRequest(&buf, req); err != nil {
			t.Fatalf("WriteDaemonRequest(%+v): %v", req, err)
		}
		got, err := ReadDaemonRequest(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("ReadDaemonRequest: %v", err)
		}
		if !reflect.DeepEqual(req, got) {
			t.Errorf("got %+v, want %+v", got, req)
		}
	}

	resps := []*DaemonResponse{
		{Kind: DaemonPlace, URI: "abc"},
		{Kind: DaemonRead, Len: 13},
		{Kind: DaemonRemove, Ok: true},
		{Kind: DaemonAddressFor, Ok: true, Addr: "10.0.0.2:9000"},
		{Kind: DaemonAddressFor, Ok: false},
		{Kind: DaemonRead, Err: &WireError{Op: "Read", Kind: 6}},
	}
	for _, resp := range resps {
		var buf bytes.Buffer
		if err := WriteDaemonResponse(&buf, resp); err != nil {
			t.Fatalf("WriteDaemonResponse(%+v): %v", resp, err)
		}
		got, err := ReadDaemonResponse(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("ReadDaemonResponse: %v", err)
		}
		if !reflect.DeepEqual(resp, got) {
			t.Errorf("got %+v, want %+v", got, resp)
		}
	}
}
