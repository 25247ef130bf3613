// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filestore

import (
	"testing"

	"github.com/cwood00/vpfsd/errors"
)

func TestCreateReadWrite(t *testing.T) {
	s := New(t.TempDir())

	uri, err := s.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Write(uri, []byte("Hello world 2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(uri)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "Hello world 2" {
		t.Errorf("Read = %q, want %q", got, "Hello world 2")
	}
}

func TestWriteWithoutPlacementFails(t *testing.T) {
	s := New(t.TempDir())
	err := s.Write("neverplaced", []byte("x"))
	if !errors.Is(errors.DoesNotExist, err) {
		t.Fatalf("Write to unplaced uri = %v, want DoesNotExist", err)
	}
}

func TestReadMissingFails(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Read("nope")
	if !errors.Is(errors.DoesNotExist, err) {
		t.Fatalf("Read missing = %v, want DoesNotExist", err)
	}
}

func TestCreateReturnsDistinctURIs(t *testing.T) {
	s := New(t.TempDir())
	seen := map[string]bool{}
	for i := 0; i < 16; i++ {
		uri, err := s.Create()
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if seen[uri] {
			t.Fatalf("Create returned duplicate URI %q", uri)
		}
		seen[uri] = true
	}
}
