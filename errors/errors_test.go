// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errors

import (
	"errors"
	"strings"
	"testing"

	"github.com/cwood00/vpfsd/vpfs"
)

func TestEBuildsExpectedFields(t *testing.T) {
	entry := &vpfs.DirEntry{Name: "test0"}
	err := E("Place", AlreadyExists, entry)
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("E did not return *Error, got %T", err)
	}
	if e.Op != "Place" {
		t.Errorf("Op = %q, want Place", e.Op)
	}
	if e.Kind != AlreadyExists {
		t.Errorf("Kind = %v, want AlreadyExists", e.Kind)
	}
	if e.Existing != entry {
		t.Errorf("Existing = %v, want %v", e.Existing, entry)
	}
}

func TestErrorStringIncludesCascadedError(t *testing.T) {
	inner := E("Read", DoesNotExist)
	outer := E("Find", NotAccessible, inner.(error))
	s := outer.(*Error).Error()
	if s == "" {
		t.Fatal("empty error string")
	}
	if !strings.Contains(s, inner.Error()) {
		t.Errorf("outer error string %q does not include cascaded error %q", s, inner.Error())
	}
}

func TestIsAndKindOf(t *testing.T) {
	err := E("Write", DoesNotExist)
	if !Is(DoesNotExist, err) {
		t.Errorf("Is(DoesNotExist, err) = false, want true")
	}
	if Is(NotAccessible, err) {
		t.Errorf("Is(NotAccessible, err) = true, want false")
	}
	if KindOf(err) != DoesNotExist {
		t.Errorf("KindOf(err) = %v, want DoesNotExist", KindOf(err))
	}
	if KindOf(errors.New("plain")) != Other {
		t.Errorf("KindOf(plain error) = %v, want Other", KindOf(errors.New("plain")))
	}
}

func TestWireRoundTrip(t *testing.T) {
	entry := &vpfs.DirEntry{Name: "test0"}
	orig := E("Place", AlreadyExists, entry, errors.New("duplicate"))

	we := ToWire(orig)
	if we == nil {
		t.Fatal("ToWire returned nil for non-nil error")
	}
	back := FromWire(we)
	e, ok := back.(*Error)
	if !ok {
		t.Fatalf("FromWire did not return *Error, got %T", back)
	}
	if e.Op != "Place" || e.Kind != AlreadyExists {
		t.Errorf("Op/Kind = %q/%v, want Place/AlreadyExists", e.Op, e.Kind)
	}
	if e.Existing == nil || e.Existing.Name != "test0" {
		t.Errorf("Existing = %v, want Name=test0", e.Existing)
	}
	if e.Err == nil || e.Err.Error() != "duplicate" {
		t.Errorf("Err = %v, want duplicate", e.Err)
	}
}

func TestWireRoundTripNil(t *testing.T) {
	if ToWire(nil) != nil {
		t.Error("ToWire(nil) != nil")
	}
	if FromWire(nil) != nil {
		t.Error("FromWire(nil) != nil")
	}
}
