// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errors defines the error handling used throughout the VPFS
// daemon and its wire protocol.
package errors

import (
	"bytes"
	"fmt"
	"runtime"

	"github.com/cwood00/vpfsd/log"
	"github.com/cwood00/vpfsd/vpfs"
)

// Error is the type that implements the error interface.
// It contains a number of fields, each of different type.
// An Error value may leave some values unset.
type Error struct {
	// Op is the operation being performed, usually the method
	// being invoked (Find, Place, Read, ...).
	Op string
	// Kind is the kind of error. Zero value is Other.
	Kind Kind
	// Existing is set on AlreadyExists errors: the directory entry that
	// was already present under the requested name.
	Existing *vpfs.DirEntry
	// CacheLocation is set on OnlyInCache errors: where the stale cached
	// copy can be read from.
	CacheLocation *vpfs.Location
	// The underlying error that triggered this one, if any.
	Err error
}

var _ error = (*Error)(nil)

// Kind defines the kind of error this is, so callers (and the wire
// protocol) can act on it without string matching.
type Kind uint8

// The error kinds recognized by this package and the wire protocol.
const (
	Other                   Kind = iota // Unclassified; not printed in the message.
	DoesNotExist                        // Target confirmed absent.
	NotFound                            // Target not found; existence not verifiable.
	NotAccessible                       // Cannot reach a node required to satisfy the request.
	NotADirectory                       // An intermediate path component is not a directory.
	AlreadyExists                       // Directory append rejected; Existing is set.
	NotModified                         // Owner reports cached copy is current (Read RPC only).
	OnlyInCache                         // Owner unreachable; CacheLocation is set.
	CacheNeededForTraversal             // Answer required trusting a cached directory.
)

func (k Kind) String() string {
	switch k {
	case DoesNotExist:
		return "does not exist"
	case NotFound:
		return "not found"
	case NotAccessible:
		return "not accessible"
	case NotADirectory:
		return "not a directory"
	case AlreadyExists:
		return "already exists"
	case NotModified:
		return "not modified"
	case OnlyInCache:
		return "only in cache"
	case CacheNeededForTraversal:
		return "cache needed for traversal"
	case Other:
		return "other error"
	}
	return "unknown error kind"
}

// E builds an error value from its arguments.
// The type of each argument determines its meaning.
// Only one argument of each type may be present (if
// there is more than one, the last one wins).
//
// The types are:
//
//	string
//		The operation being performed, usually the method
//		being invoked (Find, Place, Read, ...).
//	errors.Kind
//		The kind of error, such as DoesNotExist.
//	*vpfs.DirEntry
//		The Existing entry of an AlreadyExists error.
//	*vpfs.Location
//		The CacheLocation of an OnlyInCache error.
//	error
//		The underlying error that triggered this one.
//
// If the error is printed, only those items that have been
// set to non-zero values will appear in the result.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			e.Op = arg
		case Kind:
			e.Kind = arg
		case *vpfs.DirEntry:
			e.Existing = arg
		case *vpfs.Location:
			e.CacheLocation = arg
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Printf("errors.E: bad call from %s:%d: %v", file, line, args)
			return fmt.Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	return e
}

// Is reports whether err is an *Error of the given Kind.
func Is(kind Kind, err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// KindOf returns the Kind of err if it is an *Error, or Other otherwise.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Other
}

// ToWire converts err into the wire representation carried on a
// ClientResponse/DaemonResponse: Op, Kind, and whichever payload
// (Existing or CacheLocation) applies, plus the nested error's message.
// A nil err yields a nil *vpfs.WireError, meaning "no error" on the
// wire.
func ToWire(err error) *vpfs.WireError {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		return &vpfs.WireError{Kind: uint8(Other), Message: err.Error()}
	}
	we := &vpfs.WireError{
		Op:            e.Op,
		Kind:          uint8(e.Kind),
		Existing:      e.Existing,
		CacheLocation: e.CacheLocation,
	}
	if e.Err != nil {
		we.Message = e.Err.Error()
	}
	return we
}

// FromWire reconstructs an error from its wire representation. A nil we
// yields a nil error.
func FromWire(we *vpfs.WireError) error {
	if we == nil {
		return nil
	}
	e := &Error{
		Op:            we.Op,
		Kind:          Kind(we.Kind),
		Existing:      we.Existing,
		CacheLocation: we.CacheLocation,
	}
	if we.Message != "" {
		e.Err = errString(we.Message)
	}
	return e
}

// errString is a trivial error whose text is exactly the stored message,
// used when reconstructing an Error's wrapped Err from the wire.
type errString string

func (e errString) Error() string { return string(e) }

// pad appends str to the buffer if the buffer already has some data.
func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.Kind != 0 {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Existing != nil {
		pad(b, ": ")
		fmt.Fprintf(b, "existing=%s", e.Existing.Name)
	}
	if e.CacheLocation != nil {
		pad(b, ": ")
		fmt.Fprintf(b, "cache=%s/%s", e.CacheLocation.Node.Name, e.CacheLocation.URI)
	}
	if e.Err != nil {
		// Indent on new line if we are cascading VPFS errors.
		if _, ok := e.Err.(*Error); ok {
			pad(b, ":\n\t")
		} else {
			pad(b, ": ")
		}
		b.WriteString(e.Err.Error())
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}
