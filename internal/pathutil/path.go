// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pathutil provides tools for parsing VPFS path names. A VPFS
// path name is a slash-separated sequence of non-empty names, with no
// leading slash and no user-name prefix.
package pathutil

import "strings"

// Parsed represents a successfully parsed path name.
type Parsed struct {
	path string // clean, no leading or trailing slash, no empty elements.
}

func (p Parsed) String() string {
	return p.path
}

// NElem returns the number of elements in the path. A root path ("")
// has zero elements.
func (p Parsed) NElem() int {
	if p.path == "" {
		return 0
	}
	return strings.Count(p.path, "/") + 1
}

// Elem returns the nth element of the path. It panics if n is out of
// range.
func (p Parsed) Elem(n int) string {
	elems := strings.Split(p.path, "/")
	return elems[n]
}

// Last returns the final element of the path, or "" if the path is the
// root.
func (p Parsed) Last() string {
	if p.path == "" {
		return ""
	}
	if i := strings.LastIndexByte(p.path, '/'); i >= 0 {
		return p.path[i+1:]
	}
	return p.path
}

// Parent returns the parsed form of everything before the final element.
// For a single-element path, Parent is the root (NElem() == 0).
func (p Parsed) Parent() Parsed {
	if i := strings.LastIndexByte(p.path, '/'); i >= 0 {
		return Parsed{path: p.path[:i]}
	}
	return Parsed{path: ""}
}

// IsRoot reports whether p names the root directory itself.
func (p Parsed) IsRoot() bool {
	return p.path == ""
}

// Parse validates and parses a path name. A leading slash, a trailing
// slash (other than the empty root path), or an empty interior segment
// is an error.
func Parse(name string) (Parsed, error) {
	if name == "" {
		return Parsed{}, nil
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return Parsed{}, &ParseError{Name: name, Reason: "leading or trailing slash"}
	}
	for _, elem := range strings.Split(name, "/") {
		if elem == "" {
			return Parsed{}, &ParseError{Name: name, Reason: "empty path element"}
		}
	}
	return Parsed{path: name}, nil
}

// ParseError reports a malformed path name.
type ParseError struct {
	Name   string
	Reason string
}

func (e *ParseError) Error() string {
	return "pathutil: invalid path " + e.Name + ": " + e.Reason
}
