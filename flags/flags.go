// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flags defines the command-line flags of the vpfsd daemon binary.
package flags

import (
	"flag"

	"github.com/cwood00/vpfsd/log"
)

// We define the flags in two steps so callers don't have to write *flags.Flag.

var (
	// Port is the local TCP listen port.
	Port = 8080

	// RootAddr is the address of the root daemon to join. If empty, this
	// daemon is the root.
	RootAddr = ""

	// ListeningAddr is the externally reachable address other daemons
	// should use to reach this one. Required when RootAddr is set.
	ListeningAddr = ""

	// Name is this daemon's node identity. Required.
	Name = ""

	// CacheSize is the maximum number of bytes of remote file content to
	// keep cached on disk.
	CacheSize int64 = 65536

	// ArtificialLatencyMS delays each inbound peer/root message by this
	// many milliseconds before dispatch, for testing.
	ArtificialLatencyMS = 0

	// GCPProject, if non-empty, mirrors log output to Google Cloud
	// Logging under this project ID.
	GCPProject = ""

	// Config names an optional YAML configuration file layered under the
	// flags above; see daemoncfg.
	Config = ""

	// Log sets the level of logging: debug, info, error, disabled.
	Log = logFlag("info")
)

type logFlag string

// String implements flag.Value.
func (l *logFlag) String() string {
	return log.CurrentLevel().String()
}

// Set implements flag.Value.
func (l *logFlag) Set(level string) error {
	return log.SetLevel(level)
}

// Get implements flag.Getter.
func (l *logFlag) Get() interface{} {
	return log.CurrentLevel().String()
}

func init() {
	flag.IntVar(&Port, "port", Port, "local listen port")
	flag.StringVar(&RootAddr, "root-addr", RootAddr, "address of the root daemon to join; empty means this daemon is the root")
	flag.StringVar(&ListeningAddr, "listening-addr", ListeningAddr, "externally reachable address for this daemon; required with -root-addr")
	flag.StringVar(&Name, "name", Name, "operator-assigned node identity")
	flag.Int64Var(&CacheSize, "cache-size", CacheSize, "maximum bytes of cached remote file content")
	flag.IntVar(&ArtificialLatencyMS, "artificial-latency", ArtificialLatencyMS, "milliseconds of artificial latency on peer/root traffic")
	flag.StringVar(&GCPProject, "gcp-project", GCPProject, "GCP project ID to mirror logs to (empty disables)")
	flag.StringVar(&Config, "config", Config, "optional YAML configuration file")
	flag.Var(&Log, "log", "level of logging: debug, info, error, disabled")
}
