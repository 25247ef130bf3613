// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Vpfsd is the VPFS peer daemon: it serves a local client connection
// and peer daemon connections over one TCP listener, resolving
// pathnames, mediating file access, and caching remote reads.
package main

import (
	goflag "flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cwood00/vpfsd/cache"
	"github.com/cwood00/vpfsd/daemon"
	"github.com/cwood00/vpfsd/daemoncfg"
	"github.com/cwood00/vpfsd/flags"
	"github.com/cwood00/vpfsd/log"
	"github.com/cwood00/vpfsd/vpfs"
)

func main() {
	goflag.Parse()

	cfg, err := daemoncfg.Load(flags.Config)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	cfg.Apply()

	if flags.GCPProject != "" {
		if err := log.Connect(flags.GCPProject, "vpfsd"); err != nil {
			log.Fatalf("connecting to GCP logging: %v", err)
		}
	}

	if flags.Name == "" {
		log.Fatal("-name is required")
	}
	if flags.RootAddr != "" && flags.ListeningAddr == "" {
		log.Fatal("-listening-addr is required when -root-addr is set")
	}

	dir, err := setupFilesDir()
	if err != nil {
		log.Fatalf("setting up working directory: %v", err)
	}

	local := vpfs.Node{Name: flags.Name}
	latency := time.Duration(flags.ArtificialLatencyMS) * time.Millisecond

	c, err := cache.Restore(dir, flags.CacheSize)
	if err != nil {
		log.Fatalf("restoring cache: %v", err)
	}

	var d *daemon.Daemon
	if flags.RootAddr == "" {
		d, err = daemon.NewRoot(local, dir, c, latency)
		if err != nil {
			log.Fatalf("creating root daemon: %v", err)
		}
		log.Printf("%s is the root, listening on port %d", flags.Name, flags.Port)
	} else {
		d, err = daemon.Join(local, flags.ListeningAddr, flags.RootAddr, dir, c, latency)
		if err != nil {
			log.Fatalf("joining root at %s: %v", flags.RootAddr, err)
		}
		log.Printf("%s joined root at %s, listening on port %d", flags.Name, flags.RootAddr, flags.Port)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", flags.Port))
	if err != nil {
		log.Fatalf("listening on port %d: %v", flags.Port, err)
	}
	log.Fatal(d.Serve(ln))
}

// setupFilesDir ensures the daemon's working directory (./files under
// the process's startup directory) exists and returns its absolute
// path. It does not os.Chdir into it: every package here (filestore,
// dirstore, cache) takes an explicit dir argument instead of assuming
// the current working directory, which keeps concurrent use and
// testing straightforward.
func setupFilesDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(wd, "files")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
