// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daemon_test

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cwood00/vpfsd/cache"
	"github.com/cwood00/vpfsd/daemon"
	"github.com/cwood00/vpfsd/errors"
	"github.com/cwood00/vpfsd/internal/vpfsclient"
	"github.com/cwood00/vpfsd/vpfs"
)

// cluster is a two-daemon VPFS cluster: iroh is the root, local joins
// it. Both are served over real loopback TCP (the port is ephemeral
// here so tests can run in parallel).
type cluster struct {
	iroh  *daemon.Daemon
	local *daemon.Daemon

	irohAddr  string
	localAddr string
}

func newCluster(t *testing.T) *cluster {
	t.Helper()

	irohLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen (iroh): %v", err)
	}
	localLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen (local): %v", err)
	}

	irohNode := vpfs.Node{Name: "iroh"}
	localNode := vpfs.Node{Name: "local"}

	irohDir := t.TempDir()
	irohCache := cache.New(irohDir, 1<<20, irohNode)
	iroh, err := daemon.NewRoot(irohNode, irohDir, irohCache, 0)
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	go iroh.Serve(irohLn)

	localDir := t.TempDir()
	localCache := cache.New(localDir, 1<<20, localNode)
	local, err := daemon.Join(localNode, localLn.Addr().String(), irohLn.Addr().String(), localDir, localCache, 0)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	go local.Serve(localLn)

	t.Cleanup(func() {
		irohLn.Close()
		localLn.Close()
	})

	return &cluster{
		iroh:      iroh,
		local:     local,
		irohAddr:  irohLn.Addr().String(),
		localAddr: localLn.Addr().String(),
	}
}

// dial opens a client connection to the daemon listening at addr.
func dial(t *testing.T, addr string) *vpfsclient.Client {
	t.Helper()
	c, err := vpfsclient.Dial(addr)
	if err != nil {
		t.Fatalf("vpfsclient.Dial(%s): %v", addr, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func nodeOf(name string) vpfs.Node { return vpfs.Node{Name: name} }

// T0: root-local place/find.
func TestRootLocalPlaceFind(t *testing.T) {
	cl := newCluster(t)
	c := dial(t, cl.localAddr)

	loc, err := c.Place("test0", nodeOf("iroh"))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	entry, err := c.Find("test0")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if diff := cmp.Diff(loc, entry.Location); diff != "" {
		t.Errorf("Find location mismatch (-want +got):\n%s", diff)
	}
}

// T2: root-local read/write.
func TestRootLocalReadWrite(t *testing.T) {
	cl := newCluster(t)
	c := dial(t, cl.localAddr)

	loc, err := c.Place("test2", nodeOf("iroh"))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := c.Write(loc, []byte("Hello world 2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := c.Read(loc)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "Hello world 2" {
		t.Errorf("Read = %q, want %q", got, "Hello world 2")
	}
}

// T9: nested remote. Both mkdir and place target iroh from the local client.
func TestNestedRemote(t *testing.T) {
	cl := newCluster(t)
	c := dial(t, cl.localAddr)

	if _, err := c.Mkdir("dir9", nodeOf("iroh")); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	loc, err := c.Place("dir9/test9", nodeOf("iroh"))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := c.Write(loc, []byte("Hello world 9")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := c.Read(loc)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "Hello world 9" {
		t.Errorf("Read = %q, want %q", got, "Hello world 9")
	}
}

// T10: same as T9 but everything targets local.
func TestNestedLocal(t *testing.T) {
	cl := newCluster(t)
	c := dial(t, cl.localAddr)

	if _, err := c.Mkdir("dir10", nodeOf("local")); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	loc, err := c.Place("dir10/test10", nodeOf("local"))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := c.Write(loc, []byte("Hello world 10")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := c.Read(loc)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "Hello world 10" {
		t.Errorf("Read = %q, want %q", got, "Hello world 10")
	}
}

// T11: store via a nested remote directory.
func TestStoreViaNestedRemoteDir(t *testing.T) {
	cl := newCluster(t)
	c := dial(t, cl.localAddr)

	if _, err := c.Mkdir("dir11", nodeOf("iroh")); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := c.Store("dir11/test11", nodeOf("iroh"), []byte("Hello world 11")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	entry, err := c.Find("dir11/test11")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	got, err := c.Read(entry.Location)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "Hello world 11" {
		t.Errorf("Read = %q, want %q", got, "Hello world 11")
	}
}

// T14: three-level mixed ownership.
func TestThreeLevelMixedOwnership(t *testing.T) {
	cl := newCluster(t)
	c := dial(t, cl.localAddr)

	if _, err := c.Mkdir("dir14", nodeOf("local")); err != nil {
		t.Fatalf("Mkdir(dir14): %v", err)
	}
	if _, err := c.Mkdir("dir14/dir14", nodeOf("iroh")); err != nil {
		t.Fatalf("Mkdir(dir14/dir14): %v", err)
	}
	if _, err := c.Mkdir("dir14/dir14/dir14", nodeOf("local")); err != nil {
		t.Fatalf("Mkdir(dir14/dir14/dir14): %v", err)
	}

	if _, err := c.Store("dir14/dir14/test14", nodeOf("iroh"), []byte("First file data")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err := c.Fetch("dir14/dir14/test14")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "First file data" {
		t.Errorf("Fetch = %q, want %q", got, "First file data")
	}

	loc, err := c.Place("dir14/dir14/dir14/test14", nodeOf("iroh"))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := c.Write(loc, []byte("Second file data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err = c.Read(loc)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "Second file data" {
		t.Errorf("Read = %q, want %q", got, "Second file data")
	}
}

// Invariant 3 / idempotence: two successive places of the same name fail
// the second time with AlreadyExists(existing), and writing through that
// existing location is how store() achieves its overwrite semantics.
func TestPlaceTwiceFailsAlreadyExists(t *testing.T) {
	cl := newCluster(t)
	c := dial(t, cl.localAddr)

	loc1, err := c.Place("dup", nodeOf("iroh"))
	if err != nil {
		t.Fatalf("first Place: %v", err)
	}

	_, err = c.Place("dup", nodeOf("iroh"))
	if err == nil {
		t.Fatal("second Place succeeded, want AlreadyExists")
	}
	if !errors.Is(errors.AlreadyExists, err) {
		t.Fatalf("second Place error = %v, want AlreadyExists", err)
	}
	e, ok := err.(*errors.Error)
	if !ok || e.Existing == nil {
		t.Fatalf("AlreadyExists error missing Existing payload: %v", err)
	}
	if diff := cmp.Diff(loc1, e.Existing.Location); diff != "" {
		t.Errorf("Existing.Location mismatch (-want +got):\n%s", diff)
	}
}

// store(name, b1) then store(name, b2): fetch returns b2.
func TestStoreOverwritesOnSecondCall(t *testing.T) {
	cl := newCluster(t)
	c := dial(t, cl.localAddr)

	if _, err := c.Store("overwrite", nodeOf("iroh"), []byte("first")); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	if _, err := c.Store("overwrite", nodeOf("iroh"), []byte("second")); err != nil {
		t.Fatalf("second Store: %v", err)
	}
	got, err := c.Fetch("overwrite")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Fetch = %q, want %q", got, "second")
	}
}

// Boundary: read of a nonexistent local URI is DoesNotExist.
func TestReadNonexistentLocalIsDoesNotExist(t *testing.T) {
	cl := newCluster(t)
	c := dial(t, cl.localAddr)

	_, err := c.Read(vpfs.Location{Node: nodeOf("local"), URI: "ghost"})
	if !errors.Is(errors.DoesNotExist, err) {
		t.Fatalf("Read(ghost) = %v, want DoesNotExist", err)
	}
}

// Boundary: write to a location whose URI was never placed is
// DoesNotExist.
func TestWriteUnplacedIsDoesNotExist(t *testing.T) {
	cl := newCluster(t)
	c := dial(t, cl.localAddr)

	err := c.Write(vpfs.Location{Node: nodeOf("local"), URI: "never-placed"}, []byte("x"))
	if !errors.Is(errors.DoesNotExist, err) {
		t.Fatalf("Write(never-placed) = %v, want DoesNotExist", err)
	}
}

// Boundary: once the owning daemon is gone, a remote read of a location
// that was never cached locally fails NotAccessible rather than
// OnlyInCache.
func TestReadRemoteUnreachableNotCachedIsNotAccessible(t *testing.T) {
	cl := newCluster(t)
	c := dial(t, cl.localAddr)

	loc, err := c.Place("unreachable", nodeOf("iroh"))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := c.Write(loc, []byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	closeDaemonListener(t, cl)

	_, err = c.Read(loc)
	if !errors.Is(errors.NotAccessible, err) {
		t.Fatalf("Read after owner shutdown = %v, want NotAccessible", err)
	}
}

// Boundary: once the owning daemon is gone, a remote read of a location
// already in the requester's cache returns OnlyInCache(local_location)
// rather than failing outright, with a CacheLocation on the requester's
// own node.
func TestReadRemoteUnreachableCachedIsOnlyInCache(t *testing.T) {
	cl := newCluster(t)
	c := dial(t, cl.localAddr)

	loc, err := c.Place("cached-remote", nodeOf("iroh"))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := c.Write(loc, []byte("cached bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Prime local's cache with a read while iroh is still reachable.
	if got, err := c.Read(loc); err != nil || string(got) != "cached bytes" {
		t.Fatalf("priming Read = (%q, %v)", got, err)
	}

	closeDaemonListener(t, cl)

	_, err = c.Read(loc)
	if !errors.Is(errors.OnlyInCache, err) {
		t.Fatalf("Read after owner shutdown = %v, want OnlyInCache", err)
	}
	e, ok := err.(*errors.Error)
	if !ok || e.CacheLocation == nil {
		t.Fatalf("OnlyInCache error missing CacheLocation payload: %v", err)
	}
	if e.CacheLocation.Node != nodeOf("local") {
		t.Errorf("CacheLocation.Node = %v, want local", e.CacheLocation.Node)
	}
}

// closeDaemonListener severs local's cached connection to iroh, so a
// subsequent StreamFor redial attempt fails the way an unreachable peer
// would (the test cluster has no separate process to kill).
func closeDaemonListener(t *testing.T, cl *cluster) {
	t.Helper()
	cl.local.Conns.Evict(nodeOf("iroh"))
	// RegisterKnownHost a now-closed address so StreamFor's redial fails
	// fast instead of hanging on a stale, still-open listener elsewhere.
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := dead.Addr().String()
	dead.Close()
	cl.local.Conns.RegisterKnownHost(nodeOf("iroh"), addr)
}
