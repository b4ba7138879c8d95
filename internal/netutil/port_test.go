package netutil

import (
	"net"
	"reflect"
	"testing"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestSelectBindAddrPreferredFree(t *testing.T) {
	addr := freeAddr(t)
	got, err := SelectBindAddr(addr, nil, false)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	if got != addr {
		t.Fatalf("SelectBindAddr() = %q, want %q", got, addr)
	}
}

func TestSelectBindAddrFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()
	free := freeAddr(t)

	got, err := SelectBindAddr(busy.Addr().String(), []string{busy.Addr().String(), free}, true)
	if err != nil {
		t.Fatalf("SelectBindAddr() error = %v", err)
	}
	if got != free {
		t.Fatalf("SelectBindAddr() = %q, want %q", got, free)
	}

	if _, err := SelectBindAddr(busy.Addr().String(), []string{free}, false); err == nil {
		t.Fatal("SelectBindAddr() without fallback = nil error; want in-use error")
	}
}

func TestNextPorts(t *testing.T) {
	got, err := NextPorts("127.0.0.1:8190", 3)
	if err != nil {
		t.Fatalf("NextPorts() error = %v", err)
	}
	want := []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NextPorts() = %v; want %v", got, want)
	}

	got, _ = NextPorts("[::1]:65534", 5)
	if !reflect.DeepEqual(got, []string{"[::1]:65535"}) {
		t.Fatalf("NextPorts() near the top = %v", got)
	}

	if _, err := NextPorts("no-port", 2); err == nil {
		t.Fatal("NextPorts(no-port) = nil error; want error")
	}
}
